// Package magic identifies what kind of file lives at a path.
//
// A Classifier returns a free-text, file(1)-style description ("Mach-O 64-bit
// executable arm64e", "Python script, ASCII text executable", ...). Callers match
// the description with prefix-anchored regular expressions, so every description
// starts with the kind of file and never with the file's name.
package magic

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

type Magic uint32

const (
	Magic32    Magic = 0xfeedface
	Magic64    Magic = 0xfeedfacf
	MagicFatBE Magic = 0xcafebabe
	MagicFatLE Magic = 0xbebafeca
)

// dyld shared cache headers start with "dyld_v1" padded to 16 bytes with the arch name
var dscMagic = []byte("dyld_v1")

// Classifier describes the type of the file at path
type Classifier interface {
	Classify(path string) (string, error)
}

// ClassifierFunc adapts a plain function to the Classifier interface
type ClassifierFunc func(path string) (string, error)

// Classify calls f(path)
func (f ClassifierFunc) Classify(path string) (string, error) {
	return f(path)
}

func readMagic(filePath string, n int) ([]byte, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	return buf[:read], nil
}

// IsMachO reports whether the file at filePath starts with a thin or universal Mach-O magic
func IsMachO(filePath string) (bool, error) {
	magic, err := readMagic(filePath, 4)
	if err != nil {
		return false, err
	}
	if len(magic) < 4 {
		return false, fmt.Errorf("not a macho file")
	}

	switch Magic(binary.LittleEndian.Uint32(magic)) {
	case Magic32, Magic64, MagicFatBE, MagicFatLE:
		return true, nil
	default:
		return false, fmt.Errorf("not a macho file")
	}
}

// IsDyldSharedCache reports whether the file at filePath starts with a dyld shared cache header
func IsDyldSharedCache(filePath string) (bool, error) {
	magic, err := readMagic(filePath, 16)
	if err != nil {
		return false, err
	}
	return bytes.HasPrefix(magic, dscMagic), nil
}
