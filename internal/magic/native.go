package magic

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/apex/log"
	"github.com/blacktop/go-macho"
)

// mach-o filetypes (loader.h MH_*)
var machoTypes = map[uint32]string{
	0x1: "object",
	0x2: "executable",
	0x4: "core",
	0x5: "preload executable",
	0x6: "dynamically linked shared library",
	0x7: "dynamic linker",
	0x8: "bundle",
	0x9: "dynamically linked shared library stub",
	0xa: "dSYM companion file",
	0xb: "kext bundle",
	0xc: "fileset",
}

var interpreters = []struct {
	prefix string
	desc   string
}{
	{"python", "Python script"},
	{"bash", "Bourne-Again shell script"},
	{"zsh", "Paul Falstad's zsh script"},
	{"sh", "POSIX shell script"},
	{"perl", "Perl script"},
	{"ruby", "Ruby script"},
	{"node", "Node.js script"},
	{"osascript", "AppleScript script"},
}

// Native classifies files without shelling out.
//
// It knows Mach-O (thin and universal) via go-macho, the dyld shared cache header,
// interpreter scripts and plain text; everything else is "data". The descriptions
// mimic file(1) closely enough for prefix signatures like "Mach-O" or "Python script".
type Native struct{}

// Classify returns a file(1)-style description of path
func (Native) Classify(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	switch {
	case fi.IsDir():
		return "directory", nil
	case !fi.Mode().IsRegular():
		return fmt.Sprintf("special (%s)", fi.Mode().Type()), nil
	case fi.Size() == 0:
		return "empty", nil
	}

	if ok, _ := IsMachO(path); ok {
		if desc, ok := describeJavaClass(path); ok {
			return desc, nil
		}
		desc, err := describeMachO(path)
		if err != nil {
			log.WithError(err).Debugf("%s has a Mach-O magic but does not parse", path)
			return "data", nil
		}
		return desc, nil
	}
	if ok, _ := IsDyldSharedCache(path); ok {
		return "Dyld shared cache", nil
	}

	return describeText(path)
}

func describeMachO(path string) (string, error) {
	// UNIVERSAL MACHO
	if fat, err := macho.OpenFat(path); err == nil {
		defer fat.Close()
		var arches []string
		for _, arch := range fat.Arches {
			arches = append(arches, strings.ToLower(arch.SubCPU.String(arch.CPU)))
		}
		return fmt.Sprintf("Mach-O universal binary with %d architectures: [%s]", len(fat.Arches), strings.Join(arches, ", ")), nil
	} else if !errors.Is(err, macho.ErrNotFat) {
		return "", fmt.Errorf("failed to open universal macho %s: %w", path, err)
	}
	// SINGLE MACHO
	m, err := macho.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open macho %s: %w", path, err)
	}
	defer m.Close()

	bits := "64-bit"
	if Magic(m.FileHeader.Magic) == Magic32 {
		bits = "32-bit"
	}
	kind, ok := machoTypes[uint32(m.FileHeader.Type)]
	if !ok {
		kind = fmt.Sprintf("filetype=%d", uint32(m.FileHeader.Type))
	}

	return fmt.Sprintf("Mach-O %s %s %s", bits, kind, strings.ToLower(m.FileHeader.SubCPU.String(m.FileHeader.CPU))), nil
}

// describeJavaClass recognizes class files, which share the universal Mach-O magic.
// Like file(1) it tells them apart by the word after the magic: a universal header
// holds a small arch count there, a class file its version numbers.
func describeJavaClass(path string) (string, bool) {
	head, err := readMagic(path, 8)
	if err != nil || len(head) < 8 || Magic(binary.BigEndian.Uint32(head)) != MagicFatBE {
		return "", false
	}
	minor := binary.BigEndian.Uint16(head[4:])
	major := binary.BigEndian.Uint16(head[6:])
	if major < 45 {
		return "", false
	}
	return fmt.Sprintf("compiled Java class data, version %d.%d", major, minor), true
}

func describeText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 4096)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	head = head[:n]

	if bytes.IndexByte(head, 0) >= 0 || !utf8.Valid(trimPartialRune(head)) {
		return "data", nil
	}

	encoding := "ASCII text"
	for _, b := range head {
		if b >= utf8.RuneSelf {
			encoding = "Unicode text, UTF-8 text"
			break
		}
	}

	if bytes.HasPrefix(head, []byte("#!")) {
		line, _, _ := bytes.Cut(head[2:], []byte("\n"))
		if desc := interpreterFor(string(line)); len(desc) > 0 {
			return fmt.Sprintf("%s, %s executable", desc, encoding), nil
		}
		return fmt.Sprintf("a %s script, %s executable", strings.TrimSpace(string(line)), encoding), nil
	}

	return encoding, nil
}

func interpreterFor(shebang string) string {
	fields := strings.Fields(shebang)
	if len(fields) == 0 {
		return ""
	}
	prog := fields[0]
	if strings.HasSuffix(prog, "/env") && len(fields) > 1 {
		prog = fields[1]
	}
	if i := strings.LastIndexByte(prog, '/'); i >= 0 {
		prog = prog[i+1:]
	}
	for _, interp := range interpreters {
		if strings.HasPrefix(prog, interp.prefix) {
			return interp.desc
		}
	}
	return ""
}

// trimPartialRune drops a rune cut in half by the read buffer
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if r, _ := utf8.DecodeLastRune(b); r != utf8.RuneError {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}
