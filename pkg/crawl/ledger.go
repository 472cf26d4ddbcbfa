package crawl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
)

// LedgerName is the file name of the ledger inside an output directory
const LedgerName = "locations.json"

// Emissions are the output file names produced from one source file.
// A single emission is stored as a JSON string, several as a JSON list.
type Emissions []string

func (e Emissions) MarshalJSON() ([]byte, error) {
	if len(e) == 1 {
		return json.Marshal(e[0])
	}
	return json.Marshal([]string(e))
}

func (e *Emissions) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = Emissions{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("ledger value must be a string or a list of strings: %w", err)
	}
	*e = Emissions(list)
	return nil
}

// Ledger maps a file's path relative to the crawl root to the names it was emitted as
type Ledger map[string]Emissions

// LoadLedger reads the ledger persisted at path; a missing file is an empty ledger
func LoadLedger(path string) (Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Ledger{}, nil
		}
		return nil, fmt.Errorf("failed to read ledger %s: %w", path, err)
	}
	l := Ledger{}
	if len(bytes.TrimSpace(data)) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("failed to parse ledger %s: %w", path, err)
	}
	return l, nil
}

// Record sets the emissions of rel; empty emissions are not recorded
func (l Ledger) Record(rel string, names ...string) {
	if len(names) == 0 {
		return
	}
	l[rel] = Emissions(slices.Clone(names))
}

// Merge copies every entry of other into l, overwriting entries with the same key
func (l Ledger) Merge(other Ledger) Ledger {
	maps.Copy(l, other)
	return l
}

// Paths returns the ledger's keys in sorted order
func (l Ledger) Paths() []string {
	return slices.Sorted(maps.Keys(l))
}

// Names returns every emitted name in the ledger (sorted, de-duplicated)
func (l Ledger) Names() []string {
	var names []string
	for _, e := range l {
		names = append(names, e...)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// Save atomically replaces the file at path with the ledger
func (l Ledger) Save(path string) error {
	data, err := json.MarshalIndent(l, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp ledger: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to chmod temp ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace ledger %s: %w", path, err)
	}
	return nil
}

// MergeInto merges l into the ledger persisted at path and writes the union back.
// It returns the merged ledger.
func (l Ledger) MergeInto(path string) (Ledger, error) {
	merged, err := LoadLedger(path)
	if err != nil {
		return nil, err
	}
	merged.Merge(l)
	if err := merged.Save(path); err != nil {
		return nil, err
	}
	return merged, nil
}
