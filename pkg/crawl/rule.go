package crawl

import (
	"fmt"
	"path/filepath"
	"regexp"
)

const (
	// MachOSignature is the file(1) description prefix of Mach-O binaries
	MachOSignature = "Mach-O"
	// SharedCachePrefix matches every dyld shared cache file (main caches, sub-caches, .symbols, .map)
	SharedCachePrefix = "dyld_shared_cache_"
	// SharedCacheName matches only the main arm64/arm64e shared cache files
	SharedCacheName = "dyld_shared_cache_arm64e?$"
)

// Rule decides whether a crawled file is of interest.
//
// A Rule is the conjunction of an optional name test and an optional type test.
// Each test is prefix-anchored: the pattern has to match at the start of the value
// but does not have to consume all of it (end the pattern with '$' for an exact match).
// The name test runs against the file's base name, the type test against the
// Classifier's description of the file. InvertName/InvertType negate their own
// test only, never the whole conjunction.
//
// NOTE: a Rule with neither pattern set matches EVERY file. That is not treated
// as an error; check IsVacuous before handing a user-built Rule to Crawl.
type Rule struct {
	Name       *regexp.Regexp
	Type       *regexp.Regexp
	InvertName bool
	InvertType bool
}

// anchor compiles pattern so that it only matches at the start of the input
func anchor(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regexp '%s': %v", pattern, err)
	}
	return re, nil
}

// NewRule compiles a rule from name/type patterns; an empty pattern leaves that test unset
func NewRule(namePattern, typePattern string, invertName, invertType bool) (*Rule, error) {
	r := &Rule{
		InvertName: invertName,
		InvertType: invertType,
	}
	if len(namePattern) > 0 {
		re, err := anchor(namePattern)
		if err != nil {
			return nil, err
		}
		r.Name = re
	}
	if len(typePattern) > 0 {
		re, err := anchor(typePattern)
		if err != nil {
			return nil, err
		}
		r.Type = re
	}
	return r, nil
}

// MustRule is like NewRule but panics if a pattern does not compile
func MustRule(namePattern, typePattern string, invertName, invertType bool) *Rule {
	r, err := NewRule(namePattern, typePattern, invertName, invertType)
	if err != nil {
		panic(err)
	}
	return r
}

// ByName matches files whose base name starts with pattern
func ByName(pattern string) (*Rule, error) {
	return NewRule(pattern, "", false, false)
}

// ByType matches files whose description starts with pattern
func ByType(pattern string) (*Rule, error) {
	return NewRule("", pattern, false, false)
}

// ByNameAndType matches files passing both tests
func ByNameAndType(namePattern, typePattern string) (*Rule, error) {
	return NewRule(namePattern, typePattern, false, false)
}

// BinaryRule matches Mach-O files that are not part of a dyld shared cache
func BinaryRule() *Rule {
	return MustRule(SharedCachePrefix, MachOSignature, true, false)
}

// SharedCacheRule matches the main dyld shared cache files
func SharedCacheRule() *Rule {
	return MustRule(SharedCacheName, "", false, false)
}

// IsVacuous reports whether the rule has no criteria (and so matches everything)
func (r *Rule) IsVacuous() bool {
	return r.Name == nil && r.Type == nil
}

// Match evaluates the rule against e.
//
// The name test is evaluated first and short-circuits, so the classifier is only
// consulted for files whose name already passed. A classification error is returned
// as-is and the file never matches, whatever InvertType says.
func (r *Rule) Match(e *Entry) (bool, error) {
	if r.Name != nil {
		if r.Name.MatchString(e.Name()) == r.InvertName {
			return false, nil
		}
	}
	if r.Type != nil {
		kind, err := e.Kind()
		if err != nil {
			return false, err
		}
		if r.Type.MatchString(kind) == r.InvertType {
			return false, nil
		}
	}
	return true, nil
}

// Matches is Match with classification errors counted as "no match"
func (r *Rule) Matches(e *Entry) bool {
	ok, _ := r.Match(e)
	return ok
}

func (r *Rule) String() string {
	if r.IsVacuous() {
		return "<all files>"
	}
	var out string
	if r.Name != nil {
		op := "name ~"
		if r.InvertName {
			op = "name !~"
		}
		out = fmt.Sprintf("%s %s", op, r.Name)
	}
	if r.Type != nil {
		op := "type ~"
		if r.InvertType {
			op = "type !~"
		}
		if len(out) > 0 {
			out += " && "
		}
		out += fmt.Sprintf("%s %s", op, r.Type)
	}
	return out
}

// baseName is the name test's input
func baseName(path string) string {
	return filepath.Base(path)
}
