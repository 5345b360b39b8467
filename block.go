package sqlsource

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrMissingEntry is returned by Block lookups for absent keys.
var ErrMissingEntry = errors.New("entry is missing")

// Block is a named configuration block exposing typed entry lookups.
// Implementations return an error wrapping ErrMissingEntry for absent keys.
type Block interface {
	Has(key string) bool
	String(key string) (string, error)
	Int(key string) (int, error)
	Bool(key string) (bool, error)
}

// MapBlock is a Block backed by decoded key/value data, such as a YAML or
// JSON mapping. A nil value reads as the empty string.
type MapBlock map[string]any

var _ Block = MapBlock(nil)

func (b MapBlock) Has(key string) bool {
	_, ok := b[key]
	return ok
}

func (b MapBlock) String(key string) (string, error) {
	v, ok := b[key]
	if !ok {
		return "", fmt.Errorf("%q: %w", key, ErrMissingEntry)
	}
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	default:
		return "", fmt.Errorf("%q: expected string, got %T", key, v)
	}
}

func (b MapBlock) Int(key string) (int, error) {
	v, ok := b[key]
	if !ok {
		return 0, fmt.Errorf("%q: %w", key, ErrMissingEntry)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		if n < math.MinInt || n > math.MaxInt {
			return 0, fmt.Errorf("%q: integer %d overflows int", key, n)
		}
		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			return 0, fmt.Errorf("%q: integer %d overflows int", key, n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || n < math.MinInt || n >= math.MaxInt {
			return 0, fmt.Errorf("%q: expected integer, got %v", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%q: expected integer, got %T", key, v)
	}
}

func (b MapBlock) Bool(key string) (bool, error) {
	v, ok := b[key]
	if !ok {
		return false, fmt.Errorf("%q: %w", key, ErrMissingEntry)
	}
	t, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%q: expected boolean, got %T", key, v)
	}
	return t, nil
}

type blocksFile struct {
	Sources map[string]map[string]any `yaml:"sources"`
}

// LoadBlocks decodes a YAML document of the form
//
//	sources:
//	  auth:
//	    address: db.local
//	    port: 5432
//	    username: svc
//	    password: ""
//	    database: launcher
//	    useSSL: false
//
// and returns one Block per alias.
func LoadBlocks(r io.Reader) (map[string]Block, error) {
	var f blocksFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]Block{}, nil
		}
		return nil, fmt.Errorf("sqlsource: decoding sources: %w", err)
	}

	blocks := make(map[string]Block, len(f.Sources))
	for alias, entries := range f.Sources {
		if entries == nil {
			entries = map[string]any{}
		}
		blocks[alias] = MapBlock(entries)
	}
	return blocks, nil
}

// LoadBlocksFile reads LoadBlocks input from path.
func LoadBlocksFile(path string) (map[string]Block, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sqlsource: reading sources file: %w", err)
	}
	defer f.Close()

	return LoadBlocks(f)
}

func sortedAliases[T any](m map[string]T) []string {
	aliases := make([]string, 0, len(m))
	for alias := range m {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}
