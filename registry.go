package sqlsource

import (
	"fmt"
	"sync"
)

// Registry holds one Source per configured database alias. The alias is
// used as the pool name.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Source
}

// NewRegistry constructs a Source for every block. If any block is invalid
// the first error in alias order is returned and no Registry is built.
func NewRegistry(blocks map[string]Block, settings Settings, opts ...Option) (*Registry, error) {
	sources, err := buildSources(blocks, settings, opts)
	if err != nil {
		return nil, err
	}
	return &Registry{sources: sources}, nil
}

// LoadRegistryFile reads a sources YAML file (see LoadBlocks) and builds a
// Registry from it.
func LoadRegistryFile(path string, settings Settings, opts ...Option) (*Registry, error) {
	blocks, err := LoadBlocksFile(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(blocks, settings, opts...)
}

func buildSources(blocks map[string]Block, settings Settings, opts []Option) (map[string]*Source, error) {
	sources := make(map[string]*Source, len(blocks))
	for _, alias := range sortedAliases(blocks) {
		src, err := New(alias, blocks[alias], settings, opts...)
		if err != nil {
			return nil, fmt.Errorf("sqlsource: source %q: %w", alias, err)
		}
		sources[alias] = src
	}
	return sources, nil
}

// Get returns the Source configured under alias.
func (r *Registry) Get(alias string) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[alias]
	return src, ok
}

// Aliases returns the configured aliases in sorted order.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedAliases(r.sources)
}

// Replace swaps in sources built from blocks, as on a config reload, and
// shuts down the previous ones. On error the current sources stay in place.
func (r *Registry) Replace(blocks map[string]Block, settings Settings, opts ...Option) error {
	next, err := buildSources(blocks, settings, opts)
	if err != nil {
		return err
	}

	r.mu.Lock()
	prev := r.sources
	r.sources = next
	r.mu.Unlock()

	shutdownAll(prev)
	return nil
}

// Shutdown shuts down every Source. It is safe to call more than once.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	sources := r.sources
	r.mu.RUnlock()

	shutdownAll(sources)
}

func shutdownAll(sources map[string]*Source) {
	var wg sync.WaitGroup
	for _, src := range sources {
		wg.Add(1)
		go func(src *Source) {
			defer wg.Done()
			src.Shutdown()
		}(src)
	}
	wg.Wait()
}
