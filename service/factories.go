package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/yejue/liteboty/config"
	"github.com/yejue/liteboty/errors"
)

// Factories maps service keys to constructors. Service packages register
// themselves at startup; descriptors are resolved against this table instead
// of being loaded by path at runtime.
type Factories struct {
	constructors map[string]Constructor
	mu           sync.RWMutex
}

// NewFactories creates an empty factory table.
func NewFactories() *Factories {
	return &Factories{
		constructors: make(map[string]Constructor),
	}
}

// Register binds key to a constructor. Keys are usually the dotted service
// path ("services.hello.Hello"); a short name works too. Leading dots are ignored.
func (f *Factories) Register(key string, constructor Constructor) error {
	key = strings.TrimLeft(strings.TrimSpace(key), "./")
	if key == "" {
		return fmt.Errorf("service key cannot be empty")
	}
	if constructor == nil {
		return fmt.Errorf("constructor cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.constructors[key]; exists {
		return errors.NewServiceError(key, "register", errors.ErrServiceExists)
	}

	f.constructors[key] = constructor
	return nil
}

// Lookup resolves a descriptor: explicit entry or path first, then the short name.
func (f *Factories) Lookup(d config.ServiceDescriptor) (Constructor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, key := range []string{d.Key(), d.Name} {
		if c, ok := f.constructors[key]; ok {
			return c, true
		}
	}
	return nil, false
}

// Keys returns the registered keys, sorted.
func (f *Factories) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	keys := make([]string, 0, len(f.constructors))
	for k := range f.constructors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Build instantiates the service a descriptor names. Descriptors with
// process isolation get a ProcessProxy; the constructor must still be known
// so a typo fails here rather than in the child.
func (f *Factories) Build(d config.ServiceDescriptor, global map[string]any, deps *Dependencies) (Handle, error) {
	constructor, ok := f.Lookup(d)
	if !ok {
		return nil, errors.NewServiceError(d.Name, "build",
			fmt.Errorf("%w: no factory for %q", errors.ErrMissingEntry, d.Key()))
	}

	scoped := deps.ForService(d.Name)
	cfg := config.CloneMap(d.Config)
	if cfg == nil {
		cfg = map[string]any{}
	}

	if d.Isolation == config.IsolationProcess {
		d.Config = cfg
		return NewProcessProxy(d, global, scoped.Logger, deps.processOptions()...), nil
	}

	h, err := constructor(cfg, global, scoped)
	if err != nil {
		return nil, errors.NewServiceError(d.Name, "build", err)
	}
	if h == nil {
		return nil, errors.NewServiceError(d.Name, "build",
			fmt.Errorf("%w: constructor returned nil", errors.ErrMissingEntry))
	}
	if h.Name() != d.Name {
		return nil, errors.NewServiceError(d.Name, "build",
			fmt.Errorf("%w: constructor named the service %q", errors.ErrInvalidConfig, h.Name()))
	}
	return h, nil
}
