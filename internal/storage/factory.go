package storage

import (
	"fmt"
	"sync"
)

// Backend names one of the pluggable storage engines a registry can run on.
type Backend string

const (
	BackendMemory    Backend = "memory"
	BackendPostgres  Backend = "postgres"
	BackendMySQL     Backend = "mysql"
	BackendCassandra Backend = "cassandra"
)

// Opener builds a Storage instance from a loosely-typed config bag. Backends
// whose setup needs strongly-typed config (connection pools, TLS, retry
// policy) are constructed directly by the caller instead of through this
// registry; Opener exists for backends content with string/number options.
type Opener func(opts map[string]interface{}) (Storage, error)

// registry is the process-wide set of backends registered via Register.
// Guarded by mu since Register may run from package init() in any order.
type registry struct {
	mu      sync.RWMutex
	openers map[Backend]Opener
}

var backends = &registry{openers: make(map[Backend]Opener)}

// Register makes an Opener available under the given backend name. Intended
// to be called from a backend package's init().
func Register(name Backend, open Opener) {
	backends.mu.Lock()
	defer backends.mu.Unlock()
	backends.openers[name] = open
}

// Open constructs a Storage instance for the named backend.
func Open(name Backend, opts map[string]interface{}) (Storage, error) {
	backends.mu.RLock()
	open, ok := backends.openers[name]
	backends.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unregistered storage backend: %s", name)
	}
	return open(opts)
}

// Backends lists every backend name currently registered.
func Backends() []Backend {
	backends.mu.RLock()
	defer backends.mu.RUnlock()
	names := make([]Backend, 0, len(backends.openers))
	for name := range backends.openers {
		names = append(names, name)
	}
	return names
}

// Supports reports whether a backend name has a registered Opener.
func Supports(name Backend) bool {
	backends.mu.RLock()
	defer backends.mu.RUnlock()
	_, ok := backends.openers[name]
	return ok
}
