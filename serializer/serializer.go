// Package serializer defines the name-to-codec registry contract consumed
// by RPC and event dispatch. The core only reads the registry; population
// happens once at node startup.
package serializer

import (
	"fmt"
	"sync"
)

const logPrefix = "serializer:Registry"

// Codec marshals and unmarshals values for one wire format, identified by
// its declared Name.
type Codec interface {
	Name() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// Registry is a process-wide name -> Codec mapping. RPC and events each
// use an independent Registry instance.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Codec)}
}

// Register adds a codec under its declared name, overwriting any previous
// registration for that name.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.Name()] = c
}

// Lookup returns the codec registered under name, if any.
func (r *Registry) Lookup(name string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[name]
	return c, ok
}

// ErrUnsupportedSerializer is returned by callers that look up a name
// missing from the registry.
func ErrUnsupportedSerializer(name string) error {
	return fmt.Errorf("%s - unsupported serializer %q", logPrefix, name)
}
