// Package registry maps destination type names to sink constructors so
// the CLI can select a sink from configuration alone. Sink packages
// register themselves from init; importing them for side effects wires
// them in.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/flowsync-io/flowsync/pkg/config"
	"github.com/flowsync-io/flowsync/pkg/errors"
	"github.com/flowsync-io/flowsync/pkg/sink"
)

// SinkFactory constructs a sink from destination configuration
type SinkFactory func(cfg config.DestinationConfig, logger *zap.Logger) (sink.Sink, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]SinkFactory)
)

// RegisterSink registers a sink constructor under a type name.
// Registering the same name twice panics; that is a programming error.
func RegisterSink(name string, factory SinkFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic("sink already registered: " + name)
	}
	factories[name] = factory
}

// NewSink constructs the sink named by cfg.Type
func NewSink(cfg config.DestinationConfig, logger *zap.Logger) (sink.Sink, error) {
	mu.RLock()
	factory, ok := factories[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown destination type %q (registered: %v)", cfg.Type, ListSinks())
	}
	return factory(cfg, logger)
}

// ListSinks returns the registered sink type names, sorted
func ListSinks() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
