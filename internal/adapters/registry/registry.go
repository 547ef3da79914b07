// Package registry maps configuration type tags onto service provider
// constructors. Adapter packages register themselves from init().
package registry

import (
	"AtmSP/internal/core/ports"
	"AtmSP/internal/shared/config"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Constructor builds a provider for one configured device.
type Constructor func(dc config.DeviceConfig, baseLogger *zerolog.Logger) ports.ServiceProvider

var (
	mu           sync.RWMutex
	constructors = make(map[string]Constructor)
)

// Register adds a constructor for a type tag. A second registration for the
// same tag is ignored.
func Register(deviceType string, c Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := constructors[deviceType]; exists {
		return
	}
	constructors[deviceType] = c
}

// Build returns a new provider for the device's type tag.
func Build(dc config.DeviceConfig, baseLogger *zerolog.Logger) (ports.ServiceProvider, error) {
	mu.RLock()
	c, ok := constructors[dc.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no service provider registered for type %q", dc.Type)
	}
	return c(dc, baseLogger), nil
}

// Types lists the registered type tags in sorted order.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	types := make([]string, 0, len(constructors))
	for t := range constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
