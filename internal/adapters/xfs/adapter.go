// Package xfs is the hardware-abstraction service provider. It has no
// device behind it yet: every call is logged and acknowledged.
package xfs

import (
	"AtmSP/internal/adapters/registry"
	"AtmSP/internal/core/command"
	"AtmSP/internal/core/domain"
	"AtmSP/internal/core/ports"
	"AtmSP/internal/shared/config"
	"sync"

	"github.com/rs/zerolog"
)

const (
	Name = "XfsAdapter"
	Type = "xfs"
)

func init() {
	registry.Register(Type, func(_ config.DeviceConfig, baseLogger *zerolog.Logger) ports.ServiceProvider {
		return NewAdapter(baseLogger)
	})
}

// Adapter implements ports.ServiceProvider as a stub.
type Adapter struct {
	log       zerolog.Logger
	mu        sync.Mutex
	bus       ports.EventBus
	logicalID string
	opened    bool
}

var _ ports.ServiceProvider = (*Adapter)(nil)

func NewAdapter(baseLogger *zerolog.Logger) *Adapter {
	return &Adapter{
		log: baseLogger.With().Str("component", "xfs_adapter").Logger(),
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Init(bus ports.EventBus) error {
	if bus == nil {
		return domain.NotInitialized
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.opened {
		return domain.AlreadyOpen
	}
	a.bus = bus
	a.log.Info().Msg("Startup (stub)")
	return nil
}

func (a *Adapter) Open(logicalID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bus == nil {
		return domain.NotInitialized
	}
	if a.opened {
		return domain.AlreadyOpen
	}
	a.opened = true
	a.logicalID = logicalID
	a.log.Info().Str("logical_id", logicalID).Msg("Open (stub)")
	return nil
}

func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.opened {
		return
	}
	a.opened = false
	a.log.Info().Str("logical_id", a.logicalID).Msg("Close (stub)")
}

func (a *Adapter) Execute(cmd string, payload command.Payload) *command.Future {
	a.log.Info().Str("cmd", cmd).Interface("payload", payload).Msg("Execute (stub)")
	return command.Resolved(command.OK(map[string]any{"cmd": cmd}))
}
