package ports

import "AtmSP/internal/core/command"

// ServiceProvider is the capability set every device driver implements,
// simulated or real.
type ServiceProvider interface {
	// Name returns a stable identifier for logs and diagnostics.
	Name() string

	// Init binds the provider to a bus. A nil bus yields domain.NotInitialized.
	Init(bus EventBus) error

	// Open binds the logical device id and may start background activity.
	// It yields domain.NotInitialized before Init and domain.AlreadyOpen
	// when already opened. A failed call leaves the state unchanged.
	Open(logicalID string) error

	// Close stops the device and blocks until all background work it
	// started has exited. Closing an unopened provider is a no-op.
	Close()

	// Execute starts a command and returns immediately. The future resolves
	// exactly once; command failures are reported inside the reply.
	Execute(cmd string, payload command.Payload) *command.Future
}
