// Package simulator provides service providers that imitate terminal
// peripherals: timed background events, correlated command replies and
// controllable failure injection.
package simulator

import (
	"AtmSP/internal/core/domain"
	"AtmSP/internal/core/ports"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// run groups the background goroutines started by one Open call.
type run struct {
	ctx     context.Context
	cancel  context.CancelFunc
	tasks   *conc.WaitGroup
	bus     ports.EventBus
	stopped chan struct{}
}

// device holds the lifecycle state shared by the simulators.
type device struct {
	name string
	log  zerolog.Logger

	mu        sync.Mutex
	bus       ports.EventBus
	logicalID string
	current   *run // non-nil while opened
	draining  *run // last run handed to Close
}

func newDevice(name string, baseLogger *zerolog.Logger) device {
	return device{
		name: name,
		log:  baseLogger.With().Str("component", "simulator").Str("sp", name).Logger(),
	}
}

func (d *device) Name() string { return d.name }

func (d *device) Init(bus ports.EventBus) error {
	if bus == nil {
		return domain.NotInitialized
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != nil {
		return domain.AlreadyOpen
	}
	d.bus = bus
	return nil
}

// open transitions to opened and returns the new run so the caller can
// start its background work.
func (d *device) open(logicalID string) (*run, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.bus == nil {
		return nil, domain.NotInitialized
	}
	if d.current != nil {
		return nil, domain.AlreadyOpen
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		ctx:     ctx,
		cancel:  cancel,
		tasks:   conc.NewWaitGroup(),
		bus:     d.bus,
		stopped: make(chan struct{}),
	}
	d.current = r
	d.logicalID = logicalID
	d.log.Info().Str("logical_id", logicalID).Msg("Opened logical device")
	return r, nil
}

// Close signals the background work to stop and waits for it. The lock is
// not held while waiting, so handlers running on that work may still call
// Execute. Concurrent callers all return after the work has exited.
func (d *device) Close() {
	d.mu.Lock()
	r := d.current
	if r == nil {
		pending := d.draining
		d.mu.Unlock()
		if pending != nil {
			<-pending.stopped
		}
		return
	}
	d.current = nil
	d.draining = r
	d.mu.Unlock()

	r.cancel()
	r.tasks.Wait()
	close(r.stopped)
	d.log.Info().Str("logical_id", d.LogicalID()).Msg("Closed")
}

// spawn runs fn on the current run. It reports false when the device is not
// opened, or when expect is set and the device has since been reopened.
func (d *device) spawn(expect *run, fn func(r *run)) (*run, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.current
	if r == nil || (expect != nil && r != expect) {
		return nil, false
	}
	r.tasks.Go(func() { fn(r) })
	return r, true
}

// active returns the current run, or nil when not opened.
func (d *device) active() *run {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *device) LogicalID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logicalID
}

// sleep waits for dur and reports false if ctx ended first.
func sleep(ctx context.Context, dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
