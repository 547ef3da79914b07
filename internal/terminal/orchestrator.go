// Package terminal drives one demo transaction across the configured
// service providers.
package terminal

import (
	"AtmSP/internal/adapters/registry"
	"AtmSP/internal/core/command"
	"AtmSP/internal/core/domain"
	"AtmSP/internal/core/ports"
	"AtmSP/internal/core/session"
	"AtmSP/internal/shared/config"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	// Providers register their type tags from init.
	_ "AtmSP/internal/adapters/simulator"
	_ "AtmSP/internal/adapters/xfs"
)

// Logical ids of the devices every transaction needs.
const (
	CardReaderID = "CARDREADER1"
	PinPadID     = "PINPAD1"
)

// Result codes passed to SessionEnded.
const (
	ResultOK     = 0
	ResultFailed = 1
)

// Builder creates a provider for a configured device.
type Builder func(dc config.DeviceConfig, baseLogger *zerolog.Logger) (ports.ServiceProvider, error)

// ReplyObserver is told about every command the orchestrator issues.
type ReplyObserver interface {
	ObserveReply(sp, cmd string, f *command.Future) *command.Future
}

// Options tune a single run.
type Options struct {
	// FailRate is applied to the card reader when >= 0.
	FailRate int
	// PinError arms a one-shot keypad failure before the PIN request.
	PinError bool
	// Settle is how long card traffic flows before the PIN is requested.
	Settle    time.Duration
	PinMinLen int
	PinMaxLen int
	Builder   Builder
	Observer  ReplyObserver
}

// DefaultOptions mirror the interactive demo.
func DefaultOptions() Options {
	return Options{
		FailRate:  -1,
		Settle:    5 * time.Second,
		PinMinLen: 4,
		PinMaxLen: 6,
	}
}

// Result summarizes a finished transaction.
type Result struct {
	SessionID string
	Code      int
	Reply     command.Reply
}

type device struct {
	id  string
	cfg config.DeviceConfig
	sp  ports.ServiceProvider
}

// Orchestrator wires providers, a session and the bus together.
type Orchestrator struct {
	cfg        *config.Config
	bus        ports.EventBus
	opts       Options
	baseLogger *zerolog.Logger
	log        zerolog.Logger
}

// NewOrchestrator creates a new terminal orchestrator.
func NewOrchestrator(
	cfg *config.Config,
	bus ports.EventBus,
	opts Options,
	baseLogger *zerolog.Logger,
) *Orchestrator {
	if opts.Builder == nil {
		opts.Builder = registry.Build
	}
	if opts.PinMinLen <= 0 {
		opts.PinMinLen = domain.DefaultPinMinLen
	}
	if opts.PinMaxLen < opts.PinMinLen {
		opts.PinMaxLen = opts.PinMinLen
	}
	return &Orchestrator{
		cfg:        cfg,
		bus:        bus,
		opts:       opts,
		baseLogger: baseLogger,
		log:        baseLogger.With().Str("component", "terminal").Logger(),
	}
}

// Run executes one transaction. Devices are always closed, in reverse
// order of creation, before Run returns. A failed PIN entry is reported
// through Result.Code, not as an error.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	devices, err := o.buildDevices()
	if err != nil {
		return Result{}, err
	}
	defer o.closeAll(devices)

	if err := o.startAll(ctx, devices); err != nil {
		return Result{}, err
	}
	card, pin := devices[0], devices[1]

	o.inject(ctx, card, pin)

	sess := session.New("", o.bus, o.baseLogger)
	if err := sess.Start(); err != nil {
		return Result{}, err
	}
	res := Result{SessionID: sess.ID(), Code: ResultFailed}

	if err := wait(ctx, o.opts.Settle); err != nil {
		_ = sess.End(res.Code)
		return res, err
	}

	payload := command.Payload{
		"minLen": o.opts.PinMinLen,
		"maxLen": o.opts.PinMaxLen,
		"bypass": pin.cfg.Features.BypassAllowed,
	}
	reply, err := o.execute(ctx, pin, "RequestPin", payload)
	switch {
	case err != nil:
		o.log.Error().Err(err).Str("device", pin.id).Msg("RequestPin did not complete")
	case !reply.OK():
		o.log.Warn().Str("device", pin.id).Str("reason", reply.Error()).Msg("RequestPin failed")
	default:
		res.Code = ResultOK
	}
	res.Reply = reply

	if endErr := sess.End(res.Code); endErr != nil {
		return res, endErr
	}
	if errors.Is(err, context.Canceled) {
		return res, err
	}
	o.log.Info().Str("session_id", res.SessionID).Int("result_code", res.Code).Msg("Transaction finished")
	return res, nil
}

// buildDevices creates the card reader and PIN pad, then any other
// configured devices in id order.
func (o *Orchestrator) buildDevices() ([]*device, error) {
	required := []struct{ id, deviceType string }{
		{CardReaderID, "card_reader"},
		{PinPadID, "pin_pad"},
	}

	var devices []*device
	seen := map[string]bool{}
	for _, r := range required {
		dc, ok := o.cfg.Device(r.id)
		if !ok {
			o.log.Warn().Str("device", r.id).Msg("Device not found in config; using defaults")
		}
		if dc.Type == "" {
			dc.Type = r.deviceType
		}
		devices = append(devices, &device{id: r.id, cfg: dc})
		seen[strings.ToLower(r.id)] = true
	}

	var extra []string
	for id := range o.cfg.Devices {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		dc, _ := o.cfg.Device(id)
		devices = append(devices, &device{id: id, cfg: dc})
	}

	for _, d := range devices {
		sp, err := o.opts.Builder(d.cfg, o.baseLogger)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", d.id, err)
		}
		d.sp = sp
	}
	return devices, nil
}

// startAll initializes and opens every device concurrently.
func (o *Orchestrator) startAll(ctx context.Context, devices []*device) error {
	p := pool.New().WithErrors()
	for _, d := range devices {
		p.Go(func() error {
			if err := d.sp.Init(o.bus); err != nil {
				return fmt.Errorf("init %s: %w", d.id, err)
			}
			if err := o.open(ctx, d); err != nil {
				return err
			}
			o.log.Info().Str("device", d.id).Str("sp", d.sp.Name()).Msg("Device opened")
			return nil
		})
	}
	return p.Wait()
}

func (o *Orchestrator) open(ctx context.Context, d *device) error {
	ctx, cancel := context.WithTimeout(ctx, millis(d.cfg.Timeouts.OpenMs, config.DefaultDevice().Timeouts.OpenMs))
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.sp.Open(d.id) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("open %s: %w", d.id, err)
		}
		return nil
	case <-ctx.Done():
		// Open may still succeed after Run has closed everything.
		go func() {
			if err := <-done; err == nil {
				o.log.Warn().Str("device", d.id).Msg("Open finished after its deadline; closing")
				d.sp.Close()
			}
		}()
		return fmt.Errorf("open %s: %w", d.id, domain.Timeout)
	}
}

func (o *Orchestrator) inject(ctx context.Context, card, pin *device) {
	if o.opts.FailRate >= 0 {
		reply, err := o.execute(ctx, card, "SetFailureRate", command.Payload{"pct": o.opts.FailRate})
		if err != nil || !reply.OK() {
			o.log.Warn().Err(err).Str("reason", reply.Error()).Msg("SetFailureRate was not applied")
		} else {
			o.log.Warn().Interface("pct", reply["pct"]).Msg("Card read failure rate applied")
		}
	}
	if o.opts.PinError {
		reply, err := o.execute(ctx, pin, "InjectPinError", nil)
		if err != nil || !reply.OK() {
			o.log.Warn().Err(err).Str("reason", reply.Error()).Msg("InjectPinError was not applied")
		} else {
			o.log.Warn().Msg("Keypad failure armed for next RequestPin")
		}
	}
}

// execute issues cmd and waits for its reply, bounded by ExecuteMs.
func (o *Orchestrator) execute(ctx context.Context, d *device, cmd string, payload command.Payload) (command.Reply, error) {
	fut := d.sp.Execute(cmd, payload)
	if o.opts.Observer != nil {
		o.opts.Observer.ObserveReply(d.sp.Name(), cmd, fut)
	}

	ctx, cancel := context.WithTimeout(ctx, millis(d.cfg.Timeouts.ExecuteMs, config.DefaultDevice().Timeouts.ExecuteMs))
	defer cancel()
	reply, err := fut.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s on %s: %w", cmd, d.id, domain.Timeout)
	}
	return reply, err
}

func (o *Orchestrator) closeAll(devices []*device) {
	for i := len(devices) - 1; i >= 0; i-- {
		if d := devices[i]; d.sp != nil {
			d.sp.Close()
			o.log.Debug().Str("device", d.id).Msg("Device closed")
		}
	}
}

func millis(ms, fallback int) time.Duration {
	if ms <= 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
