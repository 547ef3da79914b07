package simulator

import (
	"AtmSP/internal/core/command"
	"AtmSP/internal/core/domain"
	"AtmSP/internal/core/ports"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const PinPadName = "MockPinPad"

// MaskedPIN is what the simulator reports for every entered PIN.
const MaskedPIN = "****"

// DefaultPinEntryDelay is how long the simulated customer takes to type.
const DefaultPinEntryDelay = 1500 * time.Millisecond

// PinPad simulates PIN capture. RequestPin announces the request
// immediately and resolves after the entry delay.
type PinPad struct {
	device
	entryDelay    time.Duration
	bypassAllowed bool
	injected      atomic.Bool
}

var _ ports.ServiceProvider = (*PinPad)(nil)

type PinPadOption func(*PinPad)

func WithEntryDelay(d time.Duration) PinPadOption {
	return func(p *PinPad) { p.entryDelay = d }
}

// WithBypassAllowed sets the bypass flag used when a request does not
// carry one.
func WithBypassAllowed(allowed bool) PinPadOption {
	return func(p *PinPad) { p.bypassAllowed = allowed }
}

func NewPinPad(baseLogger *zerolog.Logger, opts ...PinPadOption) *PinPad {
	p := &PinPad{
		device:     newDevice(PinPadName, baseLogger),
		entryDelay: DefaultPinEntryDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open has no background activity of its own; work starts per RequestPin.
func (p *PinPad) Open(logicalID string) error {
	_, err := p.open(logicalID)
	return err
}

type pinRequest struct {
	MinLen int  `mapstructure:"minLen"`
	MaxLen int  `mapstructure:"maxLen"`
	Bypass bool `mapstructure:"bypass"`
}

func (p *PinPad) Execute(cmd string, payload command.Payload) *command.Future {
	switch cmd {
	case "RequestPin":
		return p.requestPin(payload)
	case "InjectPinError":
		p.injected.Store(true)
		p.log.Warn().Msg("KeypadFailure armed for next RequestPin")
		return command.Resolved(command.OK(nil))
	default:
		p.log.Warn().Str("command", cmd).Msg("Unknown command")
		return command.Resolved(command.Fail(command.ReasonUnknownCommand, map[string]any{"command": cmd}))
	}
}

func (p *PinPad) requestPin(payload command.Payload) *command.Future {
	req := pinRequest{MinLen: domain.DefaultPinMinLen, MaxLen: domain.DefaultPinMaxLen, Bypass: p.bypassAllowed}
	if err := command.Decode(payload, &req); err != nil {
		p.log.Warn().Err(err).Msg("Rejected RequestPin payload")
		return command.Resolved(command.Fail(command.ReasonInvalidPayload, map[string]any{"command": "RequestPin"}))
	}
	if req.MinLen < 1 || req.MaxLen < req.MinLen {
		p.log.Warn().Int("min_len", req.MinLen).Int("max_len", req.MaxLen).Msg("Rejected RequestPin limits")
		return command.Resolved(command.Fail(command.ReasonInvalidPayload, map[string]any{"command": "RequestPin"}))
	}

	r := p.active()
	if r == nil {
		return command.Resolved(command.Fail(command.ReasonNotOpen, map[string]any{"command": "RequestPin"}))
	}

	// Published on the caller's goroutine so it always precedes the reply.
	r.bus.Publish(domain.NewPinRequested(req.MinLen, req.MaxLen, req.Bypass))

	fut := command.NewFuture()
	masked := MaskedPIN
	_, ok := p.spawn(r, func(r *run) {
		if !sleep(r.ctx, p.entryDelay) {
			fut.Resolve(command.Fail(command.ReasonCancelled, nil))
			return
		}
		if p.injected.CompareAndSwap(true, false) {
			p.log.Warn().Msg("Injected KeypadFailure consumed")
			fut.Resolve(command.Fail(command.ReasonKeypadFailure, nil))
			return
		}
		r.bus.Publish(domain.NewPinEntered(masked))
		p.log.Info().Str("masked", masked).Msg("PinEntered")
		fut.Resolve(command.OK(map[string]any{"masked": masked}))
	})
	if !ok {
		// Closed between the announcement and scheduling.
		fut.Resolve(command.Fail(command.ReasonCancelled, nil))
	}
	return fut
}
