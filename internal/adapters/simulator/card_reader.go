package simulator

import (
	"AtmSP/internal/core/command"
	"AtmSP/internal/core/domain"
	"AtmSP/internal/core/ports"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"
)

const CardReaderName = "MockCardReader"

// Representative magnetic-stripe data emitted on every successful read.
const (
	SimulatedPAN    = "5413330089012345"
	SimulatedExpiry = "2512"
	SimulatedTrack2 = "5413330089012345=25121010000012345678?"
)

// CardReaderTimings controls the pacing of one simulated card cycle.
type CardReaderTimings struct {
	DwellMin    time.Duration // customer approaching, lower bound
	DwellMax    time.Duration // customer approaching, upper bound
	ReadDelay   time.Duration // insert -> track read
	RemoveDelay time.Duration // track read -> removal
}

// DefaultCardReaderTimings mirrors a customer at a real terminal.
var DefaultCardReaderTimings = CardReaderTimings{
	DwellMin:    2 * time.Second,
	DwellMax:    5 * time.Second,
	ReadDelay:   1 * time.Second,
	RemoveDelay: 2 * time.Second,
}

// CardReader simulates card presentation. While opened it repeats
// CardInserted -> [ChipReady] -> [Track2Read] -> CardRemoved.
type CardReader struct {
	device
	timings     CardReaderTimings
	emv         bool
	contactless bool
	failureRate atomic.Int32
}

var _ ports.ServiceProvider = (*CardReader)(nil)

type CardReaderOption func(*CardReader)

func WithCardTimings(t CardReaderTimings) CardReaderOption {
	return func(c *CardReader) { c.timings = t }
}

// WithChip makes every insertion announce a ChipReady event.
func WithChip(contactless bool) CardReaderOption {
	return func(c *CardReader) {
		c.emv = true
		c.contactless = contactless
	}
}

func WithFailureRate(pct int) CardReaderOption {
	return func(c *CardReader) { c.failureRate.Store(int32(clampPct(pct))) }
}

func NewCardReader(baseLogger *zerolog.Logger, opts ...CardReaderOption) *CardReader {
	c := &CardReader{
		device:  newDevice(CardReaderName, baseLogger),
		timings: DefaultCardReaderTimings,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open starts the background card cycle.
func (c *CardReader) Open(logicalID string) error {
	r, err := c.open(logicalID)
	if err != nil {
		return err
	}
	// A concurrent Close may already have taken the run; nothing to start then.
	c.spawn(r, c.cycle)
	return nil
}

// FailureRate returns the current read-drop percentage.
func (c *CardReader) FailureRate() int {
	return int(c.failureRate.Load())
}

// Execute handles SetFailureRate; every other command is acknowledged
// without side effects.
func (c *CardReader) Execute(cmd string, payload command.Payload) *command.Future {
	if cmd == "SetFailureRate" {
		raw, present := payload["pct"]
		if !present {
			return command.Resolved(command.Fail(command.ReasonInvalidPayload, map[string]any{"command": cmd}))
		}
		pct, err := cast.ToIntE(raw)
		if err != nil {
			c.log.Warn().Err(err).Interface("pct", raw).Msg("Rejected SetFailureRate payload")
			return command.Resolved(command.Fail(command.ReasonInvalidPayload, map[string]any{"command": cmd}))
		}
		pct = clampPct(pct)
		c.failureRate.Store(int32(pct))
		c.log.Info().Int("pct", pct).Msg("Failure rate updated")
		return command.Resolved(command.OK(map[string]any{"pct": pct}))
	}

	return command.Resolved(command.OK(map[string]any{
		"sp":      c.Name(),
		"command": cmd,
	}))
}

func (c *CardReader) cycle(r *run) {
	for {
		if !sleep(r.ctx, c.dwell()) {
			return
		}
		r.bus.Publish(domain.NewCardInserted())
		c.log.Info().Msg("CardInserted")

		if c.emv {
			r.bus.Publish(domain.NewChipReady(c.contactless))
			c.log.Debug().Bool("contactless", c.contactless).Msg("ChipReady")
		}

		if !sleep(r.ctx, c.timings.ReadDelay) {
			return
		}
		if c.dropRead() {
			// A sensor miss: the only trace is the missing Track2Read.
			c.log.Debug().Int("failure_rate", c.FailureRate()).Msg("Track2 read dropped")
		} else {
			r.bus.Publish(domain.NewTrack2Read(SimulatedPAN, SimulatedExpiry, SimulatedTrack2))
			c.log.Info().Msg("Track2Read")
		}

		if !sleep(r.ctx, c.timings.RemoveDelay) {
			return
		}
		r.bus.Publish(domain.NewCardRemoved())
		c.log.Info().Msg("CardRemoved")
	}
}

func (c *CardReader) dwell() time.Duration {
	lo, hi := c.timings.DwellMin, c.timings.DwellMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

func (c *CardReader) dropRead() bool {
	pct := int(c.failureRate.Load())
	switch {
	case pct <= 0:
		return false
	case pct >= 100:
		return true
	}
	return rand.IntN(100) < pct
}

func clampPct(pct int) int {
	return min(max(pct, 0), 100)
}
