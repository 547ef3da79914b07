// Package observer holds bus subscribers: a structured event log and an
// in-memory recorder.
package observer

import (
	"AtmSP/internal/core/domain"
	"AtmSP/internal/core/ports"
	"AtmSP/internal/shared/redact"

	"github.com/rs/zerolog"
)

// LoggingObserver writes every bus event to the log.
type LoggingObserver struct {
	log     zerolog.Logger
	maskPAN bool
}

func NewLoggingObserver(baseLogger *zerolog.Logger, maskPAN bool) *LoggingObserver {
	return &LoggingObserver{
		log:     baseLogger.With().Str("component", "event_log").Logger(),
		maskPAN: maskPAN,
	}
}

// Attach subscribes the observer to bus.
func (o *LoggingObserver) Attach(bus ports.EventBus) ports.SubscriptionID {
	return bus.Subscribe(o.Handle)
}

func (o *LoggingObserver) Handle(e domain.Event) {
	at := e.Timestamp()
	switch ev := e.(type) {
	case domain.ErrorEvent:
		o.log.Error().Time("at", at).Int("code", ev.Code).Str("message", ev.Message).Msg("ErrorEvent")
	case domain.SessionStarted:
		o.log.Info().Time("at", at).Str("session_id", ev.SessionID).Msg("SessionStarted")
	case domain.SessionEnded:
		o.log.Info().Time("at", at).Str("session_id", ev.SessionID).Int("result_code", ev.ResultCode).Msg("SessionEnded")
	case domain.CardInserted:
		o.log.Info().Time("at", at).Msg("CardInserted")
	case domain.CardRemoved:
		o.log.Info().Time("at", at).Msg("CardRemoved")
	case domain.Track2Read:
		pan := ev.PAN
		if o.maskPAN {
			pan = redact.MaskPAN(pan)
		}
		o.log.Info().Time("at", at).Str("pan", pan).Str("expiry", ev.Expiry).Msg("Track2Read")
	case domain.ChipReady:
		o.log.Info().Time("at", at).Bool("contactless", ev.Contactless).Msg("ChipReady")
	case domain.PinRequested:
		o.log.Info().Time("at", at).
			Int("min_len", ev.MinLen).
			Int("max_len", ev.MaxLen).
			Bool("bypass", ev.BypassAllowed).
			Msg("PinRequested")
	case domain.PinEntered:
		o.log.Info().Time("at", at).Str("masked", ev.Masked).Msg("PinEntered")
	default:
		o.log.Warn().Str("kind", string(e.Kind())).Msg("Unhandled event kind")
	}
}
