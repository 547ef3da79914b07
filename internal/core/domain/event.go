package domain

import "time"

// EventKind identifies an Event variant
type EventKind string

const (
	KindError          EventKind = "error"
	KindCardInserted   EventKind = "card_inserted"
	KindCardRemoved    EventKind = "card_removed"
	KindTrack2Read     EventKind = "track2_read"
	KindChipReady      EventKind = "chip_ready"
	KindPinRequested   EventKind = "pin_requested"
	KindPinEntered     EventKind = "pin_entered"
	KindSessionStarted EventKind = "session_started"
	KindSessionEnded   EventKind = "session_ended"
)

// Event is a notification published on the bus.
// The set of variants is closed: only this package can implement it.
type Event interface {
	Kind() EventKind
	Timestamp() time.Time
	isEvent()
}

// occurred carries the construction timestamp shared by all variants.
type occurred struct {
	at time.Time
}

func now() occurred { return occurred{at: time.Now()} }

func (o occurred) Timestamp() time.Time { return o.at }
func (occurred) isEvent()               {}

// ErrorEvent reports an out-of-band failure not tied to a specific command.
type ErrorEvent struct {
	occurred
	Code    int
	Message string
}

func NewErrorEvent(code int, message string) ErrorEvent {
	return ErrorEvent{occurred: now(), Code: code, Message: message}
}

func (ErrorEvent) Kind() EventKind { return KindError }

type CardInserted struct{ occurred }

func NewCardInserted() CardInserted { return CardInserted{occurred: now()} }

func (CardInserted) Kind() EventKind { return KindCardInserted }

type CardRemoved struct{ occurred }

func NewCardRemoved() CardRemoved { return CardRemoved{occurred: now()} }

func (CardRemoved) Kind() EventKind { return KindCardRemoved }

// Track2Read holds magnetic-stripe data. PAN is sensitive and must be masked
// before it reaches a log or display.
type Track2Read struct {
	occurred
	PAN    string
	Expiry string
	Raw    string
}

func NewTrack2Read(pan, expiry, raw string) Track2Read {
	return Track2Read{occurred: now(), PAN: pan, Expiry: expiry, Raw: raw}
}

func (Track2Read) Kind() EventKind { return KindTrack2Read }

// ChipReady signals that an EMV chip or contactless session is available.
type ChipReady struct {
	occurred
	Contactless bool
}

func NewChipReady(contactless bool) ChipReady {
	return ChipReady{occurred: now(), Contactless: contactless}
}

func (ChipReady) Kind() EventKind { return KindChipReady }

// Default PIN length limits used when a request does not specify them.
const (
	DefaultPinMinLen = 4
	DefaultPinMaxLen = 12
)

type PinRequested struct {
	occurred
	MinLen        int
	MaxLen        int
	BypassAllowed bool
}

func NewPinRequested(minLen, maxLen int, bypassAllowed bool) PinRequested {
	return PinRequested{occurred: now(), MinLen: minLen, MaxLen: maxLen, BypassAllowed: bypassAllowed}
}

func (PinRequested) Kind() EventKind { return KindPinRequested }

// PinEntered carries only the masked value. The raw PIN never leaves the device.
type PinEntered struct {
	occurred
	Masked string
}

func NewPinEntered(masked string) PinEntered {
	return PinEntered{occurred: now(), Masked: masked}
}

func (PinEntered) Kind() EventKind { return KindPinEntered }

type SessionStarted struct {
	occurred
	SessionID string
}

func NewSessionStarted(sessionID string) SessionStarted {
	return SessionStarted{occurred: now(), SessionID: sessionID}
}

func (SessionStarted) Kind() EventKind { return KindSessionStarted }

type SessionEnded struct {
	occurred
	SessionID  string
	ResultCode int
}

func NewSessionEnded(sessionID string, resultCode int) SessionEnded {
	return SessionEnded{occurred: now(), SessionID: sessionID, ResultCode: resultCode}
}

func (SessionEnded) Kind() EventKind { return KindSessionEnded }
