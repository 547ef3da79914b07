// Package session anchors one terminal interaction and announces its
// lifecycle on the event bus.
package session

import (
	"AtmSP/internal/core/domain"
	"AtmSP/internal/core/ports"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the lifecycle position of a session.
type State int

const (
	Idle State = iota
	Active
	Ended
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Ended:
		return "ended"
	}
	return "unknown"
}

// ErrSessionEnded is returned by Start and End once the session has ended.
var ErrSessionEnded = errors.New("session already ended")

// Session is a single-use Idle -> Active -> Ended state machine.
type Session struct {
	id    string
	bus   ports.EventBus
	log   zerolog.Logger
	mu    sync.Mutex
	state State
}

// New creates an idle session. An empty id is replaced by a generated one.
func New(id string, bus ports.EventBus, baseLogger *zerolog.Logger) *Session {
	if id == "" {
		id = "S-" + uuid.NewString()
	}
	return &Session{
		id:  id,
		bus: bus,
		log: baseLogger.With().Str("component", "session").Str("session_id", id).Logger(),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start moves the session to Active and publishes SessionStarted.
// Starting an active session announces it again.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state == Ended {
		s.mu.Unlock()
		s.log.Warn().Msg("Start called on ended session")
		return ErrSessionEnded
	}
	s.state = Active
	s.mu.Unlock()

	s.bus.Publish(domain.NewSessionStarted(s.id))
	s.log.Info().Msg("Session started")
	return nil
}

// End moves the session to Ended and publishes SessionEnded. It may be
// called from Idle as well as Active.
func (s *Session) End(resultCode int) error {
	s.mu.Lock()
	if s.state == Ended {
		s.mu.Unlock()
		s.log.Warn().Int("result_code", resultCode).Msg("End called on ended session")
		return ErrSessionEnded
	}
	s.state = Ended
	s.mu.Unlock()

	s.bus.Publish(domain.NewSessionEnded(s.id, resultCode))
	s.log.Info().Int("result_code", resultCode).Msg("Session ended")
	return nil
}
