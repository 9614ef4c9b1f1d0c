// Package session owns per-connection streaming sessions: the lifecycle
// state machine, the bounded audio queue drained by a single worker, the
// accumulated transcript and the registry that creates and removes sessions.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// State is the lifecycle state of a session.
type State string

const (
	// StateCreated - accepted, no audio yet.
	StateCreated State = "created"
	// StateActive - receiving and processing audio.
	StateActive State = "active"
	// StateDraining - no longer accepting audio, flushing the adapter.
	StateDraining State = "draining"
	// StateClosed - terminal; resources released, no further updates.
	StateClosed State = "closed"
)

func (s State) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

const (
	eventActivate = "activate"
	eventDrain    = "drain"
	eventClose    = "close"
)

// ErrInvalidTransition is returned for a transition the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Lifecycle is the session state machine. Safe for concurrent use.
//
//	created ──activate──→ active ──drain──→ draining ──close──→ closed
//	   │                    │                                   ↑
//	   └──────drain─────────┼───────────────────────────────────┤
//	                        └──────────────close────────────────┘
type Lifecycle struct {
	fsm *fsm.FSM
}

// NewLifecycle returns a lifecycle in the created state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		fsm: fsm.NewFSM(
			string(StateCreated),
			fsm.Events{
				{Name: eventActivate, Src: []string{string(StateCreated)}, Dst: string(StateActive)},
				{Name: eventDrain, Src: []string{string(StateCreated), string(StateActive)}, Dst: string(StateDraining)},
				{Name: eventClose, Src: []string{string(StateCreated), string(StateActive), string(StateDraining)}, Dst: string(StateClosed)},
			},
			fsm.Callbacks{},
		),
	}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return State(l.fsm.Current())
}

// Accepting reports whether audio may still be enqueued.
func (l *Lifecycle) Accepting() bool {
	s := l.State()
	return s == StateCreated || s == StateActive
}

// IsClosed reports whether the lifecycle reached its terminal state.
func (l *Lifecycle) IsClosed() bool {
	return l.fsm.Is(string(StateClosed))
}

// Activate moves created → active. It is a no-op when already active.
func (l *Lifecycle) Activate() error {
	return l.fire(eventActivate, StateActive)
}

// Drain moves created/active → draining. It is a no-op when already draining.
func (l *Lifecycle) Drain() error {
	return l.fire(eventDrain, StateDraining)
}

// Close moves any state → closed. Idempotent.
func (l *Lifecycle) Close() error {
	return l.fire(eventClose, StateClosed)
}

func (l *Lifecycle) fire(event string, dst State) error {
	if l.State() == dst {
		return nil
	}
	err := l.fsm.Event(context.Background(), event)
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return fmt.Errorf("%w: %s from %s: %v", ErrInvalidTransition, event, l.State(), err)
}
