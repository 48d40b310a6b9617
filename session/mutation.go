package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/billbatista/acasinha-split/ledger"
	"github.com/google/uuid"
)

var (
	ErrNoActiveEvent      = errors.New("no event is loaded")
	ErrLoad               = errors.New("could not load event")
	ErrRemoteWrite        = errors.New("remote write failed")
	ErrSuperseded         = errors.New("an earlier change was rolled back")
	ErrAttachmentsMissing = errors.New("attachments are not configured")
)

// WriteError reports a mutation whose remote write failed and whose
// optimistic change was rolled back.
type WriteError struct {
	Op  ledger.Op
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrRemoteWrite, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrRemoteWrite, e.Err}
}

type State int32

const (
	Idle State = iota
	Applying
	Persisting
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Applying:
		return "applying"
	case Persisting:
		return "persisting"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Mutation tracks one optimistic change from local apply to remote outcome.
type Mutation struct {
	ID      uint64
	Op      ledger.Op
	EventID uuid.UUID
	// Subject is the id of the participant, expense or event changed.
	Subject uuid.UUID

	state atomic.Int32
	done  chan struct{}
	err   error

	// guarded by Controller.mu
	before    *ledger.Event
	prev      *Mutation
	aborted   bool
	persist   func(ctx context.Context) error
	committed func()
	started   time.Time
}

func (m *Mutation) State() State {
	return State(m.state.Load())
}

func (m *Mutation) setState(s State) {
	m.state.Store(int32(s))
}

// Done is closed once the mutation is committed or rolled back.
func (m *Mutation) Done() <-chan struct{} {
	return m.done
}

// Err is nil until Done is closed, then reports why the mutation was rolled back.
func (m *Mutation) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

// Wait blocks until the mutation settles or ctx is done.
func (m *Mutation) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return m.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
