// Package session keeps a local copy of one event in step with the
// authoritative repository.
//
// Every mutation is applied to the local ledger.Store first and returned to
// the caller straight away; the remote write follows in the background. Writes
// for one session are issued in the order they were applied. When a write
// fails the store goes back to the snapshot taken just before that mutation,
// and mutations applied after it are abandoned without being written.
//
// Change notifications from the repository trigger a full refetch. A refetch
// that completes while any mutation is pending is dropped and retried once
// nothing is pending, so it never hides a local change that is not yet
// written.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/billbatista/acasinha-split/attachment"
	"github.com/billbatista/acasinha-split/eventlogger"
	"github.com/billbatista/acasinha-split/ledger"
	"github.com/billbatista/acasinha-split/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Auditor receives a record of every settled mutation. *eventlogger.Worker
// implements it.
type Auditor interface {
	Log(event eventlogger.Event)
}

type Controller struct {
	repo             ledger.Repository
	attachments      attachment.Store
	recent           RecentStore
	audit            Auditor
	metrics          *metrics.Metrics
	allowOverpayment bool
	onFailure        func(m *Mutation, err error)
	now              func() time.Time

	store *ledger.Store

	mu           sync.Mutex
	eventID      uuid.UUID
	pending      map[uint64]*Mutation
	last         *Mutation
	nextID       uint64
	settledCount uint64
	staleRefetch bool
	unsubscribe  context.CancelFunc

	refetchMu sync.Mutex
	wg        sync.WaitGroup
}

type Option func(*Controller)

func WithAttachments(store attachment.Store) Option {
	return func(c *Controller) {
		c.attachments = store
	}
}

func WithRecent(store RecentStore) Option {
	return func(c *Controller) {
		c.recent = store
	}
}

func WithAudit(a Auditor) Option {
	return func(c *Controller) {
		c.audit = a
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithOverpayment lets a settlement exceed what the debtor owes.
func WithOverpayment(allow bool) Option {
	return func(c *Controller) {
		c.allowOverpayment = allow
	}
}

// WithFailureHandler is called for every rolled back mutation, for user
// facing reporting: err is a *WriteError for a failed remote write, or
// ErrSuperseded when an earlier failure undid the change first.
func WithFailureHandler(fn func(m *Mutation, err error)) Option {
	return func(c *Controller) {
		c.onFailure = fn
	}
}

func New(repo ledger.Repository, opts ...Option) *Controller {
	c := &Controller{
		repo:    repo,
		recent:  NewMemoryRecent(),
		now:     func() time.Time { return time.Now().UTC() },
		store:   ledger.NewStore(),
		pending: make(map[uint64]*Mutation),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Event returns a copy of the local snapshot, or nil when nothing is loaded.
func (c *Controller) Event() *ledger.Event {
	ev, _ := c.store.Get()
	return ev
}

// Watch signals after every change to the local snapshot, optimistic or
// authoritative, until ctx is done. Signals coalesce.
func (c *Controller) Watch(ctx context.Context) <-chan struct{} {
	changes, stop := c.store.Watch()
	go func() {
		<-ctx.Done()
		stop()
	}()
	return changes
}

func (c *Controller) Balances() ledger.Balances {
	return c.store.Balances()
}

func (c *Controller) Debts() []ledger.Debt {
	return c.store.Debts()
}

func (c *Controller) TotalSpend() decimal.Decimal {
	return c.store.TotalSpend()
}

func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Controller) RecentEvents(ctx context.Context) ([]RecentEvent, error) {
	return c.recent.List(ctx)
}

func (c *Controller) Attachment(ctx context.Context, ref string) ([]byte, error) {
	if c.attachments == nil {
		return nil, ErrAttachmentsMissing
	}
	return c.attachments.Get(ctx, ref)
}

func (c *Controller) CreateEvent(ctx context.Context, name, currency string) (*ledger.Event, error) {
	ev, err := ledger.NewEvent(name, currency)
	if err != nil {
		return nil, err
	}

	if err := c.repo.CreateEvent(ctx, ev); err != nil {
		return nil, &WriteError{Op: ledger.OpCreateEvent, Err: err}
	}

	c.activate(ctx, &ev)
	c.log(ledger.OpCreateEvent, ev.ID, ev.ID, Committed, nil)
	return ev.Clone(), nil
}

// LoadEvent fetches eventID and makes it the active session. On failure the
// previous session, if any, is left as it was.
func (c *Controller) LoadEvent(ctx context.Context, eventID uuid.UUID) error {
	ev, err := c.repo.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoad, err)
	}
	c.activate(ctx, ev)
	return nil
}

// Exit drops the active session. Pending writes still run to completion.
func (c *Controller) Exit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deactivate()
	c.store.Clear()
}

// Close exits the session and waits for background work until ctx is done.
func (c *Controller) Close(ctx context.Context) error {
	c.Exit()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) activate(ctx context.Context, ev *ledger.Event) {
	subCtx, cancel := context.WithCancel(context.Background())
	changes, err := c.repo.Subscribe(subCtx, ev.ID)
	if err != nil {
		slog.Warn("change feed unavailable, remote edits will not show until reload", "error", err, "event_id", ev.ID.String())
	}

	c.mu.Lock()
	c.deactivate()
	c.eventID = ev.ID
	c.unsubscribe = cancel
	c.store.Replace(ev)
	c.mu.Unlock()

	if changes != nil {
		c.wg.Go(func() {
			for range changes {
				c.refetch(ev.ID)
			}
		})
	}

	c.updateRecent(ctx, func(recent []RecentEvent) []RecentEvent {
		return Touch(recent, ev.ID, ev.Name, c.now())
	})
}

// deactivate must be called with mu held.
func (c *Controller) deactivate() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.eventID = uuid.Nil
	c.pending = make(map[uint64]*Mutation)
	c.metrics.Pending(0)
	c.last = nil
	c.staleRefetch = false
}

func (c *Controller) updateRecent(ctx context.Context, fn func([]RecentEvent) []RecentEvent) {
	recent, err := c.recent.List(ctx)
	if err != nil {
		slog.Error("failed to read recent events", "error", err)
		return
	}
	if err := c.recent.Save(ctx, fn(recent)); err != nil {
		slog.Error("failed to save recent events", "error", err)
	}
}

// refetch replaces the local snapshot with the repository's copy of eventID.
func (c *Controller) refetch(eventID uuid.UUID) {
	c.refetchMu.Lock()
	defer c.refetchMu.Unlock()

	c.mu.Lock()
	startRev, startSettled := c.store.Revision(), c.settledCount
	c.mu.Unlock()

	ev, err := c.repo.GetEvent(context.Background(), eventID)
	if err != nil {
		slog.Error("failed to refetch event", "error", err, "event_id", eventID.String())
		c.metrics.Refetched(metrics.RefetchFailed)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eventID != eventID {
		return
	}
	// the copy may lack writes still in flight, including ones whose
	// notification triggered this fetch
	if len(c.pending) > 0 {
		c.staleRefetch = true
		c.metrics.Refetched(metrics.RefetchDiscarded)
		return
	}
	if c.store.Revision() != startRev || c.settledCount != startSettled {
		// a write may have landed after the copy was read
		c.metrics.Refetched(metrics.RefetchDiscarded)
		c.wg.Go(func() {
			c.refetch(eventID)
		})
		return
	}
	c.store.Replace(ev)
	c.metrics.Refetched(metrics.RefetchApplied)
}

// mutate applies change to the local snapshot and schedules persist. A
// non-nil error means nothing was applied and nothing will be written.
func (c *Controller) mutate(op ledger.Op, subject uuid.UUID, change func(ev *ledger.Event) error, persist func(ctx context.Context) error) (*Mutation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eventID == uuid.Nil {
		return nil, ErrNoActiveEvent
	}

	m := c.newMutation(op, subject)
	m.setState(Applying)

	before, _, err := c.store.Apply(change)
	if err != nil {
		m.setState(Idle)
		return nil, err
	}
	m.before, m.persist = before, persist

	c.launch(m)
	return m, nil
}

// newMutation must be called with mu held.
func (c *Controller) newMutation(op ledger.Op, subject uuid.UUID) *Mutation {
	c.nextID++
	return &Mutation{
		ID:      c.nextID,
		Op:      op,
		EventID: c.eventID,
		Subject: subject,
		done:    make(chan struct{}),
	}
}

// launch must be called with mu held.
func (c *Controller) launch(m *Mutation) {
	m.prev = c.last
	c.last = m
	c.pending[m.ID] = m
	c.metrics.Pending(len(c.pending))
	m.started = time.Now()
	m.setState(Persisting)

	c.wg.Go(func() {
		if m.prev != nil {
			<-m.prev.done
		}

		c.mu.Lock()
		aborted := m.aborted
		c.mu.Unlock()

		if aborted {
			c.settle(m, ErrSuperseded)
			return
		}
		c.settle(m, m.persist(context.Background()))
	})
}

func (c *Controller) settle(m *Mutation, err error) {
	c.mu.Lock()

	delete(c.pending, m.ID)
	c.settledCount++
	if c.last == m {
		c.last = nil
	}

	active := m.EventID == c.eventID
	refetch := false

	switch {
	case err == nil:
		m.setState(Committed)
		if active && m.committed != nil {
			m.committed()
		}
	case errors.Is(err, ErrSuperseded):
		m.setState(RolledBack)
	default:
		err = &WriteError{Op: m.Op, Err: err}
		m.setState(RolledBack)
		if active {
			c.store.Restore(m.before)
			for _, p := range c.pending {
				if p.ID > m.ID {
					p.aborted = true
				}
			}
		}
	}
	m.err = err
	c.metrics.Pending(len(c.pending))
	c.metrics.Settled(string(m.Op), m.State().String(), m.started)

	if active && len(c.pending) == 0 && c.staleRefetch {
		c.staleRefetch = false
		refetch = true
	}
	eventID := c.eventID

	c.mu.Unlock()

	if err != nil {
		slog.Warn("mutation rolled back", "op", string(m.Op), "mutation", m.ID, "error", err)
		if c.onFailure != nil {
			c.onFailure(m, err)
		}
	}
	c.log(m.Op, m.EventID, m.Subject, m.State(), err)
	close(m.done)

	if refetch && eventID != uuid.Nil {
		c.wg.Go(func() {
			c.refetch(eventID)
		})
	}
}

func (c *Controller) log(op ledger.Op, eventID, subject uuid.UUID, state State, err error) {
	if c.audit == nil {
		return
	}
	opts := []eventlogger.EventOption{
		eventlogger.WithType(string(op)),
		eventlogger.WithLedger(eventID),
		eventlogger.WithData(map[string]string{
			"subject": subject.String(),
			"state":   state.String(),
		}),
	}
	if err != nil {
		opts = append(opts, eventlogger.WithMetadata("error", err.Error()))
	}
	c.audit.Log(eventlogger.NewEvent(opts...))
}

// cleanup deletes attachments without letting a failure reach the caller.
func (c *Controller) cleanup(ctx context.Context, refs ...string) {
	if c.attachments == nil {
		return
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := c.attachments.Delete(ctx, ref); err != nil {
			slog.Error("failed to delete attachment", "error", err, "ref", ref)
		}
	}
}
