package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/billbatista/acasinha-split/attachment"
	"github.com/billbatista/acasinha-split/ledger"
	"github.com/billbatista/acasinha-split/ledger/memory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type gate struct {
	entered chan struct{}
	release chan struct{}
}

// flakyRepo wraps the in-memory repository so tests can fail or hold
// individual calls.
type flakyRepo struct {
	*memory.Store

	mu    sync.Mutex
	fail  map[string]error
	gates map[string]*gate
	calls map[string]int
}

func newFlakyRepo() *flakyRepo {
	return &flakyRepo{
		Store: memory.New(),
		fail:  make(map[string]error),
		gates: make(map[string]*gate),
		calls: make(map[string]int),
	}
}

func (r *flakyRepo) failOn(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[method] = err
}

// hold blocks calls to method until the returned release func runs. entered
// receives once a call is blocked.
func (r *flakyRepo) hold(method string) (entered <-chan struct{}, release func()) {
	g := &gate{entered: make(chan struct{}, 1), release: make(chan struct{})}
	r.mu.Lock()
	r.gates[method] = g
	r.mu.Unlock()

	var once sync.Once
	return g.entered, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.gates, method)
			r.mu.Unlock()
			close(g.release)
		})
	}
}

func (r *flakyRepo) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

func (r *flakyRepo) hook(method string) error {
	r.mu.Lock()
	r.calls[method]++
	g := r.gates[method]
	err := r.fail[method]
	r.mu.Unlock()

	if g != nil {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		<-g.release
	}
	return err
}

func (r *flakyRepo) GetEvent(ctx context.Context, eventID uuid.UUID) (*ledger.Event, error) {
	if err := r.hook("GetEvent"); err != nil {
		return nil, err
	}
	return r.Store.GetEvent(ctx, eventID)
}

func (r *flakyRepo) DeleteEvent(ctx context.Context, eventID uuid.UUID) error {
	if err := r.hook("DeleteEvent"); err != nil {
		return err
	}
	return r.Store.DeleteEvent(ctx, eventID)
}

func (r *flakyRepo) CreateParticipant(ctx context.Context, p ledger.Participant) error {
	if err := r.hook("CreateParticipant"); err != nil {
		return err
	}
	return r.Store.CreateParticipant(ctx, p)
}

func (r *flakyRepo) UpdateParticipant(ctx context.Context, p ledger.Participant) error {
	if err := r.hook("UpdateParticipant"); err != nil {
		return err
	}
	return r.Store.UpdateParticipant(ctx, p)
}

func (r *flakyRepo) DeleteParticipant(ctx context.Context, eventID, participantID uuid.UUID) error {
	if err := r.hook("DeleteParticipant"); err != nil {
		return err
	}
	return r.Store.DeleteParticipant(ctx, eventID, participantID)
}

func (r *flakyRepo) CreateExpense(ctx context.Context, e ledger.Expense) error {
	if err := r.hook("CreateExpense"); err != nil {
		return err
	}
	return r.Store.CreateExpense(ctx, e)
}

func (r *flakyRepo) UpdateExpense(ctx context.Context, e ledger.Expense) error {
	if err := r.hook("UpdateExpense"); err != nil {
		return err
	}
	return r.Store.UpdateExpense(ctx, e)
}

func (r *flakyRepo) DeleteExpense(ctx context.Context, eventID, expenseID uuid.UUID) error {
	if err := r.hook("DeleteExpense"); err != nil {
		return err
	}
	return r.Store.DeleteExpense(ctx, eventID, expenseID)
}

type flakyAttachments struct {
	*attachment.Memory
	putErr    error
	deleteErr error
}

func (a *flakyAttachments) Put(ctx context.Context, eventID uuid.UUID, data []byte) (string, error) {
	if a.putErr != nil {
		return "", a.putErr
	}
	return a.Memory.Put(ctx, eventID, data)
}

func (a *flakyAttachments) Delete(ctx context.Context, ref string) error {
	if a.deleteErr != nil {
		return a.deleteErr
	}
	return a.Memory.Delete(ctx, ref)
}

type fixture struct {
	repo    *flakyRepo
	ctrl    *Controller
	eventID uuid.UUID
	alice   ledger.Participant
	bob     ledger.Participant
	carol   ledger.Participant
}

// newFixture seeds an event with Alice, Bob and Carol straight into the
// repository and loads it.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := newFlakyRepo()

	ev, err := ledger.NewEvent("Trip", "USD")
	require.NoError(t, err)
	require.NoError(t, repo.Store.CreateEvent(ctx, ev))

	f := &fixture{repo: repo, eventID: ev.ID}
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		p, err := ledger.NewParticipant(ev.ID, name)
		require.NoError(t, err)
		require.NoError(t, repo.Store.CreateParticipant(ctx, p))
		switch name {
		case "Alice":
			f.alice = p
		case "Bob":
			f.bob = p
		case "Carol":
			f.carol = p
		}
	}

	f.ctrl = New(repo, opts...)
	require.NoError(t, f.ctrl.LoadEvent(ctx, ev.ID))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		f.ctrl.Close(ctx)
	})
	return f
}

// remote reads the repository's copy, bypassing the hooks.
func (f *fixture) remote(t *testing.T) *ledger.Event {
	t.Helper()
	ev, err := f.repo.Store.GetEvent(context.Background(), f.eventID)
	require.NoError(t, err)
	return ev
}

func (f *fixture) everyone() []uuid.UUID {
	return []uuid.UUID{f.alice.ID, f.bob.ID, f.carol.ID}
}

// settled waits for m and for the local snapshot to match the repository.
func (f *fixture) settled(t *testing.T, m *Mutation) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	err := m.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

func (f *fixture) inSync(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		local := f.ctrl.Event()
		remote, err := f.repo.Store.GetEvent(context.Background(), f.eventID)
		if err != nil || local == nil {
			return false
		}
		return sameLedger(local, remote)
	}, waitFor, 5*time.Millisecond)
}

func sameLedger(a, b *ledger.Event) bool {
	if len(a.Participants) != len(b.Participants) || len(a.Expenses) != len(b.Expenses) {
		return false
	}
	for _, p := range a.Participants {
		q := b.Participant(p.ID)
		if q == nil || q.Name != p.Name {
			return false
		}
	}
	for _, e := range a.Expenses {
		x := b.Expense(e.ID)
		if x == nil || !x.Amount.Equal(e.Amount) || x.Description != e.Description {
			return false
		}
	}
	return true
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
