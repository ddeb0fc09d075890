package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"soma-bot/internal/catalog"
	"soma-bot/internal/conversation"
	"soma-bot/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []conversation.Outbound
}

func (s *recordingSender) Send(_ context.Context, msg conversation.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) textsFor(userID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, msg := range s.sent {
		if msg.UserID == userID {
			out = append(out, msg.Text)
		}
	}
	return out
}

// echoHandler keeps a transcript of every text seen in the session draft and
// replies with the event text.
type echoHandler struct{}

func (echoHandler) Handle(_ context.Context, sess conversation.Session, ev conversation.Event) (conversation.Session, []conversation.Outbound) {
	if ev.Text == "boom" {
		panic("handler exploded")
	}
	if ev.Text == "stop" {
		return conversation.Session{}, []conversation.Outbound{{UserID: ev.UserID, Text: "stopped"}}
	}
	if sess.Draft == nil {
		sess.Draft = conversation.NewDraft("d", "", time.Time{})
	}
	sess.State = conversation.StateAskName
	sess.PendingProduct += ev.Text + ","
	return sess, []conversation.Outbound{{UserID: ev.UserID, Text: ev.Text}}
}

type failingStore struct {
	conversation.SessionStore
	loadErr   error
	saveErr   error
	deleteErr error
}

func (s failingStore) Load(ctx context.Context, userID int64) (conversation.Session, error) {
	if s.loadErr != nil {
		return conversation.Session{}, s.loadErr
	}
	return s.SessionStore.Load(ctx, userID)
}

func (s failingStore) Save(ctx context.Context, userID int64, sess conversation.Session) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.SessionStore.Save(ctx, userID, sess)
}

func (s failingStore) Delete(ctx context.Context, userID int64) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.SessionStore.Delete(ctx, userID)
}

// deadlineStore fails like a network store once ctx is done.
type deadlineStore struct {
	conversation.SessionStore
}

func (s deadlineStore) Save(ctx context.Context, userID int64, sess conversation.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.SessionStore.Save(ctx, userID, sess)
}

func (s deadlineStore) Delete(ctx context.Context, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.SessionStore.Delete(ctx, userID)
}

// slowEndHandler ends the conversation only after its context expires.
type slowEndHandler struct{}

func (slowEndHandler) Handle(ctx context.Context, _ conversation.Session, ev conversation.Event) (conversation.Session, []conversation.Outbound) {
	<-ctx.Done()
	return conversation.Session{}, []conversation.Outbound{{UserID: ev.UserID, Text: "done"}}
}

type sinkRows struct {
	mu      sync.Mutex
	records []conversation.OrderRecord
}

func (s *sinkRows) Append(_ context.Context, rec conversation.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func activeSession() conversation.Session {
	return conversation.Session{
		State: conversation.StateAskName,
		Draft: conversation.NewDraft("d", "", time.Time{}),
	}
}

type countingRecorder struct {
	mu        sync.Mutex
	handled   int
	failed    map[string]int
	throttled int
}

func (r *countingRecorder) EventHandled(conversation.EventKind) {
	r.mu.Lock()
	r.handled++
	r.mu.Unlock()
}

func (r *countingRecorder) EventFailed(stage string) {
	r.mu.Lock()
	if r.failed == nil {
		r.failed = map[string]int{}
	}
	r.failed[stage]++
	r.mu.Unlock()
}

func (r *countingRecorder) EventThrottled() {
	r.mu.Lock()
	r.throttled++
	r.mu.Unlock()
}

func (r *countingRecorder) Backlog(int) {}

// runUntilDrained submits events through fn while the dispatcher runs, then
// stops it and waits for the queue to drain.
func runUntilDrained(t *testing.T, d *Dispatcher, fn func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	fn()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_PreservesPerUserOrder(t *testing.T) {
	store := memory.NewSessionStore()
	sender := &recordingSender{}
	d := New(echoHandler{}, store, sender, zap.NewNop(), WithWorkers(4), WithQueueSize(512))

	users := []int64{1, 2, 3, 4, 5, 6, 7}
	const perUser = 40

	runUntilDrained(t, d, func() {
		for i := 0; i < perUser; i++ {
			for _, u := range users {
				require.NoError(t, d.Submit(conversation.TextInput(u, "", fmt.Sprint(i))))
			}
		}
	})

	for _, u := range users {
		texts := sender.textsFor(u)
		require.Len(t, texts, perUser)
		for i, text := range texts {
			assert.Equal(t, fmt.Sprint(i), text, "user %d", u)
		}

		sess, err := store.Load(context.Background(), u)
		require.NoError(t, err)
		assert.Equal(t, perUser, len(splitTranscript(sess.PendingProduct)))
	}
}

func splitTranscript(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

func TestDispatcher_DeletesEndedSession(t *testing.T) {
	store := memory.NewSessionStore()
	sender := &recordingSender{}
	d := New(echoHandler{}, store, sender, zap.NewNop())

	runUntilDrained(t, d, func() {
		require.NoError(t, d.Submit(conversation.TextInput(1, "", "hello")))
		require.NoError(t, d.Submit(conversation.TextInput(1, "", "stop")))
	})

	assert.Equal(t, 0, store.Len())
	assert.Equal(t, []string{"hello", "stopped"}, sender.textsFor(1))
}

func TestDispatcher_RecoversFromPanic(t *testing.T) {
	sender := &recordingSender{}
	rec := &countingRecorder{}
	d := New(echoHandler{}, memory.NewSessionStore(), sender, zap.NewNop(),
		WithWorkers(1), WithRecorder(rec))

	runUntilDrained(t, d, func() {
		require.NoError(t, d.Submit(conversation.TextInput(1, "", "boom")))
		require.NoError(t, d.Submit(conversation.TextInput(2, "", "still here")))
		require.NoError(t, d.Submit(conversation.TextInput(1, "", "again")))
	})

	assert.Equal(t, []string{GenericErrorMessage, "again"}, sender.textsFor(1))
	assert.Equal(t, []string{"still here"}, sender.textsFor(2))
	assert.Equal(t, 1, rec.failed["panic"])
	assert.Equal(t, 2, rec.handled)
}

func TestDispatcher_StoreFailures(t *testing.T) {
	tests := []struct {
		name  string
		store failingStore
		stage string
	}{
		{
			name:  "load",
			store: failingStore{SessionStore: memory.NewSessionStore(), loadErr: errors.New("redis down")},
			stage: "session_load",
		},
		{
			name:  "save",
			store: failingStore{SessionStore: memory.NewSessionStore(), saveErr: errors.New("redis down")},
			stage: "session_save",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &recordingSender{}
			rec := &countingRecorder{}
			d := New(echoHandler{}, tt.store, sender, zap.NewNop(), WithRecorder(rec))

			runUntilDrained(t, d, func() {
				require.NoError(t, d.Submit(conversation.TextInput(9, "", "hi")))
			})

			assert.Equal(t, []string{GenericErrorMessage}, sender.textsFor(9))
			assert.Equal(t, 1, rec.failed[tt.stage])
		})
	}
}

func TestDispatcher_ResetsSessionWhenDeleteFails(t *testing.T) {
	inner := memory.NewSessionStore()
	require.NoError(t, inner.Save(context.Background(), 3, activeSession()))
	sender := &recordingSender{}
	rec := &countingRecorder{}
	d := New(echoHandler{}, failingStore{SessionStore: inner, deleteErr: errors.New("redis down")},
		sender, zap.NewNop(), WithRecorder(rec))

	runUntilDrained(t, d, func() {
		require.NoError(t, d.Submit(conversation.TextInput(3, "", "stop")))
	})

	assert.Equal(t, []string{"stopped"}, sender.textsFor(3))
	sess, err := inner.Load(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, sess.State.Active())
	assert.Nil(t, sess.Draft)
	assert.Equal(t, 1, rec.handled)
}

func TestDispatcher_FailsWhenEndedSessionCannotBeDiscarded(t *testing.T) {
	inner := memory.NewSessionStore()
	require.NoError(t, inner.Save(context.Background(), 3, activeSession()))
	sender := &recordingSender{}
	rec := &countingRecorder{}
	store := failingStore{
		SessionStore: inner,
		saveErr:      errors.New("redis down"),
		deleteErr:    errors.New("redis down"),
	}
	d := New(echoHandler{}, store, sender, zap.NewNop(), WithRecorder(rec))

	runUntilDrained(t, d, func() {
		require.NoError(t, d.Submit(conversation.TextInput(3, "", "stop")))
	})

	assert.Equal(t, []string{GenericErrorMessage}, sender.textsFor(3))
	assert.Equal(t, 1, rec.failed["session_delete"])
	assert.Equal(t, 0, rec.handled)
}

func TestDispatcher_FinishedOrderIsNotPlacedTwice(t *testing.T) {
	sink := &sinkRows{}
	machine := conversation.NewMachine(catalog.Default(), conversation.NewFinalizer(sink, zap.NewNop()), zap.NewNop())
	store := failingStore{SessionStore: memory.NewSessionStore(), deleteErr: errors.New("redis down")}
	sender := &recordingSender{}
	d := New(machine, store, sender, zap.NewNop(), WithWorkers(1))

	runUntilDrained(t, d, func() {
		require.NoError(t, d.Submit(conversation.Command(1, "jane_d", conversation.CommandOrder)))
		for _, text := range []string{"Jane", "91234567", "Cedar Veil", "2", "no", "yes", "deliver", "221B Baker St", "thanks!"} {
			require.NoError(t, d.Submit(conversation.TextInput(1, "jane_d", text)))
		}
	})

	require.Len(t, sink.records, 1)
	assert.Equal(t, "221B Baker St", sink.records[0].DeliveryAddress)

	placed := 0
	for _, text := range sender.textsFor(1) {
		if strings.Contains(text, "Order placed!") {
			placed++
		}
	}
	assert.Equal(t, 1, placed)
}

func TestDispatcher_PersistsAfterHandlerDeadline(t *testing.T) {
	inner := memory.NewSessionStore()
	require.NoError(t, inner.Save(context.Background(), 4, activeSession()))
	sender := &recordingSender{}
	d := New(slowEndHandler{}, deadlineStore{SessionStore: inner}, sender, zap.NewNop(),
		WithEventTimeout(20*time.Millisecond))

	runUntilDrained(t, d, func() {
		require.NoError(t, d.Submit(conversation.TextInput(4, "", "yes")))
	})

	assert.Equal(t, []string{"done"}, sender.textsFor(4))
	assert.Equal(t, 0, inner.Len())
}

func TestDispatcher_BacklogFull(t *testing.T) {
	d := New(echoHandler{}, memory.NewSessionStore(), &recordingSender{}, zap.NewNop(),
		WithWorkers(1), WithQueueSize(2))

	require.NoError(t, d.Submit(conversation.TextInput(1, "", "a")))
	require.NoError(t, d.Submit(conversation.TextInput(2, "", "b")))

	err := d.Submit(conversation.TextInput(3, "", "c"))
	assert.ErrorIs(t, err, ErrBacklogFull)
	assert.EqualValues(t, 2, d.pending.Load())
}

func TestDispatcher_Throttled(t *testing.T) {
	rec := &countingRecorder{}
	d := New(echoHandler{}, memory.NewSessionStore(), &recordingSender{}, zap.NewNop(),
		WithLimiter(NewLimiter(0.001, 2)), WithRecorder(rec))

	require.NoError(t, d.Submit(conversation.TextInput(1, "", "a")))
	require.NoError(t, d.Submit(conversation.TextInput(1, "", "b")))
	assert.ErrorIs(t, d.Submit(conversation.TextInput(1, "", "c")), ErrThrottled)
	require.NoError(t, d.Submit(conversation.TextInput(2, "", "a")))
	assert.Equal(t, 1, rec.throttled)
}

func TestDispatcher_SubmitAfterStop(t *testing.T) {
	d := New(echoHandler{}, memory.NewSessionStore(), &recordingSender{}, zap.NewNop())
	runUntilDrained(t, d, func() {})

	assert.ErrorIs(t, d.Submit(conversation.TextInput(1, "", "late")), ErrStopped)
}

func TestDispatcher_PartitionIsStable(t *testing.T) {
	d := New(echoHandler{}, memory.NewSessionStore(), &recordingSender{}, zap.NewNop(), WithWorkers(8))

	for _, id := range []int64{1, -5, 123456789, 1 << 40} {
		p := d.partition(id)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 8)
		assert.Equal(t, p, d.partition(id))
	}
}
