package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/webhookd/internal/domain"
)

// fakeSubs implements SubscriptionSource in memory, filtering the way the
// store query does: active status, exact type or wildcard.
type fakeSubs struct {
	mu       sync.Mutex
	subs     []domain.Subscription
	attempts []*domain.DeliveryAttempt
}

func (f *fakeSubs) ListActiveSubscriptions(_ context.Context, eventType domain.EventType) ([]domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Subscription
	for _, s := range f.subs {
		if s.Status != domain.SubscriptionActive {
			continue
		}
		if s.EventType != string(eventType) && s.EventType != domain.EventTypeWildcard {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSubs) CreateAttempt(_ context.Context, attempt *domain.DeliveryAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestCoordinator(t *testing.T, subs *fakeSubs) (*Coordinator, *Queue) {
	t.Helper()
	q := testQueue(t)
	return NewCoordinator(subs, q, quietLogger()), q
}

func TestTrigger_UnknownEventTypeIsSynchronousError(t *testing.T) {
	coord, q := newTestCoordinator(t, &fakeSubs{})

	n, err := coord.Trigger(context.Background(), "no_such_event", nil, "", "")
	require.Error(t, err)
	assert.Zero(t, n)

	depth, _ := q.Depth(context.Background())
	assert.Zero(t, depth)
}

func TestTrigger_NonObjectPayloadIsSynchronousError(t *testing.T) {
	coord, _ := newTestCoordinator(t, &fakeSubs{})

	_, err := coord.Trigger(context.Background(), "intervention_created",
		json.RawMessage(`[1,2,3]`), "", "")
	require.Error(t, err)
}

func TestTrigger_MatchingSubscriptionGetsOnePipeline(t *testing.T) {
	subs := &fakeSubs{subs: []domain.Subscription{{
		ID:        "sub-1",
		URL:       "http://example.com/hook",
		EventType: "intervention_created",
		Status:    domain.SubscriptionActive,
	}}}
	coord, q := newTestCoordinator(t, subs)

	n, err := coord.Trigger(context.Background(), "intervention_created",
		json.RawMessage(`{"whatever":"payload"}`), "int-9", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Exactly one pending attempt, numbered 1.
	require.Len(t, subs.attempts, 1)
	attempt := subs.attempts[0]
	assert.Equal(t, "sub-1", attempt.SubscriptionID)
	assert.Equal(t, 1, attempt.AttemptNumber)
	assert.Equal(t, domain.AttemptPending, attempt.Status)
	assert.Equal(t, "int-9", attempt.ResourceID)

	// And one job scheduled to fire immediately.
	jobs, err := q.Claim(context.Background(), time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, attempt.ID, jobs[0].AttemptID)
	assert.Equal(t, 1, jobs[0].Attempt)
}

func TestTrigger_ConditionMismatchCreatesNothing(t *testing.T) {
	subs := &fakeSubs{subs: []domain.Subscription{{
		ID:        "sub-1",
		URL:       "http://example.com/hook",
		EventType: "intervention_created",
		Status:    domain.SubscriptionActive,
		Conditions: []domain.Condition{
			{Field: "status", Operator: domain.OpEquals, Value: "urgent"},
		},
	}}}
	coord, q := newTestCoordinator(t, subs)

	n, err := coord.Trigger(context.Background(), "intervention_created",
		json.RawMessage(`{"status":"normal"}`), "int-9", "")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, subs.attempts)

	depth, _ := q.Depth(context.Background())
	assert.Zero(t, depth)
}

func TestTrigger_WildcardSubscriptionReceivesAllTypes(t *testing.T) {
	subs := &fakeSubs{subs: []domain.Subscription{{
		ID:        "sub-wild",
		URL:       "http://example.com/hook",
		EventType: domain.EventTypeWildcard,
		Status:    domain.SubscriptionActive,
	}}}
	coord, _ := newTestCoordinator(t, subs)

	for _, et := range []string{"intervention_created", "report_generated", "media_uploaded"} {
		n, err := coord.Trigger(context.Background(), et, json.RawMessage(`{}`), "", "")
		require.NoError(t, err)
		assert.Equal(t, 1, n, "event type %s", et)
	}
	assert.Len(t, subs.attempts, 3)
}

func TestTrigger_IndependentPipelinesPerMatch(t *testing.T) {
	subs := &fakeSubs{subs: []domain.Subscription{
		{ID: "sub-a", URL: "http://a.example.com", EventType: "client_created", Status: domain.SubscriptionActive},
		{ID: "sub-b", URL: "http://b.example.com", EventType: "client_created", Status: domain.SubscriptionActive},
		{ID: "sub-c", URL: "http://c.example.com", EventType: "client_created", Status: domain.SubscriptionInactive},
	}}
	coord, q := newTestCoordinator(t, subs)

	n, err := coord.Trigger(context.Background(), "client_created", json.RawMessage(`{}`), "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	jobs, err := q.Claim(context.Background(), time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestTestTrigger_RefusesNonActiveSubscription(t *testing.T) {
	subs := &fakeSubs{}
	coord, _ := newTestCoordinator(t, subs)

	sub := &domain.Subscription{
		ID:        "sub-off",
		URL:       "http://example.com/hook",
		EventType: "intervention_created",
		Status:    domain.SubscriptionInactive,
	}
	_, err := coord.TestTrigger(context.Background(), sub, json.RawMessage(`{"test":true}`), "test-123")
	require.Error(t, err)
	assert.Empty(t, subs.attempts)
}

func TestTestTrigger_QueuesSingleAttempt(t *testing.T) {
	subs := &fakeSubs{}
	coord, q := newTestCoordinator(t, subs)

	sub := &domain.Subscription{
		ID:        "sub-1",
		URL:       "http://example.com/hook",
		EventType: domain.EventTypeWildcard,
		Status:    domain.SubscriptionActive,
	}
	attemptID, err := coord.TestTrigger(context.Background(), sub, json.RawMessage(`{"test":true}`), "test-123")
	require.NoError(t, err)
	require.Len(t, subs.attempts, 1)
	assert.Equal(t, attemptID, subs.attempts[0].ID)
	// Wildcard filters get a concrete event type on the wire.
	assert.NotEqual(t, domain.EventTypeWildcard, subs.attempts[0].EventType)

	depth, _ := q.Depth(context.Background())
	assert.EqualValues(t, 1, depth)
}
