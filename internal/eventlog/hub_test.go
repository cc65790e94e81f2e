package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubKeepsNewestFirstWithinCapacity(t *testing.T) {
	h := NewHub(3, nil)
	for i := 0; i < 5; i++ {
		h.Record(context.Background(), TypeInfo, fmt.Sprintf("c%d", i), nil)
	}

	logs := h.Logs(Filter{})
	require.Len(t, logs, 3)
	assert.Equal(t, []string{"c4", "c3", "c2"}, []string{logs[0].Category, logs[1].Category, logs[2].Category})
	assert.Equal(t, 3, h.Stats().Total)
}

func TestHubFilters(t *testing.T) {
	h := NewHub(10, nil)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	h.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	h.Record(context.Background(), TypeLLM, "request", map[string]any{"userId": 7})
	h.Record(context.Background(), TypeLLM, "response", nil)
	h.Record(context.Background(), TypeVector, "search", nil)
	h.Record(context.Background(), TypeError, "request", nil)

	assert.Len(t, h.Logs(Filter{Type: TypeLLM}), 2)
	assert.Len(t, h.Logs(Filter{Category: "request"}), 2)
	assert.Len(t, h.Logs(Filter{Start: base.Add(2 * time.Minute), End: base.Add(3 * time.Minute)}), 2)
	assert.Len(t, h.Logs(Filter{Limit: 1}), 1)

	first := h.Logs(Filter{Category: "request", Type: TypeLLM})
	require.Len(t, first, 1)
	assert.Equal(t, "7", first[0].UserID)
}

func TestHubStats(t *testing.T) {
	h := NewHub(10, nil)
	h.Record(context.Background(), TypeLLM, "request", nil)
	h.Record(context.Background(), TypeLLM, "response", nil)
	h.Record(context.Background(), TypeVector, "upsert", nil)
	h.Record(context.Background(), TypeError, "request", nil)

	s := h.Stats()
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.LLMCalls)
	assert.Equal(t, 1, s.VectorOperations)
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, 2, s.ByCategory["request"])
	assert.Equal(t, 2, s.ByType["llm"])
}

func TestHubClearNotifiesSubscribers(t *testing.T) {
	h := NewHub(10, nil)
	ch, cancel := h.Subscribe(4)
	defer cancel()

	h.Record(context.Background(), TypeSystem, "startup", nil)
	h.Clear()

	n := <-ch
	require.NotNil(t, n.Entry)
	assert.Equal(t, "startup", n.Entry.Category)
	n = <-ch
	assert.True(t, n.Cleared)
	assert.Empty(t, h.Logs(Filter{}))
}

func TestHubSlowSubscriberNeverBlocks(t *testing.T) {
	h := NewHub(100, nil)
	_, cancel := h.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			h.Record(context.Background(), TypeDebug, "spam", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a slow subscriber")
	}
	assert.EqualValues(t, 49, h.Stats().Dropped)
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(10, nil)
	ch, cancel := h.Subscribe(1)
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	h.Record(context.Background(), TypeInfo, "after", nil)
}

type recordingSink struct {
	mu   sync.Mutex
	got  []Entry
	err  error
	seen chan struct{}
}

func (s *recordingSink) Publish(_ context.Context, e Entry) error {
	s.mu.Lock()
	s.got = append(s.got, e)
	s.mu.Unlock()
	s.seen <- struct{}{}
	return s.err
}

func TestHubMirror(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(10, nil)
	sink := &recordingSink{seen: make(chan struct{}, 4), err: errors.New("broker down")}
	h.Mirror(ctx, sink, 4)

	e := h.Record(ctx, TypeVector, "upsert", map[string]any{"documentId": "doc_1"})
	select {
	case <-sink.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("entry was not mirrored")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.got, 1)
	assert.Equal(t, e.ID, sink.got[0].ID)
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = Nop{}
	e := r.Record(context.Background(), TypeInfo, "x", nil)
	assert.Equal(t, "x", e.Category)
}
