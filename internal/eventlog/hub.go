package eventlog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultCapacity = 1000

type Type string

const (
	TypeInfo   Type = "info"
	TypeError  Type = "error"
	TypeDebug  Type = "debug"
	TypeLLM    Type = "llm"
	TypeVector Type = "vector"
	TypeSystem Type = "system"
)

type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      Type           `json:"type"`
	Category  string         `json:"category"`
	Data      map[string]any `json:"data"`
	UserID    string         `json:"userId,omitempty"`
}

type Filter struct {
	Type     Type
	Category string
	Start    time.Time
	End      time.Time
	Limit    int
}

type Stats struct {
	Total            int            `json:"total"`
	ByType           map[string]int `json:"byType"`
	ByCategory       map[string]int `json:"byCategory"`
	Errors           int            `json:"errors"`
	LLMCalls         int            `json:"llmCalls"`
	VectorOperations int            `json:"vectorOperations"`
	Dropped          int64          `json:"dropped"`
}

// Notice is what subscribers receive: either a new entry or a clear.
type Notice struct {
	Entry   *Entry
	Cleared bool
}

// Recorder is the write side used by the core services.
type Recorder interface {
	Record(ctx context.Context, typ Type, category string, data map[string]any) Entry
}

// Sink receives a copy of every entry outside the request path.
type Sink interface {
	Publish(ctx context.Context, e Entry) error
}

// Hub keeps the newest entries in a ring and fans them out to live
// subscribers. Publishing never blocks: slow subscribers and a full mirror
// queue lose entries.
type Hub struct {
	mu    sync.RWMutex
	ring  []Entry
	head  int // next write position
	count int

	subMu  sync.Mutex
	subs   map[int]chan Notice
	nextID int

	mirror  chan Entry
	dropped atomic.Int64
	log     *zap.Logger
	now     func() time.Time
}

func NewHub(capacity int, log *zap.Logger) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		ring: make([]Entry, capacity),
		subs: make(map[int]chan Notice),
		log:  log,
		now:  time.Now,
	}
}

func (h *Hub) Record(_ context.Context, typ Type, category string, data map[string]any) Entry {
	if data == nil {
		data = map[string]any{}
	}
	e := Entry{
		ID:        uuid.NewString(),
		Timestamp: h.now().UTC(),
		Type:      typ,
		Category:  category,
		Data:      data,
	}
	if uid, ok := data["userId"]; ok && uid != nil {
		e.UserID = fmt.Sprint(uid)
	}

	h.mu.Lock()
	h.ring[h.head] = e
	h.head = (h.head + 1) % len(h.ring)
	if h.count < len(h.ring) {
		h.count++
	}
	h.mu.Unlock()

	h.broadcast(Notice{Entry: &e})
	if h.mirror != nil {
		select {
		case h.mirror <- e:
		default:
			h.dropped.Add(1)
		}
	}
	h.log.Debug("event recorded", zap.String("type", string(typ)), zap.String("category", category))
	return e
}

// Logs returns entries newest first.
func (h *Hub) Logs(f Filter) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Entry, 0, h.count)
	for i := 0; i < h.count; i++ {
		e := h.ring[(h.head-1-i+len(h.ring))%len(h.ring)]
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && e.Timestamp.After(f.End) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := Stats{
		Total:      h.count,
		ByType:     map[string]int{},
		ByCategory: map[string]int{},
		Dropped:    h.dropped.Load(),
	}
	for i := 0; i < h.count; i++ {
		e := h.ring[(h.head-1-i+len(h.ring))%len(h.ring)]
		s.ByType[string(e.Type)]++
		s.ByCategory[e.Category]++
		switch e.Type {
		case TypeError:
			s.Errors++
		case TypeLLM:
			s.LLMCalls++
		case TypeVector:
			s.VectorOperations++
		}
	}
	return s
}

func (h *Hub) Clear() {
	h.mu.Lock()
	h.ring = make([]Entry, len(h.ring))
	h.head, h.count = 0, 0
	h.mu.Unlock()
	h.broadcast(Notice{Cleared: true})
}

// Subscribe registers a live listener. The returned func must be called to
// release it.
func (h *Hub) Subscribe(buffer int) (<-chan Notice, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Notice, buffer)

	h.subMu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.subMu.Lock()
			delete(h.subs, id)
			h.subMu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) broadcast(n Notice) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.dropped.Add(1)
		}
	}
}

// Mirror forwards every later entry to sink from a background goroutine until
// ctx is done. Call it once, before the hub is shared.
func (h *Hub) Mirror(ctx context.Context, sink Sink, buffer int) {
	if buffer <= 0 {
		buffer = 256
	}
	h.mirror = make(chan Entry, buffer)
	go func(in <-chan Entry) {
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-in:
				pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				if err := sink.Publish(pubCtx, e); err != nil {
					h.log.Warn("mirror event failed", zap.String("id", e.ID), zap.Error(err))
				}
				cancel()
			}
		}
	}(h.mirror)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(_ context.Context, typ Type, category string, data map[string]any) Entry {
	return Entry{Type: typ, Category: category, Data: data}
}
