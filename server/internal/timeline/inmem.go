package timeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"care-talk/server/internal/model"
)

// InMemoryStore 是一个基于内存的 Timeline 存储实现。
type InMemoryStore struct {
	mu       sync.RWMutex
	events   map[string][]model.Event
	seq      map[string]int64
	eventIDs map[string]map[string]int64
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events:   make(map[string][]model.Event),
		seq:      make(map[string]int64),
		eventIDs: make(map[string]map[string]int64),
		now:      time.Now,
	}
}

// Append 追加事件并分配 seq，ServerTS 为空时补上服务端时间。
func (s *InMemoryStore) Append(_ context.Context, sessionID string, evt *model.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.EventID != "" {
		if seq, ok := s.eventIDs[sessionID][evt.EventID]; ok {
			return seq, nil
		}
	}

	s.seq[sessionID]++
	seq := s.seq[sessionID]

	stored := *evt
	stored.Seq = seq
	stored.SessionID = sessionID
	if stored.ServerTS.IsZero() {
		stored.ServerTS = s.now()
	}
	s.events[sessionID] = append(s.events[sessionID], stored)

	if evt.EventID != "" {
		if s.eventIDs[sessionID] == nil {
			s.eventIDs[sessionID] = make(map[string]int64)
		}
		s.eventIDs[sessionID][evt.EventID] = seq
	}
	return seq, nil
}

// List 返回切片副本。
func (s *InMemoryStore) List(ctx context.Context, sessionID string) ([]model.Event, error) {
	return s.ListSince(ctx, sessionID, 0)
}

func (s *InMemoryStore) ListSince(_ context.Context, sessionID string, afterSeq int64) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[sessionID]
	// events 按 seq 有序
	start := sort.Search(len(events), func(i int) bool { return events[i].Seq > afterSeq })
	out := make([]model.Event, len(events)-start)
	copy(out, events[start:])
	return out, nil
}

// Delete 删除后 seq 重新从 1 开始。
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, sessionID)
	delete(s.seq, sessionID)
	delete(s.eventIDs, sessionID)
	return nil
}
