package softlaunch

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps release windows in process memory.
type InMemoryStore struct {
	mu            sync.RWMutex
	windows       map[Key]Window
	releaseLength time.Duration
	nowFunc       func() time.Time
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore(releaseLength time.Duration, nowFunc func() time.Time) *InMemoryStore {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &InMemoryStore{
		windows:       make(map[Key]Window),
		releaseLength: releaseLength,
		nowFunc:       nowFunc,
	}
}

func (s *InMemoryStore) BlockStatus(_ context.Context, key Key) (BlockStatus, error) {
	if err := key.Validate(); err != nil {
		return BlockStatus{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.windows[key]
	return statusFor(w, ok, today(s.nowFunc())), nil
}

func (s *InMemoryStore) Release(_ context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	day := today(s.nowFunc())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[key] = Window{Start: day, End: day.Add(s.releaseLength)}
	return 1, nil
}

func (s *InMemoryStore) Block(_ context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	day := today(s.nowFunc())

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok || !w.End.After(day) {
		return 0, nil
	}
	w.End = day
	if w.Start.After(day) {
		w.Start = day
	}
	s.windows[key] = w
	return 1, nil
}
