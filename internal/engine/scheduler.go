package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scheduler owns the repeating per-session tick timers. Stop cancels the
// timer immediately; a stopped session schedules no further ticks.
type Scheduler interface {
	Start(sessionID uuid.UUID, interval time.Duration, tick func())
	Stop(sessionID uuid.UUID)
	Running(sessionID uuid.UUID) bool
}

type tickerScheduler struct {
	mu    sync.Mutex
	stops map[uuid.UUID]chan struct{}
}

// NewTickerScheduler returns a time.Ticker-backed scheduler.
func NewTickerScheduler() Scheduler {
	return &tickerScheduler{stops: make(map[uuid.UUID]chan struct{})}
}

func (s *tickerScheduler) Start(sessionID uuid.UUID, interval time.Duration, tick func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stops[sessionID]; ok {
		return
	}
	stop := make(chan struct{})
	s.stops[sessionID] = stop
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				tick()
			case <-stop:
				return
			}
		}
	}()
}

func (s *tickerScheduler) Stop(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.stops[sessionID]; ok {
		close(stop)
		delete(s.stops, sessionID)
	}
}

func (s *tickerScheduler) Running(sessionID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stops[sessionID]
	return ok
}
