package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// memStorage собирает записанные батчи для проверок.
type memStorage struct {
	mu     sync.Mutex
	events []Event
}

func (s *memStorage) WriteBatch(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *memStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestTrail_StopDrainsBuffer(t *testing.T) {
	storage := &memStorage{}
	// Большой flush interval: без drain события бы не доехали
	trail := NewTrail(storage, zap.NewNop(), 100, time.Hour)
	trail.Start()

	for i := 0; i < 25; i++ {
		trail.Log(Event{ID: "evt", Decision: "allowed"})
	}
	trail.Stop()

	if got := storage.count(); got != 25 {
		t.Errorf("stored events = %d, want 25 (drained on Stop)", got)
	}
}

func TestTrail_TimestampDefaulted(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, zap.NewNop(), 10, time.Hour)
	trail.Start()

	trail.Log(Event{ID: "evt"})
	trail.Stop()

	if storage.count() != 1 {
		t.Fatalf("stored events = %d, want 1", storage.count())
	}
	if storage.events[0].Timestamp.IsZero() {
		t.Error("Timestamp not defaulted on Log")
	}
}

func TestTrail_LogAfterStopDoesNotPanic(t *testing.T) {
	trail := NewTrail(&memStorage{}, zap.NewNop(), 10, time.Hour)
	trail.Start()
	trail.Stop()

	// Событие после остановки просто дропается с warn'ом
	trail.Log(Event{ID: "late"})
}

func TestTrail_OverflowDoesNotBlock(t *testing.T) {
	storage := &memStorage{}
	trail := NewTrail(storage, zap.NewNop(), 1, time.Hour)
	// Воркер не запущен: буфер переполнится сразу

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			trail.Log(Event{ID: "evt"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked on full buffer")
	}
}
