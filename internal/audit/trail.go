package audit

/*
Файл trail.go реализует асинхронный аудит-трейл решений шлюза.

Ключевые особенности архитектуры:
- Non-blocking Logging: события уходят в буферизованный канал, задержки
  записи в БД не влияют на Response Time проверки доступа.
- Batching: накопление событий в памяти и пакетная запись (Bulk Insert)
  по таймеру или при достижении лимита.
- Drain Pattern & Graceful Shutdown: при остановке канал закрывается,
  воркер вычитает остатки и делает финальный flush — события решений
  не теряются при перезагрузке.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются события
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []Event) error
}

type Trail struct {
	ch            chan Event
	repo          StorageInterface
	logger        *zap.Logger
	wg            sync.WaitGroup
	flushInterval time.Duration
	// Защита от Log после остановки
	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

func NewTrail(repo StorageInterface, logger *zap.Logger, bufferSize int, flushInterval time.Duration) *Trail {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Trail{
		ch:            make(chan Event, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "audit")),
		flushInterval: flushInterval,
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)

	// Даем крошечную паузу, чтобы текущие Log успели проскочить
	time.Sleep(10 * time.Millisecond)

	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

// Log ставит событие в очередь. Никогда не блокирует Hot Path:
// при переполнении буфера событие уходит в обычный лог (Load Shedding).
func (t *Trail) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	select {
	case t.ch <- event:
	default:
		t.logger.Error("audit_buffer_overflow",
			zap.String("trace_id", event.TraceID),
			zap.String("decision", event.Decision),
		)
	}
}

// Pending — текущая заполненность буфера, для метрики saturation.
func (t *Trail) Pending() int {
	return len(t.ch)
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Event, 0, 100)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст к этому моменту может быть закрыт
			if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
				t.logger.Error("audit flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали всё, финальный flush и выход
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// ZapStorage — sink для режима без Postgres: события просто уходят в лог.
type ZapStorage struct {
	logger *zap.Logger
}

func NewZapStorage(logger *zap.Logger) *ZapStorage {
	return &ZapStorage{logger: logger.With(zap.String("mod", "audit-log"))}
}

func (s *ZapStorage) WriteBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		s.logger.Info("access decision",
			zap.String("id", e.ID),
			zap.String("trace_id", e.TraceID),
			zap.String("path", e.Path),
			zap.String("caller", e.CallerPrincipal),
			zap.String("acting_as", e.ActingEmail),
			zap.String("decision", e.Decision),
			zap.Int("status", e.Status),
			zap.Int64("duration_ms", e.DurationMs),
		)
	}
	return nil
}
