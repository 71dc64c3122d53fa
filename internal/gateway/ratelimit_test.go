package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCounter(t *testing.T) (*RedisWindowedCounter, *time.Time) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	now := time.Now()
	c := NewRedisWindowedCounter(rdb)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestWindowedCounter_AllowsUpToLimit(t *testing.T) {
	c, _ := newTestCounter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		allowed, err := c.RecordAndCheck(ctx, fmt.Sprintf("user%d@example.com", i), time.Minute, 5)
		if err != nil {
			t.Fatalf("RecordAndCheck() error = %v", err)
		}
		if !allowed {
			t.Errorf("identity %d: allowed = false, want true", i)
		}
	}
}

func TestWindowedCounter_RejectsBeyondLimit(t *testing.T) {
	c, _ := newTestCounter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := c.RecordAndCheck(ctx, fmt.Sprintf("user%d@example.com", i), time.Minute, 5); err != nil {
			t.Fatalf("RecordAndCheck() error = %v", err)
		}
	}

	// Шестая РАЗЛИЧНАЯ identity превышает лимит
	allowed, err := c.RecordAndCheck(ctx, "user5@example.com", time.Minute, 5)
	if err != nil {
		t.Fatalf("RecordAndCheck() error = %v", err)
	}
	if allowed {
		t.Error("allowed = true for identity beyond limit, want false")
	}
}

func TestWindowedCounter_RepeatIdentityNotDoubleCounted(t *testing.T) {
	c, _ := newTestCounter(t)
	ctx := context.Background()

	// Одна и та же identity много раз — всё еще одна уникальная
	for i := 0; i < 10; i++ {
		allowed, err := c.RecordAndCheck(ctx, "same@example.com", time.Minute, 2)
		if err != nil {
			t.Fatalf("RecordAndCheck() error = %v", err)
		}
		if !allowed {
			t.Fatalf("attempt %d: allowed = false, want true", i)
		}
	}
}

func TestWindowedCounter_WindowSlides(t *testing.T) {
	c, now := newTestCounter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.RecordAndCheck(ctx, fmt.Sprintf("old%d@example.com", i), time.Minute, 3); err != nil {
			t.Fatalf("RecordAndCheck() error = %v", err)
		}
	}

	// Старые записи выпадают из окна — новая identity снова проходит
	*now = now.Add(2 * time.Minute)
	allowed, err := c.RecordAndCheck(ctx, "fresh@example.com", time.Minute, 3)
	if err != nil {
		t.Fatalf("RecordAndCheck() error = %v", err)
	}
	if !allowed {
		t.Error("allowed = false after window slide, want true")
	}
}

func TestWindowedCounter_EdgeOfWindowStillCounts(t *testing.T) {
	c, now := newTestCounter(t)
	ctx := context.Background()

	// Целые секунды: score и граница окна сравниваются точно
	*now = time.Unix(1700000000, 0)
	if _, err := c.RecordAndCheck(ctx, "edge@example.com", time.Minute, 1); err != nil {
		t.Fatalf("RecordAndCheck() error = %v", err)
	}

	// Ровно минута спустя: запись лежит точно на краю окна
	// (timestamp == now-window) и всё еще участвует в подсчете
	*now = time.Unix(1700000060, 0)
	allowed, err := c.RecordAndCheck(ctx, "fresh@example.com", time.Minute, 1)
	if err != nil {
		t.Fatalf("RecordAndCheck() error = %v", err)
	}
	if allowed {
		t.Error("allowed = true, want false: edge entry must still count as distinct")
	}
}

func TestWindowedCounter_FailsOnRedisError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisWindowedCounter(rdb)

	// Недоступный Redis = ошибка, решение принимает вызывающий (fail closed)
	mr.Close()
	if _, err := c.RecordAndCheck(context.Background(), "a@example.com", time.Minute, 5); err == nil {
		t.Error("RecordAndCheck() error = nil with dead redis, want error")
	}
}
