package gateway

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/aibot-search-gateway/internal/infra"
)

func newTestBlocklist(t *testing.T) (*Blocklist, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewBlocklist(rdb, zap.NewNop()), mr
}

func TestBlocklist_InitLoadsState(t *testing.T) {
	b, mr := newTestBlocklist(t)
	mr.SAdd(infra.RedisKeyBlockedPrincipals, "evil@example.com")

	if err := b.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if !b.IsBlocked("evil@example.com") {
		t.Error("IsBlocked(evil) = false, want true")
	}
	if b.IsBlocked("good@example.com") {
		t.Error("IsBlocked(good) = true, want false")
	}
}

func TestBlocklist_InitReplacesStale(t *testing.T) {
	b, mr := newTestBlocklist(t)

	b.Mark("stale@example.com", true)
	mr.SAdd(infra.RedisKeyBlockedPrincipals, "current@example.com")

	// Init — полная синхронизация, локальные остатки выметаются
	if err := b.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if b.IsBlocked("stale@example.com") {
		t.Error("stale entry survived Init()")
	}
	if !b.IsBlocked("current@example.com") {
		t.Error("IsBlocked(current) = false, want true")
	}
}

func TestBlocklist_ProcessSignal(t *testing.T) {
	b, _ := newTestBlocklist(t)

	b.processSignal("bad@example.com:on")
	if !b.IsBlocked("bad@example.com") {
		t.Error("IsBlocked = false after :on signal")
	}

	b.processSignal("bad@example.com:off")
	if b.IsBlocked("bad@example.com") {
		t.Error("IsBlocked = true after :off signal")
	}

	// Мусорный сигнал не должен ничего менять и не должен паниковать
	b.processSignal("garbage")
	b.processSignal(":on")
}
