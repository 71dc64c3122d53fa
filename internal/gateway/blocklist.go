package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/aibot-search-gateway/internal/infra"
)

// Blocklist — оперативный отзыв доступа для принципала, не дожидаясь
// истечения его токенов. L1 — локальная мапа под RWMutex (Hot Path),
// L2 — Redis set, синхронизация между инстансами через Pub/Sub.
type Blocklist struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
	rdb     *redis.Client
	logger  *zap.Logger
}

func NewBlocklist(rdb *redis.Client, logger *zap.Logger) *Blocklist {
	return &Blocklist{
		blocked: make(map[string]struct{}),
		rdb:     rdb,
		logger:  logger.With(zap.String("mod", "blocklist")),
	}
}

// Init загружает текущее состояние блокировок при старте сервиса
// и при каждом переподключении подписки.
func (b *Blocklist) Init(ctx context.Context) error {
	members, err := b.rdb.SMembers(ctx, infra.RedisKeyBlockedPrincipals).Result()
	if err != nil {
		return err
	}

	fresh := make(map[string]struct{}, len(members))
	for _, id := range members {
		fresh[id] = struct{}{}
	}

	b.mu.Lock()
	b.blocked = fresh
	b.mu.Unlock()
	return nil
}

// IsBlocked — быстрая проверка в Hot Path, только RAM.
func (b *Blocklist) IsBlocked(principal string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blocked[principal]
	return ok
}

// Mark обновляет локальное состояние по сигналу.
func (b *Blocklist) Mark(principal string, blocked bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if blocked {
		b.blocked[principal] = struct{}{}
	} else {
		delete(b.blocked, principal)
	}
}

// StartListener подписывается на сигналы блокировки и держит L1 в актуальном
// состоянии. Блокирует до отмены ctx — запускать в отдельной горутине.
func (b *Blocklist) StartListener(ctx context.Context) {
	for {
		pubsub := b.rdb.Subscribe(ctx, infra.RedisChanPrincipalSignal)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			b.logger.Error("failed to subscribe", zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Полная синхронизация при каждом успешном коннекте:
		// сигналы, пропущенные в офлайне, доедут через Init
		if err := b.Init(ctx); err != nil {
			b.logger.Error("blocklist sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				b.processSignal(msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}

// processSignal разбирает "principal:on|off". Разделитель ищем с конца:
// сам principal — это email, двоеточий в нем нет, но перестрахуемся.
func (b *Blocklist) processSignal(payload string) {
	i := len(payload) - 1
	for ; i >= 0; i-- {
		if payload[i] == ':' {
			break
		}
	}
	if i <= 0 {
		b.logger.Error("invalid block signal format", zap.String("payload", payload))
		return
	}

	principal := payload[:i]
	status := payload[i+1:] == "on" || payload[i+1:] == "true"
	b.Mark(principal, status)
	b.logger.Info("principal block state changed",
		zap.String("principal", principal), zap.Bool("blocked", status))
}
