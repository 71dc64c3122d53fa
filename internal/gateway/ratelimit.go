package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/aibot-search-gateway/internal/infra"
)

// WindowedCounter ограничивает число РАЗЛИЧНЫХ identity в скользящем окне.
//
// Контракт сознательно приблизительный (eventually consistent): несколько
// инстансов могут одновременно проскочить чуть за границу лимита. Это
// допустимо — задача гасить злоупотребление, а не держать жесткий потолок.
type WindowedCounter interface {
	RecordAndCheck(ctx context.Context, identity string, window time.Duration, maxUnique int) (bool, error)
}

// RedisWindowedCounter — реализация через трюк "append в лог + подсчет
// distinct" поверх sorted set. Писатели только добавляют записи, поэтому
// гонок read-modify-write нет, а окно самоочищается по score и TTL ключа.
// Чтение линейно по размеру окна — дешево, пока maxUnique это десятки.
type RedisWindowedCounter struct {
	rdb *redis.Client
	key string
	now func() time.Time // подменяется в тестах
}

func NewRedisWindowedCounter(rdb *redis.Client) *RedisWindowedCounter {
	return &RedisWindowedCounter{
		rdb: rdb,
		key: infra.RedisKeyImpersonationLog,
		now: time.Now,
	}
}

func (c *RedisWindowedCounter) RecordAndCheck(ctx context.Context, identity string, window time.Duration, maxUnique int) (bool, error) {
	now := c.now()
	nowSec := float64(now.UnixNano()) / 1e9
	cutoff := nowSec - window.Seconds()

	// 1. Запись добавляется ВСЕГДА, даже для уже виденной identity:
	// каждое событие должно заново "заякорить" окно.
	member := strconv.FormatInt(now.UnixNano(), 10) + "_" + identity
	pipe := c.rdb.Pipeline()
	pipe.ZAdd(ctx, c.key, redis.Z{Score: nowSec, Member: member})
	// Подчистка протухших записей и страховочный TTL на весь ключ.
	// Граница эксклюзивная: запись ровно на краю окна еще считается.
	pipe.ZRemRangeByScore(ctx, c.key, "0", fmt.Sprintf("(%f", cutoff))
	pipe.Expire(ctx, c.key, window+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("impersonation log append: %w", err)
	}

	// 2. Читаем окно и считаем различные identity в памяти
	members, err := c.rdb.ZRangeByScore(ctx, c.key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", cutoff),
		Max: "+inf",
	}).Result()
	if err != nil {
		return false, fmt.Errorf("impersonation log read: %w", err)
	}

	unique := make(map[string]struct{}, len(members))
	for _, m := range members {
		if i := strings.IndexByte(m, '_'); i >= 0 {
			unique[m[i+1:]] = struct{}{}
		}
	}

	return len(unique) <= maxUnique, nil
}
