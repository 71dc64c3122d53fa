package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/aibot-search-gateway/internal/cache"
	"github.com/xela07ax/aibot-search-gateway/internal/domain"
	"github.com/xela07ax/aibot-search-gateway/internal/gateway"
	"github.com/xela07ax/aibot-search-gateway/internal/upstream"
)

const (
	noMessagesNote   = "No messages found."
	noAuthorizedNote = "No messages found in your authorized channels."
	unknownChannel   = "unknown-channel"
	unknownUser      = "unknown-user"
)

// ErrNoIdentity — конвейер отказался работать без identity от шлюза.
var ErrNoIdentity = errors.New("search pipeline requires a resolved identity")

// Pipeline — поиск сообщений с живой сверкой прав доступа.
//
// Индекс может быть устаревшим, поэтому его выдача — только кандидаты:
// перед тем как что-то показать, конвейер заново спрашивает директорию,
// виден ли канал сейчас. Канал, про который нельзя сказать точно, считается
// запрещенным (fail closed). Обогащение, наоборот, fail soft: сбой одного
// треда или одного имени портит только этот элемент, не весь ответ.
type Pipeline struct {
	embedder upstream.Embedder
	index    upstream.VectorIndex
	slack    upstream.Directory // клиент с user-токеном для чтения

	channels *cache.Cache[string, domain.ChannelAccess]
	users    *cache.Cache[string, string]

	topK        int
	taskTimeout time.Duration
	logger      *zap.Logger
}

func NewPipeline(
	embedder upstream.Embedder,
	index upstream.VectorIndex,
	slack upstream.Directory,
	topK int,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		embedder: embedder,
		index:    index,
		slack:    slack,
		// ACL каналов протухает быстрее имен: членство меняется чаще
		channels:    cache.New[string, domain.ChannelAccess](10 * time.Minute),
		users:       cache.New[string, string](time.Hour),
		topK:        topK,
		taskTimeout: 10 * time.Second,
		logger:      logger.Named("search"),
	}
}

// Search выполняет полный цикл: embedding -> векторный поиск -> живая
// сверка прав -> параллельное обогащение -> сборка ответа.
// Identity не выводится заново — только та, что привязал шлюз.
func (p *Pipeline) Search(ctx context.Context, query string) (*domain.SearchResult, error) {
	identity, ok := gateway.IdentityFrom(ctx)
	if !ok {
		return nil, ErrNoIdentity
	}

	// 1. Embedding запроса
	embedding, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// 2. Векторный поиск (кандидаты, упорядоченные по дистанции)
	hits, err := p.index.Search(ctx, embedding, p.topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return &domain.SearchResult{Messages: []domain.Message{}, Note: noMessagesNote}, nil
	}

	// 3. Живая сверка прав по УНИКАЛЬНЫМ каналам, параллельно
	access := p.checkChannels(ctx, uniqueChannels(hits))

	// 4. Фильтрация: канал без подтвержденного доступа в выдачу не попадает
	permitted := hits[:0]
	for _, h := range hits {
		if acc, ok := access[h.Channel]; ok && acc.Permitted {
			permitted = append(permitted, h)
		}
	}
	if len(permitted) == 0 {
		return &domain.SearchResult{Messages: []domain.Message{}, Note: noAuthorizedNote}, nil
	}

	// 5. Данные workspace для deep-link
	team, err := p.slack.TeamInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch team info: %w", err)
	}
	teamID := identity.TeamID
	if teamID == "" {
		teamID = team.ID
	}

	// 6. Треды параллельно: сбой одного роняет только его
	threads := p.fetchThreads(ctx, permitted)

	// 7. Имена всех встреченных пользователей, тоже параллельно
	userIDs := make(map[string]struct{})
	for _, t := range threads {
		for _, msg := range t.messages {
			if msg.User != "" {
				userIDs[msg.User] = struct{}{}
			}
		}
	}
	names := p.resolveNames(ctx, userIDs)

	// 8. Сборка ответа
	messages := make([]domain.Message, 0, len(threads))
	for _, t := range threads {
		channelName := unknownChannel
		if acc, ok := access[t.channel]; ok && acc.Name != "" {
			channelName = acc.Name
		}
		for _, msg := range t.messages {
			messages = append(messages, domain.Message{
				Text:        msg.Text,
				TeamID:      teamID,
				ChannelID:   t.channel,
				ChannelName: channelName,
				TS:          msg.TS,
				UserID:      msg.User,
				UserName:    displayName(names, msg.User),
				URL:         archiveURL(team.Domain, t.channel, msg.TS, msg.ThreadTS),
				ThreadTS:    msg.ThreadTS,
			})
		}
	}

	p.logger.Info("search completed",
		zap.String("user", identity.SlackUserID),
		zap.Int("hits", len(hits)),
		zap.Int("permitted", len(permitted)),
		zap.Int("messages", len(messages)))

	return &domain.SearchResult{Messages: messages}, nil
}

// checkChannels выдает решение о доступе для каждого канала: кэш, иначе
// живой вызов директории. Ошибка сети — запрет БЕЗ кэширования (временный
// сбой не должен прилипать на TTL); ответ "ok": false — запрет С кэшем
// (это настоящий ответ сервиса).
func (p *Pipeline) checkChannels(ctx context.Context, ids []string) map[string]domain.ChannelAccess {
	out := make(map[string]domain.ChannelAccess, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range ids {
		if acc, ok := p.channels.Get(id); ok {
			// Горутины предыдущих итераций уже могут писать в out —
			// hit-путь тоже обязан брать мьютекс
			mu.Lock()
			out[id] = acc
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			tCtx, cancel := context.WithTimeout(ctx, p.taskTimeout)
			defer cancel()

			acc := domain.ChannelAccess{} // по умолчанию запрет
			info, err := p.slack.ChannelInfo(tCtx, id)

			var apiErr *upstream.APIError
			switch {
			case err == nil && info != nil:
				acc = domain.ChannelAccess{
					Permitted: !info.IsPrivate || info.IsMember,
					Name:      info.Name,
				}
				p.channels.Set(id, acc)
			case errors.As(err, &apiErr):
				p.logger.Warn("channel not accessible",
					zap.String("channel", id), zap.String("reason", apiErr.Reason))
				p.channels.Set(id, acc)
			default:
				p.logger.Warn("channel access check failed",
					zap.String("channel", id), zap.Error(err))
			}

			mu.Lock()
			out[id] = acc
			mu.Unlock()
		}(id)
	}

	wg.Wait()
	return out
}

type thread struct {
	channel  string
	messages []upstream.SlackMessage
}

// fetchThreads тянет контекст тредов параллельно, по одному таску на hit.
func (p *Pipeline) fetchThreads(ctx context.Context, hits []domain.SearchHit) []thread {
	threads := make([]thread, len(hits))
	var wg sync.WaitGroup

	for i, h := range hits {
		wg.Add(1)
		go func(i int, h domain.SearchHit) {
			defer wg.Done()
			tCtx, cancel := context.WithTimeout(ctx, p.taskTimeout)
			defer cancel()

			msgs, err := p.slack.ThreadReplies(tCtx, h.Channel, h.TS)
			if err != nil {
				// Деградация одного элемента, не всего ответа
				p.logger.Warn("thread fetch failed",
					zap.String("channel", h.Channel), zap.String("ts", h.TS), zap.Error(err))
			}
			threads[i] = thread{channel: h.Channel, messages: msgs}
		}(i, h)
	}

	wg.Wait()
	return threads
}

// resolveNames возвращает display-имена пользователей, кэш-first.
func (p *Pipeline) resolveNames(ctx context.Context, ids map[string]struct{}) map[string]string {
	names := make(map[string]string, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for id := range ids {
		if name, ok := p.users.Get(id); ok {
			mu.Lock()
			names[id] = name
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			tCtx, cancel := context.WithTimeout(ctx, p.taskTimeout)
			defer cancel()

			name := unknownUser
			if u, err := p.slack.UserInfo(tCtx, id); err == nil && u != nil {
				switch {
				case u.RealName != "":
					name = u.RealName
				case u.Name != "":
					name = u.Name
				default:
					name = id
				}
				p.users.Set(id, name)
			}

			mu.Lock()
			names[id] = name
			mu.Unlock()
		}(id)
	}

	wg.Wait()
	return names
}

func uniqueChannels(hits []domain.SearchHit) []string {
	seen := make(map[string]struct{}, len(hits))
	var ids []string
	for _, h := range hits {
		if _, ok := seen[h.Channel]; ok {
			continue
		}
		seen[h.Channel] = struct{}{}
		ids = append(ids, h.Channel)
	}
	return ids
}

func displayName(names map[string]string, userID string) string {
	if userID == "" {
		return ""
	}
	if name, ok := names[userID]; ok {
		return name
	}
	return unknownUser
}

// archiveURL собирает deep-link вида
// https://<domain>.slack.com/archives/<channel>/p<ts без точки>,
// для ответа в треде добавляются thread_ts и cid.
func archiveURL(teamDomain, channelID, ts, threadTS string) string {
	url := fmt.Sprintf("https://%s.slack.com/archives/%s/p%s",
		teamDomain, channelID, strings.ReplaceAll(ts, ".", ""))
	if threadTS != "" && threadTS != ts {
		url += fmt.Sprintf("?thread_ts=%s&cid=%s", threadTS, channelID)
	}
	return url
}
