package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Directory — то, что шлюзу и поисковому конвейеру нужно от workspace API.
// Сам messaging API — внешний черный ящик, здесь только его контракт.
type Directory interface {
	LookupUserByEmail(ctx context.Context, email string) (*SlackUser, error)
	UserInfo(ctx context.Context, userID string) (*SlackUser, error)
	ChannelInfo(ctx context.Context, channelID string) (*SlackChannel, error)
	ThreadReplies(ctx context.Context, channelID, ts string) ([]SlackMessage, error)
	TeamInfo(ctx context.Context) (*SlackTeam, error)
}

type SlackUser struct {
	ID             string `json:"id"`
	TeamID         string `json:"team_id"`
	EnterpriseID   string `json:"enterprise_id"`
	Name           string `json:"name"`
	RealName       string `json:"real_name"`
	EnterpriseUser struct {
		Teams []string `json:"teams"`
	} `json:"enterprise_user"`
}

type SlackChannel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
	IsMember  bool   `json:"is_member"`
}

type SlackMessage struct {
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
	User     string `json:"user"`
}

type SlackTeam struct {
	ID     string `json:"id"`
	Domain string `json:"domain"`
}

// apiEnvelope — стандартный конверт ответов Slack Web API.
type apiEnvelope struct {
	OK  bool   `json:"ok"`
	Err string `json:"error"`
}

// SlackClient — HTTP-клиент Slack Web API поверх Reliability-обертки.
type SlackClient struct {
	baseURL string
	token   string
	http    *http.Client
	rel     *Reliability
	logger  *zap.Logger
}

func NewSlackClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *SlackClient {
	return &SlackClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		rel:     NewReliability("slack-api", timeout),
		logger:  logger.With(zap.String("mod", "slack")),
	}
}

// call выполняет один метод Web API (form-encoded POST) и декодирует ответ.
func (c *SlackClient) call(ctx context.Context, method string, params url.Values, out interface{}) error {
	return c.rel.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/"+method, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("slack %s: %w", method, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := 5 * time.Second
			if sec, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && sec > 0 {
				retryAfter = time.Duration(sec) * time.Second
			}
			return &ThrottleError{RetryAfter: retryAfter, Cause: fmt.Errorf("slack %s: 429", method)}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("slack %s: unexpected status %d", method, resp.StatusCode)
		}

		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func (c *SlackClient) LookupUserByEmail(ctx context.Context, email string) (*SlackUser, error) {
	var out struct {
		apiEnvelope
		User *SlackUser `json:"user"`
	}
	if err := c.call(ctx, "users.lookupByEmail", url.Values{"email": {email}}, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, &APIError{Method: "users.lookupByEmail", Reason: out.Err}
	}
	return out.User, nil
}

func (c *SlackClient) UserInfo(ctx context.Context, userID string) (*SlackUser, error) {
	var out struct {
		apiEnvelope
		User *SlackUser `json:"user"`
	}
	if err := c.call(ctx, "users.info", url.Values{"user": {userID}}, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, &APIError{Method: "users.info", Reason: out.Err}
	}
	return out.User, nil
}

func (c *SlackClient) ChannelInfo(ctx context.Context, channelID string) (*SlackChannel, error) {
	var out struct {
		apiEnvelope
		Channel *SlackChannel `json:"channel"`
	}
	if err := c.call(ctx, "conversations.info", url.Values{"channel": {channelID}}, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, &APIError{Method: "conversations.info", Reason: out.Err}
	}
	return out.Channel, nil
}

func (c *SlackClient) ThreadReplies(ctx context.Context, channelID, ts string) ([]SlackMessage, error) {
	var out struct {
		apiEnvelope
		Messages []SlackMessage `json:"messages"`
	}
	params := url.Values{"channel": {channelID}, "ts": {ts}, "inclusive": {"true"}}
	if err := c.call(ctx, "conversations.replies", params, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, &APIError{Method: "conversations.replies", Reason: out.Err}
	}
	return out.Messages, nil
}

func (c *SlackClient) TeamInfo(ctx context.Context) (*SlackTeam, error) {
	var out struct {
		apiEnvelope
		Team *SlackTeam `json:"team"`
	}
	if err := c.call(ctx, "team.info", url.Values{}, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, &APIError{Method: "team.info", Reason: out.Err}
	}
	return out.Team, nil
}
