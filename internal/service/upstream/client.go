package upstream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"SigPull/internal/domain/models"
	drepo "SigPull/internal/domain/repository"
	"SigPull/internal/service/ratelimit"
	xhttp "SigPull/pkg/http"
)

// Client talks to the chat-relay HTTP API that fronts the upstream message
// provider. It implements repository.MessageSource.
type Client struct {
	baseURL   string
	apiToken  string
	channelID string
	http      *xhttp.Client
	limiter   *ratelimit.Limiter
}

// rate budget for relay calls; the relay itself throttles harder
const (
	limiterKey       = "upstream"
	limiterCapacity  = 10
	limiterRefillSec = 5
)

// NewClient creates a relay client bound to one channel of interest.
func NewClient(baseURL, apiToken, channelID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   baseURL,
		apiToken:  apiToken,
		channelID: channelID,
		http:      xhttp.NewClient(xhttp.WithTimeout(timeout)),
		limiter:   ratelimit.New(),
	}
}

type wireMessage struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
	Caption   string `json:"caption"`
	Sender    string `json:"sender"`
	MediaType string `json:"media_type"`
	PostedAt  int64  `json:"posted_at"`
}

type listEnvelope struct {
	Data []wireMessage `json:"data"`
}

type ackEnvelope struct {
	Data struct {
		Acknowledged int `json:"acknowledged"`
	} `json:"data"`
}

type syncEnvelope struct {
	Data struct {
		MessagesSynced int  `json:"messages_synced"`
		HasMore        bool `json:"has_more"`
	} `json:"data"`
}

// FetchUnprocessed returns up to limit messages not yet acknowledged.
func (c *Client) FetchUnprocessed(ctx context.Context, limit int) ([]*models.RawMessage, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}
	var env listEnvelope
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     c.baseURL + "/api/messages/unprocessed",
		Headers: c.headers(),
		QueryParams: map[string][]string{
			"channel_id": {c.channelID},
			"limit":      {strconv.Itoa(limit)},
		},
	}, &env)
	if err != nil {
		return nil, fmt.Errorf("fetch unprocessed: %w", err)
	}
	return c.toRawMessages(env.Data), nil
}

// Acknowledge marks messages processed upstream and returns the count.
func (c *Client) Acknowledge(ctx context.Context, messageIDs []string) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	if err := c.pace(ctx); err != nil {
		return 0, err
	}
	var env ackEnvelope
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     c.baseURL + "/api/messages/ack",
		Headers: c.headers(),
		Body:    map[string]any{"message_ids": messageIDs},
	}, &env)
	if err != nil {
		return 0, fmt.Errorf("acknowledge: %w", err)
	}
	return env.Data.Acknowledged, nil
}

// BulkSync asks the relay to pull one page of channel history into its
// unprocessed pool; the messages then flow through the normal pull path.
func (c *Client) BulkSync(ctx context.Context, pageSize int) (*models.BulkSyncResult, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}
	var env syncEnvelope
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodPost,
		URL:     c.baseURL + "/api/messages/sync",
		Headers: c.headers(),
		Body: map[string]any{
			"channel_id": c.channelID,
			"page_size":  pageSize,
		},
	}, &env)
	if err != nil {
		return nil, fmt.Errorf("bulk sync: %w", err)
	}
	return &models.BulkSyncResult{
		MessagesSynced: env.Data.MessagesSynced,
		HasMore:        env.Data.HasMore,
	}, nil
}

// ListAll pages through every message regardless of processed state.
func (c *Client) ListAll(ctx context.Context, limit, offset int) ([]*models.RawMessage, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}
	var env listEnvelope
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     c.baseURL + "/api/messages",
		Headers: c.headers(),
		QueryParams: map[string][]string{
			"channel_id": {c.channelID},
			"limit":      {strconv.Itoa(limit)},
			"offset":     {strconv.Itoa(offset)},
		},
	}, &env)
	if err != nil {
		return nil, fmt.Errorf("list all: %w", err)
	}
	return c.toRawMessages(env.Data), nil
}

// TestConnection reports whether the relay answers its health endpoint.
func (c *Client) TestConnection(ctx context.Context) bool {
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     c.baseURL + "/api/health",
		Headers: c.headers(),
	}, nil)
	return err == nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.apiToken,
		"Accept":        "application/json",
	}
}

// pace blocks until the local token bucket grants a call, so paging loops
// cannot hammer the relay.
func (c *Client) pace(ctx context.Context) error {
	for !c.limiter.Allow(limiterKey, limiterCapacity, limiterRefillSec) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

func (c *Client) toRawMessages(in []wireMessage) []*models.RawMessage {
	now := time.Now()
	out := make([]*models.RawMessage, 0, len(in))
	for _, w := range in {
		mt := models.MediaType(w.MediaType)
		switch mt {
		case models.MediaNone, models.MediaPhoto, models.MediaOther:
		default:
			mt = models.MediaNone
		}
		out = append(out, &models.RawMessage{
			ChannelID:  w.ChannelID,
			MessageID:  w.MessageID,
			Text:       w.Text,
			Caption:    w.Caption,
			Sender:     w.Sender,
			MediaType:  mt,
			PostedAt:   time.Unix(w.PostedAt, 0),
			ReceivedAt: now,
		})
	}
	return out
}

var _ drepo.MessageSource = (*Client)(nil)
