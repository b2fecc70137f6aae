package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/siteform/fieldsync/internal/domain/auth"
)

// TokenSource supplies the access credential and the refresh protocol. It is
// implemented by auth.Manager.
type TokenSource interface {
	Token() (string, bool)
	AccessTokenStale(now time.Time) bool
	Refresh(ctx context.Context) (bool, error)
}

// Gateway is the single chokepoint for authenticated calls: it attaches the
// current access credential, and on an authorization failure runs the refresh
// protocol and replays the identical request exactly once. It never retries
// for any other reason; that policy belongs to the sync coordinator.
type Gateway struct {
	client *Client
	tokens TokenSource
	logger *slog.Logger
	now    func() time.Time
}

// NewGateway creates a gateway over the raw client.
func NewGateway(client *Client, tokens TokenSource, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gateway{
		client: client,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

// CreateRecord delivers one queued record to its kind's creation endpoint.
// The client-assigned record id rides along as the idempotency key so
// at-least-once redelivery can be deduplicated server-side.
func (g *Gateway) CreateRecord(ctx context.Context, path, recordID string, capturedAt time.Time, payload json.RawMessage) error {
	headers := map[string]string{
		"Idempotency-Key": recordID,
		"X-Captured-At":   capturedAt.UTC().Format(time.RFC3339),
	}
	_, err := g.call(ctx, http.MethodPost, path, payload, headers)
	return err
}

// Profile fetches the current user's profile.
func (g *Gateway) Profile(ctx context.Context) (auth.UserSummary, error) {
	body, err := g.call(ctx, http.MethodGet, profilePath, nil, nil)
	if err != nil {
		return auth.UserSummary{}, err
	}

	var u userPayload
	if err := json.Unmarshal(body, &u); err != nil {
		return auth.UserSummary{}, fmt.Errorf("decode profile response: %w", err)
	}
	return u.summary(), nil
}

func (g *Gateway) call(ctx context.Context, method, path string, body any, headers map[string]string) ([]byte, error) {
	token, ok := g.tokens.Token()
	if ok && g.tokens.AccessTokenStale(g.now()) {
		g.logger.Debug("access token stale, refreshing before call", "path", path)
		refreshed, err := g.tokens.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		if !refreshed {
			return nil, auth.ErrSessionExpired
		}
		token, _ = g.tokens.Token()
	}

	status, respBody, err := g.client.do(ctx, method, path, token, body, headers)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		refreshed, err := g.tokens.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		if !refreshed {
			return nil, auth.ErrSessionExpired
		}

		token, _ = g.tokens.Token()
		status, respBody, err = g.client.do(ctx, method, path, token, body, headers)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			// The replayed call is never retried again.
			return nil, auth.ErrSessionExpired
		}
	}

	if err := apiError(status, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}
