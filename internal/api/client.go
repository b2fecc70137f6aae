package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/siteform/fieldsync/internal/domain/auth"
)

const (
	loginPath   = "/api/auth/login"
	refreshPath = "/api/auth/refresh"
	logoutPath  = "/api/auth/logout"
	profilePath = "/api/auth/me"
)

// Client is the raw HTTP client for the remote API. It carries no session
// state; the gateway layers credential handling on top.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an API client for the given base URL.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userPayload struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

func (u userPayload) summary() auth.UserSummary {
	return auth.UserSummary{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.FullName,
		Role:        u.Role,
	}
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	User         userPayload `json:"user"`
}

func (tr tokenResponse) session() *auth.Session {
	return &auth.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		User:         tr.User.summary(),
	}
}

// Login exchanges credentials for a new session.
func (c *Client) Login(ctx context.Context, email, password string) (*auth.Session, error) {
	status, body, err := c.do(ctx, http.MethodPost, loginPath, "", loginRequest{Email: email, Password: password}, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return nil, auth.ErrInvalidCredentials
	}
	if err := apiError(status, body); err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	return tr.session(), nil
}

// Refresh exchanges the refresh credential for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*auth.Session, error) {
	status, body, err := c.do(ctx, http.MethodPost, refreshPath, "", refreshRequest{RefreshToken: refreshToken}, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return nil, auth.ErrInvalidCredentials
	}
	if err := apiError(status, body); err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	return tr.session(), nil
}

// Logout invalidates the session server-side.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	status, body, err := c.do(ctx, http.MethodPost, logoutPath, accessToken, nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		// Session already invalid remotely; nothing left to revoke.
		return nil
	}
	return apiError(status, body)
}

// do sends one request. Transport failures are mapped to ErrUnavailable; the
// response status is returned raw for the caller to interpret.
func (c *Client) do(ctx context.Context, method, path, token string, body any, headers map[string]string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case json.RawMessage:
			reader = bytes.NewReader(b)
		case []byte:
			reader = bytes.NewReader(b)
		default:
			data, err := json.Marshal(body)
			if err != nil {
				return 0, nil, fmt.Errorf("encode request body: %w", err)
			}
			reader = bytes.NewReader(data)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	c.logger.Debug("api call", "method", method, "path", path, "status", resp.StatusCode)
	return resp.StatusCode, data, nil
}
