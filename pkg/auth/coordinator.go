package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/trail/pkg/classify"
	"github.com/cuemby/trail/pkg/events"
	"github.com/cuemby/trail/pkg/log"
	"github.com/cuemby/trail/pkg/metrics"
	"github.com/cuemby/trail/pkg/session"
	"github.com/cuemby/trail/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// RetryHeader marks a request that has already been retried after a refresh
const RetryHeader = "X-Trail-Retry"

const (
	// DefaultRefreshPath is the token endpoint, relative to the base URL
	DefaultRefreshPath = "/auth/v1/token?grant_type=refresh_token"
	// DefaultAuthPrefix identifies requests to the auth endpoints themselves,
	// relative to the base URL's path
	DefaultAuthPrefix = "/auth/"
)

var (
	// ErrRefreshRejected means the server refused the refresh token
	ErrRefreshRejected = errors.New("refresh token rejected")
	// ErrRefreshUnavailable means no verdict was obtained (network failure
	// or a server error); the session is left as it was
	ErrRefreshUnavailable = errors.New("token refresh unavailable")
)

// Config holds the coordinator configuration
type Config struct {
	BaseURL     string
	RefreshPath string
	AuthPrefix  string
	// Base is the transport outbound requests go through
	Base http.RoundTripper
	// RefreshClient performs the refresh call. It must not route through the
	// coordinator.
	RefreshClient *http.Client
	Escalation    *Escalation
	Broker        *events.Broker
}

// Coordinator is an http.RoundTripper that authenticates outbound requests
// and recovers from expired access tokens. Concurrent 401s share a single
// outstanding refresh; each original request is retried at most once.
type Coordinator struct {
	session    *session.Session
	base       http.RoundTripper
	refresher  *http.Client
	refreshURL string
	authPrefix string
	escalation *Escalation
	broker     *events.Broker
	now        func() time.Time
	logger     zerolog.Logger

	group singleflight.Group
}

// NewCoordinator creates a coordinator for the given session
func NewCoordinator(sess *session.Session, cfg Config) (*Coordinator, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.RefreshPath == "" {
		cfg.RefreshPath = DefaultRefreshPath
	}
	if cfg.AuthPrefix == "" {
		cfg.AuthPrefix = DefaultAuthPrefix
	}
	if cfg.Base == nil {
		cfg.Base = http.DefaultTransport
	}
	if cfg.RefreshClient == nil {
		cfg.RefreshClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		}
	}
	if cfg.Escalation == nil {
		cfg.Escalation = NewEscalation()
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	return &Coordinator{
		session:    sess,
		base:       cfg.Base,
		refresher:  cfg.RefreshClient,
		refreshURL: strings.TrimRight(cfg.BaseURL, "/") + cfg.RefreshPath,
		authPrefix: strings.TrimRight(base.Path, "/") + cfg.AuthPrefix,
		escalation: cfg.Escalation,
		broker:     cfg.Broker,
		now:        time.Now,
		logger:     log.WithComponent("auth"),
	}, nil
}

// Escalation returns the PIN-required signal
func (c *Coordinator) Escalation() *Escalation {
	return c.escalation
}

// Client returns an http.Client whose requests go through the coordinator
func (c *Coordinator) Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: c, Timeout: timeout}
}

// RoundTrip implements http.RoundTripper
func (c *Coordinator) RoundTrip(req *http.Request) (*http.Response, error) {
	cred, _ := c.session.Credential()

	if c.isAuthEndpoint(req) {
		out := req.Clone(req.Context())
		setAPIKey(out, cred.APIKey)
		return c.base.RoundTrip(out)
	}

	out := req.Clone(req.Context())
	authorize(out, cred)

	resp, err := c.base.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// Single-flight guard: a retried request is never retried again.
	if req.Header.Get(RetryHeader) != "" {
		return resp, nil
	}
	// Parked until the PIN gate unlocks; don't hammer the token endpoint.
	if c.session.State() == types.AuthStatePinRequired {
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		c.logger.Debug().Str("url", req.URL.Path).Msg("Request body not replayable, skipping refresh")
		return resp, nil
	}

	fresh, ok := c.refreshAfter(req.Context(), cred.AccessToken)
	if !ok {
		return resp, nil
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}
	authorize(retry, fresh)
	retry.Header.Set(RetryHeader, "1")

	drain(resp)
	return c.base.RoundTrip(retry)
}

// Refresh performs a token refresh now, sharing any refresh already in
// flight. Used by the PIN gate after a local unlock.
func (c *Coordinator) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
		cur, _ := c.session.Credential()
		return cur, nil
	})
	return err
}

// refreshAfter returns a credential newer than the one carrying stale. If
// another caller already refreshed, no new refresh is made.
func (c *Coordinator) refreshAfter(ctx context.Context, stale string) (types.SessionCredential, bool) {
	v, err, shared := c.group.Do("refresh", func() (any, error) {
		if cur, ok := c.session.Credential(); ok &&
			cur.AccessToken != stale &&
			c.session.State() == types.AuthStateAuthenticated {
			return cur, nil
		}
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
		cur, _ := c.session.Credential()
		return cur, nil
	})
	if err != nil {
		c.logger.Debug().Err(err).Bool("shared", shared).Msg("No retry after 401")
		return types.SessionCredential{}, false
	}
	cred, ok := v.(types.SessionCredential)
	return cred, ok
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

func (c *Coordinator) refresh(ctx context.Context) error {
	cred, err := c.session.BeginRefresh()
	if err != nil {
		metrics.RefreshesTotal.WithLabelValues("no_session").Inc()
		return err
	}

	body, _ := json.Marshal(refreshRequest{RefreshToken: cred.RefreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.refreshURL, bytes.NewReader(body))
	if err != nil {
		c.session.AbortRefresh()
		return fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAPIKey(req, cred.APIKey)

	resp, err := c.refresher.Do(req)
	if err != nil {
		c.session.AbortRefresh()
		metrics.RefreshesTotal.WithLabelValues("unavailable").Inc()
		c.logger.Warn().Err(err).Msg("Token refresh failed, will retry on next 401")
		return fmt.Errorf("%w: %v", ErrRefreshUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		statusErr := &classify.StatusError{Status: resp.StatusCode, Body: string(data)}
		if !rejectsGrant(resp.StatusCode) {
			c.session.AbortRefresh()
			metrics.RefreshesTotal.WithLabelValues("unavailable").Inc()
			c.logger.Warn().Int("status", resp.StatusCode).Msg("Token endpoint unavailable")
			return fmt.Errorf("%w: %v", ErrRefreshUnavailable, statusErr)
		}
		c.reject(statusErr)
		return fmt.Errorf("%w: %v", ErrRefreshRejected, statusErr)
	}

	var out refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.AccessToken == "" {
		if err == nil {
			err = errors.New("response carries no access token")
		}
		c.reject(err)
		return fmt.Errorf("%w: %v", ErrRefreshRejected, err)
	}

	if out.User.ID != "" && out.User.ID != cred.UserID {
		c.logger.Warn().
			Str("user_id", cred.UserID).
			Str("refreshed_user_id", out.User.ID).
			Msg("Refresh returned a different user")
	}

	expiresAt := c.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	if err := c.session.CompleteRefresh(out.AccessToken, out.RefreshToken, expiresAt); err != nil {
		c.session.AbortRefresh()
		metrics.RefreshesTotal.WithLabelValues("store_error").Inc()
		return fmt.Errorf("failed to store refreshed tokens: %w", err)
	}

	metrics.RefreshesTotal.WithLabelValues("success").Inc()
	c.logger.Info().Time("expires_at", expiresAt).Msg("Access token refreshed")
	c.broker.Publish(&events.Event{
		Type:     events.EventAuthRefreshed,
		Message:  "access token refreshed",
		Metadata: map[string]string{"user_id": cred.UserID},
	})
	return nil
}

// reject handles an irrecoverable refresh: park behind the PIN if one is
// configured, otherwise sign out.
func (c *Coordinator) reject(cause error) {
	metrics.RefreshesTotal.WithLabelValues("rejected").Inc()

	if c.session.HasPin() {
		if err := c.session.RequirePin(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to mark session as PIN required")
		}
		c.escalation.Signal()
		c.logger.Warn().Err(cause).Msg("Refresh rejected, PIN required")
		c.broker.Publish(&events.Event{
			Type:    events.EventAuthPinRequired,
			Message: "refresh rejected, local PIN required",
		})
		return
	}

	if err := c.session.Logout(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to clear session")
	}
	c.logger.Warn().Err(cause).Msg("Refresh rejected, session cleared")
	c.broker.Publish(&events.Event{
		Type:    events.EventAuthLoggedOut,
		Message: "refresh rejected, login required",
	})
}

// rejectsGrant reports whether the token endpoint refused the refresh token
// itself. Any other failure status is not a verdict on the session.
func rejectsGrant(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

func (c *Coordinator) isAuthEndpoint(req *http.Request) bool {
	return strings.HasPrefix(req.URL.Path, c.authPrefix)
}

func authorize(req *http.Request, cred types.SessionCredential) {
	if cred.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}
	setAPIKey(req, cred.APIKey)
}

func setAPIKey(req *http.Request, key string) {
	if key != "" {
		req.Header.Set("apikey", key)
	}
}

// drain lets the connection be reused
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
