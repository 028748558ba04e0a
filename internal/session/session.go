package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"

	"gapscan/internal/marketdata"
)

// State is the session manager's connection state.
type State int

const (
	StateConnected State = iota
	StateReauthenticating
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReauthenticating:
		return "reauthenticating"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrSessionDead is returned once the manager reaches the terminal
// Failed state. It is the only condition that should stop a scanner.
var ErrSessionDead = errors.New("session failed after exhausting reauthentication retries")

// Config controls the recovery state machine.
type Config struct {
	Credentials  Credentials
	MaxRetries   int
	RetryBackoff time.Duration
}

// Credentials are the reauthentication inputs.
type Credentials struct {
	Username string
	APIKey   string
}

// DefaultConfig returns the default session settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   5,
		RetryBackoff: 15 * time.Second,
	}
}

// Manager owns the authenticated connection. It runs the bounded-retry
// recovery state machine Connected -> Reauthenticating -> {Connected |
// Failed} and stamps the session token onto outgoing requests.
type Manager struct {
	cfg    Config
	client *marketdata.Client

	mu      sync.RWMutex
	state   State
	token   string
	expires time.Time
}

// NewManager creates a session manager and installs its authorizer on
// the batch client. The manager starts in Connected state; the first
// EnsureAuthenticated probe corrects that if the session is stale.
func NewManager(cfg Config, client *marketdata.Client) *Manager {
	m := &Manager{
		cfg:    cfg,
		client: client,
		state:  StateConnected,
	}
	client.SetAuthorizer(m.authorize)
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Token returns the current session token.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func (m *Manager) authorize(req *http.Request) {
	m.mu.RLock()
	token := m.token
	m.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != s {
		log.Printf("[SESSION] %s -> %s", m.state, s)
	}
	m.state = s
}

// EnsureAuthenticated is invoked once per scan cycle. When the last
// known state is Connected it issues a cheap status probe; any auth or
// probe failure routes into the reauthentication machine. Idempotent
// no-op when the probe confirms a live session.
func (m *Manager) EnsureAuthenticated(ctx context.Context) error {
	switch m.State() {
	case StateFailed:
		return ErrSessionDead
	case StateConnected:
		if m.probe(ctx) == nil {
			return nil
		}
		m.setState(StateReauthenticating)
	}
	return m.Reauthenticate(ctx)
}

// HandleAuthFailure is called synchronously when the batch client
// reports an auth failure mid-cycle. The current cycle's remaining work
// is the caller's to abandon; this only flips the machine so the next
// cycle recovers.
func (m *Manager) HandleAuthFailure() {
	if m.State() == StateConnected {
		m.setState(StateReauthenticating)
	}
}

// Reauthenticate drives Reauthenticating back to Connected, retrying up
// to MaxRetries with a fixed backoff between attempts. Exhausting the
// retries transitions to the terminal Failed state.
func (m *Manager) Reauthenticate(ctx context.Context) error {
	if m.State() == StateFailed {
		return ErrSessionDead
	}
	m.setState(StateReauthenticating)

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.cfg.RetryBackoff), uint64(m.cfg.MaxRetries)),
		ctx,
	)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := m.reauthenticateOnce(ctx); err != nil {
			log.Printf("[SESSION] reauthentication attempt %d/%d failed: %v",
				attempt, m.cfg.MaxRetries+1, err)
			return err
		}
		// Confirm with a fresh probe before declaring recovery.
		if err := m.probe(ctx); err != nil {
			log.Printf("[SESSION] post-reauth probe failed: %v", err)
			return err
		}
		return nil
	}, bo)

	if err != nil {
		m.setState(StateFailed)
		return fmt.Errorf("%w: %v", ErrSessionDead, err)
	}

	m.setState(StateConnected)
	return nil
}

type reauthRequest struct {
	Username string `json:"username"`
	APIKey   string `json:"api_key"`
}

type reauthResponse struct {
	Token string `json:"token"`
}

func (m *Manager) reauthenticateOnce(ctx context.Context) error {
	body, err := json.Marshal(reauthRequest{
		Username: m.cfg.Credentials.Username,
		APIKey:   m.cfg.Credentials.APIKey,
	})
	if err != nil {
		return fmt.Errorf("marshal reauth request: %w", err)
	}

	payload := marketdata.Payload{Key: "reauth", Body: bytes.NewReader(body)}
	successes, failures := m.client.Dispatch(ctx, marketdata.EndpointReauth, []marketdata.Payload{payload}, nil)
	if len(failures) > 0 {
		return failures[0]
	}
	if len(successes) != 1 {
		return errors.New("no reauth response")
	}

	var resp reauthResponse
	if err := json.Unmarshal(successes[0].Body, &resp); err != nil {
		return fmt.Errorf("unmarshal reauth response: %w", err)
	}
	if resp.Token == "" {
		return errors.New("empty session token in reauth response")
	}

	m.mu.Lock()
	m.token = resp.Token
	m.expires = tokenExpiry(resp.Token)
	m.mu.Unlock()

	if exp := tokenExpiry(resp.Token); !exp.IsZero() {
		log.Printf("[SESSION] new session token (expires %s)", exp.Format("2006-01-02 15:04:05"))
	}
	return nil
}

type statusResponse struct {
	Authenticated bool `json:"authenticated"`
}

// probe issues the cheap status call and verifies the session is live.
func (m *Manager) probe(ctx context.Context) error {
	validate := func(key string, body []byte) error {
		var st statusResponse
		if err := json.Unmarshal(body, &st); err != nil {
			return fmt.Errorf("unmarshal status: %w", err)
		}
		if !st.Authenticated {
			return errors.New("status reports unauthenticated")
		}
		return nil
	}

	payload := marketdata.Payload{Key: "status"}
	_, failures := m.client.Dispatch(ctx, marketdata.EndpointStatus, []marketdata.Payload{payload}, validate)
	if len(failures) > 0 {
		return failures[0]
	}
	return nil
}

// tokenExpiry reads the expiry claim from a JWT session token without
// verifying the signature; verification is the upstream's job, the
// expiry only feeds logging and proactive refresh decisions.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Expiring reports whether the current token expires within the margin.
func (m *Manager) Expiring(margin time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.expires.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(m.expires)
}
