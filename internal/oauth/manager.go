package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/joshp123/thermoctl/internal/clock"
	"github.com/joshp123/thermoctl/internal/credentials"
	"github.com/joshp123/thermoctl/internal/logger"
)

// ErrAuthExpired means the stored tokens can no longer be used and the
// operator has to authorize again.
var ErrAuthExpired = errors.New("authentication expired")

// Manager runs the PIN authorization flow and hands out refreshing token
// sources backed by the credential store.
type Manager struct {
	decl       Declaration
	store      *credentials.Store
	prompt     Prompter
	httpClient *http.Client
	clock      clock.Clock
	log        *logger.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) { m.httpClient = client }
}

func WithClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(log *logger.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

func NewManager(decl Declaration, store *credentials.Store, prompt Prompter, opts ...ManagerOption) (*Manager, error) {
	if decl.AuthorizeURL == "" || decl.TokenURL == "" {
		return nil, fmt.Errorf("authorize and token urls are required")
	}
	if store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if prompt == nil {
		return nil, fmt.Errorf("prompter is required")
	}
	m := &Manager{
		decl:       decl,
		store:      store,
		prompt:     prompt,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		clock:      clock.Real{},
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Authorize runs the PIN flow and persists the resulting tokens.
func (m *Manager) Authorize(ctx context.Context) error {
	apiKey, err := m.store.ReadAPIKey()
	if err != nil {
		return err
	}

	pin, err := requestPIN(ctx, m.httpClient, m.decl, apiKey, m.clock.Now())
	if err != nil {
		return fmt.Errorf("request pin: %w", err)
	}
	pinRequests.WithLabelValues(m.decl.Provider).Inc()

	m.prompt.ShowPIN(pin, m.clock.Now())
	if err := m.prompt.WaitForConfirmation(ctx); err != nil {
		return fmt.Errorf("wait for confirmation: %w", err)
	}

	token, err := m.pollExchange(ctx, apiKey, pin)
	if err != nil {
		return err
	}

	cred := credentials.Credential{
		APIKey:          apiKey,
		TokenExpiration: token.Expiry,
		AccessToken:     token.AccessToken,
		RefreshToken:    token.RefreshToken,
	}
	if err := m.store.WriteToken(ctx, cred); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}
	tokenValid.WithLabelValues(m.decl.Provider).Set(1)
	m.log.Infow("authorization complete", "expires", token.Expiry.Format(time.RFC3339))
	return nil
}

func (m *Manager) pollExchange(ctx context.Context, apiKey string, pin PIN) (*oauth2.Token, error) {
	interval := pin.Interval
	for {
		token, err := exchangePIN(ctx, m.httpClient, m.decl, apiKey, pin, m.clock.Now())
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrAuthorizationPending) {
			return nil, fmt.Errorf("exchange pin: %w", err)
		}
		if errors.Is(err, errSlowDown) {
			interval += slowDownStep
		}
		if !m.clock.Now().Add(interval).Before(pin.ExpiresAt()) {
			return nil, ErrPINExpired
		}
		m.log.Infow("authorization pending, retrying", "in", interval.String())
		if err := m.clock.Sleep(ctx, interval); err != nil {
			return nil, err
		}
	}
}

// TokenSource returns a token source for API calls. Without a stored token it
// runs Authorize first; a stored token is used as-is until it expires.
func (m *Manager) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	if !m.store.HasToken() {
		if err := m.Authorize(ctx); err != nil {
			return nil, err
		}
	}
	cred, ok, err := m.store.ReadToken()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no token stored in %s", m.store.Path())
	}

	initial := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       cred.TokenExpiration,
	}
	conf := &oauth2.Config{
		ClientID: cred.APIKey,
		Endpoint: oauth2.Endpoint{
			AuthURL:   m.decl.AuthorizeURL,
			TokenURL:  m.decl.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: strings.Fields(m.decl.Scope),
	}
	refreshCtx := context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	return &persistingSource{
		ctx:      ctx,
		base:     conf.TokenSource(refreshCtx, initial),
		store:    m.store,
		apiKey:   cred.APIKey,
		provider: m.decl.Provider,
		last:     cred.AccessToken,
		log:      m.log,
	}, nil
}

// Invalidate discards the stored tokens after an unrecoverable auth failure.
func (m *Manager) Invalidate(ctx context.Context) error {
	tokenValid.WithLabelValues(m.decl.Provider).Set(0)
	return m.store.TrimToAPIKeyOnly(ctx)
}

// persistingSource writes every refreshed token back to the credential store.
type persistingSource struct {
	ctx      context.Context
	base     oauth2.TokenSource
	store    *credentials.Store
	apiKey   string
	provider string
	log      *logger.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		refreshFailure.WithLabelValues(s.provider).Inc()
		tokenValid.WithLabelValues(s.provider).Set(0)
		return nil, classifyRefreshError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken == s.last {
		return token, nil
	}

	cred := credentials.Credential{
		APIKey:          s.apiKey,
		TokenExpiration: token.Expiry,
		AccessToken:     token.AccessToken,
		RefreshToken:    token.RefreshToken,
	}
	if err := s.store.WriteToken(s.ctx, cred); err != nil {
		refreshFailure.WithLabelValues(s.provider).Inc()
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}
	s.last = token.AccessToken
	refreshSuccess.WithLabelValues(s.provider).Inc()
	tokenValid.WithLabelValues(s.provider).Set(1)
	s.log.Debugw("access token refreshed", "expires", token.Expiry.Format(time.RFC3339))
	return token, nil
}

func classifyRefreshError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return fmt.Errorf("token refresh: %w", err)
	}
	if retrieveErr.ErrorCode == "invalid_grant" {
		return fmt.Errorf("%w: refresh token rejected", ErrAuthExpired)
	}
	status := 0
	if retrieveErr.Response != nil {
		status = retrieveErr.Response.StatusCode
	}
	body := strings.TrimSpace(string(retrieveErr.Body))
	return fmt.Errorf("token refresh failed %d: %s", status, body)
}
