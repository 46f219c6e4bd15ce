package google

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	oauthgoogle "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"queso/internal/state"
)

// OAuthConfig builds the OAuth2 config for the calendar scope. Creating
// the dedicated calendar requires the full calendar scope, not just
// events.
func OAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("missing google client credentials, set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET")
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       []string{calendar.CalendarScope},
		Endpoint:     oauthgoogle.Endpoint,
	}, nil
}

// TokenManager owns the cached access token. Every batch verifies expiry
// through Token before touching the API; a stale token is never used
// silently. Acquisition is serialized so two independent actions cannot
// trigger redundant refreshes.
type TokenManager struct {
	config *oauth2.Config
	store  state.Store
	logger *slog.Logger

	mu sync.Mutex // guards the check-then-refresh sequence
}

func NewTokenManager(config *oauth2.Config, store state.Store, logger *slog.Logger) *TokenManager {
	return &TokenManager{config: config, store: store, logger: logger}
}

// Token returns a valid token, refreshing the cached one when it has
// expired. Absent or unrefreshable tokens yield ErrAuthRequired.
func (m *TokenManager) Token(ctx context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.load()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrAuthRequired
	}
	if tok.Valid() {
		return tok, nil
	}

	m.logger.Info("Cached token expired, refreshing.")
	fresh, err := m.config.TokenSource(ctx, tok).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refresh failed: %v", ErrAuthRequired, err)
	}
	if err := m.save(fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Exchange completes the interactive consent flow with the code the user
// pasted. An empty code means the consent screen was dismissed or the
// pop-up never opened.
func (m *TokenManager) Exchange(ctx context.Context, authCode string) (*oauth2.Token, error) {
	if authCode == "" {
		return nil, ErrConsentBlocked
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.config.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("unable to exchange authorization code: %w", err)
	}
	if err := m.save(tok); err != nil {
		return nil, err
	}
	if err := m.store.Set(state.KeyCalendarConnected, "true"); err != nil {
		return nil, fmt.Errorf("failed to record connection flag: %w", err)
	}
	return tok, nil
}

// AuthCodeURL returns the consent URL for the connect command.
func (m *TokenManager) AuthCodeURL() string {
	return m.config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
}

// Client returns an HTTP client that authorizes requests with tok.
func (m *TokenManager) Client(ctx context.Context, tok *oauth2.Token) *http.Client {
	return m.config.Client(ctx, tok)
}

// Disconnect clears every persisted calendar credential and the sync
// mapping. Only an explicit disconnect removes this state.
func (m *TokenManager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range []string{
		state.KeyAccessToken,
		state.KeyCalendarConnected,
		state.KeyCalendarID,
		state.KeyEventMap,
	} {
		if err := m.store.Delete(key); err != nil {
			return fmt.Errorf("failed to clear %s: %w", key, err)
		}
	}
	return nil
}

func (m *TokenManager) load() (*oauth2.Token, error) {
	raw, ok, err := m.store.Get(state.KeyAccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached token: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal([]byte(raw), tok); err != nil {
		return nil, fmt.Errorf("cached token is corrupt: %w", err)
	}
	return tok, nil
}

func (m *TokenManager) save(tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := m.store.Set(state.KeyAccessToken, string(raw)); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}
	return nil
}
