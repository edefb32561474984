// internal/common/auth/keycloak.go
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	apperrors "enrollment-sync/internal/common/errors"
	commonhttp "enrollment-sync/internal/common/http"
	"enrollment-sync/internal/common/logger"
)

// tokens are refreshed this long before they expire.
const expirySkew = 30 * time.Second

type KeycloakConfig struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// KeycloakAuthenticator signs a guardian in against a Keycloak realm and keeps
// their tokens fresh for backend calls.
type KeycloakAuthenticator struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *commonhttp.Client
	logger       logger.Logger

	tracker TransitionTracker
	subs    subscribers

	mu            sync.Mutex
	identity      *Identity
	accessToken   string
	refreshToken  string
	tokenExpiry   time.Time
	refreshExpiry time.Time
	now           func() time.Time
}

// TokenResponse holds the response from Keycloak's token endpoint.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	TokenType        string `json:"token_type"`
	RefreshToken     string `json:"refresh_token"`
	Scope            string `json:"scope"`
}

// UserInfo is the subset of the OpenID userinfo response the engine uses.
type UserInfo struct {
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	PhoneNumber       string `json:"phone_number"`
}

func NewKeycloakAuthenticator(cfg KeycloakConfig, log logger.Logger) *KeycloakAuthenticator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &KeycloakAuthenticator{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		realm:        cfg.Realm,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   commonhttp.NewClient(timeout),
		logger:       logger.ForComponent(log, "keycloak"),
		now:          time.Now,
	}
}

// WithHTTPClient replaces the outbound client. Used by tests.
func (k *KeycloakAuthenticator) WithHTTPClient(c *commonhttp.Client) *KeycloakAuthenticator {
	k.httpClient = c
	return k
}

func (k *KeycloakAuthenticator) realmURL(path string) string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/%s", k.baseURL, k.realm, path)
}

// Login runs the password grant, loads the user profile and emits the
// resulting transition (signed-in, or changed-user when someone else was signed in).
func (k *KeycloakAuthenticator) Login(ctx context.Context, username, password string) (Identity, error) {
	data := url.Values{}
	data.Set("grant_type", "password")
	data.Set("username", username)
	data.Set("password", password)
	data.Set("scope", "openid")

	tokens, err := k.requestToken(ctx, data)
	if err != nil {
		return Identity{}, err
	}

	info, err := k.userInfo(ctx, tokens.AccessToken)
	if err != nil {
		return Identity{}, err
	}
	identity := Identity{Subject: info.Sub, Email: info.Email, Name: info.Name, Mobile: info.PhoneNumber}
	if identity.Name == "" {
		identity.Name = info.PreferredUsername
	}

	k.mu.Lock()
	k.storeTokensLocked(tokens)
	id := identity
	k.identity = &id
	k.mu.Unlock()

	k.logger.Info("user signed in", map[string]interface{}{"subject": identity.Subject})
	if tr, ok := k.tracker.Observe(&identity); ok {
		k.subs.notify(tr)
	}
	return identity, nil
}

// Logout revokes the refresh token and emits signed-out. Revocation failures are logged only.
func (k *KeycloakAuthenticator) Logout(ctx context.Context) {
	k.mu.Lock()
	refresh := k.refreshToken
	k.identity = nil
	k.clearTokensLocked()
	k.mu.Unlock()

	if refresh != "" {
		if err := k.revoke(ctx, refresh); err != nil {
			k.logger.Warn("keycloak logout failed", map[string]interface{}{"error": err})
		}
	}
	if tr, ok := k.tracker.Observe(nil); ok {
		k.subs.notify(tr)
	}
}

func (k *KeycloakAuthenticator) IsAuthenticated() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.identity != nil && (k.accessToken != "" || k.refreshToken != "")
}

func (k *KeycloakAuthenticator) CurrentIdentity() (Identity, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.identity == nil {
		return Identity{}, false
	}
	return *k.identity, true
}

// Token returns a valid access token, refreshing it when close to expiry.
func (k *KeycloakAuthenticator) Token(ctx context.Context) (string, error) {
	k.mu.Lock()
	if k.accessToken != "" && k.tokenExpiry.After(k.now().Add(expirySkew)) {
		token := k.accessToken
		k.mu.Unlock()
		return token, nil
	}
	refresh := k.refreshToken
	refreshValid := refresh != "" && (k.refreshExpiry.IsZero() || k.refreshExpiry.After(k.now()))
	k.mu.Unlock()

	if !refreshValid {
		return "", apperrors.NewAuthenticationExpiredError(ErrNotAuthenticated)
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refresh)

	tokens, err := k.requestToken(ctx, data)
	if err != nil {
		return "", err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.storeTokensLocked(tokens)
	return k.accessToken, nil
}

// Invalidate forgets the tokens but keeps the user, so drafts survive until
// they sign in again.
func (k *KeycloakAuthenticator) Invalidate() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.clearTokensLocked()
	k.logger.Info("credentials invalidated", nil)
}

func (k *KeycloakAuthenticator) Subscribe(fn func(Transition)) func() {
	return k.subs.add(fn)
}

func (k *KeycloakAuthenticator) storeTokensLocked(tokens *TokenResponse) {
	now := k.now()
	k.accessToken = tokens.AccessToken
	k.tokenExpiry = now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
	if tokens.RefreshToken != "" {
		k.refreshToken = tokens.RefreshToken
		k.refreshExpiry = time.Time{}
		if tokens.RefreshExpiresIn > 0 {
			k.refreshExpiry = now.Add(time.Duration(tokens.RefreshExpiresIn) * time.Second)
		}
	}
}

func (k *KeycloakAuthenticator) clearTokensLocked() {
	k.accessToken = ""
	k.refreshToken = ""
	k.tokenExpiry = time.Time{}
	k.refreshExpiry = time.Time{}
}

func (k *KeycloakAuthenticator) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	data.Set("client_id", k.clientID)
	if k.clientSecret != "" {
		data.Set("client_secret", k.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.realmURL("token"), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, &apperrors.StandardError{
			Code:      apperrors.ErrCodeAuthenticationExpired,
			Message:   "Failed to reach the identity provider",
			Details:   err.Error(),
			Retryable: true,
			Timestamp: time.Now().UTC(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &apperrors.StandardError{
			Code:      apperrors.ErrCodeAuthenticationExpired,
			Message:   "Authentication required",
			Details:   fmt.Sprintf("keycloak token request failed with status %d: %s", resp.StatusCode, commonhttp.ReadErrorBody(resp)),
			Retryable: commonhttp.IsTransientStatus(resp.StatusCode),
			Timestamp: time.Now().UTC(),
		}
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &tokenResp, nil
}

func (k *KeycloakAuthenticator) userInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.realmURL("userinfo"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keycloak userinfo failed with status %d: %s", resp.StatusCode, commonhttp.ReadErrorBody(resp))
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("userinfo response has no subject")
	}
	return &info, nil
}

func (k *KeycloakAuthenticator) revoke(ctx context.Context, refreshToken string) error {
	data := url.Values{}
	data.Set("client_id", k.clientID)
	if k.clientSecret != "" {
		data.Set("client_secret", k.clientSecret)
	}
	data.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.realmURL("logout"), strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create logout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute logout request: %w", err)
	}
	defer resp.Body.Close()

	// Keycloak answers 204 No Content on success.
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("keycloak logout failed with status %d: %s", resp.StatusCode, commonhttp.ReadErrorBody(resp))
	}
	return nil
}
