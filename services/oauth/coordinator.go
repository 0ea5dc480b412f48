package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/redis/go-redis/v9"
	"github.com/tutorstack/authcore/config"
	"github.com/tutorstack/authcore/services/logging"
	"github.com/tutorstack/authcore/services/session"
	"github.com/tutorstack/authcore/services/token"
	"go.uber.org/zap"
)

var (
	ErrUnknownProvider = errors.New("unknown oauth provider")
	ErrStateMismatch   = errors.New("oauth state mismatch")
	ErrProviderFailure = errors.New("oauth provider exchange failed")
	// ErrExchangeCodeInvalid deliberately covers expired, consumed, and
	// unknown codes alike so a caller cannot distinguish them.
	ErrExchangeCodeInvalid = errors.New("exchange code invalid")
	ErrStoreUnavailable    = errors.New("oauth store unavailable")
)

const (
	stateKeyPrefix = "oauth_state:"
	codeKeyPrefix  = "oauth_code:"
)

// Profile is the identity returned by a provider after the server-side
// grant exchange. The provider wire format stays behind the Provider
// interface; the coordinator only sees this.
type Profile struct {
	Email string
	Name  string
}

// Provider abstracts one third-party identity provider. Exchange runs
// server-side only; the browser never sees the provider round-trip.
type Provider interface {
	Name() string
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, grant string) (*Profile, error)
}

// UserResolver maps a provider profile onto a platform user record.
type UserResolver interface {
	ResolveOAuthUser(ctx context.Context, provider string, profile *Profile) (userID uint, role string, err error)
}

type pendingLogin struct {
	UserID   uint   `json:"user_id"`
	Role     string `json:"role"`
	Provider string `json:"provider"`
}

// Coordinator drives the code-exchange handshake: CSRF state on the way
// out, server-side grant exchange on the way back, then a short-lived
// single-use exchange code that the frontend redeems via a same-origin
// POST. Long-lived tokens never appear in a URL.
type Coordinator struct {
	redis     *redis.Client
	config    *config.Config
	logger    *logging.Service
	tokens    *token.Service
	sessions  *session.Service
	users     UserResolver
	providers map[string]Provider
}

func NewCoordinator(client *redis.Client, cfg *config.Config, logger *logging.Service, tokens *token.Service, sessions *session.Service, users UserResolver) *Coordinator {
	return &Coordinator{
		redis:     client,
		config:    cfg,
		logger:    logger,
		tokens:    tokens,
		sessions:  sessions,
		users:     users,
		providers: make(map[string]Provider),
	}
}

func (c *Coordinator) RegisterProvider(p Provider) {
	c.providers[p.Name()] = p
}

// Begin starts a login attempt: mints the CSRF state, stores it with a
// bounded TTL, and returns the provider's authorization URL.
func (c *Coordinator) Begin(ctx context.Context, providerName string) (string, error) {
	provider, ok := c.providers[providerName]
	if !ok {
		return "", ErrUnknownProvider
	}

	state, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}

	if err := c.redis.Set(ctx, stateKeyPrefix+state, providerName, c.config.OAuth.StateTTL).Err(); err != nil {
		c.logger.Error("failed to store oauth state", zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return provider.AuthorizeURL(state), nil
}

// HandleCallback drives the provider leg: verifies the CSRF state,
// exchanges the authorization grant server-side, resolves the platform
// user, and mints a single-use exchange code. Returns the frontend
// redirect URL carrying only that code.
func (c *Coordinator) HandleCallback(ctx context.Context, providerName, state, grant string) (string, error) {
	provider, ok := c.providers[providerName]
	if !ok {
		return "", ErrUnknownProvider
	}

	// GETDEL makes the state single-use; a mismatch aborts before the
	// provider is ever contacted.
	stored, err := c.redis.GetDel(ctx, stateKeyPrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		c.logger.Warn("oauth callback with unknown or expired state",
			zap.String("provider", providerName))
		return "", ErrStateMismatch
	}
	if err != nil {
		c.logger.Error("failed to verify oauth state", zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if stored != providerName {
		return "", ErrStateMismatch
	}

	profile, err := provider.Exchange(ctx, grant)
	if err != nil {
		c.logger.Warn("provider grant exchange failed",
			zap.String("provider", providerName),
			zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}

	userID, role, err := c.users.ResolveOAuthUser(ctx, providerName, profile)
	if err != nil {
		return "", fmt.Errorf("failed to resolve oauth user: %w", err)
	}

	code, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate exchange code: %w", err)
	}

	payload, err := json.Marshal(pendingLogin{UserID: userID, Role: role, Provider: providerName})
	if err != nil {
		return "", fmt.Errorf("failed to encode pending login: %w", err)
	}

	if err := c.redis.Set(ctx, codeKeyPrefix+code, payload, c.config.OAuth.ExchangeCodeTTL).Err(); err != nil {
		c.logger.Error("failed to store exchange code", zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	c.logger.Info("exchange code issued",
		zap.String("provider", providerName),
		zap.Uint("user_id", userID))

	redirect, err := url.Parse(c.config.OAuth.FrontendCallbackURL)
	if err != nil {
		return "", fmt.Errorf("invalid frontend callback URL: %w", err)
	}
	q := redirect.Query()
	q.Set("code", code)
	redirect.RawQuery = q.Encode()

	return redirect.String(), nil
}

// Exchange redeems a code for a token pair and registers the session. The
// code is consumed atomically with GETDEL, so of two concurrent redeems
// exactly one succeeds; the other (and any later replay) gets
// ErrExchangeCodeInvalid.
func (c *Coordinator) Exchange(ctx context.Context, code string, meta session.Metadata) (*token.Pair, error) {
	payload, err := c.redis.GetDel(ctx, codeKeyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		c.logger.Warn("exchange attempted with invalid code")
		return nil, ErrExchangeCodeInvalid
	}
	if err != nil {
		c.logger.Error("failed to redeem exchange code", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	// The code is already gone from the store at this point; any failure
	// below cannot be replayed.
	var pending pendingLogin
	if err := json.Unmarshal(payload, &pending); err != nil {
		c.logger.Error("corrupt pending login payload", zap.Error(err))
		return nil, ErrExchangeCodeInvalid
	}

	pair, err := c.tokens.Issue(pending.UserID, pending.Role)
	if err != nil {
		return nil, err
	}

	if err := c.sessions.RegisterLogin(ctx, pending.UserID, pair, meta); err != nil {
		return nil, err
	}

	c.logger.Info("oauth session established",
		zap.String("provider", pending.Provider),
		zap.Uint("user_id", pending.UserID))

	return pair, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
