package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cartsync/internal/domain"
	"cartsync/internal/notify"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// refreshTimeout bounds a shared refresh, which outlives the caller that
// started it.
const refreshTimeout = 15 * time.Second

// ErrInvalidToken is returned when a token carries no usable user id.
var ErrInvalidToken = errors.New("invalid token")

// Tokens is the pair issued by the authentication service.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type authAPI interface {
	Login(ctx context.Context, email, password string) (Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

// Service holds the authenticated session of this client.
type Service struct {
	api      authAPI
	notifier notify.Notifier
	logger   *zap.Logger

	mu      sync.RWMutex
	access  string
	refresh string
	userID  string
	hooks   []func(ctx context.Context, userID string)

	refreshes singleflight.Group
}

// New creates a Service backed by the given authentication API.
func New(api authAPI, notifier notify.Notifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{api: api, notifier: notifier, logger: logger}
}

// Login exchanges credentials for tokens and starts the session.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", errors.New("email and password required")
	}
	tokens, err := s.api.Login(ctx, email, password)
	if err != nil {
		return "", err
	}
	if err := s.SetTokens(tokens.AccessToken, tokens.RefreshToken); err != nil {
		return "", err
	}
	s.logger.Info("session started", zap.String("user_id", s.UserID()))
	return s.UserID(), nil
}

// SetTokens installs a token pair, e.g. restored from configuration.
func (s *Service) SetTokens(access, refresh string) error {
	userID, err := UserIDFromToken(access)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.access = access
	s.refresh = refresh
	s.userID = userID
	s.mu.Unlock()
	return nil
}

// AccessToken returns the current bearer token, empty when logged out.
func (s *Service) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// UserID returns the user id decoded from the access token.
func (s *Service) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Authenticated reports whether a session is active.
func (s *Service) Authenticated() bool {
	return s.AccessToken() != ""
}

// Refresh obtains a new access token. Concurrent callers share one refresh
// round-trip, which keeps running if the caller goes away. When the backend
// rejects the refresh the session is logged out and domain.ErrSessionExpired
// is returned; a refresh that is cut short leaves the session in place.
func (s *Service) Refresh(ctx context.Context) error {
	ch := s.refreshes.DoChan("refresh", func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return nil, s.doRefresh(rctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) doRefresh(ctx context.Context) error {
	s.mu.RLock()
	refresh := s.refresh
	s.mu.RUnlock()
	if refresh == "" {
		s.expire(ctx, errors.New("no refresh token"))
		return domain.ErrSessionExpired
	}

	tokens, err := s.api.Refresh(ctx, refresh)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("token refresh interrupted", zap.Error(err))
		return err
	}
	if err == nil {
		if tokens.RefreshToken == "" {
			tokens.RefreshToken = refresh
		}
		err = s.SetTokens(tokens.AccessToken, tokens.RefreshToken)
	}
	if err != nil {
		s.expire(ctx, err)
		return fmt.Errorf("%w: %v", domain.ErrSessionExpired, err)
	}
	s.logger.Debug("access token refreshed", zap.String("user_id", s.UserID()))
	return nil
}

func (s *Service) expire(ctx context.Context, cause error) {
	s.logger.Warn("session refresh failed", zap.Error(cause))
	s.notifier.Notify(notify.Notice{
		Level:   notify.LevelWarn,
		Code:    notify.CodeAuth,
		Message: "Your session has expired. Please log in again.",
	})
	s.Logout(ctx)
}

// OnLogout registers fn to run whenever the session ends. fn receives the id
// of the user that was signed in.
func (s *Service) OnLogout(fn func(ctx context.Context, userID string)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Logout clears the session and runs the logout hooks in registration order.
func (s *Service) Logout(ctx context.Context) {
	s.mu.Lock()
	userID := s.userID
	s.access, s.refresh, s.userID = "", "", ""
	hooks := append([]func(context.Context, string){}, s.hooks...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx, userID)
	}
	s.logger.Info("session ended", zap.String("user_id", userID))
}

// userClaims lists the claim names backends use for the user id.
var userClaims = []string{"id", "_id", "userId", "sub"}

// UserIDFromToken decodes the user id from a JWT payload without verifying
// the signature; verification is the backend's job.
func UserIDFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	for _, name := range userClaims {
		if v, ok := claims[name].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", ErrInvalidToken
}
