// Package session owns the authenticated session: the bearer token issued by
// the collector agent and the user record that came with it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/user/storedash/internal/agent"
	"github.com/user/storedash/internal/httpclient"
	"github.com/user/storedash/internal/types"
)

// Keys written to the KV. Nothing outside this package writes them.
const (
	TokenKey = "auth_token"
	UserKey  = "current_user"
)

// ErrAuth is returned by Login when the collector rejects the credentials.
var ErrAuth = errors.New("login rejected")

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string `json:"token"`
	Message string `json:"message"`
	User    string `json:"user"`
	Role    string `json:"role"`
}

// Doer sends one request to an agent. *httpclient.Client implements it.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request, out any) error
}

// Store is the single source of truth for the session. It is safe for
// concurrent use.
type Store struct {
	kv     KV
	client Doer

	mu sync.Mutex
}

// New creates a Store persisting to kv and logging in through client. The
// login endpoint is public, so client need not carry this store's token.
func New(kv KV, client Doer) *Store {
	return &Store{kv: kv, client: client}
}

// Login exchanges credentials for a token. On success the token and user
// record are persisted together; on failure the store is left as it was.
func (s *Store) Login(ctx context.Context, username, password string) (*types.Session, error) {
	var lr loginResponse
	req := httpclient.Request{
		Endpoint: agent.Login,
		Body:     loginRequest{Username: username, Password: password},
	}
	if err := s.client.Do(ctx, req, &lr); err != nil {
		return nil, loginError(err)
	}
	if lr.Token == "" {
		return nil, fmt.Errorf("%w: response carried no token", ErrAuth)
	}
	if lr.User == "" {
		lr.User = username
	}

	sess := &types.Session{
		Token: lr.Token,
		User:  types.User{Username: lr.User, Role: lr.Role},
	}
	userJSON, err := json.Marshal(sess.User)
	if err != nil {
		return nil, fmt.Errorf("marshal user record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.kv.Update(func(m map[string]string) {
		m[TokenKey] = sess.Token
		m[UserKey] = string(userJSON)
	})
	if err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}

	slog.Info("logged in", "user", sess.User.Username, "role", sess.User.Role)
	return sess, nil
}

// loginError maps a failed login call. Any answer other than a 2xx from the
// collector is a rejection; transport failures pass through.
func loginError(err error) error {
	var ne *httpclient.NetworkError
	var ve *httpclient.ValidationError
	switch {
	case errors.As(err, &ve):
		return fmt.Errorf("%w: %s", ErrAuth, ve.Detail)
	case errors.As(err, &ne) && ne.Kind == httpclient.KindStatus:
		detail := ne.Message
		if detail == "" {
			detail = http.StatusText(ne.Status)
		}
		return fmt.Errorf("%w: %s", ErrAuth, detail)
	case httpclient.IsDecode(err):
		return fmt.Errorf("decode login response: %w", err)
	default:
		return fmt.Errorf("send login request: %w", err)
	}
}

// Logout removes the token and user record. Calling it without a session is
// a no-op.
func (s *Store) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var had bool
	err := s.kv.Update(func(m map[string]string) {
		_, had = m[TokenKey]
		delete(m, TokenKey)
		delete(m, UserKey)
	})
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if had {
		slog.Info("session cleared")
	}
	return nil
}

// Token returns the current bearer token, if any.
func (s *Store) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.kv.Load()
	if err != nil {
		slog.Warn("failed to load session", "error", err)
		return "", false
	}
	tok := m[TokenKey]
	return tok, tok != ""
}

// IsAuthenticated reports whether a token is held. No validity check is made;
// an expired token is discovered by the next 401.
func (s *Store) IsAuthenticated() bool {
	_, ok := s.Token()
	return ok
}

// CurrentUser returns the stored user record, or nil when logged out or when
// the record cannot be parsed.
func (s *Store) CurrentUser() *types.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.kv.Load()
	if err != nil {
		slog.Warn("failed to load session", "error", err)
		return nil
	}
	if m[TokenKey] == "" {
		return nil
	}
	raw, ok := m[UserKey]
	if !ok {
		return nil
	}
	var u types.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		slog.Warn("discarding malformed user record", "error", err)
		return nil
	}
	return &u
}

// Session returns the full session, or nil when logged out.
func (s *Store) Session() *types.Session {
	tok, ok := s.Token()
	if !ok {
		return nil
	}
	sess := &types.Session{Token: tok}
	if u := s.CurrentUser(); u != nil {
		sess.User = *u
	}
	return sess
}
