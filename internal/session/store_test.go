package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/storedash/internal/agent"
	"github.com/user/storedash/internal/httpclient"
	"github.com/user/storedash/internal/types"
)

func clientFor(t *testing.T, baseURL string) *httpclient.Client {
	t.Helper()
	urls := make(map[types.AgentName]string)
	for _, name := range types.AgentNames() {
		urls[name] = baseURL
	}
	r, err := agent.NewRegistry(urls)
	require.NoError(t, err)
	return httpclient.New(r, nil, httpclient.WithTimeout(2*time.Second))
}

// newCollector serves /login with the demo credentials.
func newCollector(t *testing.T) *httptest.Server {
	t.Helper()
	users := map[string][2]string{
		"admin": {"admin123", "admin"},
		"user":  {"user123", "user"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		u, ok := users[req.Username]
		if !ok || u[0] != req.Password {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"Invalid credentials"}`))
			return
		}
		json.NewEncoder(w).Encode(loginResponse{
			Token:   "tok-" + req.Username,
			Message: "Login successful",
			User:    req.Username,
			Role:    u[1],
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginPersistsTokenAndUser(t *testing.T) {
	srv := newCollector(t)
	kv := NewMemoryKV()
	s := New(kv, clientFor(t, srv.URL))

	sess, err := s.Login(context.Background(), "admin", "admin123")
	require.NoError(t, err)
	assert.Equal(t, "tok-admin", sess.Token)
	assert.Equal(t, types.User{Username: "admin", Role: "admin"}, sess.User)

	tok, ok := s.Token()
	assert.True(t, ok)
	assert.Equal(t, "tok-admin", tok)
	assert.True(t, s.IsAuthenticated())
	require.NotNil(t, s.CurrentUser())
	assert.Equal(t, "admin", s.CurrentUser().Role)

	m, _ := kv.Load()
	assert.Equal(t, "tok-admin", m[TokenKey])
	assert.JSONEq(t, `{"username":"admin","role":"admin"}`, m[UserKey])
}

func TestLoginFailureLeavesStoreUntouched(t *testing.T) {
	srv := newCollector(t)
	s := New(NewMemoryKV(), clientFor(t, srv.URL))

	_, err := s.Login(context.Background(), "user", "user123")
	require.NoError(t, err)

	_, err = s.Login(context.Background(), "admin", "wrong")
	require.ErrorIs(t, err, ErrAuth)
	assert.Contains(t, err.Error(), "Invalid credentials")

	tok, ok := s.Token()
	assert.True(t, ok)
	assert.Equal(t, "tok-user", tok)
	assert.Equal(t, "user", s.CurrentUser().Username)
}

func TestLoginUnreachableCollector(t *testing.T) {
	srv := newCollector(t)
	url := srv.URL
	srv.Close()

	s := New(NewMemoryKV(), clientFor(t, url))
	_, err := s.Login(context.Background(), "admin", "admin123")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuth)
	assert.False(t, s.IsAuthenticated())
}

func TestLogoutIsIdempotent(t *testing.T) {
	srv := newCollector(t)
	s := New(NewMemoryKV(), clientFor(t, srv.URL))

	require.NoError(t, s.Logout())

	_, err := s.Login(context.Background(), "admin", "admin123")
	require.NoError(t, err)
	require.NoError(t, s.Logout())
	require.NoError(t, s.Logout())

	assert.False(t, s.IsAuthenticated())
	assert.Nil(t, s.CurrentUser())
	assert.Nil(t, s.Session())
}

func TestSessionSequence(t *testing.T) {
	srv := newCollector(t)
	s := New(NewMemoryKV(), clientFor(t, srv.URL))

	steps := []struct {
		op   string
		user string
		pass string
		want bool
	}{
		{"login", "admin", "admin123", true},
		{"logout", "", "", false},
		{"login", "admin", "nope", false},
		{"login", "user", "user123", true},
		{"login", "admin", "nope", true},
		{"logout", "", "", false},
		{"logout", "", "", false},
	}
	for i, st := range steps {
		switch st.op {
		case "login":
			s.Login(context.Background(), st.user, st.pass)
		case "logout":
			require.NoError(t, s.Logout())
		}
		assert.Equal(t, st.want, s.IsAuthenticated(), "step %d (%s %s)", i, st.op, st.user)
	}
}

func TestCurrentUserMalformedRecord(t *testing.T) {
	kv := NewMemoryKV()
	kv.Update(func(m map[string]string) {
		m[TokenKey] = "t"
		m[UserKey] = "{not json"
	})
	s := New(kv, httpclient.New(agent.Default(), nil))
	assert.True(t, s.IsAuthenticated())
	assert.Nil(t, s.CurrentUser())
	sess := s.Session()
	require.NotNil(t, sess)
	assert.Equal(t, "t", sess.Token)
}

func TestConcurrentLoginLogout(t *testing.T) {
	srv := newCollector(t)
	s := New(NewMemoryKV(), clientFor(t, srv.URL))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Login(context.Background(), "admin", "admin123")
		}()
		go func() {
			defer wg.Done()
			s.Logout()
		}()
	}
	wg.Wait()

	// Whatever the interleaving, token and user record agree.
	tok, ok := s.Token()
	if ok {
		assert.Equal(t, "tok-admin", tok)
		assert.NotNil(t, s.CurrentUser())
	} else {
		assert.Nil(t, s.CurrentUser())
	}
}

func TestFileKVPersistsAcrossInstances(t *testing.T) {
	srv := newCollector(t)
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	s1 := New(NewFileKV(path), clientFor(t, srv.URL))
	_, err := s1.Login(context.Background(), "user", "user123")
	require.NoError(t, err)

	s2 := New(NewFileKV(path), clientFor(t, srv.URL))
	tok, ok := s2.Token()
	require.True(t, ok)
	assert.Equal(t, "tok-user", tok)
	assert.Equal(t, "user", s2.CurrentUser().Role)

	require.NoError(t, s2.Logout())
	assert.False(t, s1.IsAuthenticated())
}

func TestLoginGoesThroughAgentClient(t *testing.T) {
	var gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-Request-ID")
		assert.Empty(t, r.Header.Get("Authorization"), "login is public")
		w.Write([]byte(`{"token":"tok-admin","user":"admin","role":"admin"}`))
	}))
	defer srv.Close()

	s := New(NewMemoryKV(), clientFor(t, srv.URL))
	_, err := s.Login(context.Background(), "admin", "admin123")
	require.NoError(t, err)
	assert.Len(t, gotID, 36)
}

func TestLoginRespectsClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	urls := make(map[types.AgentName]string)
	for _, name := range types.AgentNames() {
		urls[name] = srv.URL
	}
	reg, err := agent.NewRegistry(urls)
	require.NoError(t, err)
	s := New(NewMemoryKV(), httpclient.New(reg, nil, httpclient.WithTimeout(50*time.Millisecond)))

	start := time.Now()
	_, err = s.Login(context.Background(), "admin", "admin123")
	require.Error(t, err)
	assert.True(t, httpclient.IsTimeout(err))
	assert.NotErrorIs(t, err, ErrAuth)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLoginRejectionKeepsOtherSession(t *testing.T) {
	srv := newCollector(t)
	base := clientFor(t, srv.URL)
	s := New(NewMemoryKV(), base)
	authed := base.WithTokens(s)

	_, err := s.Login(context.Background(), "user", "user123")
	require.NoError(t, err)

	// A bad password is answered 401 by a public endpoint; it must not be
	// taken for a rejected session.
	_, err = New(NewMemoryKV(), authed).Login(context.Background(), "admin", "wrong")
	require.ErrorIs(t, err, ErrAuth)
	assert.True(t, s.IsAuthenticated())
}
