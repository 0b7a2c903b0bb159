package guard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func controlAPIStub(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthorize_ValidAPIKey(t *testing.T) {
	srv := controlAPIStub(t, http.StatusOK, `{"account_id":"acc-1","user_id":"user-1"}`)
	g := New(srv.URL, false, DefaultPolicy(), Credentials{})

	scope, err := g.Authorize(context.Background(), Credentials{APIKey: "app.keyId:keySecret"})
	require.NoError(t, err)
	assert.Equal(t, "app.keyId:keySecret", scope.APIKey)
	assert.Equal(t, "acc-1", scope.Identity.AccountID)
	assert.Equal(t, "user-1", scope.Identity.UserID)
}

func TestAuthorize_RejectedByControlAPI(t *testing.T) {
	srv := controlAPIStub(t, http.StatusUnauthorized, `{"error":"unauthorized"}`)
	g := New(srv.URL, false, DefaultPolicy(), Credentials{})

	_, err := g.Authorize(context.Background(), Credentials{APIKey: "app.keyId:keySecret"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthorize_TokenUsesBearerAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer my-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"account_id":"acc-2","user_id":"user-2"}`))
	}))
	defer srv.Close()
	g := New(srv.URL, false, DefaultPolicy(), Credentials{})

	scope, err := g.Authorize(context.Background(), Credentials{AccessToken: "my-token"})
	require.NoError(t, err)
	assert.Equal(t, "my-token", scope.AccessToken)
}

func TestAuthorize_APIKeyUsesHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "app.keyId:keySecret", r.Header.Get("X-Ably-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	g := New(srv.URL, false, DefaultPolicy(), Credentials{})

	_, err := g.Authorize(context.Background(), Credentials{APIKey: "app.keyId:keySecret"})
	require.NoError(t, err)
}

func TestAuthorize_MalformedAPIKey(t *testing.T) {
	g := New("http://unused.invalid", false, DefaultPolicy(), Credentials{})

	for _, key := range []string{"nodot", "app.key", "app:secret", "a b.c:d"} {
		_, err := g.Authorize(context.Background(), Credentials{APIKey: key})
		assert.ErrorIs(t, err, ErrUnauthorized, "key %q", key)
	}
}

func TestAuthorize_NoCredentials(t *testing.T) {
	g := New("http://unused.invalid", false, DefaultPolicy(), Credentials{})

	_, err := g.Authorize(context.Background(), Credentials{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthorize_FallsBackToDefaults(t *testing.T) {
	srv := controlAPIStub(t, http.StatusOK, `{"account_id":"acc-def"}`)
	g := New(srv.URL, false, DefaultPolicy(), Credentials{APIKey: "app.default:secret"})

	scope, err := g.Authorize(context.Background(), Credentials{})
	require.NoError(t, err)
	assert.Equal(t, "app.default:secret", scope.APIKey)
}

func TestAuthorize_DisabledSkipsControlAPI(t *testing.T) {
	// Any call would fail: the URL does not resolve.
	g := New("http://unused.invalid", true, DefaultPolicy(), Credentials{})

	scope, err := g.Authorize(context.Background(), Credentials{APIKey: "app.keyId:keySecret"})
	require.NoError(t, err)
	assert.Equal(t, Identity{}, scope.Identity)
}

func TestAuthorize_ControlAPIUnreachable(t *testing.T) {
	g := New("http://unused.invalid", false, DefaultPolicy(), Credentials{})

	_, err := g.Authorize(context.Background(), Credentials{APIKey: "app.keyId:keySecret"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnauthorized), "transport failure must not read as a credential rejection")
}

func TestScope_Matches(t *testing.T) {
	g := New("http://unused.invalid", true, DefaultPolicy(), Credentials{})

	scope, err := g.Authorize(context.Background(), Credentials{APIKey: "app.keyId:keySecret"})
	require.NoError(t, err)

	assert.True(t, scope.Matches(Credentials{APIKey: "app.keyId:keySecret"}))
	assert.False(t, scope.Matches(Credentials{APIKey: "app.other:secret"}))
	assert.False(t, scope.Matches(Credentials{}))
}

func TestScope_MatchesToken(t *testing.T) {
	g := New("http://unused.invalid", true, DefaultPolicy(), Credentials{})

	scope, err := g.Authorize(context.Background(), Credentials{AccessToken: "tok-1"})
	require.NoError(t, err)

	assert.True(t, scope.Matches(Credentials{AccessToken: "tok-1"}))
	assert.False(t, scope.Matches(Credentials{AccessToken: "tok-2"}))
}
