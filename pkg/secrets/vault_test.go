package secrets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeVault(t *testing.T) *httptest.Server {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("X-Vault-Token") != "good-token" {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]interface{}{"errors": []string{"permission denied"}})
			return
		}
		switch r.URL.Path {
		case "/v1/auth/token/lookup-self":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{"display_name": "token", "policies": []string{"default"}},
			})
		case "/v1/secret/powerwall":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"lease_duration": 2764800,
				"data": map[string]interface{}{
					"email":    "me@example.com",
					"password": "pw",
					"pin":      1234,
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]interface{}{"errors": []string{}})
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestVault(t *testing.T) {
	ctx := context.Background()
	ts := newFakeVault(t)

	t.Run("Credentials", func(t *testing.T) {
		v := NewVault(ts.URL, "good-token", "secret", "powerwall")
		require.NoError(t, v.Validate())
		require.NoError(t, v.Init())

		creds, err := v.Credentials(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"email":    "me@example.com",
			"password": "pw",
			"pin":      "1234",
		}, creds)

		creds, err = v.Credentials(ctx, "powerwall")
		require.NoError(t, err)
		assert.Equal(t, "pw", creds["password"])
	})

	t.Run("TokenFile", func(t *testing.T) {
		tokenFile := filepath.Join(t.TempDir(), ".vault-token")
		require.NoError(t, os.WriteFile(tokenFile, []byte("good-token\n"), 0o600))
		v := NewVault(ts.URL, "", "secret", "powerwall")
		v.tokenFile = tokenFile
		require.NoError(t, v.Init())

		creds, err := v.Credentials(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "me@example.com", creds["email"])
	})

	t.Run("NoToken", func(t *testing.T) {
		v := NewVault(ts.URL, "", "secret", "powerwall")
		v.tokenFile = filepath.Join(t.TempDir(), "missing")
		assert.ErrorIs(t, v.Init(), ErrAuth)
	})

	t.Run("BadToken", func(t *testing.T) {
		v := NewVault(ts.URL, "bad-token", "secret", "powerwall")
		require.NoError(t, v.Init())
		_, err := v.Credentials(ctx, "")
		assert.ErrorIs(t, err, ErrAuth)
		assert.ErrorContains(t, err, "can not authenticate")
	})

	t.Run("NotFound", func(t *testing.T) {
		v := NewVault(ts.URL, "good-token", "secret", "nothing-here")
		require.NoError(t, v.Init())
		_, err := v.Credentials(ctx, "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("NoPath", func(t *testing.T) {
		v := NewVault(ts.URL, "good-token", "secret", "")
		require.NoError(t, v.Init())
		_, err := v.Credentials(ctx, "")
		assert.ErrorContains(t, err, "vault-secrets-path")
	})

	t.Run("NotInitialized", func(t *testing.T) {
		v := NewVault(ts.URL, "good-token", "secret", "powerwall")
		_, err := v.Credentials(ctx, "")
		assert.ErrorIs(t, err, ErrAuth)
	})

	t.Run("Validate", func(t *testing.T) {
		assert.Error(t, NewVault("", "t", "secret", "p").Validate())
		assert.Error(t, NewVault(ts.URL, "t", "", "p").Validate())
	})
}

func TestStatic(t *testing.T) {
	s := Static{"password": "pw"}
	creds, err := s.Credentials(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"password": "pw"}, creds)

	creds["password"] = "changed"
	assert.Equal(t, "pw", s["password"])

	var _ Provider = s
	var _ Provider = (*Vault)(nil)
}
