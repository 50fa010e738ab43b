package idp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/jrsteele09/go-access-broker/idp"
	"github.com/jrsteele09/go-access-broker/internal/config"
	"github.com/jrsteele09/go-access-broker/internal/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testApp = config.Application{
	ClientID:    "dev-app",
	Scope:       "api://dev/.default offline_access",
	LoginSuffix: "@homolog.example.com",
}

type fakeIdP struct {
	*httptest.Server
	calls    atomic.Int32
	lastForm atomic.Value
	handler  func(w http.ResponseWriter, r *http.Request)
}

func newFakeIdP(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *fakeIdP {
	t.Helper()
	f := &fakeIdP{handler: handler}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		require.NoError(t, r.ParseForm())
		f.lastForm.Store(r.PostForm)
		f.handler(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeIdP) form() url.Values {
	v, _ := f.lastForm.Load().(url.Values)
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func tokenResponse(access, refresh string, expiresIn int) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  access,
			"refresh_token": refresh,
			"expires_in":    expiresIn,
			"token_type":    "Bearer",
		})
	}
}

func invalidGrant(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":             "invalid_grant",
		"error_description": "AADSTS50126: Error validating credentials",
	})
}

func newClient(f *fakeIdP) *idp.Client {
	return idp.New(f.URL, idp.WithHTTPClient(f.Client()), idp.WithLogger(zerolog.Nop()))
}

func TestPasswordGrant(t *testing.T) {
	f := newFakeIdP(t, tokenResponse("access-1", "refresh-1", 3599))

	grant, err := newClient(f).PasswordGrant(context.Background(), testApp, "jdoe", "pw")
	require.NoError(t, err)
	require.Equal(t, "access-1", grant.AccessToken)
	require.Equal(t, "refresh-1", grant.RefreshToken)
	require.Equal(t, 3599, grant.ExpiresIn)
	require.EqualValues(t, 1, f.calls.Load())

	values := f.form()
	require.Equal(t, "password", values.Get("grant_type"))
	require.Equal(t, "jdoe@homolog.example.com", values.Get("username"))
	require.Equal(t, "pw", values.Get("password"))
	require.Equal(t, "dev-app", values.Get("client_id"))
	require.Equal(t, "api://dev/.default offline_access", values.Get("scope"))
}

func TestPasswordGrant_InvalidGrant(t *testing.T) {
	f := newFakeIdP(t, invalidGrant)

	_, err := newClient(f).PasswordGrant(context.Background(), testApp, "jdoe@example.com", "wrong")
	require.ErrorIs(t, err, errors.ErrUpstreamAuth)

	var upstream *idp.UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusBadRequest, upstream.StatusCode)
	require.Equal(t, "invalid_grant", upstream.Code)
	require.Contains(t, upstream.Error(), "AADSTS50126")
}

func TestPasswordGrant_MissingRefreshToken(t *testing.T) {
	f := newFakeIdP(t, tokenResponse("access-1", "", 3600))

	_, err := newClient(f).PasswordGrant(context.Background(), testApp, "jdoe", "pw")
	require.ErrorIs(t, err, errors.ErrUpstreamAuth)
}

func TestPasswordGrant_Unreachable(t *testing.T) {
	f := newFakeIdP(t, tokenResponse("a", "r", 3600))
	c := newClient(f)
	f.Close()

	_, err := c.PasswordGrant(context.Background(), testApp, "jdoe", "pw")
	require.ErrorIs(t, err, errors.ErrUpstreamAuth)
}

func TestRefreshGrant(t *testing.T) {
	f := newFakeIdP(t, tokenResponse("access-2", "refresh-2", 3600))

	grant, err := newClient(f).RefreshGrant(context.Background(), testApp, "refresh-1")
	require.NoError(t, err)
	require.Equal(t, "access-2", grant.AccessToken)
	require.Equal(t, "refresh-2", grant.RefreshToken)

	values := f.form()
	require.Equal(t, "refresh_token", values.Get("grant_type"))
	require.Equal(t, "refresh-1", values.Get("refresh_token"))
	require.Equal(t, "dev-app", values.Get("client_id"))
	require.Equal(t, "api://dev/.default offline_access", values.Get("scope"))

	_, err = newClient(f).RefreshGrant(context.Background(), testApp, "")
	require.ErrorIs(t, err, errors.ErrUpstreamAuth)
}

func TestRefreshGrant_NoScopeConfigured(t *testing.T) {
	f := newFakeIdP(t, tokenResponse("access-2", "refresh-2", 3600))
	app := testApp
	app.Scope = ""

	_, err := newClient(f).RefreshGrant(context.Background(), app, "refresh-1")
	require.NoError(t, err)
	require.Equal(t, "refresh_token", f.form().Get("grant_type"))
	require.False(t, f.form().Has("scope"))
}

func TestRefreshGrant_InvalidGrant(t *testing.T) {
	f := newFakeIdP(t, invalidGrant)

	_, err := newClient(f).RefreshGrant(context.Background(), testApp, "stale")
	var upstream *idp.UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, http.StatusBadRequest, upstream.StatusCode)
	require.Equal(t, "invalid_grant", upstream.Code)
	require.Equal(t, "api://dev/.default offline_access", f.form().Get("scope"))
}

func TestValidateCredentials(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newFakeIdP(t, tokenResponse("a", "r", 3600))
		require.NoError(t, newClient(f).ValidateCredentials(context.Background(), testApp, "jdoe", "pw"))
	})

	t.Run("rejected", func(t *testing.T) {
		f := newFakeIdP(t, invalidGrant)
		err := newClient(f).ValidateCredentials(context.Background(), testApp, "jdoe", "wrong")
		require.ErrorIs(t, err, errors.ErrInvalidCredentials)
	})

	t.Run("provider down", func(t *testing.T) {
		f := newFakeIdP(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "temporarily_unavailable"})
		})
		err := newClient(f).ValidateCredentials(context.Background(), testApp, "jdoe", "pw")
		require.ErrorIs(t, err, errors.ErrUpstreamAuth)
		require.NotErrorIs(t, err, errors.ErrInvalidCredentials)
	})
}

func TestQualifyUsername(t *testing.T) {
	require.Equal(t, "jdoe@homolog.example.com", idp.QualifyUsername("jdoe", "@homolog.example.com"))
	require.Equal(t, "jdoe@other.com", idp.QualifyUsername("jdoe@other.com", "@homolog.example.com"))
	require.Equal(t, "jdoe", idp.QualifyUsername("jdoe", ""))
}

func TestDiscover(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/keys",
		})
	}))
	defer srv.Close()

	tokenURL, err := idp.Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/token", tokenURL)
}
