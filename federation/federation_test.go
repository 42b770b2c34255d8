package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/andrebq/doorman/ledger"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func fakeProvider(t *testing.T, profile map[string]interface{}) *httptest.Server {
	router := httprouter.New()
	router.HandlerFunc("POST", "/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	router.HandlerFunc("GET", "/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(profile)
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(srv *httptest.Server) Config {
	return Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:3000/auth/callback",
		Endpoint: &oauth2.Endpoint{
			AuthURL:   srv.URL + "/authorize",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		ProfileURL: srv.URL + "/me",
	}
}

func TestMicrosoftAuthenticate(t *testing.T) {
	srv := fakeProvider(t, map[string]interface{}{
		"id":                "m-123",
		"displayName":       "Carl Contoso",
		"userPrincipalName": "carl@contoso.onmicrosoft.com",
	})
	p := Microsoft(testConfig(srv))
	require.Equal(t, ledger.Microsoft, p.Name())

	authURL, err := url.Parse(p.AuthURL("some-state"))
	require.NoError(t, err)
	require.Equal(t, "select_account", authURL.Query().Get("prompt"))
	require.Equal(t, "some-state", authURL.Query().Get("state"))

	profile, err := p.Authenticate(context.Background(), "good-code")
	require.NoError(t, err)
	require.Equal(t, ledger.Microsoft, profile.Provider)
	require.Equal(t, "m-123", profile.Subject)
	require.Equal(t, "Carl Contoso", profile.DisplayName)
	require.Equal(t, []string{"carl@contoso.onmicrosoft.com"}, profile.Emails)

	_, err = p.Authenticate(context.Background(), "bad-code")
	require.Error(t, err)
}

func TestMicrosoftTenantEndpoint(t *testing.T) {
	p := Microsoft(Config{ClientID: "client", TenantID: "contoso"})
	authURL, err := url.Parse(p.AuthURL("s"))
	require.NoError(t, err)
	require.Equal(t, "login.microsoftonline.com", authURL.Host)
	require.Equal(t, "/contoso/oauth2/v2.0/authorize", authURL.Path)
}

func TestGoogleAuthenticate(t *testing.T) {
	srv := fakeProvider(t, map[string]interface{}{
		"sub":            "g-42",
		"name":           "Ana Lima",
		"email":          "ana@gmail.com",
		"email_verified": true,
	})
	p := Google(testConfig(srv))
	profile, err := p.Authenticate(context.Background(), "good-code")
	require.NoError(t, err)
	require.Equal(t, ledger.Google, profile.Provider)
	require.Equal(t, "g-42", profile.Subject)
	require.Equal(t, []string{"ana@gmail.com"}, profile.Emails)
	require.Equal(t, true, profile.Claims["email_verified"])
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Google(Config{ClientID: "g"}), nil, Microsoft(Config{ClientID: "m"}))
	require.Equal(t, []ledger.Provider{ledger.Google, ledger.Microsoft}, r.List())
	_, ok := r.Get("google")
	require.True(t, ok)
	_, ok = r.Get("local")
	require.False(t, ok)
}

func TestState(t *testing.T) {
	_, err := NewStateSigner("", time.Minute)
	require.Error(t, err)

	signer, err := NewStateSigner("s3cr3t", time.Minute)
	require.NoError(t, err)
	state, err := signer.Issue(ledger.Google)
	require.NoError(t, err)

	require.NoError(t, signer.Verify(state, ledger.Google))
	require.ErrorIs(t, signer.Verify(state, ledger.Microsoft), ErrInvalidState)
	require.ErrorIs(t, signer.Verify("not-a-token", ledger.Google), ErrInvalidState)

	other, err := NewStateSigner("another-secret", time.Minute)
	require.NoError(t, err)
	require.ErrorIs(t, other.Verify(state, ledger.Google), ErrInvalidState)

	expired, err := NewStateSigner("s3cr3t", -time.Minute)
	require.NoError(t, err)
	old, err := expired.Issue(ledger.Google)
	require.NoError(t, err)
	require.ErrorIs(t, signer.Verify(old, ledger.Google), ErrInvalidState)
}
