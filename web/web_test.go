package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/andrebq/doorman/account"
	"github.com/andrebq/doorman/federation"
	"github.com/andrebq/doorman/identity"
	"github.com/andrebq/doorman/internal/testutil"
	"github.com/andrebq/doorman/ledger"
	"github.com/andrebq/doorman/session"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/steinfletcher/apitest"
	jsonpath "github.com/steinfletcher/apitest-jsonpath"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type (
	gateway struct {
		handler http.Handler
		store   *ledger.Store
	}
)

func fakeGoogle(t *testing.T) *httptest.Server {
	router := httprouter.New()
	router.HandlerFunc("POST", "/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tk", "token_type": "Bearer", "expires_in": 3600})
	})
	router.HandlerFunc("GET", "/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"sub": "g-1", "name": "Ana Lima", "email": "Ana@Gmail.com"})
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func newGateway(ctx context.Context, t *testing.T, reg *prometheus.Registry) *gateway {
	store, cleanup := testutil.AcquireLedger(ctx, t, "web")
	t.Cleanup(cleanup)

	tokens, err := session.InMemoryTokenStore(ctx, time.Hour)
	require.NoError(t, err)
	states, err := federation.NewStateSigner("test-secret", time.Minute)
	require.NoError(t, err)

	idp := fakeGoogle(t)
	google := federation.Google(federation.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:3000/auth/google/callback",
		Endpoint: &oauth2.Endpoint{
			AuthURL:   idp.URL + "/authorize",
			TokenURL:  idp.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		ProfileURL: idp.URL + "/userinfo",
	})

	handler, err := AsHandler(ctx, Options{
		Directory:       store,
		Accounts:        account.New(store, account.NewMetrics(reg)),
		Normalizer:      identity.New(nil),
		Sessions:        session.NewManager(tokens, "", time.Hour, true),
		Providers:       federation.NewRegistry(google),
		States:          states,
		Gatherer:        reg,
		AllowHTTPCookie: true,
	})
	require.NoError(t, err)
	return &gateway{handler: handler, store: store}
}

func sessionCookie(t *testing.T, res *http.Response) string {
	for _, c := range res.Cookies() {
		if c.Name == session.DefaultCookieName {
			return c.Value
		}
	}
	t.Fatal("response did not set a session cookie")
	return ""
}

func TestLocalAccounts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw := newGateway(ctx, t, prometheus.NewRegistry())

	res := apitest.Handler(gw.handler).Post("/api/signup").
		JSON(`{"username":"bob","email":"bob@example.com","password":"hunter2"}`).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.success", true)).
		Assert(jsonpath.Equal("$.message", "Signup successful!")).
		CookiePresent(session.DefaultCookieName).
		End()
	signupCookie := sessionCookie(t, res.Response)

	apitest.Handler(gw.handler).Post("/api/signup").
		JSON(`{"username":"bob","email":"other@example.com","password":"pw"}`).
		Expect(t).
		Status(http.StatusConflict).
		Assert(jsonpath.Equal("$.success", false)).
		Assert(jsonpath.Equal("$.message", "User already exists.")).
		End()

	apitest.Handler(gw.handler).Post("/api/signup").
		JSON(`{"username":"carl","email":"","password":"pw"}`).
		Expect(t).
		Status(http.StatusBadRequest).
		Assert(jsonpath.Equal("$.message", "All fields are required.")).
		End()

	apitest.Handler(gw.handler).Post("/api/signup").
		JSON(`not json`).
		Expect(t).
		Status(http.StatusBadRequest).
		End()

	apitest.Handler(gw.handler).Post("/api/login").
		JSON(`not json`).
		Expect(t).
		Status(http.StatusUnauthorized).
		Assert(jsonpath.Equal("$.success", false)).
		Assert(jsonpath.Equal("$.message", "Invalid credentials.")).
		End()

	apitest.Handler(gw.handler).Post("/api/login").
		JSON(`{"username":"bob","password":"wrong"}`).
		Expect(t).
		Status(http.StatusUnauthorized).
		Assert(jsonpath.Equal("$.message", "Invalid credentials.")).
		End()

	apitest.Handler(gw.handler).Post("/api/login").
		FormData("username", "bob").
		FormData("password", "hunter2").
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.message", "Login successful!")).
		CookiePresent(session.DefaultCookieName).
		End()

	apitest.Handler(gw.handler).Get("/welcome").
		Expect(t).
		Status(http.StatusFound).
		Header("Location", "/").
		End()

	apitest.Handler(gw.handler).Get("/welcome").
		Cookie(session.DefaultCookieName, signupCookie).
		Expect(t).
		Status(http.StatusOK).
		HeaderPresent("Content-Type").
		End()

	apitest.Handler(gw.handler).Get("/api/me").
		Cookie(session.DefaultCookieName, signupCookie).
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.email", "bob@example.com")).
		Assert(jsonpath.Equal("$.provider", "local")).
		End()

	apitest.Handler(gw.handler).Get("/logout").
		Cookie(session.DefaultCookieName, signupCookie).
		Expect(t).
		Status(http.StatusFound).
		Header("Location", "/").
		End()

	apitest.Handler(gw.handler).Get("/api/me").
		Cookie(session.DefaultCookieName, signupCookie).
		Expect(t).
		Status(http.StatusUnauthorized).
		End()

	events, err := gw.store.ListEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, ledger.Signup, events[0].Action)
	require.Equal(t, ledger.Login, events[1].Action)
}

func startFederated(t *testing.T, gw *gateway) string {
	res := apitest.Handler(gw.handler).Get("/auth/google").
		Expect(t).
		Status(http.StatusFound).
		CookiePresent(stateCookie).
		End()
	location, err := url.Parse(res.Response.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/authorize", location.Path)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestFederatedSignIn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw := newGateway(ctx, t, prometheus.NewRegistry())

	for _, action := range []ledger.Action{ledger.Signup, ledger.Login} {
		state := startFederated(t, gw)
		res := apitest.Handler(gw.handler).Get("/auth/google/callback").
			Query("code", "good-code").
			Query("state", state).
			Cookie(stateCookie, state).
			Expect(t).
			Status(http.StatusFound).
			Header("Location", fmt.Sprintf("/welcome?type=%v", action)).
			End()
		cookie := sessionCookie(t, res.Response)

		apitest.Handler(gw.handler).Get("/api/me").
			Cookie(session.DefaultCookieName, cookie).
			Expect(t).
			Status(http.StatusOK).
			Assert(jsonpath.Equal("$.email", "ana@gmail.com")).
			Assert(jsonpath.Equal("$.username", "Ana Lima")).
			End()
	}

	apitest.Handler(gw.handler).Get("/users").
		Expect(t).
		Status(http.StatusOK).
		Assert(jsonpath.Equal("$.total_users", float64(1))).
		Assert(jsonpath.Len("$.recent_activity", 2)).
		Assert(jsonpath.Equal("$.registrations[0].provider", "google")).
		End()
}

func TestFederatedFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw := newGateway(ctx, t, prometheus.NewRegistry())

	failed := func(req *apitest.Request) {
		req.Expect(t).
			Status(http.StatusFound).
			Header("Location", "/?error=auth_failed").
			End()
	}

	state := startFederated(t, gw)
	// cookie does not match the state
	failed(apitest.Handler(gw.handler).Get("/auth/google/callback").
		Query("code", "good-code").Query("state", state).Cookie(stateCookie, "forged"))
	// state was never issued by us
	failed(apitest.Handler(gw.handler).Get("/auth/google/callback").
		Query("code", "good-code").Query("state", "forged").Cookie(stateCookie, "forged"))
	// provider refused the user
	failed(apitest.Handler(gw.handler).Get("/auth/google/callback").
		Query("error", "access_denied").Query("state", state).Cookie(stateCookie, state))
	// code exchange fails
	failed(apitest.Handler(gw.handler).Get("/auth/google/callback").
		Query("code", "bad-code").Query("state", state).Cookie(stateCookie, state))

	apitest.Handler(gw.handler).Get("/auth/microsoft").
		Expect(t).
		Status(http.StatusNotFound).
		End()

	n, err := gw.store.CountEvents(ctx, "ana@gmail.com")
	require.NoError(t, err)
	require.Equal(t, 0, n, "failed handshakes must not touch the ledger")
}

func TestPagesAndDiagnostics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := prometheus.NewRegistry()
	gw := newGateway(ctx, t, reg)

	// containsInOrder checks that every substring shows up in the body,
	// each one after the previous.
	containsInOrder := func(substrs ...string) apitest.Assert {
		return func(res *http.Response, req *http.Request) error {
			body, err := io.ReadAll(res.Body)
			if err != nil {
				return err
			}
			rest := string(body)
			for _, substr := range substrs {
				idx := strings.Index(rest, substr)
				if idx < 0 {
					return errors.New("response body does not contain " + substr + " where expected")
				}
				rest = rest[idx+len(substr):]
			}
			return nil
		}
	}

	apitest.Handler(gw.handler).Get("/").
		Expect(t).
		Status(http.StatusOK).
		Assert(containsInOrder(`id="signupForm"`, `id="confirmPassword"`)).
		End()

	apitest.Handler(gw.handler).Get("/login.js").
		Expect(t).
		Status(http.StatusOK).
		Assert(containsInOrder(
			"if (password !== confirmPassword) {",
			"alert('Passwords do not match!');",
			"return;",
			"post('/api/signup'",
		)).
		End()

	apitest.Handler(gw.handler).Get("/style.css").
		Expect(t).
		Status(http.StatusOK).
		End()

	apitest.Handler(gw.handler).Get("/test").
		Expect(t).
		Status(http.StatusOK).
		Body("Server is working! OAuth routing should work.").
		End()

	apitest.Handler(gw.handler).Post("/api/signup").
		JSON(`{"username":"bob","email":"bob@example.com","password":"hunter2"}`).
		Expect(t).
		Status(http.StatusOK).
		End()

	apitest.Handler(gw.handler).Get("/metrics").
		Expect(t).
		Status(http.StatusOK).
		Assert(containsInOrder(`doorman_auth_events_total{action="signup",provider="local"} 1`)).
		End()
}
