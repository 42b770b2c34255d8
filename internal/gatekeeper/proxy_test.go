package gatekeeper

import (
	"bufio"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/andrebq/doorman/internal/logutil"
	"github.com/andrebq/doorman/ledger"
	"github.com/andrebq/doorman/session"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/steinfletcher/apitest"
	"github.com/stretchr/testify/require"
)

func withSession(s *session.Session) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s != nil {
				r = r.WithContext(session.WithSession(r.Context(), s))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func TestMount(t *testing.T) {
	var seen *http.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()
	target, _ := url.Parse(upstream.URL + "/base")

	router := httprouter.New()
	err := Mount(router, "/app/", target, withSession(&session.Session{
		UserID: "u1", Username: "Ana Lima", Email: "ana@gmail.com", Provider: ledger.Google,
	}))
	require.NoError(t, err)

	apitest.Handler(router).Post("/app/reports/2024").
		Header(HeaderEmail, "spoofed@example.com").
		Expect(t).
		Status(http.StatusOK).
		End()

	require.NotNil(t, seen)
	require.Equal(t, "/base/reports/2024", seen.URL.Path)
	require.Equal(t, "ana@gmail.com", seen.Header.Get(HeaderEmail))
	require.Equal(t, "google", seen.Header.Get(HeaderProvider))
	require.Equal(t, "u1", seen.Header.Get(HeaderUserID))
}

func TestAnonymousRequests(t *testing.T) {
	var calls int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer upstream.Close()
	target, _ := url.Parse(upstream.URL)

	router := httprouter.New()
	require.NoError(t, Mount(router, "/app/", target, withSession(nil)))
	apitest.Handler(router).Get("/app/index.html").Expect(t).Status(http.StatusUnauthorized).End()
	if calls != 0 {
		t.Fatal("Anonymous requests must not reach the upstream")
	}
}

func TestMountPrefix(t *testing.T) {
	target, _ := url.Parse("http://example.com")
	err := Mount(httprouter.New(), "/app", target, withSession(nil))
	if !errors.Is(err, PrefixWithoutSlash{Prefix: "/app"}) {
		t.Fatalf("Unexpected error for invalid prefix: %v", err)
	}
}

func TestUpstreamDown(t *testing.T) {
	target, _ := url.Parse("http://127.0.0.1:1")
	router := httprouter.New()
	require.NoError(t, Mount(router, "/app/", target, withSession(&session.Session{UserID: "u1"})))
	apitest.Handler(router).Get("/app/").Expect(t).Status(http.StatusBadGateway).End()
}

func TestEventStreamThroughRequestLog(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: hello\n\n"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	target, _ := url.Parse(upstream.URL)

	router := httprouter.New()
	require.NoError(t, Mount(router, "/app/", target, withSession(&session.Session{UserID: "u1"})))
	gateway := httptest.NewServer(logutil.Requests(zerolog.Nop(), router))
	defer gateway.Close()
	defer close(release)

	lines := make(chan string, 1)
	go func() {
		res, err := http.Get(gateway.URL + "/app/events")
		if err != nil {
			lines <- err.Error()
			return
		}
		defer res.Body.Close()
		line, err := bufio.NewReader(res.Body).ReadString('\n')
		if err != nil {
			lines <- err.Error()
			return
		}
		lines <- line
	}()

	select {
	case line := <-lines:
		require.Equal(t, "data: hello\n", line)
	case <-time.After(5 * time.Second):
		t.Fatal("first event did not reach the client")
	}
}
