// Package web exposes the gateway over HTTP: the login page, the local
// account API, the federated sign-in handshake and the protected page.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/andrebq/doorman/account"
	"github.com/andrebq/doorman/federation"
	"github.com/andrebq/doorman/identity"
	"github.com/andrebq/doorman/internal/gatekeeper"
	"github.com/andrebq/doorman/internal/logutil"
	"github.com/andrebq/doorman/ledger"
	"github.com/andrebq/doorman/session"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type (
	// Directory lists what the ledger knows, used by the debug endpoint.
	Directory interface {
		ListUsers(ctx context.Context) ([]ledger.User, error)
		ListEvents(ctx context.Context, limit int) ([]ledger.Event, error)
	}

	Options struct {
		Directory  Directory
		Accounts   *account.Service
		Normalizer *identity.Normalizer
		Sessions   *session.Manager
		Providers  *federation.Registry
		States     *federation.StateSigner
		// Gatherer backs /metrics, defaults to prometheus.DefaultGatherer.
		Gatherer prometheus.Gatherer
		// RecentActivity caps the events listed by /users, zero lists all.
		RecentActivity int
		// AllowHTTPCookie drops the Secure flag from the oauth state cookie.
		AllowHTTPCookie bool
		// Upstream, when set, receives the requests of signed in users
		// under /app/.
		Upstream *url.URL
	}

	server struct {
		opts Options
	}

	reply struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
)

const (
	stateCookie = "doorman_oauth_state"
	stateTTL    = 10 * time.Minute
	maxBodySize = 64 << 10
)

var (
	errMissingCollaborator = errors.New("web: accounts, normalizer, sessions and directory are required")
)

func AsHandler(ctx context.Context, opts Options) (http.Handler, error) {
	if opts.Accounts == nil || opts.Normalizer == nil || opts.Sessions == nil || opts.Directory == nil {
		return nil, errMissingCollaborator
	}
	if opts.Providers == nil {
		opts.Providers = federation.NewRegistry()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &server{opts: opts}

	router := httprouter.New()
	if err := registerAssets(router); err != nil {
		return nil, err
	}
	router.Handler("GET", "/", servePage("login.html"))
	router.Handler("GET", "/welcome", opts.Sessions.Protect(servePage("welcome.html"), http.RedirectHandler("/", http.StatusFound)))
	router.HandlerFunc("GET", "/logout", s.logout)

	router.HandlerFunc("POST", "/api/signup", s.signup)
	router.HandlerFunc("POST", "/api/login", s.login)
	router.Handler("GET", "/api/me", opts.Sessions.Protect(http.HandlerFunc(s.me), http.HandlerFunc(unauthorized)))

	router.GET("/auth/:provider", s.startFederated)
	router.GET("/auth/:provider/callback", s.finishFederated)

	if opts.Upstream != nil {
		err := gatekeeper.Mount(router, "/app/", opts.Upstream, func(h http.Handler) http.Handler {
			return opts.Sessions.Protect(h, http.RedirectHandler("/", http.StatusFound))
		})
		if err != nil {
			return nil, err
		}
	}

	router.HandlerFunc("GET", "/test", liveness)
	router.HandlerFunc("GET", "/users", s.listUsers)
	router.Handler("GET", "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	return logutil.Requests(logutil.GetOrDefault(ctx), router), nil
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Sessions.End(w, r); err != nil {
		log := logutil.GetOrDefault(r.Context())
		log.Warn().Err(err).Msg("Unable to remove session from token store")
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *server) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, session.FromContext(r.Context()))
}

func (s *server) listUsers(w http.ResponseWriter, r *http.Request) {
	log := logutil.GetOrDefault(r.Context())
	users, err := s.opts.Directory.ListUsers(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Unable to list users")
		http.Error(w, "unable to list users, check logs for more information", http.StatusInternalServerError)
		return
	}
	events, err := s.opts.Directory.ListEvents(r.Context(), s.opts.RecentActivity)
	if err != nil {
		log.Error().Err(err).Msg("Unable to list login events")
		http.Error(w, "unable to list login events, check logs for more information", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		TotalUsers     int            `json:"total_users"`
		Registrations  []ledger.User  `json:"registrations"`
		RecentActivity []ledger.Event `json:"recent_activity"`
	}{
		TotalUsers:     len(users),
		Registrations:  users,
		RecentActivity: events,
	})
}

func liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Server is working! OAuth routing should work."))
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusUnauthorized, reply{Message: "Not authenticated."})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
