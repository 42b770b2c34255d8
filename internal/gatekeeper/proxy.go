// Package gatekeeper forwards requests from signed in users to an upstream
// application, telling it who the user is through request headers.
package gatekeeper

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/andrebq/doorman/internal/logutil"
	"github.com/andrebq/doorman/session"
	"github.com/julienschmidt/httprouter"
)

type (
	PrefixWithoutSlash struct {
		Prefix string
	}
)

const (
	HeaderUserID   = "X-Doorman-User-Id"
	HeaderUsername = "X-Doorman-Username"
	HeaderEmail    = "X-Doorman-Email"
	HeaderProvider = "X-Doorman-Provider"
)

var (
	methods = []string{
		"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD",
	}

	identityHeaders = []string{HeaderUserID, HeaderUsername, HeaderEmail, HeaderProvider}

	ErrMissingSession = errors.New("gatekeeper: request reached the proxy without a session")
)

func (p PrefixWithoutSlash) Error() string {
	return "mount prefix " + p.Prefix + " must start and end with /"
}

// Mount forwards every request under prefix to upstream, with prefix
// removed from the path. Requests must already carry a session in their
// context (see session.Manager.Protect), others are rejected.
func Mount(router *httprouter.Router, prefix string, upstream *url.URL, wrap func(http.Handler) http.Handler) error {
	if !strings.HasPrefix(prefix, "/") || !strings.HasSuffix(prefix, "/") {
		return PrefixWithoutSlash{Prefix: prefix}
	}
	handler := wrap(Proxy(prefix, upstream))
	for _, m := range methods {
		router.Handler(m, prefix+"*path", handler)
	}
	return nil
}

func Proxy(prefix string, upstream *url.URL) http.Handler {
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = "/" + strings.TrimPrefix(pr.In.URL.Path, prefix)
			pr.Out.URL.RawPath = ""
			pr.SetURL(upstream)
			pr.SetXForwarded()
			for _, h := range identityHeaders {
				pr.Out.Header.Del(h)
			}
			s := session.FromContext(pr.In.Context())
			if s == nil {
				return
			}
			pr.Out.Header.Set(HeaderUserID, s.UserID)
			pr.Out.Header.Set(HeaderUsername, s.Username)
			pr.Out.Header.Set(HeaderEmail, s.Email)
			pr.Out.Header.Set(HeaderProvider, string(s.Provider))
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log := logutil.GetOrDefault(r.Context())
			log.Error().Err(err).Str("upstream", upstream.Host).Msg("Unable to reach upstream")
			http.Error(w, "upstream is not available", http.StatusBadGateway)
		},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session.FromContext(r.Context()) == nil {
			log := logutil.GetOrDefault(r.Context())
			log.Error().Err(ErrMissingSession).Msg("Refusing to proxy anonymous request")
			http.Error(w, "not authenticated", http.StatusUnauthorized)
			return
		}
		proxy.ServeHTTP(w, r)
	})
}
