package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/andrebq/doorman/federation"
	"github.com/andrebq/doorman/internal/logutil"
	"github.com/julienschmidt/httprouter"
)

func (s *server) startFederated(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, ok := s.opts.Providers.Get(ps.ByName("provider"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if s.opts.States == nil {
		s.authFailed(w, r, errors.New("oauth state signer is not configured"))
		return
	}
	state, err := s.opts.States.Issue(p.Name())
	if err != nil {
		s.authFailed(w, r, err)
		return
	}
	s.setStateCookie(w, state, int(stateTTL.Seconds()))
	http.Redirect(w, r, p.AuthURL(state), http.StatusFound)
}

func (s *server) finishFederated(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, ok := s.opts.Providers.Get(ps.ByName("provider"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	log := logutil.GetOrDefault(ctx).With().Str("provider", string(p.Name())).Logger()
	ctx = logutil.WithLogger(ctx, log)
	r = r.WithContext(ctx)

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		s.authFailed(w, r, fmt.Errorf("provider answered %v: %v", e, q.Get("error_description")))
		return
	}
	state := q.Get("state")
	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || c.Value != state || s.opts.States == nil {
		s.authFailed(w, r, federation.ErrInvalidState)
		return
	}
	s.setStateCookie(w, "", -1)
	if err := s.opts.States.Verify(state, p.Name()); err != nil {
		s.authFailed(w, r, err)
		return
	}
	code := q.Get("code")
	if code == "" {
		s.authFailed(w, r, errors.New("missing authorization code"))
		return
	}

	profile, err := p.Authenticate(ctx, code)
	if err != nil {
		s.authFailed(w, r, err)
		return
	}
	u, err := s.opts.Normalizer.FromProfile(ctx, profile)
	if err != nil {
		s.authFailed(w, r, err)
		return
	}
	resolved, action, err := s.opts.Accounts.Resolve(ctx, u)
	if err != nil {
		s.authFailed(w, r, err)
		return
	}
	if _, err := s.opts.Sessions.Start(ctx, w, resolved); err != nil {
		s.authFailed(w, r, err)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/welcome?type=%v", action), http.StatusFound)
}

func (s *server) authFailed(w http.ResponseWriter, r *http.Request, err error) {
	log := logutil.GetOrDefault(r.Context())
	log.Warn().Err(err).Msg("Federated authentication failed")
	http.Redirect(w, r, "/?error=auth_failed", http.StatusFound)
}

func (s *server) setStateCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    value,
		Path:     "/auth/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !s.opts.AllowHTTPCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
