package web

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/andrebq/doorman/account"
	"github.com/andrebq/doorman/identity"
	"github.com/andrebq/doorman/internal/logutil"
	"github.com/andrebq/doorman/ledger"
)

type (
	credentials struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
)

// decodeCredentials accepts both json and urlencoded bodies.
func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentials, error) {
	var c credentials
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		if err := r.ParseForm(); err != nil {
			return c, err
		}
		c.Username = r.PostForm.Get("username")
		c.Email = r.PostForm.Get("email")
		c.Password = r.PostForm.Get("password")
		return c, nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&c)
	return c, err
}

func (s *server) signup(w http.ResponseWriter, r *http.Request) {
	log := logutil.GetOrDefault(r.Context())
	c, err := decodeCredentials(w, r)
	if err != nil || c.Username == "" || c.Email == "" || c.Password == "" {
		writeJSON(w, http.StatusBadRequest, reply{Message: "All fields are required."})
		return
	}
	u, err := s.opts.Accounts.SignupLocal(r.Context(), c.Username, c.Email, c.Password)
	var exists ledger.UserExists
	switch {
	case errors.As(err, &exists):
		writeJSON(w, http.StatusConflict, reply{Message: "User already exists."})
		return
	case errors.Is(err, identity.ErrMissingField):
		writeJSON(w, http.StatusBadRequest, reply{Message: "All fields are required."})
		return
	case err != nil:
		log.Error().Err(err).Str("username", c.Username).Msg("Unable to register local account")
		writeJSON(w, http.StatusInternalServerError, reply{Message: "Signup failed."})
		return
	}
	if _, err := s.opts.Sessions.Start(r.Context(), w, u); err != nil {
		log.Error().Err(err).Str("user_id", u.ID).Msg("Unable to start session")
		writeJSON(w, http.StatusInternalServerError, reply{Message: "Signup failed."})
		return
	}
	writeJSON(w, http.StatusOK, reply{Success: true, Message: "Signup successful!"})
}

func (s *server) login(w http.ResponseWriter, r *http.Request) {
	log := logutil.GetOrDefault(r.Context())
	c, err := decodeCredentials(w, r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, reply{Message: "Invalid credentials."})
		return
	}
	u, err := s.opts.Accounts.LoginLocal(r.Context(), c.Username, c.Password)
	if errors.Is(err, account.ErrInvalidCredentials) {
		writeJSON(w, http.StatusUnauthorized, reply{Message: "Invalid credentials."})
		return
	} else if err != nil {
		log.Error().Err(err).Str("username", c.Username).Msg("Unable to authenticate local account")
		writeJSON(w, http.StatusInternalServerError, reply{Message: "Login failed."})
		return
	}
	if _, err := s.opts.Sessions.Start(r.Context(), w, u); err != nil {
		log.Error().Err(err).Str("user_id", u.ID).Msg("Unable to start session")
		writeJSON(w, http.StatusInternalServerError, reply{Message: "Login failed."})
		return
	}
	writeJSON(w, http.StatusOK, reply{Success: true, Message: "Login successful!"})
}
