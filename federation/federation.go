// Package federation drives the OAuth2/OIDC handshake with the supported
// identity providers and turns their answer into an identity.Profile.
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/andrebq/doorman/identity"
	"github.com/andrebq/doorman/ledger"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

type (
	Config struct {
		ClientID     string
		ClientSecret string
		RedirectURL  string
		// TenantID selects the Microsoft directory, defaults to "common".
		TenantID string

		// Endpoint and ProfileURL override the provider defaults.
		Endpoint   *oauth2.Endpoint
		ProfileURL string
	}

	Provider struct {
		name        ledger.Provider
		config      *oauth2.Config
		authOptions []oauth2.AuthCodeOption
		profileURL  string
		parse       func(claims map[string]interface{}) identity.Profile
	}

	Registry struct {
		providers map[ledger.Provider]*Provider
	}
)

const (
	microsoftGraphMe = "https://graph.microsoft.com/v1.0/me"
	googleUserInfo   = "https://openidconnect.googleapis.com/v1/userinfo"
	maxProfileSize   = 1 << 20
)

// Microsoft returns a provider bound to the tenant authorize/token
// endpoints. The user is always asked to pick an account.
func Microsoft(cfg Config) *Provider {
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}
	endpoint := microsoft.AzureADEndpoint(tenant)
	return newProvider(ledger.Microsoft, cfg, endpoint, microsoftGraphMe,
		[]string{"openid", "profile", "email", "User.Read"},
		parseMicrosoft,
		oauth2.SetAuthURLParam("prompt", "select_account"))
}

func Google(cfg Config) *Provider {
	return newProvider(ledger.Google, cfg, google.Endpoint, googleUserInfo,
		[]string{"openid", "profile", "email"},
		parseGoogle)
}

func newProvider(name ledger.Provider, cfg Config, endpoint oauth2.Endpoint, profileURL string, scopes []string,
	parse func(map[string]interface{}) identity.Profile, opts ...oauth2.AuthCodeOption) *Provider {
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	if cfg.ProfileURL != "" {
		profileURL = cfg.ProfileURL
	}
	return &Provider{
		name: name,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		authOptions: opts,
		profileURL:  profileURL,
		parse:       parse,
	}
}

func (p *Provider) Name() ledger.Provider {
	return p.name
}

func (p *Provider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, p.authOptions...)
}

// Authenticate exchanges code for a token and fetches the user profile.
func (p *Provider) Authenticate(ctx context.Context, code string) (identity.Profile, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return identity.Profile{}, fmt.Errorf("unable to exchange %v code, cause %w", p.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return identity.Profile{}, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return identity.Profile{}, fmt.Errorf("unable to fetch %v profile, cause %w", p.name, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return identity.Profile{}, fmt.Errorf("unable to fetch %v profile, status %v", p.name, res.Status)
	}
	var claims map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxProfileSize)).Decode(&claims); err != nil {
		return identity.Profile{}, fmt.Errorf("unable to decode %v profile, cause %w", p.name, err)
	}
	return p.parse(claims), nil
}

func parseMicrosoft(claims map[string]interface{}) identity.Profile {
	p := identity.Profile{
		Provider:    ledger.Microsoft,
		Subject:     str(claims, "id"),
		DisplayName: str(claims, "displayName"),
		Claims:      claims,
	}
	for _, k := range []string{"mail", "userPrincipalName"} {
		if v := str(claims, k); v != "" {
			p.Emails = append(p.Emails, v)
		}
	}
	return p
}

func parseGoogle(claims map[string]interface{}) identity.Profile {
	p := identity.Profile{
		Provider:    ledger.Google,
		Subject:     str(claims, "sub"),
		DisplayName: str(claims, "name"),
		Claims:      claims,
	}
	if v := str(claims, "email"); v != "" {
		p.Emails = append(p.Emails, v)
	}
	return p
}

func str(claims map[string]interface{}, key string) string {
	v, _ := claims[key].(string)
	return v
}

func NewRegistry(providers ...*Provider) *Registry {
	r := &Registry{providers: make(map[ledger.Provider]*Provider)}
	for _, p := range providers {
		if p != nil {
			r.providers[p.name] = p
		}
	}
	return r
}

func (r *Registry) Get(name string) (*Provider, bool) {
	p, ok := r.providers[ledger.Provider(name)]
	return p, ok
}

func (r *Registry) List() []ledger.Provider {
	out := make([]ledger.Provider, 0, len(r.providers))
	for k := range r.providers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
