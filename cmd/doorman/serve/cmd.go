package serve

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/andrebq/doorman/account"
	"github.com/andrebq/doorman/federation"
	"github.com/andrebq/doorman/identity"
	"github.com/andrebq/doorman/internal/cmdflags"
	"github.com/andrebq/doorman/internal/httpserver"
	"github.com/andrebq/doorman/internal/logutil"
	"github.com/andrebq/doorman/ledger"
	"github.com/andrebq/doorman/session"
	"github.com/andrebq/doorman/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

type (
	providerFlags struct {
		clientID     string
		clientSecret string
		redirectURL  string
		tenantID     string
	}
)

func Cmd() *cli.Command {
	bindAddr := "localhost:3000"
	var dbFile string
	var secret string
	sessionStore := "memory"
	redisAddr := "localhost:6379"
	sessionTTL := 24 * time.Hour
	var allowHTTPCookie bool
	var luaMapper string
	var upstream string
	recentActivity := 50
	var microsoft, google providerFlags
	microsoft.redirectURL = "http://localhost:3000/auth/microsoft/callback"
	google.redirectURL = "http://localhost:3000/auth/google/callback"
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the authentication gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "bind",
				Usage:       "Address to listen for http requests",
				EnvVars:     []string{"DOORMAN_BIND"},
				Value:       bindAddr,
				Destination: &bindAddr,
			},
			cmdflags.Ledger(&dbFile),
			cmdflags.SecretFromEnv("session-secret", "SESSION_SECRET", "Secret used to sign oauth state values", &secret),
			&cli.StringFlag{
				Name:        "session-store",
				Usage:       "Where to keep sessions (memory or redis)",
				EnvVars:     []string{"DOORMAN_SESSION_STORE"},
				Value:       sessionStore,
				Destination: &sessionStore,
			},
			&cli.StringFlag{
				Name:        "redis-addr",
				Usage:       "Redis address used when session-store is redis",
				EnvVars:     []string{"DOORMAN_REDIS_ADDR"},
				Value:       redisAddr,
				Destination: &redisAddr,
			},
			&cli.DurationFlag{
				Name:        "session-ttl",
				Usage:       "How long a session lasts",
				EnvVars:     []string{"DOORMAN_SESSION_TTL"},
				Value:       sessionTTL,
				Destination: &sessionTTL,
			},
			&cli.BoolFlag{
				Name:        "allow-http-cookie",
				Usage:       "Do not mark cookies as Secure. Defaults to true when any redirect uri is plain http, browsers like Safari drop Secure cookies on http://localhost",
				EnvVars:     []string{"DOORMAN_ALLOW_HTTP_COOKIE"},
				Destination: &allowHTTPCookie,
			},
			&cli.StringFlag{
				Name:        "lua-mapper",
				Usage:       "Lua script that can rewrite the account derived from a provider profile",
				EnvVars:     []string{"DOORMAN_LUA_MAPPER"},
				Destination: &luaMapper,
			},
			&cli.StringFlag{
				Name:        "upstream",
				Usage:       "Application that receives the requests of signed in users under /app/",
				EnvVars:     []string{"DOORMAN_UPSTREAM"},
				Destination: &upstream,
			},
			&cli.IntFlag{
				Name:        "recent-activity",
				Usage:       "Number of ledger entries listed by /users (0 lists all)",
				EnvVars:     []string{"DOORMAN_RECENT_ACTIVITY"},
				Value:       recentActivity,
				Destination: &recentActivity,
			},
			&cli.StringFlag{
				Name:        "azure-client-id",
				Usage:       "Microsoft application id, Microsoft sign-in is disabled when empty",
				EnvVars:     []string{"AZURE_CLIENT_ID"},
				Destination: &microsoft.clientID,
			},
			cmdflags.SecretFromEnv("azure-client-secret", "AZURE_CLIENT_SECRET", "Microsoft application secret", &microsoft.clientSecret),
			&cli.StringFlag{
				Name:        "azure-tenant-id",
				Usage:       "Microsoft directory (tenant) id",
				EnvVars:     []string{"AZURE_TENANT_ID"},
				Value:       "common",
				Destination: &microsoft.tenantID,
			},
			&cli.StringFlag{
				Name:        "azure-redirect-uri",
				Usage:       "Callback registered for the Microsoft application",
				EnvVars:     []string{"REDIRECT_URI"},
				Value:       microsoft.redirectURL,
				Destination: &microsoft.redirectURL,
			},
			&cli.StringFlag{
				Name:        "google-client-id",
				Usage:       "Google client id, Google sign-in is disabled when empty",
				EnvVars:     []string{"GOOGLE_CLIENT_ID"},
				Destination: &google.clientID,
			},
			cmdflags.SecretFromEnv("google-client-secret", "GOOGLE_CLIENT_SECRET", "Google client secret", &google.clientSecret),
			&cli.StringFlag{
				Name:        "google-redirect-uri",
				Usage:       "Callback registered for the Google client",
				EnvVars:     []string{"GOOGLE_REDIRECT_URI"},
				Value:       google.redirectURL,
				Destination: &google.redirectURL,
			},
		},
		Action: func(ctx *cli.Context) error {
			log := logutil.GetOrDefault(ctx.Context)
			if !ctx.IsSet("allow-http-cookie") {
				allowHTTPCookie = plainHTTPCallbacks(microsoft.redirectURL, google.redirectURL)
			}
			store, err := ledger.Open(ctx.Context, dbFile, true)
			if err != nil {
				return err
			}
			defer store.Close()

			var tokens session.TokenStore
			switch sessionStore {
			case "memory":
				tokens, err = session.InMemoryTokenStore(ctx.Context, sessionTTL)
				if err != nil {
					return err
				}
			case "redis":
				client := redis.NewClient(&redis.Options{Addr: redisAddr})
				defer client.Close()
				if err := client.Ping(ctx.Context).Err(); err != nil {
					return fmt.Errorf("unable to reach redis at %v, cause %w", redisAddr, err)
				}
				tokens = session.RedisTokenStore(client, "doorman:session:", sessionTTL)
			default:
				return fmt.Errorf("unknown session store %q, use memory or redis", sessionStore)
			}

			var providers []*federation.Provider
			if microsoft.clientID != "" {
				providers = append(providers, federation.Microsoft(microsoft.config()))
			}
			if google.clientID != "" {
				providers = append(providers, federation.Google(google.config()))
			}
			var states *federation.StateSigner
			if len(providers) > 0 {
				if secret == "" {
					return errors.New("SESSION_SECRET is required when a federated provider is enabled")
				}
				states, err = federation.NewStateSigner(secret, 10*time.Minute)
				if err != nil {
					return err
				}
			}
			registry := federation.NewRegistry(providers...)
			for _, p := range registry.List() {
				log.Info().Str("provider", string(p)).Msg("Federated sign-in enabled")
			}

			var mapper identity.Mapper
			if luaMapper != "" {
				m, err := identity.LoadLuaMapper(luaMapper)
				if err != nil {
					return err
				}
				mapper = m
			}

			var upstreamURL *url.URL
			if upstream != "" {
				upstreamURL, err = url.Parse(upstream)
				if err != nil {
					return fmt.Errorf("invalid upstream %v, cause %w", upstream, err)
				}
			}

			handler, err := web.AsHandler(ctx.Context, web.Options{
				Directory:       store,
				Accounts:        account.New(store, account.NewMetrics(prometheus.DefaultRegisterer)),
				Normalizer:      identity.New(mapper),
				Sessions:        session.NewManager(tokens, session.DefaultCookieName, sessionTTL, allowHTTPCookie),
				Providers:       registry,
				States:          states,
				Gatherer:        prometheus.DefaultGatherer,
				RecentActivity:  recentActivity,
				AllowHTTPCookie: allowHTTPCookie,
				Upstream:        upstreamURL,
			})
			if err != nil {
				return err
			}
			return httpserver.Serve(ctx.Context, bindAddr, handler)
		},
	}
}

// plainHTTPCallbacks reports whether any of the redirect uris is served
// over plain http, in which case Secure cookies would never come back.
func plainHTTPCallbacks(uris ...string) bool {
	for _, u := range uris {
		if strings.HasPrefix(strings.ToLower(u), "http://") {
			return true
		}
	}
	return false
}

func (p providerFlags) config() federation.Config {
	return federation.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		RedirectURL:  p.redirectURL,
		TenantID:     p.tenantID,
	}
}
