package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/redis/go-redis/v9"

	"github.com/lanonasis/auth-gateway/internal/admin"
	"github.com/lanonasis/auth-gateway/internal/apikey"
	"github.com/lanonasis/auth-gateway/internal/audit"
	"github.com/lanonasis/auth-gateway/internal/authn"
	"github.com/lanonasis/auth-gateway/internal/config"
	"github.com/lanonasis/auth-gateway/internal/eventlog"
	"github.com/lanonasis/auth-gateway/internal/health"
	"github.com/lanonasis/auth-gateway/internal/identity"
	"github.com/lanonasis/auth-gateway/internal/log"
	"github.com/lanonasis/auth-gateway/internal/oauth2"
	"github.com/lanonasis/auth-gateway/internal/ratelimit"
	"github.com/lanonasis/auth-gateway/internal/session"
	"github.com/lanonasis/auth-gateway/internal/store"
	storesql "github.com/lanonasis/auth-gateway/internal/store/sql"
	"github.com/lanonasis/auth-gateway/internal/vault"
	vaultsql "github.com/lanonasis/auth-gateway/internal/vault/sql"
)

// eventlogDestination stamps every outbox row with the logical name of the
// secondary (read-side) store this deployment projects into.
const eventlogDestination = "secondary"

func runServe(cfg config.Config) error {
	logger, err := log.NewLogrusLogger(cfg.Logger.Level, cfg.Logger.Format, os.Stderr)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	rawStore, err := storesql.Open(cfg.Storage.PrimaryDSN, logger.Underlying())
	if err != nil {
		return fmt.Errorf("open primary store: %w", err)
	}
	defer rawStore.Close()

	// Read-through client cache: 1h TTL, invalidated on any client
	// mutation (spec.md §4.2).
	st := store.NewCachingStore(rawStore, time.Hour)

	appender := eventlog.NewSQLAppender(eventlogDestination)

	sessionTTL, err := cfg.SessionTTL()
	if err != nil {
		return fmt.Errorf("session ttl: %w", err)
	}
	expiry := cfg.ParsedExpiry()

	idp := buildIdentityProvider(cfg)

	bridge := session.New(st, appender, idp, session.Config{
		JWTSecret:    []byte(cfg.Session.JWTSecret),
		CookieDomain: cfg.Session.CookieDomain,
		TTL:          sessionTTL,
	})

	engine := oauth2.New(st, appender, oauth2.Config{
		TTLs: oauth2.TTLs{
			AuthCode:     expiry.AuthorizationCodes,
			AccessToken:  expiry.AccessTokens,
			RefreshToken: expiry.RefreshTokens,
			DeviceCode:   expiry.DeviceCodes,
		},
		HashKey: cfg.Session.JWTSecret,
	}, logger)

	apikeys := apikey.New(st, appender, cfg.Session.JWTSecret)
	adminSvc := admin.New(st, appender, cfg.Session.JWTSecret)
	authMiddleware := authn.New([]byte(cfg.Session.JWTSecret), apikeys, logger)
	auditSink := audit.NewSink(appender, logger)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer redisClient.Close()
	limiter := ratelimit.NewRedisLimiter(redisClient)

	healthChecker := health.New(st, nil, 0)

	vaultStore, err := vaultsql.Open(cfg.Storage.PrimaryDSN)
	if err != nil {
		return fmt.Errorf("open vault store: %w", err)
	}
	vaultEncryptor, err := vault.NewFernetEncryptor(cfg.Vault.EncryptionKeys)
	if err != nil {
		return fmt.Errorf("build vault encryptor: %w", err)
	}
	keyVault := vault.New(vaultStore, vaultEncryptor)

	deps := routeDeps{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		bridge:  bridge,
		engine:  engine,
		apikeys: apikeys,
		admin:   adminSvc,
		authMw:  authMiddleware,
		audit:   auditSink,
		limiter: limiter,
		vault:   keyVault,
	}

	router := newRouter(deps)

	var gr run.Group
	gr.Add(run.SignalHandler(context.Background(), os.Interrupt, syscall.SIGTERM))

	gcCtx, gcCancel := context.WithCancel(context.Background())
	gr.Add(func() error {
		return store.GarbageCollectLoop(gcCtx, st, time.Minute, logger)
	}, func(error) { gcCancel() })

	if cfg.Web.HTTP != "" {
		if err := addHTTPActor(&gr, "http", &http.Server{Addr: cfg.Web.HTTP, Handler: router}, logger); err != nil {
			return err
		}
	}
	if cfg.Web.HTTPS != "" {
		srv := &http.Server{Addr: cfg.Web.HTTPS, Handler: router}
		if err := addHTTPSActor(&gr, "https", srv, cfg.Web.TLSCert, cfg.Web.TLSKey, logger); err != nil {
			return err
		}
	}
	if cfg.Telemetry.HTTP != "" {
		if err := addHTTPActor(&gr, "telemetry", &http.Server{Addr: cfg.Telemetry.HTTP, Handler: health.Handler(healthChecker)}, logger); err != nil {
			return err
		}
	}

	if err := gr.Run(); err != nil {
		if _, ok := err.(run.SignalError); ok {
			logger.Infof("%v, shutting down", err)
			return nil
		}
		return fmt.Errorf("run groups: %w", err)
	}
	return nil
}

// buildIdentityProvider selects the HTTP-calling adapter when an identity
// provider URL is configured, falling back to an empty fake (no users
// verify) so the admin bypass path still works with it entirely offline
// (spec.md §4.8).
func buildIdentityProvider(cfg config.Config) session.IdentityProvider {
	if cfg.IdentityProviderURL == "" {
		return identity.NewFakeProvider(nil)
	}
	return identity.NewHTTPProvider(cfg.IdentityProviderURL, cfg.IdentityProviderServiceKey)
}

// addHTTPActor registers srv as a run.Group actor, listening immediately so
// startup errors (e.g. address already in use) surface before Run blocks.
func addHTTPActor(gr *run.Group, name string, srv *http.Server, logger log.Logger) error {
	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen (%s) on %s: %w", name, srv.Addr, err)
	}
	gr.Add(func() error {
		logger.Infof("listening (%s) on %s", name, srv.Addr)
		err := srv.Serve(listener)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf("graceful shutdown (%s): %v", name, err)
		}
	})
	return nil
}

func addHTTPSActor(gr *run.Group, name string, srv *http.Server, certFile, keyFile string, logger log.Logger) error {
	listener, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen (%s) on %s: %w", name, srv.Addr, err)
	}
	gr.Add(func() error {
		logger.Infof("listening (%s) on %s", name, srv.Addr)
		err := srv.ServeTLS(listener, certFile, keyFile)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf("graceful shutdown (%s): %v", name, err)
		}
	})
	return nil
}

// routeDeps bundles every collaborator routes.go's handlers need.
type routeDeps struct {
	cfg     config.Config
	logger  log.Logger
	store   store.Store
	bridge  *session.Bridge
	engine  *oauth2.Engine
	apikeys *apikey.Service
	admin   *admin.Service
	authMw  *authn.Middleware
	audit   *audit.Sink
	limiter ratelimit.Limiter
	vault   *vault.Vault
}
