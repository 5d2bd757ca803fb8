package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/mcpauth/internal/auth"
	"github.com/jkaninda/mcpauth/internal/config"
	"github.com/jkaninda/mcpauth/internal/identity"
	"github.com/jkaninda/mcpauth/internal/observability"
	"github.com/jkaninda/mcpauth/internal/secrets"
	pgstore "github.com/jkaninda/mcpauth/internal/storage/postgres"
)

// SharedComponents holds all initialized subsystems that the serve and setup
// commands require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config   *config.Config
	Logger   *slog.Logger
	Identity *identity.SupabaseClient

	Obs           *observability.Observability
	PgDB          *pgstore.DB // Non-nil only when a vault provider is configured.
	Vault         *pgstore.VaultStore
	Secrets       *secrets.Chain
	Authenticator *auth.Authenticator

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization shared between commands.
// Callers must call sc.Cleanup() when done.
func initShared(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Identity provider client.
	idClient, err := identity.NewSupabaseClient(identity.SupabaseConfig{
		URL:        cfg.Identity.URL,
		AnonKey:    cfg.Identity.AnonKey,
		ServiceKey: cfg.Identity.ServiceKey,
		Timeout:    cfg.Identity.Timeout(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing identity client: %w", err)
	}
	sc.Identity = idClient
	logger.Debug("identity client initialized", slog.String("url", cfg.Identity.URL))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("identity", idClient.Ping)
	}

	// Secret backend chain, in configured order. Each backend is wrapped
	// individually so resolution metrics and spans carry the backend name.
	providers := make([]secrets.Provider, 0, len(cfg.Secrets.Providers))
	for _, pc := range cfg.Secrets.Providers {
		p, err := sc.initProvider(ctx, pc)
		if err != nil {
			return nil, err
		}
		providers = append(providers, observability.NewInstrumentedSecrets(p, obs.MetricsOrNil(), obs.TracerOrNil()))
	}
	sc.Secrets = secrets.NewChain(logger, providers...)
	logger.Debug("secret chain initialized", slog.Any("providers", sc.Secrets.Providers()))

	// Authenticator, with the verifier traced around the network call.
	keyTemplate := cfg.Secrets.KeyTemplate
	if keyTemplate == "" {
		keyTemplate = auth.DefaultKeyTemplate
	}
	verifier := observability.NewInstrumentedVerifier(idClient, obs.TracerOrNil())
	sc.Authenticator = auth.NewAuthenticator(verifier, sc.Secrets, keyTemplate, logger)

	return sc, nil
}

// initProvider builds one secret backend from config.
func (sc *SharedComponents) initProvider(ctx context.Context, pc config.SecretProviderConfig) (secrets.Provider, error) {
	switch pc.Type {
	case "vault":
		db, err := pgstore.Open(pgstore.Config{DSN: pc.Config["dsn"]}, sc.Logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to vault database: %w", err)
		}
		sc.PgDB = db
		sc.Vault = pgstore.NewVaultStore(db)
		sc.addCleanup(func() {
			if err := db.Close(); err != nil {
				sc.Logger.Error("closing vault database", slog.String("error", err.Error()))
			}
		})
		if sc.Obs != nil && sc.Obs.Health != nil {
			sc.Obs.Health.AddCheck("vault", db.Ping)
		}
		return secrets.NewVaultProvider(sc.Vault), nil

	case "aws_secrets_manager":
		p, err := secrets.NewAWSProvider(ctx, pc.Config["region"])
		if err != nil {
			return nil, fmt.Errorf("initializing AWS Secrets Manager: %w", err)
		}
		return p, nil

	case "env":
		variable := pc.Config["variable"]
		if variable == "" {
			variable = secrets.DefaultEnvVariable
		}
		return secrets.NewEnvProvider(variable), nil

	default:
		return nil, fmt.Errorf("unknown secret provider type: %q", pc.Type)
	}
}
