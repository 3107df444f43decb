// Package app assembles the arena server from configuration and runs it.
package app

import (
	"context"
	"errors"
	"io"

	"github.com/go-co-op/gocron/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/argus-labs/arena/pkg/config"
	"github.com/argus-labs/arena/pkg/escrow"
	"github.com/argus-labs/arena/pkg/escrow/memory"
	"github.com/argus-labs/arena/pkg/escrow/postgres"
	"github.com/argus-labs/arena/pkg/escrow/redis"
	"github.com/argus-labs/arena/pkg/escrow/sqlite"
	"github.com/argus-labs/arena/pkg/lobby"
	"github.com/argus-labs/arena/pkg/match"
	"github.com/argus-labs/arena/pkg/realtime"
	"github.com/argus-labs/arena/pkg/server"
	"github.com/argus-labs/arena/pkg/settlement"
	"github.com/argus-labs/arena/pkg/telemetry"
	"github.com/argus-labs/arena/pkg/tilemap"
	"github.com/argus-labs/arena/pkg/transport"
)

const serviceName = "arena"

// EscrowStore is an escrow.Store that owns a connection.
type EscrowStore interface {
	escrow.Store
	io.Closer
}

type App struct {
	cfg config.Config
	tel telemetry.Telemetry
	log zerolog.Logger

	store    EscrowStore
	verifier *settlement.ChainVerifier

	hub         *transport.Hub
	matches     *match.Manager
	lobbies     *lobby.Registry
	coordinator *settlement.Coordinator
	router      *realtime.Router
}

// New builds every component. Nothing listens until Run.
func New(ctx context.Context, cfg config.Config, opts ...telemetry.Option) (*App, error) {
	tel, err := telemetry.New(ctx, serviceName, cfg.Telemetry, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "failed to init telemetry")
	}
	a := &App{cfg: cfg, tel: tel, log: tel.GetLogger("app")}

	if err := a.build(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	source, err := MapSource(ctx, a.cfg.Maps)
	if err != nil {
		return err
	}
	policy, err := match.ParseWinnerPolicy(a.cfg.Match.WinnerPolicy)
	if err != nil {
		return err
	}

	a.store, err = OpenStore(ctx, a.cfg.Escrow)
	if err != nil {
		return err
	}
	a.log.Info().Str("store", a.cfg.Escrow.Store).Msg("Escrow store ready")

	settleOpts := []settlement.Option{
		settlement.WithLogger(a.tel.GetLogger("settlement")),
		settlement.WithTracer(a.tel.Tracer),
	}
	if a.cfg.Chain.RPCURL != "" {
		a.verifier, err = settlement.DialChainVerifier(ctx, a.cfg.Chain.RPCURL)
		if err != nil {
			return err
		}
		settleOpts = append(settleOpts, settlement.WithTxVerifier(a.verifier))
	}
	if a.cfg.Chain.ContractAddress == "" {
		a.log.Warn().Msg("MATCH_ESCROW_ADDRESS is not set; escrow matches cannot be created")
	}
	a.coordinator = settlement.NewCoordinator(a.store, Directory(a.cfg.Identity, a.log), settlement.Config{
		Domain:          settlement.Domain{Name: a.cfg.Chain.DomainName, Version: a.cfg.Chain.DomainVersion},
		ChainID:         a.cfg.Chain.ID,
		ContractAddress: a.cfg.Chain.ContractAddress,
	}, settleOpts...)

	a.hub = transport.NewHub(realtime.SocketSender{}, a.tel.GetLogger("transport"))
	a.matches = match.NewManager(tilemap.NewCatalog(source), a.hub,
		match.WithRespawnDelay(a.cfg.Match.RespawnDelay),
		match.WithEvictDelay(a.cfg.Match.EvictDelay),
		match.WithWinnerPolicy(policy),
		match.WithLogger(a.tel.GetLogger("match")),
	)
	a.lobbies = lobby.NewRegistry(a.matches, a.hub,
		lobby.WithTTL(a.cfg.Lobby.TTL),
		lobby.WithDisposeDelay(a.cfg.Lobby.DisposeDelay),
		lobby.WithLogger(a.tel.GetLogger("lobby")),
	)
	a.router = realtime.NewRouter(a.lobbies, a.matches, a.hub, a.tel.GetLogger("realtime"))
	return nil
}

// MapSource picks the tile map source named by cfg.
func MapSource(ctx context.Context, cfg config.MapConfig) (tilemap.Source, error) {
	switch cfg.Source {
	case config.MapSourceS3:
		return tilemap.NewS3Source(ctx, tilemap.S3Options{
			Endpoint:        cfg.Endpoint,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Bucket:          cfg.Bucket,
			Prefix:          cfg.Prefix,
		})
	case config.MapSourceEmbedded, "":
		return tilemap.EmbeddedSource{}, nil
	default:
		return nil, eris.Errorf("unknown map source %q", cfg.Source)
	}
}

// OpenStore connects the escrow backend named by cfg.
func OpenStore(ctx context.Context, cfg config.EscrowConfig) (EscrowStore, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreRedis:
		store := redis.New(redis.Options{Addr: cfg.RedisAddress, Password: cfg.RedisPassword}, redis.DefaultNamespace)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	case config.StorePostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, eris.Errorf("unknown escrow store %q", cfg.Store)
	}
}

// Directory resolves wallets through the identity service, or an empty directory when none is set.
func Directory(cfg config.IdentityConfig, log zerolog.Logger) settlement.Directory {
	if cfg.URL == "" {
		log.Warn().Msg("IDENTITY_SERVICE_URL is not set; no user has a wallet")
		return settlement.StaticDirectory{}
	}
	return settlement.NewHTTPDirectory(cfg.URL, cfg.Token)
}

// Run serves until ctx is canceled, then releases every component.
func (a *App) Run(ctx context.Context) error {
	sweeper, err := a.lobbies.StartSweeper(a.cfg.Lobby.SweepInterval)
	if err != nil {
		a.close(ctx)
		return err
	}

	srv, err := server.New(a.lobbies, a.matches, a.coordinator,
		server.WithLogger(a.tel.GetLogger("server")),
		server.WithAllowedOrigins(a.cfg.AllowedOrigins),
		server.WithRealtime(a.router.Handler(ctx)),
	)
	if err != nil {
		_ = sweeper.Shutdown()
		a.close(ctx)
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.Serve(ctx, a.cfg.Addr())
	})
	eg.Go(func() error {
		<-ctx.Done()
		realtime.Close()
		return nil
	})
	err = eg.Wait()

	a.shutdown(context.WithoutCancel(ctx), sweeper)
	return err
}

func (a *App) shutdown(ctx context.Context, sweeper gocron.Scheduler) {
	if err := sweeper.Shutdown(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to stop lobby sweeper")
	}
	a.close(ctx)
}

func (a *App) close(ctx context.Context) {
	if a.lobbies != nil {
		a.lobbies.Close()
	}
	if a.matches != nil {
		a.matches.Shutdown()
	}
	var errs error
	if a.store != nil {
		errs = errors.Join(errs, a.store.Close())
	}
	if a.verifier != nil {
		a.verifier.Close()
	}
	errs = errors.Join(errs, a.tel.Shutdown(ctx))
	if errs != nil {
		a.log.Warn().Err(errs).Msg("Shutdown finished with errors")
	}
}

// Coordinator exposes the settlement coordinator.
func (a *App) Coordinator() *settlement.Coordinator {
	return a.coordinator
}
