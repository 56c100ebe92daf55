// Command semanticweftd runs one SemanticWeft federation node: it loads
// configuration, opens a storage backend, establishes the node's own
// identity, and starts the HTTP API alongside the background federation
// loops (pull-sync and push-fanout).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mr-tron/base58"
	"github.com/redis/go-redis/v9"

	"github.com/semanticweft/node/internal/config"
	"github.com/semanticweft/node/internal/eventbus"
	"github.com/semanticweft/node/internal/federation"
	"github.com/semanticweft/node/internal/identity"
	"github.com/semanticweft/node/internal/models"
	"github.com/semanticweft/node/internal/ratelimit"
	"github.com/semanticweft/node/internal/registry"
	"github.com/semanticweft/node/internal/store"
	"github.com/semanticweft/node/internal/store/memory"
	"github.com/semanticweft/node/internal/store/pgstore"

	"github.com/semanticweft/node/internal/api"
)

// nodeIdentitySeedKey is the node-config key the Ed25519 seed is persisted
// under, so the node's did:key survives a restart.
const nodeIdentitySeedKey = "node_identity_seed"

func main() {
	envFile := flag.String("env", "", "path to a .env file to preload")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("config: load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage: open failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer s.Close()

	pub, priv, nodeDID, err := loadOrCreateIdentity(ctx, s)
	if err != nil {
		logger.Error("identity: setup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("node identity established", slog.String("node_id", nodeDID))

	reg := registry.New(s, nodeDID, cfg.ReputationVoteSigma)
	bus := openEventBus(cfg, logger)
	defer bus.Close()

	client := federation.NewSignedClient(nodeDID, priv)
	puller := federation.NewPuller(s, reg, client, logger)
	fanout := federation.NewFanout(s, bus, client, cfg.APIBase, logger)
	self := models.DefaultPeerRecord(nodeDID, cfg.APIBase)
	disc := federation.NewDiscovery(s, reg, client, self, cfg.MaxPeers, logger)

	limiter := ratelimit.New(cfg.RateLimitPerMinute, openRedis(cfg))

	srv := api.NewServer(cfg, s, reg, bus, puller, fanout, disc, limiter, nodeDID, pub, priv, logger)

	go puller.Run(ctx, cfg.SyncInterval)
	go fanout.Run(ctx)
	go disc.Bootstrap(ctx, cfg.BootstrapPeers)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("http server exited", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// openStore selects the ephemeral in-memory backend when no database DSN is
// configured, and the durable PostgreSQL backend otherwise (spec §9).
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Storage, error) {
	if cfg.DBPath == "" {
		logger.Info("storage: using ephemeral in-memory backend")
		return memory.New(), nil
	}
	logger.Info("storage: using durable postgresql backend")
	return pgstore.New(ctx, cfg.DBPath, logger)
}

// openEventBus connects to NATS when configured, falling back to an
// in-process bus for single-node deployments.
func openEventBus(cfg *config.Config, logger *slog.Logger) eventbus.Bus {
	if cfg.NATSURL == "" {
		logger.Info("eventbus: using in-process bus")
		return eventbus.NewLocalBus()
	}
	bus, err := eventbus.NewNATSBus(cfg.NATSURL, logger)
	if err != nil {
		logger.Warn("eventbus: could not connect to nats, falling back to in-process bus", slog.String("error", err.Error()))
		return eventbus.NewLocalBus()
	}
	return bus
}

// openRedis connects the rate limiter to Redis when configured, so multiple
// node processes can share one limit; nil selects the in-process limiter.
func openRedis(cfg *config.Config) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil
	}
	return redis.NewClient(opts)
}

// loadOrCreateIdentity loads this node's Ed25519 seed from storage, or
// generates and persists a fresh one on first run, so the node's did:key
// stays stable across restarts.
func loadOrCreateIdentity(ctx context.Context, s store.Storage) (pub []byte, priv []byte, did string, err error) {
	seedHex, ok, err := s.GetNodeConfig(ctx, nodeIdentitySeedKey)
	if err != nil {
		return nil, nil, "", err
	}
	if ok {
		seed, err := base58.Decode(seedHex)
		if err == nil && len(seed) == 32 {
			p, sk, d, err := identity.KeypairFromSeed(seed)
			if err == nil {
				return p, sk, d, nil
			}
		}
	}

	p, sk, d, genErr := identity.NewKeypair()
	if genErr != nil {
		return nil, nil, "", genErr
	}
	seed := sk.Seed()
	if err := s.SetNodeConfig(ctx, nodeIdentitySeedKey, base58.Encode(seed)); err != nil {
		return nil, nil, "", err
	}
	return p, sk, d, nil
}
