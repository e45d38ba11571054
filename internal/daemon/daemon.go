// Package daemon wires every fabric component into a single runnable
// node process: config, durable storage, the registry, transport,
// routing, federated search, and the HTTP API server.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mabou7agar/nodefabric/internal/api"
	"github.com/mabou7agar/nodefabric/internal/app/credit"
	"github.com/mabou7agar/nodefabric/internal/auth"
	"github.com/mabou7agar/nodefabric/internal/auth/jwtsigner"
	"github.com/mabou7agar/nodefabric/internal/balancer"
	"github.com/mabou7agar/nodefabric/internal/breaker"
	"github.com/mabou7agar/nodefabric/internal/cache"
	"github.com/mabou7agar/nodefabric/internal/config"
	"github.com/mabou7agar/nodefabric/internal/discovery"
	"github.com/mabou7agar/nodefabric/internal/domain"
	"github.com/mabou7agar/nodefabric/internal/federated"
	"github.com/mabou7agar/nodefabric/internal/forwarder"
	"github.com/mabou7agar/nodefabric/internal/health"
	"github.com/mabou7agar/nodefabric/internal/infra/sqlite"
	"github.com/mabou7agar/nodefabric/internal/llm/mock"
	"github.com/mabou7agar/nodefabric/internal/merge"
	"github.com/mabou7agar/nodefabric/internal/registry"
	"github.com/mabou7agar/nodefabric/internal/router"
	"github.com/mabou7agar/nodefabric/internal/vectorsearch"
)

// Daemon is a single fabric node's runtime: every component named in
// spec §4's package-mapping table, wired together.
type Daemon struct {
	Config config.Config
	DB     *sqlite.DB

	Breakers *breaker.Registry
	Registry *registry.Registry
	Balancer *balancer.Balancer
	Cache    *cache.Cache
	Forwarder *forwarder.Forwarder
	Auth     *auth.Service
	Discovery *discovery.LocalDiscovery
	Digester  *discovery.Digester
	Router    *router.Router
	Search    *federated.Service
	Credit    *credit.Service
	Health    *health.Checker
	Local     *vectorsearch.Engine

	Server *api.Server

	cancel context.CancelFunc
}

// New loads configuration from path (empty for defaults) and wires a
// Daemon. path may point at a TOML file produced by `config.Save`.
func New(path string) (*Daemon, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("daemon: load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig wires a Daemon from an already-loaded configuration.
func NewWithConfig(cfg config.Config) (*Daemon, error) {
	home := os.Getenv("FABRIC_HOME")
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h + "/.nodefabric"
		}
	}
	db, err := sqlite.Open(home)
	if err != nil {
		return nil, fmt.Errorf("daemon: open database: %w", err)
	}

	d := &Daemon{Config: cfg, DB: db}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = "insecure-dev-secret-change-me"
		log.Warn().Msg("daemon: no auth.jwt_secret configured, using an insecure development default")
	}
	signer, err := jwtsigner.New(secret)
	if err != nil {
		return nil, fmt.Errorf("daemon: build signer: %w", err)
	}
	d.Auth = auth.New(signer)

	d.Breakers = breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		RetryTimeout:     time.Duration(cfg.Breaker.RetryTimeoutSeconds) * time.Second,
	})
	// Mirror breaker open/close onto the node's own status (spec §4.4):
	// a freshly-opened breaker marks the node status=error, and a
	// breaker that closes again restores it to active so the registry's
	// active-nodes view doesn't keep excluding a recovered node.
	d.Breakers.SetNotifier(func(slug string, to domain.BreakerPhase) {
		switch to {
		case domain.BreakerOpen:
			_ = d.Registry.UpdateStatus(slug, domain.StatusError)
		case domain.BreakerClosed:
			_ = d.Registry.UpdateStatus(slug, domain.StatusActive)
		}
	})

	// The forwarder is built before the registry because it is the
	// registry's Pinger; its AlternateFinder (the registry itself, for
	// collection failover) is wired in via SetAlternateFinder right
	// after the registry exists, below.
	d.Forwarder = forwarder.New(forwarder.Config{
		MaxRetries:  cfg.Forwarder.MaxRetries,
		BackoffBase: time.Duration(cfg.Forwarder.BackoffBaseMs) * time.Millisecond,
		RequestTTL:  time.Duration(cfg.Transport.RequestTimeoutSeconds) * time.Second,
	}, d.Breakers, nil, d.Auth)

	d.Registry = registry.New(db.NodeStore(), d.Forwarder, d.Breakers)
	d.Forwarder.SetAlternateFinder(d.Registry)
	d.Forwarder.SetStatsRecorder(d.Registry)

	if err := d.Registry.Load(context.Background()); err != nil {
		return nil, fmt.Errorf("daemon: load registry: %w", err)
	}

	balStrategy, err := parseBalancerStrategy(cfg.Balancer.Strategy)
	if err != nil {
		return nil, err
	}
	d.Balancer = balancer.New(balStrategy)

	var cacheBackend domain.CacheBackend
	if cfg.Cache.UseDurable {
		cacheBackend = db.CacheStore()
	}
	d.Cache = cache.New(cacheBackend, time.Duration(cfg.Cache.DefaultTTLSeconds)*time.Second)

	d.Local = vectorsearch.New()

	d.Discovery = discovery.NewLocalDiscovery(func() domain.AdvertisedMetadata {
		return localMetadata(cfg)
	})

	digestMode := discovery.ModeTemplate
	if cfg.Router.DigestMode == "ai" {
		digestMode = discovery.ModeAI
	}
	d.Digester = discovery.NewDigester(digestMode, mock.New(""))

	d.Router = router.New(router.Config{
		MinKeywordScore: cfg.Router.MinKeywordScore,
	}, d.Registry, router.NewBreakerAvailability(d.Breakers), mock.New(""), func() map[string]string {
		return d.digestTextByNode()
	})

	d.Search = federated.New(federated.Config{
		MaxNodes:      cfg.Balancer.MaxNodes,
		MergeStrategy: merge.Strategy(cfg.Merger.Strategy),
	}, cfg.Node.Slug, d.Registry, d.Breakers, d.Balancer, d.Forwarder, d.Cache, d.Local)

	d.Credit = credit.NewService(db)
	d.Health = health.NewChecker(db, d.Registry, d.Breakers)

	d.Server = api.NewServer(api.Config{
		NodeSlug:    cfg.Node.Slug,
		Local:       d.Discovery,
		Search:      d.Search,
		Credits:     d.Credit,
		Checker:     d.Health,
		Auth:        d.Auth,
		CORSOrigins: cfg.API.CORSOrigins,
	})

	return d, nil
}

// digestTextByNode returns the digest text of every active node, feeding
// the router's AI-intent fallback (C11 stage 2). Each node's digest is
// compiled on first use and reused afterwards unless it is marked dirty.
func (d *Daemon) digestTextByNode() map[string]string {
	out := make(map[string]string)
	for _, n := range d.Registry.GetActiveNodes() {
		meta := domain.AdvertisedMetadata{
			Version:      n.Version,
			Capabilities: n.Capabilities,
			Domains:      n.Domains,
			DataTypes:    n.DataTypes,
			Keywords:     n.Keywords,
			Collections:  n.Collections,
			Workflows:    n.Workflows,
		}
		digest := d.Digester.Compile(context.Background(), n.Slug, meta)
		out[n.Slug] = digest.Text
	}
	return out
}

func localMetadata(cfg config.Config) domain.AdvertisedMetadata {
	return domain.AdvertisedMetadata{
		Status:  "active",
		Version: cfg.Node.Version,
	}
}

func parseBalancerStrategy(s string) (balancer.Strategy, error) {
	if s == "" {
		return balancer.ResponseTime, nil
	}
	switch balancer.Strategy(s) {
	case balancer.RoundRobin, balancer.LeastConns, balancer.Weighted, balancer.ResponseTime, balancer.Random:
		return balancer.Strategy(s), nil
	default:
		return "", fmt.Errorf("daemon: unknown balancer strategy %q", s)
	}
}

// Serve starts the HTTP server and the background registry ping loop
// and health checker, blocking until ctx is cancelled or a termination
// signal arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Registry.RunPingLoop(ctx, 30*time.Second)
	go d.Health.Run(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	log.Info().Str("addr", addr).Str("slug", d.Config.Node.Slug).Msg("fabric node serving")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close releases every resource the Daemon opened.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
