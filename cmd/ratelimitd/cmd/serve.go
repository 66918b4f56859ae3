package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nodequota/ratelimit/cache"
	"github.com/nodequota/ratelimit/cluster"
	"github.com/nodequota/ratelimit/cluster/discovery"
	"github.com/nodequota/ratelimit/cluster/gossip"
	"github.com/nodequota/ratelimit/cluster/ring"
	"github.com/nodequota/ratelimit/cluster/rpc"
	"github.com/nodequota/ratelimit/config"
	"github.com/nodequota/ratelimit/httpapi"
	"github.com/nodequota/ratelimit/limiter"
	"github.com/nodequota/ratelimit/logger"
	"github.com/nodequota/ratelimit/observability"
	"github.com/nodequota/ratelimit/override"
	"github.com/nodequota/ratelimit/redisclient"
	"github.com/nodequota/ratelimit/store/postgres"
)

// Process exit statuses: 0 is a clean shutdown, 1 a configuration
// error, 2 a failure to reach initial discovery, 3 an unrecoverable
// runtime error.
const (
	exitConfig    = 1
	exitDiscovery = 2
	exitRuntime   = 3
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a rate-limiter node: public API, peer RPC, and gossip",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func runServe() {
	cfg := config.Load()
	log := logger.New(cfg)
	log.Info().Str("env", cfg.Env).Str("node_id", cfg.NodeID).Msg("ratelimitd starting")

	metrics := observability.New()

	pgStore, err := postgres.Open(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("postgres connect failed")
		os.Exit(exitRuntime)
	}
	defer pgStore.Close()
	if err := pgStore.Migrate(context.Background()); err != nil {
		log.Error().Err(err).Msg("schema migration failed")
		os.Exit(exitRuntime)
	}

	var tiers []cache.Tier
	memTier := cache.NewMemTier(16, 4096, 0.1)
	tiers = append(tiers, memTier)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		client, err := redisclient.New(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis init failed, continuing on memory tier only")
		} else if err := redisclient.Ping(client); err != nil {
			log.Warn().Err(err).Msg("redis ping failed, continuing on memory tier only")
		} else {
			tiers = append(tiers, cache.NewRedisTier(client, "ratelimit"))
			rdb = client
			log.Info().Msg("redis cache tier connected")
		}
	}

	resolver := override.NewResolver(log, pgStore, tiers...)

	self := cluster.Member{
		NodeID:        cfg.NodeID,
		AdvertiseAddr: cfg.AdvertiseAddr,
		RPCPort:       cfg.RPCPort,
		GossipPort:    cfg.GossipPort,
		JoinedAt:      time.Now(),
		State:         cluster.StateAlive,
	}

	ringTbl := ring.NewTable()
	ringTbl.Publish(ring.Build([]string{self.NodeID}, ring.DefaultVirtualNodes))

	var discoverySource discovery.Source
	var registry *discovery.Registry
	switch cfg.DiscoveryMode {
	case config.DiscoveryRegistry:
		if rdb == nil {
			log.Error().Msg("registry discovery requires a working Redis connection")
			os.Exit(exitConfig)
		}
		registry = discovery.NewRegistry(rdb, 3*cfg.HeartbeatInterval)
		go registry.RunHeartbeat(context.Background(), self, cfg.HeartbeatInterval)
		discoverySource = registry
	default:
		if cfg.StaticPeersFile != "" {
			fileSource, err := discovery.NewStaticFromFile(cfg.StaticPeersFile)
			if err != nil {
				log.Error().Err(err).Str("path", cfg.StaticPeersFile).Msg("failed to load static peer file")
				os.Exit(exitConfig)
			}
			discoverySource = fileSource
		} else {
			discoverySource = discovery.NewStatic(cfg.StaticPeers)
		}
	}

	seeds, err := discoverySource.Peers(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("initial peer discovery unreachable")
		os.Exit(exitDiscovery)
	}

	rpcClient := rpc.NewClient(cfg.RPCTimeout)
	gossiper := gossip.New(log, self, seeds, rpcClient, ringTbl, gossip.Config{
		ProbeInterval:  cfg.ProbeInterval,
		SuspectTimeout: cfg.SuspectTimeout,
		VirtualNodes:   ring.DefaultVirtualNodes,
	})

	breakers := limiter.NewBreakerPool(cfg.BreakerMaxFailures, cfg.BreakerCooldown)
	flusher := limiter.NewFlusher(log, rpcClient, breakers, cfg.BatchFlushInterval, cfg.BatchMaxItems, metrics)
	coordinator := limiter.NewCoordinator(log, self, resolver, ringTbl, gossiper, flusher, breakers, rpcClient, cfg.RPCTimeout, metrics)

	acl := rpc.NewACL()
	dedupe := rpc.NewDedupe(2 * time.Minute)
	peerServer := rpc.NewServer(coordinator, gossiper, acl, dedupe, log)

	bgCtx, cancelBG := context.WithCancel(context.Background())
	go gossiper.Run(bgCtx)
	go flusher.Run(bgCtx)
	go coordinator.RunCounterReaper(bgCtx, time.Minute)
	go refreshACL(bgCtx, acl, gossiper, cfg.HeartbeatInterval)
	go refreshGauges(bgCtx, metrics, gossiper, ringTbl, coordinator)

	router := httpapi.NewRouter(httpapi.Deps{
		Config:    cfg,
		Logger:    log,
		Metrics:   metrics,
		Limit:     httpapi.NewLimitHandler(coordinator, log),
		Overrides: httpapi.NewOverrideHandler(resolver, log),
		Cluster:   httpapi.NewClusterHandler(self, gossiper, ringTbl),
	})

	publicSrv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.DefaultTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	peerSrv := &http.Server{
		Addr:    net.JoinHostPort("", strconv.Itoa(cfg.RPCPort)),
		Handler: peerServer,
	}
	// Gossip probes dial the gossip port, not the RPC port; both
	// listeners serve the same ACL'd handler, so a digest exchange
	// arriving on either is answered.
	gossipSrv := &http.Server{
		Addr:    net.JoinHostPort("", strconv.Itoa(cfg.GossipPort)),
		Handler: peerServer,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("public API listening")
		if err := publicSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("public server failed")
			os.Exit(exitRuntime)
		}
	}()
	go func() {
		log.Info().Int("port", cfg.RPCPort).Msg("peer RPC listening")
		if err := peerSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("peer server failed")
			os.Exit(exitRuntime)
		}
	}()
	go func() {
		log.Info().Int("port", cfg.GossipPort).Msg("gossip listening")
		if err := gossipSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("gossip server failed")
			os.Exit(exitRuntime)
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")
	cancelBG()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if registry != nil {
		if err := registry.Deregister(ctx, self.NodeID); err != nil {
			log.Warn().Err(err).Msg("registry deregister failed, peers will wait out the TTL")
		}
	}
	if err := publicSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("public server shutdown failed")
	}
	if err := peerSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("peer server shutdown failed")
	}
	if err := gossipSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("gossip server shutdown failed")
	}
	log.Info().Msg("ratelimitd stopped gracefully")
}

// refreshGauges periodically samples the ring, membership, and counter
// map sizes into their Prometheus gauges.
func refreshGauges(ctx context.Context, metrics *observability.Metrics, gossiper *gossip.Gossiper, ringTbl *ring.Table, coordinator *limiter.Coordinator) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetRingSize(ringTbl.Snapshot().Size())
			metrics.SetAliveMembers(len(gossiper.AliveMembers()))
			metrics.SetCounterWindows(coordinator.CounterCount())
		}
	}
}

// refreshACL keeps the peer-RPC ACL in sync with the alive member set
// so a newly-joined peer can reach this node as soon as gossip learns
// about it.
func refreshACL(ctx context.Context, acl *rpc.ACL, gossiper *gossip.Gossiper, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			members := gossiper.AliveMembers()
			hosts := make([]string, 0, len(members))
			for _, m := range members {
				hosts = append(hosts, m.AdvertiseAddr)
			}
			acl.Update(hosts)
		}
	}
}
