package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nanodns/nanodns/internal/dns/common/clock"
	"github.com/nanodns/nanodns/internal/dns/common/log"
	"github.com/nanodns/nanodns/internal/dns/config"
	"github.com/nanodns/nanodns/internal/dns/domain"
	"github.com/nanodns/nanodns/internal/dns/gateways/netio"
	"github.com/nanodns/nanodns/internal/dns/gateways/wire"
	"github.com/nanodns/nanodns/internal/dns/repos/dnscache"
	"github.com/nanodns/nanodns/internal/dns/repos/hosts"
	"github.com/nanodns/nanodns/internal/dns/repos/store"
	"github.com/nanodns/nanodns/internal/dns/repos/store/bolt"
	"github.com/nanodns/nanodns/internal/dns/services/reactor"
	"github.com/nanodns/nanodns/internal/dns/services/resolver"
	"github.com/nanodns/nanodns/internal/dns/services/update"
)

const (
	version = "0.1.0-dev"
	appName = "nanodnsd"
)

// Application holds the wired components of the server.
type Application struct {
	config     *config.AppConfig
	clientSock *netio.UDPSocket
	upSock     *netio.UDPSocket // nil when forwarding is disabled
	reactor    *reactor.Reactor
	leases     *bolt.LeaseStore // nil when persistence is disabled
	stopWatch  func() error     // nil when no hosts file is watched
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":   version,
		"env":       cfg.Env,
		"log_level": cfg.LogLevel,
		"listen":    cfg.Listen,
		"servers":   cfg.Servers,
		"updates":   len(cfg.UpdateKeys) > 0,
	}, "Starting nanodns server")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Server failed")
	}

	log.Info(nil, "nanodns server stopped gracefully")
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()
	codec := wire.NewUDPCodec()

	recordStore := store.New()
	zoneRecords, err := loadStaticRecords(cfg, recordStore, logger)
	if err != nil {
		return nil, err
	}

	var leases *bolt.LeaseStore
	if cfg.LeaseDB != "" {
		leases, err = bolt.Open(cfg.LeaseDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open lease database: %w", err)
		}
		entries, err := leases.Load(clk.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to load leases: %w", err)
		}
		restored := recordStore.RestoreDynamic(entries, clk.Now())
		log.Info(map[string]any{
			"path":     cfg.LeaseDB,
			"restored": restored,
		}, "Dynamic leases restored")
	}

	clientSock := netio.NewUDPSocket(cfg.Listen, int(cfg.QueueSize), logger)

	// Upstream answers arrive on a separate ephemeral socket so client
	// traffic can never masquerade as a server response.
	var upSock *netio.UDPSocket
	var upSender resolver.PacketSender
	var upChan <-chan netio.Datagram
	servers, err := resolveServers(cfg.Servers)
	if err != nil {
		return nil, err
	}
	if len(servers) > 0 {
		upSock = netio.NewUDPSocket(":0", int(cfg.QueueSize), logger)
		upSender = upSock
		upChan = upSock.Datagrams()
	}

	var answerCache resolver.Cache
	if len(servers) > 0 {
		answerCache, err = dnscache.New(int(cfg.CacheSize))
		if err != nil {
			return nil, fmt.Errorf("failed to create answer cache: %w", err)
		}
	}

	resolverService, err := resolver.NewResolver(resolver.Options{
		Store:           recordStore,
		Cache:           answerCache,
		Codec:           codec,
		ClientSender:    clientSock,
		UpstreamSender:  upSender,
		Servers:         servers,
		Timeout:         time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second,
		Retries:         int(cfg.UpstreamRetries),
		MaxCacheTTL:     uint32(cfg.MaxCacheTTLSeconds),
		PendingCapacity: int(cfg.PendingCapacity),
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	var updater reactor.Updater
	var journal update.LeaseJournal
	if leases != nil {
		journal = leases
	}
	if keys := cfg.ParsedKeys(); len(keys) > 0 {
		updateService, err := update.NewService(update.Options{
			Keys:       keys,
			Window:     time.Duration(cfg.UpdateWindowSeconds) * time.Second,
			DefaultTTL: uint32(cfg.UpdateDefaultTTLSeconds),
			MaxTTL:     uint32(cfg.UpdateMaxTTLSeconds),
			Store:      recordStore,
			Journal:    journal,
			Clock:      clk,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create update service: %w", err)
		}
		updater = updateService
	}

	loop, err := reactor.New(reactor.Options{
		Store:    recordStore,
		Resolver: resolverService,
		Updater:  updater,
		Journal:  journal,
		Client:   clientSock.Datagrams(),
		Upstream: upChan,
		Sender:   clientSock,
		Clock:    clk,
		DrainCap: int(cfg.DrainCap),
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create reactor: %w", err)
	}

	app := &Application{
		config:     cfg,
		clientSock: clientSock,
		upSock:     upSock,
		reactor:    loop,
		leases:     leases,
	}

	if cfg.HostsFile != "" {
		stop, err := hosts.WatchFile(cfg.HostsFile, logger, func() {
			loop.Do(func() {
				reloadHosts(cfg, recordStore, zoneRecords, logger)
			})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to watch hosts file: %w", err)
		}
		app.stopWatch = stop
	}

	return app, nil
}

// loadStaticRecords fills the store from the zone directory and hosts file.
// It returns the zone records so hosts reloads can rebuild the full static
// table without re-reading the zone directory.
func loadStaticRecords(cfg *config.AppConfig, s *store.Store, logger log.Logger) ([]domain.ResourceRecord, error) {
	var zoneRecords []domain.ResourceRecord
	if cfg.ZoneDir != "" {
		zones, err := hosts.LoadZoneDirectory(cfg.ZoneDir, uint32(cfg.StaticTTLSeconds))
		if err != nil {
			return nil, fmt.Errorf("failed to load zone directory: %w", err)
		}
		for _, records := range zones {
			zoneRecords = append(zoneRecords, records...)
		}
		log.Info(map[string]any{
			"zone_dir": cfg.ZoneDir,
			"zones":    len(zones),
			"records":  len(zoneRecords),
		}, "Zone directory loaded")
	}

	static := zoneRecords
	if cfg.HostsFile != "" {
		hostRecords, err := parseHostsFile(cfg, logger)
		if err != nil {
			return nil, err
		}
		static = append(append([]domain.ResourceRecord(nil), zoneRecords...), hostRecords...)
		log.Info(map[string]any{
			"path":    cfg.HostsFile,
			"records": len(hostRecords),
		}, "Hosts file loaded")
	}

	s.ReplaceStatic(static)
	return zoneRecords, nil
}

// reloadHosts runs on the reactor loop when the hosts file changes. A file
// that fails to parse leaves the previous table serving.
func reloadHosts(cfg *config.AppConfig, s *store.Store, zoneRecords []domain.ResourceRecord, logger log.Logger) {
	hostRecords, err := parseHostsFile(cfg, logger)
	if err != nil {
		log.Warn(map[string]any{
			"path":  cfg.HostsFile,
			"error": err,
		}, "Hosts reload failed, keeping previous records")
		return
	}
	s.ReplaceStatic(append(append([]domain.ResourceRecord(nil), zoneRecords...), hostRecords...))
	log.Info(map[string]any{
		"path":    cfg.HostsFile,
		"records": len(hostRecords),
	}, "Hosts file reloaded")
}

func parseHostsFile(cfg *config.AppConfig, logger log.Logger) ([]domain.ResourceRecord, error) {
	f, err := os.Open(cfg.HostsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open hosts file: %w", err)
	}
	defer f.Close()
	records, err := hosts.ParseHostsFile(f, cfg.HostsFile, logger, uint32(cfg.StaticTTLSeconds))
	if err != nil {
		return nil, fmt.Errorf("failed to parse hosts file: %w", err)
	}
	return records, nil
}

func resolveServers(addrs []string) ([]net.Addr, error) {
	servers := make([]net.Addr, 0, len(addrs))
	for _, s := range addrs {
		addr, err := net.ResolveUDPAddr("udp", s)
		if err != nil {
			return nil, fmt.Errorf("invalid upstream server %q: %w", s, err)
		}
		servers = append(servers, addr)
	}
	return servers, nil
}

// Run starts the sockets and the serving loop, and blocks until ctx is
// cancelled.
func (app *Application) Run(ctx context.Context) error {
	if err := app.clientSock.Start(ctx); err != nil {
		return fmt.Errorf("failed to start client socket: %w", err)
	}
	if app.upSock != nil {
		if err := app.upSock.Start(ctx); err != nil {
			_ = app.clientSock.Stop()
			return fmt.Errorf("failed to start upstream socket: %w", err)
		}
	}

	log.Info(map[string]any{
		"address":   app.clientSock.LocalAddr().String(),
		"transport": "UDP",
	}, "DNS server started")

	err := app.reactor.Run(ctx)

	if app.stopWatch != nil {
		if werr := app.stopWatch(); werr != nil {
			log.Warn(map[string]any{"error": werr}, "Error stopping hosts watcher")
		}
	}
	if serr := app.clientSock.Stop(); serr != nil {
		log.Warn(map[string]any{"error": serr}, "Error stopping client socket")
	}
	if app.upSock != nil {
		if serr := app.upSock.Stop(); serr != nil {
			log.Warn(map[string]any{"error": serr}, "Error stopping upstream socket")
		}
	}
	if app.leases != nil {
		if cerr := app.leases.Close(); cerr != nil {
			log.Warn(map[string]any{"error": cerr}, "Error closing lease database")
		}
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
