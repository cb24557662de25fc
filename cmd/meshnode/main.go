// meshnode runs one MeshStatic device: the packet engine, its in-memory
// Bus link adapter, the periodic tick loop that drives heartbeats,
// discovery, routing sweeps, dedup purges, and session rotation, and a
// minimal administrative HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dj3m/meshstatic/internal/config"
	"github.com/dj3m/meshstatic/internal/keystore"
	"github.com/dj3m/meshstatic/internal/link"
	"github.com/dj3m/meshstatic/internal/logging"
	"github.com/dj3m/meshstatic/internal/mesh"
	meshmetrics "github.com/dj3m/meshstatic/internal/metrics"
	appversion "github.com/dj3m/meshstatic/internal/version"
)

// shutdownTimeout bounds how long the admin HTTP server may take to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// routingEntriesRefresh is how often cmd/meshnode recomputes the
// routing_entries gauge from SnapshotRoutes, since the engine has no
// push hook for raw table occupancy.
const routingEntriesRefresh = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	simulate := flag.Bool("simulate", false, "also run node.address's link.peers as in-process engines sharing one Bus")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger, logLevel := logging.New(cfg.Log)

	self, err := cfg.Node.Address6()
	if err != nil {
		logger.Error("invalid node address", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("meshnode starting",
		slog.String("version", appversion.Version),
		slog.String("address", self.String()),
		slog.Bool("simulate", *simulate),
	)

	reg := prometheus.NewRegistry()
	collector := meshmetrics.NewCollector(reg)

	bus := link.NewBus(0)

	eng, err := buildEngine(cfg, self, bus, logger, collector)
	if err != nil {
		logger.Error("failed to build engine", slog.String("error", err.Error()))
		return 1
	}

	var sims []simulatedPeer
	if *simulate {
		sims, err = buildSimulatedPeers(cfg, bus, logger)
		if err != nil {
			logger.Error("failed to build simulated peers", slog.String("error", err.Error()))
			return 1
		}
	}

	if err := runDaemon(cfg, eng, bus, sims, reg, collector, logger, *configPath, logLevel); err != nil {
		logger.Error("meshnode exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("meshnode stopped")
	return 0
}

// buildEngine wires a mesh.Engine to its collaborators: the Bus link
// adapter, the master-key-derived session key store, and Prometheus
// metrics. The Engine is reserved on the Bus before construction and
// bound in afterward, since mesh.New requires a Link before the Engine
// it belongs to exists (internal/link.Bus.Reserve/Bind).
func buildEngine(cfg *config.Config, self mesh.Address, bus *link.Bus, logger *slog.Logger, collector *meshmetrics.Collector) (*mesh.Engine, error) {
	busLink, err := bus.Reserve(self)
	if err != nil {
		return nil, fmt.Errorf("reserve %s on bus: %w", self, err)
	}

	masterKey, err := cfg.Node.MasterKey()
	if err != nil {
		return nil, fmt.Errorf("load master key: %w", err)
	}
	role, err := cfg.Node.MeshRole()
	if err != nil {
		return nil, fmt.Errorf("parse role: %w", err)
	}

	keys := keystore.New(masterKey, time.Unix(0, 0))

	engCfg := mesh.EngineConfig{
		Self:   self,
		Role:   role,
		Link:   busLink,
		Clock:  keystore.NewMonotonicClock(),
		Random: keystore.CryptoRandom{},
		Keys:   keys,
		Sinks:  buildSinks(logger),

		Groups: cfg.Node.GroupSet(),

		Routing: cfg.Mesh.Routing.Mesh(),
		Dedup:   cfg.Mesh.Dedup.Mesh(),

		HeartbeatInterval:    cfg.Mesh.HeartbeatInterval(role),
		DiscoveryInterval:    cfg.Mesh.Timers.Discovery,
		RoutingSweepInterval: cfg.Mesh.Timers.RoutingSweep,
		DedupPurgeInterval:   cfg.Mesh.Timers.DedupPurge,
		SessionCheckInterval: cfg.Mesh.Timers.SessionCheck,
	}

	eng, err := mesh.New(engCfg, mesh.WithMetrics(collector), mesh.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("construct engine: %w", err)
	}

	if err := bus.Bind(self, eng); err != nil {
		return nil, fmt.Errorf("bind %s to bus: %w", self, err)
	}

	return eng, nil
}

// simulatedPeer is an extra in-process engine spun up under -simulate so
// the primary node has other devices on its Bus to discover, route to,
// and receive heartbeats from.
type simulatedPeer struct {
	addr mesh.Address
	eng  *mesh.Engine
}

// buildSimulatedPeers constructs one bare-bones engine per address in
// cfg.Link.Peers, all sharing bus with the primary node, using the same
// master key and the same configured routing/dedup sizing. These exist purely to
// exercise the primary engine's routing and discovery paths in
// single-process development and are not meant to model real devices.
func buildSimulatedPeers(cfg *config.Config, bus *link.Bus, logger *slog.Logger) ([]simulatedPeer, error) {
	peers, err := cfg.Link.ResolvedPeers()
	if err != nil {
		return nil, fmt.Errorf("resolve simulated peers: %w", err)
	}

	masterKey, err := cfg.Node.MasterKey()
	if err != nil {
		return nil, fmt.Errorf("load master key: %w", err)
	}

	out := make([]simulatedPeer, 0, len(peers))
	for _, addr := range peers {
		busLink, err := bus.Reserve(addr)
		if err != nil {
			return nil, fmt.Errorf("reserve simulated peer %s: %w", addr, err)
		}

		keys := keystore.New(masterKey, time.Unix(0, 0))
		eng, err := mesh.New(mesh.EngineConfig{
			Self:   addr,
			Role:   mesh.RoleNode,
			Link:   busLink,
			Clock:  keystore.NewMonotonicClock(),
			Random: keystore.CryptoRandom{},
			Keys:   keys,
			Routing: cfg.Mesh.Routing.Mesh(),
			Dedup:   cfg.Mesh.Dedup.Mesh(),
		}, mesh.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("construct simulated peer %s: %w", addr, err)
		}

		if err := bus.Bind(addr, eng); err != nil {
			return nil, fmt.Errorf("bind simulated peer %s: %w", addr, err)
		}

		logger.Info("simulated peer online", slog.String("address", addr.String()))
		out = append(out, simulatedPeer{addr: addr, eng: eng})
	}
	return out, nil
}

// buildSinks logs local-destined deliveries; a real deployment would wire
// these into device control logic instead.
func buildSinks(logger *slog.Logger) mesh.Sinks {
	return mesh.Sinks{
		OnSensor: func(src mesh.Address, data mesh.SensorData) {
			logger.Info("sensor reading",
				slog.String("src", src.String()),
				slog.Float64("temperature", float64(data.Temperature)),
				slog.Float64("humidity", float64(data.Humidity)),
				slog.Int("battery_mv", int(data.BatteryMV)),
			)
		},
		OnCommand: func(src mesh.Address, payload []byte) {
			logger.Info("command received", slog.String("src", src.String()), slog.Int("len", len(payload)))
		},
		OnEvent: func(src mesh.Address, event mesh.EmergencyEvent) {
			logger.Warn("emergency event",
				slog.String("src", src.String()),
				slog.Int("event_type", int(event.EventType)),
				slog.Int("severity", int(event.Severity)),
			)
		},
	}
}

// runDaemon runs the bus dispatch loop, the primary and simulated-peer
// tick loops, and the admin HTTP server under an errgroup with
// signal-aware shutdown, following the same lifecycle shape as the rest
// of this codebase's daemons.
func runDaemon(cfg *config.Config, eng *mesh.Engine, bus *link.Bus, sims []simulatedPeer, reg *prometheus.Registry, collector *meshmetrics.Collector, logger *slog.Logger, configPath string, logLevel *slog.LevelVar) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return bus.Run(gCtx)
	})

	g.Go(func() error {
		return runTickLoop(gCtx, eng, logger)
	})

	g.Go(func() error {
		return runRoutingEntriesGauge(gCtx, eng, collector)
	})

	for _, sim := range sims {
		sim := sim
		g.Go(func() error {
			return runTickLoop(gCtx, sim.eng, logger)
		})
	}

	adminSrv := newAdminServer(cfg.Admin, cfg.Metrics, eng, reg)
	g.Go(func() error {
		logger.Info("admin server listening",
			slog.String("addr", cfg.Admin.Addr),
			slog.String("metrics_path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, adminSrv, cfg.Admin.Addr)
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	g.Go(func() error {
		return runSIGHUPReload(gCtx, configPath, logLevel, logger)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(logger, adminSrv, bus)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// runTickLoop drives one engine's periodic timer work (spec.md §4.6).
// The engine itself decides internally which of heartbeat, discovery,
// routing sweep, dedup purge, or session rotation is due on each call.
func runTickLoop(ctx context.Context, eng *mesh.Engine, logger *slog.Logger) error {
	const tickInterval = time.Second
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	onDeliveryFailed := func(id mesh.PacketID) {
		logger.Warn("delivery failed: ack not received", slog.Uint64("packet_id", uint64(id)))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			eng.Tick(now, onDeliveryFailed)
		}
	}
}

// runRoutingEntriesGauge refreshes the routing_entries gauge from
// SnapshotRoutes on a fixed interval; mesh.MetricsReporter has no push
// hook for raw table occupancy (only SetOnlineCount/SetWaitingCount),
// so the daemon pulls it itself.
func runRoutingEntriesGauge(ctx context.Context, eng *mesh.Engine, collector *meshmetrics.Collector) error {
	ticker := time.NewTicker(routingEntriesRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			collector.SetRoutingEntries(len(eng.SnapshotRoutes()))
		}
	}
}

// newAdminServer builds the administrative HTTP surface: GET /routes,
// GET /counters, POST /discover, and GET /metrics, all on one listener
// (spec.md §6's "administrative surface... listed for completeness";
// SPEC_FULL.md's explicit Non-goal rules out a fuller REST API or a
// gRPC/Connect-RPC control plane).
func newAdminServer(adminCfg config.AdminConfig, metricsCfg config.MetricsConfig, eng *mesh.Engine, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/routes", handleRoutes(eng))
	mux.HandleFunc("/counters", handleCounters(eng))
	mux.HandleFunc("/discover", handleDiscover(eng))
	mux.Handle(metricsCfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              adminCfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// routeView renders a mesh.RoutingEntry with string addresses and status,
// rather than the raw [6]byte arrays and uint8 json.Marshal would produce.
type routeView struct {
	Device    string  `json:"device"`
	Parent    string  `json:"parent"`
	RSSI      int8    `json:"rssi"`
	LastSeen  string  `json:"last_seen"`
	Status    string  `json:"status"`
	BatteryMV *uint16 `json:"battery_mv,omitempty"`
}

func handleRoutes(eng *mesh.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		entries := eng.SnapshotRoutes()
		views := make([]routeView, len(entries))
		for i, e := range entries {
			views[i] = routeView{
				Device:    e.Device.String(),
				Parent:    e.Parent.String(),
				RSSI:      e.RSSI,
				LastSeen:  e.LastSeen.Format(time.RFC3339),
				Status:    e.Status.String(),
				BatteryMV: e.BatteryMV,
			}
		}
		writeJSON(w, views)
	}
}

// countersView re-keys mesh.Counters.Drops by DropKind.String(); DropKind
// is not a json.Marshaler, and map[DropKind]uint64 cannot encode as-is.
type countersView struct {
	RX    uint64            `json:"rx"`
	TX    uint64            `json:"tx"`
	Drops map[string]uint64 `json:"drops"`
}

func handleCounters(eng *mesh.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		c := eng.Counters()
		view := countersView{RX: c.RX, TX: c.TX, Drops: make(map[string]uint64, len(c.Drops))}
		for kind, n := range c.Drops {
			view.Drops[kind.String()] = n
		}
		writeJSON(w, view)
	}
}

func handleDiscover(eng *mesh.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id, err := eng.Submit(mesh.Broadcast, mesh.MsgDiscovery, 0, 0, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]any{"packet_id": id})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}

func gracefulShutdown(logger *slog.Logger, adminSrv *http.Server, bus *link.Bus) error {
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown", slog.String("error", err.Error()))
	}
	if err := bus.Close(); err != nil {
		logger.Warn("bus close", slog.String("error", err.Error()))
	}

	return nil
}

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon is
// beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runSIGHUPReload reloads the configuration file on SIGHUP and applies
// its log level to the shared LevelVar. Unlike the teacher daemon's
// declarative session reconciliation, link peers and routing/dedup sizing
// are fixed at engine construction, so reload only affects verbosity.
func runSIGHUPReload(ctx context.Context, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) error {
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	defer signal.Stop(sigHUP)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigHUP:
			cfg, err := config.Load(configPath)
			if err != nil {
				logger.Warn("SIGHUP: reload failed, keeping previous configuration",
					slog.String("error", err.Error()),
				)
				continue
			}
			logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
			logger.Info("SIGHUP: log level reloaded", slog.String("level", cfg.Log.Level))
		}
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured watchdog interval. If the watchdog is not configured, the
// goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", err.Error()))
			}
		}
	}
}
