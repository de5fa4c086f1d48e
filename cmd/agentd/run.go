package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"agentcraft.ai/internal/agent"
	"agentcraft.ai/internal/agent/roles"
	"agentcraft.ai/internal/agent/status"
	"agentcraft.ai/internal/bus"
	"agentcraft.ai/internal/clock"
	"agentcraft.ai/internal/metrics"
	"agentcraft.ai/internal/persistence/archive"
	"agentcraft.ai/internal/persistence/indexdb"
	"agentcraft.ai/internal/persistence/knowledge"
	persistlog "agentcraft.ai/internal/persistence/log"
	"agentcraft.ai/internal/sim/catalogs"
	"agentcraft.ai/internal/sim/world"
	"agentcraft.ai/internal/transport/observer"
	"agentcraft.ai/internal/tuning"
)

type runOptions struct {
	configDir    string
	scenarioPath string
	tuningPath   string
	dataDir      string
	addr         string

	transport   string
	redisAddr   string
	redisStream string
	hubURL      string
	knowledge   string

	worldTick     time.Duration
	snapshotEvery int
	archiveEvery  uint64
	keepSnapshots int
	resume        bool
	disableDB     bool
	duration      time.Duration
}

func runCmd() *cobra.Command {
	var o runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scenario world and its agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.configDir, "configs", "./configs", "config directory")
	f.StringVar(&o.scenarioPath, "scenario", "", "scenario yaml (default: <configs>/scenario.yaml)")
	f.StringVar(&o.tuningPath, "tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	f.StringVar(&o.dataDir, "data", "./data", "runtime data directory")
	f.StringVar(&o.addr, "addr", getenv("AGENTCRAFT_HTTP_ADDR", "127.0.0.1:8080"), "status/metrics listen address (empty to disable)")
	f.StringVar(&o.transport, "transport", "memory", "coordination bus: memory, redis or ws")
	f.StringVar(&o.redisAddr, "redis-addr", getenv("AGENTCRAFT_REDIS_ADDR", "127.0.0.1:6379"), "redis address for --transport=redis")
	f.StringVar(&o.redisStream, "redis-stream", "agentcraft:bus", "redis stream for --transport=redis")
	f.StringVar(&o.hubURL, "hub", "ws://127.0.0.1:8081/bus", "hub url for --transport=ws")
	f.StringVar(&o.knowledge, "knowledge", "signs", "knowledge source: signs or sqlite")
	f.DurationVar(&o.worldTick, "world-tick", 250*time.Millisecond, "world step period")
	f.IntVar(&o.snapshotEvery, "snapshot-every", 1200, "write a world snapshot every N world ticks (0 disables)")
	f.Uint64Var(&o.archiveEvery, "archive-every", 12000, "archive snapshots taken at multiples of N ticks (0 disables)")
	f.IntVar(&o.keepSnapshots, "keep-snapshots", 10, "rolling snapshots to keep (0 keeps all)")
	f.BoolVar(&o.resume, "resume", false, "load the latest snapshot of the scenario world if present")
	f.BoolVar(&o.disableDB, "disable-db", false, "disable the sqlite index")
	f.DurationVar(&o.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func run(parent context.Context, o runOptions) error {
	logger := newLogger("agentd")

	cats, err := catalogs.Load(o.configDir)
	if err != nil {
		return fmt.Errorf("load catalogs: %w", err)
	}
	tune, err := tuning.Load(tuningPathOr(o.tuningPath, o.configDir))
	if err != nil {
		return fmt.Errorf("load tuning: %w", err)
	}
	scPath := o.scenarioPath
	if strings.TrimSpace(scPath) == "" {
		scPath = filepath.Join(o.configDir, "scenario.yaml")
	}
	sc, err := world.LoadScenario(scPath)
	if err != nil {
		return err
	}

	w, err := sc.Build(cats)
	if err != nil {
		return fmt.Errorf("scenario: %w", err)
	}
	worldDir := filepath.Join(o.dataDir, "worlds", w.Config().ID)
	if o.resume {
		if path := latestSnapshot(worldDir); path != "" {
			restored, err := loadWorld(cats, path)
			if err != nil {
				return err
			}
			w = restored
			logger.Printf("resumed %s at tick %d from %s", w.Config().ID, w.CurrentTick(), path)
		}
	}

	ctx, cancel := signalContext(parent)
	defer cancel()
	if o.duration > 0 {
		var cancelT context.CancelFunc
		ctx, cancelT = context.WithTimeout(ctx, o.duration)
		defer cancelT()
	}

	journal := persistlog.NewJournal(worldDir, logger)
	defer journal.Close()
	var idx *indexdb.SQLiteIndex
	if !o.disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index", "agents.sqlite"))
		if err != nil {
			return fmt.Errorf("index: %w", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(o.configDir, cats, tune); err != nil {
			logger.Printf("index catalogs: %v", err)
		}
	}

	var store *knowledge.Store
	switch o.knowledge {
	case "signs":
	case "sqlite":
		store, err = knowledge.Open(filepath.Join(worldDir, "knowledge.sqlite"), knowledge.WithRadius(tune.ObsRadius*4))
		if err != nil {
			return err
		}
		defer store.Close()
	default:
		return fmt.Errorf("unknown knowledge source %q", o.knowledge)
	}

	connect, closeBus, err := busConnector(ctx, o, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg)
	latest := status.NewLatest()
	obs := observer.NewServer(w, latest, logger)
	colors := status.NewColorTable(tune.ColorTableSize)
	reporters := status.Multi{latest, status.NewLogReporter(logger), collector, obs}

	clk := clock.Real{}
	var agents []*agent.Agent
	for _, spec := range sc.Agents {
		a, err := buildAgent(ctx, spec, buildDeps{
			world: w, cats: cats, tune: tune, clock: clk, store: store, connect: connect,
			reporter: reporters, collector: collector, journal: journalOf(journal, idx), colors: colors,
		})
		if err != nil {
			return err
		}
		agents = append(agents, a)
	}
	logger.Printf("world %s: %d agents, transport=%s knowledge=%s", w.Config().ID, len(agents), o.transport, o.knowledge)

	snaps := &snapshotter{
		dir:    worldDir,
		idx:    idx,
		log:    logger,
		policy: archive.Policy{Every: o.archiveEvery, Keep: o.keepSnapshots},
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range agents {
		g.Go(func() error { return a.Run(gctx) })
	}
	g.Go(func() error {
		t := time.NewTicker(o.worldTick)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
			}
			w.Step()
			obs.PublishTick()
			if o.snapshotEvery > 0 && w.CurrentTick()%uint64(o.snapshotEvery) == 0 {
				snaps.save(w)
			}
		}
	})
	if o.addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(http.StatusOK)
			_, _ = rw.Write([]byte("ok"))
		})
		mux.HandleFunc("/status", func(rw http.ResponseWriter, r *http.Request) {
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(latest.All())
		})
		mux.Handle("/metrics", metrics.Handler(reg))
		mux.HandleFunc("/observer/bootstrap", obs.BootstrapHandler())
		mux.HandleFunc("/observer/ws", obs.WSHandler())
		srv := &http.Server{Addr: o.addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			<-gctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			return srv.Shutdown(ctx2)
		})
		g.Go(func() error {
			logger.Printf("listening on %s", o.addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	err = g.Wait()
	snaps.save(w)
	for _, a := range agents {
		st := a.Status()
		logger.Printf("%s: goal=%s stats=%+v", st.AgentID, st.Goal, st.Stats)
	}
	return err
}

type buildDeps struct {
	world     *world.World
	cats      *catalogs.Catalogs
	tune      tuning.Tuning
	clock     clock.Clock
	store     *knowledge.Store
	connect   func(ctx context.Context, agentID string) (bus.Endpoint, error)
	reporter  status.Reporter
	collector *metrics.Collector
	journal   agent.Journal
	colors    *status.ColorTable
}

func buildAgent(ctx context.Context, spec world.AgentSpec, d buildDeps) (*agent.Agent, error) {
	home, err := spec.HomeOf()
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", spec.ID, err)
	}
	role, err := roles.New(spec.Role, roles.Options{
		Catalogs:    d.cats,
		UnusableFor: d.tune.UnusableFor,
		Policy:      d.tune.Share,
		Home:        home,
	})
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", spec.ID, err)
	}
	body, err := d.world.Body(spec.ID, d.clock.Now)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", spec.ID, err)
	}
	p := body.Ports()
	if d.store != nil {
		p.Knowledge = d.store.For(spec.ID)
	}
	ep, err := d.connect(ctx, spec.ID)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", spec.ID, err)
	}

	// Report runs on the agent's own goroutine, so the broker can be read there.
	var a *agent.Agent
	reporter := status.Multi{d.reporter, status.ReporterFunc(func(s status.Status) {
		d.collector.ObserveBroker(s.AgentID, a.Broker().Stats())
	})}
	a, err = agent.New(agent.Config{
		ID:       spec.ID,
		Role:     role,
		Ports:    p,
		Endpoint: ep,
		Clock:    d.clock,
		Tuning:   d.tune,
		Catalogs: d.cats,
		Logger:   log.New(os.Stdout, "[agent "+spec.ID+"] ", log.LstdFlags|log.Lmicroseconds),
		Reporter: reporter,
		Journal:  d.journal,
		Colors:   d.colors,
	})
	return a, err
}

// busConnector returns how agents attach to the configured transport, and how to release
// what the transport holds.
func busConnector(ctx context.Context, o runOptions, logger *log.Logger) (func(context.Context, string) (bus.Endpoint, error), func(), error) {
	var endpoints []bus.Endpoint
	closeAll := func() {
		for _, ep := range endpoints {
			_ = ep.Close()
		}
	}
	switch o.transport {
	case "memory":
		hub := bus.NewMemoryHub()
		return func(_ context.Context, id string) (bus.Endpoint, error) {
			ep := hub.Join(id)
			endpoints = append(endpoints, ep)
			return ep, nil
		}, closeAll, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: o.redisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", o.redisAddr, err)
		}
		connect := func(ctx context.Context, id string) (bus.Endpoint, error) {
			ep, err := bus.NewRedisEndpoint(ctx, client, o.redisStream, id,
				bus.WithMaxLenApprox(10000), bus.WithRedisLogger(logger))
			if err != nil {
				return nil, err
			}
			endpoints = append(endpoints, ep)
			return ep, nil
		}
		return connect, func() {
			closeAll()
			_ = client.Close()
		}, nil
	case "ws":
		return func(ctx context.Context, id string) (bus.Endpoint, error) {
			ep, err := bus.DialWS(ctx, o.hubURL, id, logger)
			if err != nil {
				return nil, err
			}
			endpoints = append(endpoints, ep)
			return ep, nil
		}, closeAll, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", o.transport)
	}
}
