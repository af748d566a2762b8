package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/flow"
	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/schema"
	"main/internal/sim"
	"main/internal/venue"
	"main/internal/wal"
	"main/pkg/conn"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config")
	logDir := flag.String("log-dir", "", "Event log directory (overrides config)")
	symbol := flag.String("symbol", "BTCUSDT", "Symbol for scripted origins")
	tickCount := flag.Int("ticks", 1, "Number of scripted tick origins")
	closeAtEnd := flag.Bool("close", false, "Emit a manual close origin after the ticks")
	gap := flag.Duration("gap", 0, "Delay between scripted origins")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := loadConfig(*configPath, *logDir)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if loaded.Profiling.ServerAddress != "" {
		profiler, err := startProfiler(loaded.Profiling)
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	if err := run(ctx, loaded, *symbol, *tickCount, *closeAtEnd, *gap); err != nil {
		log.Fatalf("runner failed: %v", err)
	}
}

func loadConfig(path, logDir string) (ops.Loaded, error) {
	if path == "" {
		return defaultConfig(logDir), nil
	}
	loaded, err := ops.Load(path)
	if err != nil {
		return ops.Loaded{}, err
	}
	if logDir != "" {
		loaded.Log.Dir = logDir
	}
	return loaded, nil
}

func defaultConfig(logDir string) ops.Loaded {
	if logDir == "" {
		logDir = "testdata/events"
	}
	return ops.Loaded{
		Bus:       bus.Config{},
		Log:       wal.Config{Dir: logDir},
		VenueMode: ops.VenueModePaper,
		Rules:     sim.Rules(),
	}
}

func run(ctx context.Context, loaded ops.Loaded, symbol string, ticks int, closeAtEnd bool, gap time.Duration) error {
	metrics := obs.NewMetrics()

	writer, err := wal.NewWriter(loaded.Log)
	if err != nil {
		return err
	}
	if err := writer.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := writer.Close(); err != nil {
			logs.Errorf("stop event log, err: %+v", err)
		}
	}()

	var db *conn.Client
	if loaded.Database.Enabled {
		db, err = conn.New(conn.Option{
			Host:     loaded.Database.Host,
			Port:     loaded.Database.Port,
			User:     loaded.Database.User,
			Password: loaded.Database.Password,
			Database: loaded.Database.Name,
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = db.Close()
		}()
	}

	var ledgerOpts []ledger.Option
	var ledgerStore *ledger.PgStore
	if db != nil && loaded.Features.PersistLedger {
		ledgerStore, err = ledger.NewPgStore(db.DB())
		if err != nil {
			return err
		}
		ledgerOpts = append(ledgerOpts, ledger.WithStore(ledgerStore))
	}
	book := ledger.New(ledgerOpts...)
	if ledgerStore != nil {
		snap, err := ledgerStore.LoadSnapshot()
		if err != nil {
			return err
		}
		if err := book.Restore(snap); err != nil {
			return err
		}
	}

	var journalStore journal.Store = journal.NewMemoryStore()
	if db != nil && loaded.Features.PersistJournal {
		journalStore, err = journal.NewPgStore(db.DB())
		if err != nil {
			return err
		}
	}
	jnl := journal.New(journalStore, journal.Config{})
	jnl.Start(ctx)
	defer jnl.Close()

	connector, err := buildVenue(ctx, loaded)
	if err != nil {
		return err
	}
	defer connector.Close()

	pump := sim.NewPump(book, jnl)
	go pump.Run(ctx, connector.Replies())

	b := bus.New(loaded.Bus, bus.WithLog(writer), bus.WithMetrics(metrics))
	defer b.Close()

	quote := func(string) schema.Price { return schema.Price(50_000_0000_0000) }
	rules := loaded.Rules
	if len(rules) == 0 {
		rules = sim.Rules()
	}
	pipeline, err := flow.NewPipeline(b, metrics, sim.Workers(book, connector, jnl, quote), rules)
	if err != nil {
		return err
	}

	if loaded.Features.ReplayOnBoot {
		n, err := b.Replay(ctx, loaded.Log.Dir, loaded.Log.FilePrefix)
		if err != nil {
			logs.Warnf("replay durable log, err: %+v", err)
		} else {
			logs.Infof("replayed %d durable events", n)
		}
	}

	supervisor := sim.NewSupervisor(pipeline)
	origins := scriptOrigins(symbol, ticks, closeAtEnd)
	feed := sim.NewFeed(supervisor, origins, gap)

	finished, err := feed.Run(ctx)
	if err != nil {
		return err
	}

	snap := metrics.Snapshot()
	logs.Infof("finished %d runs: %d publishes, %d deliveries, %d dead letters",
		finished, snap.Publishes, snap.Deliveries, snap.DeadLetters)
	return nil
}

func buildVenue(ctx context.Context, loaded ops.Loaded) (venue.Connector, error) {
	switch loaded.VenueMode {
	case ops.VenueModeRemote:
		remote := venue.NewRemote(ctx, venue.RemoteConfig{
			URL:        loaded.Venue.URL,
			Session:    loaded.Venue.Session,
			PriceScale: loaded.Venue.PriceScale,
			QtyScale:   loaded.Venue.QtyScale,
		})
		if err := remote.Start(ctx); err != nil {
			return nil, err
		}
		return remote, nil
	default:
		return venue.NewPaper(venue.PaperConfig{AutoFill: true}), nil
	}
}

func scriptOrigins(symbol string, ticks int, closeAtEnd bool) []schema.Origin {
	if ticks <= 0 {
		ticks = 1
	}
	origins := make([]schema.Origin, 0, ticks+1)
	for i := 0; i < ticks; i++ {
		origins = append(origins, schema.NewOrigin(schema.OriginTick, symbol, time.Now().UTC().UnixNano()))
	}
	if closeAtEnd {
		origins = append(origins, schema.NewOrigin(schema.OriginManual, symbol, time.Now().UTC().UnixNano()))
	}
	return origins
}

type emptyLogger struct{}

func (emptyLogger) Infof(string, ...any)  {}
func (emptyLogger) Debugf(string, ...any) {}
func (emptyLogger) Errorf(string, ...any) {}

func startProfiler(cfg ops.ProfilingConfig) (*pyroscope.Profiler, error) {
	name := cfg.ApplicationName
	if name == "" {
		name = "strategy-runner"
	}
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: name,
		ServerAddress:   cfg.ServerAddress,
		Logger:          emptyLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
}
