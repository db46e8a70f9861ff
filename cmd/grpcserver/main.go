package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/milad/usagewatch/internal/anomaly"
	"github.com/milad/usagewatch/internal/config"
	"github.com/milad/usagewatch/internal/events"
	"github.com/milad/usagewatch/internal/logging"
	"github.com/milad/usagewatch/internal/repo"
	"github.com/milad/usagewatch/internal/repo/csvrepo"
	"github.com/milad/usagewatch/internal/repo/sqliterepo"
	"github.com/milad/usagewatch/internal/scheduler"
	"github.com/milad/usagewatch/internal/service"
	grpcserver "github.com/milad/usagewatch/internal/transport/grpc"
	usagev1 "github.com/milad/usagewatch/internal/transport/grpc/usagev1"
)

func main() {
	var (
		cfgPath = flag.String("config", os.Getenv("USAGEWATCH_CONFIG"), "path to YAML config file")
		addr    = flag.String("addr", "", "listen address (overrides grpc.addr)")
		csvPath = flag.String("csv", "", "readings CSV to seed the store with (overrides store.seed_csv)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.GRPC.Addr = *addr
	}
	if *csvPath != "" {
		cfg.Store.SeedCSV = *csvPath
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("grpc server exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store, cfg.Anomaly(), log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	engine, err := anomaly.New(cfg.Anomaly())
	if err != nil {
		return fmt.Errorf("anomaly engine: %w", err)
	}

	var pub events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.Info("publishing alerts to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Warn("close alert publisher", zap.Error(err))
		}
	}()

	svc := service.NewUsageService(store, engine,
		service.WithLogger(log),
		service.WithPublisher(pub),
		service.WithHistoryLimit(cfg.Detection.HistoryLimit),
	)

	sched := scheduler.New(svc, log)
	if err := sched.Start(cfg.Schedule.PortfolioCron); err != nil {
		return err
	}
	defer sched.Stop()

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", cfg.GRPC.Addr, err)
	}
	log.Info("gRPC listening", zap.String("addr", cfg.GRPC.Addr))

	g := grpc.NewServer()
	usagev1.RegisterUsageServiceServer(g, grpcserver.New(svc, log))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(usagev1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(g, hs)

	go func() {
		<-ctx.Done()
		log.Info("shutting down gRPC")
		hs.Shutdown()
		ch := make(chan struct{})
		go func() {
			g.GracefulStop()
			close(ch)
		}()
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			g.Stop()
		}
	}()

	if err := g.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// openStore builds the configured store and applies the optional CSV seed.
// A seed file with some bad rows still loads the good ones. Seed utility types
// must be ones the detector is configured for.
func openStore(ctx context.Context, cfg config.StoreConfig, acfg anomaly.Config, log *zap.Logger) (repo.ReadingStore, error) {
	switch cfg.Driver {
	case "sqlite":
		st, err := sqliterepo.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if cfg.SeedCSV == "" {
			return st, nil
		}
		seed, err := readSeed(cfg.SeedCSV, acfg, log)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		if err := st.Seed(ctx, seed.Properties, seed.Readings); err != nil {
			_ = st.Close()
			return nil, err
		}
		log.Info("sqlite store ready",
			zap.String("path", cfg.SQLitePath),
			zap.Int("seed_properties", len(seed.Properties)),
			zap.Int("seed_readings", len(seed.Readings)),
		)
		return st, nil

	default:
		if cfg.SeedCSV == "" {
			log.Info("memory store ready (empty)")
			return csvrepo.New(nil, nil), nil
		}
		st, err := csvrepo.NewFromFile(cfg.SeedCSV, acfg)
		if st == nil {
			return nil, err
		}
		if err != nil {
			log.Warn("seed csv has invalid rows", zap.Error(err))
		}
		log.Info("memory store ready", zap.String("seed_csv", cfg.SeedCSV))
		return st, nil
	}
}

func readSeed(path string, acfg anomaly.Config, log *zap.Logger) (csvrepo.Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return csvrepo.Seed{}, fmt.Errorf("open csv %q: %w", path, err)
	}
	defer f.Close()

	seed, err := csvrepo.ParseReadingsCSV(f, acfg)
	if err != nil {
		if len(seed.Readings) == 0 {
			return csvrepo.Seed{}, fmt.Errorf("parse csv %q: %w", path, err)
		}
		log.Warn("seed csv has invalid rows", zap.String("path", path), zap.Error(err))
	}
	return seed, nil
}
