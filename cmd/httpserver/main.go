package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/milad/usagewatch/internal/config"
	"github.com/milad/usagewatch/internal/logging"
	usagev1 "github.com/milad/usagewatch/internal/transport/grpc/usagev1"
	httpserver "github.com/milad/usagewatch/internal/transport/http"
)

func main() {
	var (
		cfgPath  = flag.String("config", os.Getenv("USAGEWATCH_CONFIG"), "path to YAML config file")
		addr     = flag.String("addr", "", "listen address (overrides http.addr)")
		grpcAddr = flag.String("grpc", "", "gRPC target host:port (overrides http.grpc_target)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *grpcAddr != "" {
		cfg.HTTP.GRPCTarget = *grpcAddr
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg.HTTP, log); err != nil {
		log.Fatal("http gateway exited", zap.Error(err))
	}
}

func run(cfg config.HTTPConfig, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := grpc.NewClient(cfg.GRPCTarget, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial gRPC %q: %w", cfg.GRPCTarget, err)
	}
	defer conn.Close()

	// Reduce docker-compose race: wait a bit for gRPC to be ready.
	waitForGRPC(ctx, conn, cfg.GRPCWait, log)

	srv := httpserver.New(usagev1.NewUsageServiceClient(conn), log)

	h := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", cfg.Addr, err)
	}
	log.Info("HTTP listening", zap.String("addr", cfg.Addr), zap.String("grpc_target", cfg.GRPCTarget))

	go func() {
		<-ctx.Done()
		log.Info("shutting down HTTP")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.Shutdown(shutdownCtx)
	}()

	if err := h.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func waitForGRPC(ctx context.Context, conn *grpc.ClientConn, maxWait time.Duration, log *zap.Logger) {
	if maxWait <= 0 {
		return
	}

	hc := healthpb.NewHealthClient(conn)
	deadline := time.Now().Add(maxWait)

	backoff := 100 * time.Millisecond
	for {
		if ctx.Err() != nil {
			return
		}

		reqCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
		_, err := hc.Check(reqCtx, &healthpb.HealthCheckRequest{Service: usagev1.ServiceName})
		cancel()
		if err == nil {
			log.Info("gRPC is ready")
			return
		}

		if time.Now().After(deadline) {
			log.Warn("gRPC not ready; continuing anyway", zap.Duration("waited", maxWait), zap.Error(err))
			return
		}

		time.Sleep(backoff)
		if backoff < 1*time.Second {
			backoff *= 2
			if backoff > 1*time.Second {
				backoff = 1 * time.Second
			}
		}
	}
}
