package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"meshkv/internal/api"
	"meshkv/internal/config"
	"meshkv/internal/logs"
	"meshkv/internal/metrics"
	"meshkv/internal/peers"
	"meshkv/internal/replication"
	"meshkv/internal/store"
)

// closeTimeout bounds how long the admin HTTP server waits for
// in-flight requests to finish on shutdown.
const closeTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logs.NewLogger(1000, logs.DEBUG)
	metricsRegistry := metrics.NewRegistry()

	cacheStore := store.NewMap(cfg.Identifier, metricsRegistry)

	peerConfig := peers.DefaultPeerConfig()
	peerManager := peers.NewPeerManager(peerConfig, metricsRegistry)

	reactor := replication.NewReactor(cfg, cacheStore, peerManager, peerConfig, logger, metricsRegistry)

	heartbeatWorker := peers.NewHeartbeatWorker(peerManager, peerConfig, logger, metricsRegistry)
	go heartbeatWorker.Start(ctx)

	go func() {
		if err := reactor.Run(ctx); err != nil {
			logger.Error(fmt.Sprintf("replication reactor stopped: %v", err))
		}
	}()

	if cfg.UDP != nil {
		conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", cfg.UDP.Port))
		if err != nil {
			log.Fatalf("udp listen: %v", err)
		}
		broadcastAddr, err := net.ResolveUDPAddr("udp", cfg.UDP.BroadcastAddr)
		if err != nil {
			log.Fatalf("udp broadcast address: %v", err)
		}
		datagramReplicator := replication.NewDatagramReplicator(conn, broadcastAddr, cacheStore, cfg, logger, metricsRegistry)
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		go datagramReplicator.Run(ctx)
	}

	handler := api.NewHandler(cacheStore, metricsRegistry, logger, peerManager, reactor)
	mux := http.NewServeMux()
	httpHandler := api.RegisterRoutes(mux, handler)

	server := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: httpHandler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info(fmt.Sprintf("admin server started on %s, node %d listening on :%d", cfg.AdminAddr, cfg.Identifier, cfg.ListenPort))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
