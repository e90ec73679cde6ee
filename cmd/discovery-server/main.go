// Discovery server: the HTTP front end for the network discovery engine.
//
// Assembles config, the credential secretstore, two per-domain store
// pools, the discovery engine, a channel-based transport, and the API
// handler, then serves spec §6's routes until a termination signal
// arrives.
//
// Usage:
//
//	discovery-server --config /etc/discoveryd/config.yaml
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fenwicklabs/discoveryd/internal/api"
	"github.com/fenwicklabs/discoveryd/internal/config"
	"github.com/fenwicklabs/discoveryd/internal/engine"
	"github.com/fenwicklabs/discoveryd/internal/secretstore"
	"github.com/fenwicklabs/discoveryd/internal/sdnotify"
	"github.com/fenwicklabs/discoveryd/internal/store"
	"github.com/fenwicklabs/discoveryd/internal/transport"
)

var flagConfig = flag.String("config", "/etc/discoveryd/config.yaml", "path to config.yaml")

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secrets, err := secretstore.NewFromConfig(cfg.Encryption.Key)
	if err != nil {
		log.Fatalf("init secretstore: %v", err)
	}

	// Separate pools per domain: the discovery pool is sized larger since
	// its connections are held for the duration of a scan's writes, while
	// the request pool must stay free for status/results/cancel reads.
	requestStore, err := store.New(ctx, cfg.Database.URL, cfg.Database.RequestPoolSize)
	if err != nil {
		log.Fatalf("connect request-domain store: %v", err)
	}
	defer requestStore.Close()

	discoveryStore, err := store.New(ctx, cfg.Database.URL, cfg.Database.DiscoveryPoolSize)
	if err != nil {
		log.Fatalf("connect discovery-domain store: %v", err)
	}
	defer discoveryStore.Close()

	discoveryEngine := engine.New(discoveryStore, secrets)
	requestEngine := engine.New(requestStore, secrets)

	chTransport := transport.NewChannelTransport(discoveryEngine, requestEngine,
		cfg.Discovery.Worker.Instances, cfg.Discovery.Worker.PoolSize)
	defer chTransport.Shutdown()

	handler := api.NewHandler(chTransport)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux, handler)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("shutdown signal: %v", sig)
		sdnotify.Stopping()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		// ListenAndServe blocks, so READY is only meaningful once the
		// listener is actually bound; a short delay covers that window
		// without needing a second goroutine synchronized on Listen.
		time.Sleep(100 * time.Millisecond)
		sdnotify.Ready()
	}()

	log.Printf("discovery-server listening on %s", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
	log.Println("server stopped")
}
