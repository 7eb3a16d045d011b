// Package main is the entrypoint for poolbench, a small load generator
// that drives a connpool.Pool the way a real service would: many
// goroutines acquiring, running a trivial statement, and releasing, while
// a Prometheus endpoint exposes the pool's live metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joao-brasil/connpool/pool"
	"github.com/joao-brasil/connpool/sqlconn"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	configPath  = flag.String("config", "", "Path to pool configuration YAML (when set, its pool settings replace -min-conns and -max-conns)")
	dsn         = flag.String("dsn", "sqlserver://localhost?database=bench", "Driver DSN for the default sqlconn.Connector")
	minConns    = flag.Int("min-conns", 4, "Minimum live connections")
	maxConns    = flag.Int("max-conns", 16, "Maximum live connections")
	numClients  = flag.Int("clients", 8, "Concurrent goroutines hammering the pool")
	metricsPort = flag.Int("metrics-port", 9090, "Port to serve /metrics on")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[main] Starting poolbench")

	opts := pool.Options{
		Name:     "bench",
		MinConns: *minConns,
		MaxConns: *maxConns,
	}
	if *configPath != "" {
		cfg, err := pool.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("[main] Failed to load pool config: %v", err)
		}
		opts = cfg.Options()
		log.Printf("[main] Loaded config from %s: minConns=%d maxConns=%d", *configPath, opts.MinConns, opts.MaxConns)
	}

	connector := &sqlconn.Connector{DSN: *dsn}

	// ─── Metrics server ───────────────────────────────────────────────
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", *metricsPort),
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[main] Metrics server listening on :%d/metrics", *metricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[main] Metrics server error: %v", err)
		}
	}()

	// ─── Pool ──────────────────────────────────────────────────────────
	log.Println("[main] Initializing connection pool...")
	p, err := pool.NewPool(connector, opts)
	if err != nil {
		log.Fatalf("[main] Failed to initialize pool: %v", err)
	}
	log.Printf("[main] Pool %q ready: %+v", p.Name(), p.Stats())

	ctx, cancelClients := context.WithCancel(context.Background())
	var clients sync.WaitGroup
	for i := 0; i < *numClients; i++ {
		clients.Add(1)
		go runClient(ctx, &clients, p, i)
	}

	// ─── Graceful shutdown ──────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	log.Printf("[main] Received signal %v, shutting down gracefully...", sig)

	cancelClients()
	clients.Wait()

	if err := p.Close(); err != nil {
		log.Printf("[main] Pool close error: %v", err)
	}
	p.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Metrics server shutdown error: %v", err)
	}

	log.Println("[main] Shutdown complete.")
}

// runClient repeatedly acquires a connection, runs a no-op statement, and
// releases it, until ctx is cancelled.
func runClient(ctx context.Context, wg *sync.WaitGroup, p *pool.Pool, id int) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := p.WithConnection(ctx, 0, func(c pool.Conn) error {
			conn, ok := c.(*sqlconn.Conn)
			if !ok {
				return nil
			}
			_, err := conn.DB().ExecContext(ctx, "SELECT 1")
			return err
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("[client %d] acquire/exec failed: %v", id, err)
			time.Sleep(100 * time.Millisecond)
		}
	}
}
