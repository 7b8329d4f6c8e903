package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"unitask.org/internal/httpapi"
	"unitask.org/internal/ledger"
	"unitask.org/internal/market"
	"unitask.org/internal/obs"
	"unitask.org/internal/store/pg"
	"unitask.org/internal/stream"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version)

	// Ledger: durable Postgres when a DSN is configured, in-memory otherwise.
	var (
		led   ledger.Service
		probe httpapi.ReadyProbe
	)
	if dsn := os.Getenv("UNITASK_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		led = store
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		led = ledger.NewInMemory()
	}

	owner := os.Getenv("UNITASK_OWNER")
	if owner == "" {
		owner = "owner"
	}

	var opts []market.Option
	if raw := os.Getenv("UNITASK_INITIAL_GRANT"); raw != "" {
		grant, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || grant < 0 {
			log.Fatalf("invalid UNITASK_INITIAL_GRANT: %q", raw)
		}
		opts = append(opts, market.WithInitialGrant(grant))
	}

	events := stream.New()
	svc, err := market.New(led, events, owner, opts...)
	if err != nil {
		log.Fatalf("init marketplace: %v", err)
	}

	api := httpapi.New(probe, version, svc, led, events)

	addr := os.Getenv("UNITASK_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting unitask-api %s on %s (owner=%s)", version, srv.Addr, owner)
	obs.SetReady(true)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
