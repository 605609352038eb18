package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hivesync.gg/internal/hive"
	"hivesync.gg/internal/hive/idem"
	"hivesync.gg/internal/hive/settings"
	persistlog "hivesync.gg/internal/persistence/log"
	"hivesync.gg/internal/persistence/store"
	"hivesync.gg/internal/protocol"
	"hivesync.gg/internal/transport/httpapi"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		dbPath       = flag.String("db", "./data/hive.db", "sqlite database path")
		dataDir      = flag.String("data", "./data", "runtime data directory (event mirror)")
		settingsPath = flag.String("settings", "./configs/settings.yaml", "settings.yaml path")
		schemasDir   = flag.String("schemas", "./schemas", "request schema directory (empty to disable validation)")
		mirrorEvents = flag.Bool("mirror_events", true, "mirror events to compressed JSONL files")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := settings.Load(*settingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("settings not found (%s); using defaults", *settingsPath)
			cfg = settings.Defaults()
		} else {
			logger.Fatalf("load settings: %v", err)
		}
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	var validator *protocol.Validator
	if strings.TrimSpace(*schemasDir) != "" {
		validator, err = protocol.NewValidator(*schemasDir)
		if err != nil {
			logger.Fatalf("compile schemas: %v", err)
		}
	} else {
		logger.Printf("schema validation disabled")
	}

	var mirror hive.EventSink
	if *mirrorEvents {
		m := persistlog.NewEventMirror(*dataDir)
		defer m.Close()
		mirror = m
	}

	guard := idem.NewGuard(idem.NewMemoryStore(), st, cfg.IdempotencyTTL(), logger)
	svc := hive.New(hive.Options{
		Store:    st,
		Guard:    guard,
		Settings: cfg,
		Logger:   logger,
		Mirror:   mirror,
	})

	ctx, cancel := signalContext()
	defer cancel()

	api := httpapi.NewServer(svc, st, validator, logger)
	mux := http.NewServeMux()
	api.Register(mux)

	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := svc.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP hivesync_mutations_applied_total Successful inventory mutations.\n")
		fmt.Fprintf(rw, "# TYPE hivesync_mutations_applied_total counter\n")
		fmt.Fprintf(rw, "hivesync_mutations_applied_total %d\n", m.Applied.Load())

		fmt.Fprintf(rw, "# HELP hivesync_checksum_conflicts_total Mutations refused by the concurrency gate.\n")
		fmt.Fprintf(rw, "# TYPE hivesync_checksum_conflicts_total counter\n")
		fmt.Fprintf(rw, "hivesync_checksum_conflicts_total %d\n", m.Conflicts.Load())

		fmt.Fprintf(rw, "# HELP hivesync_duplicates_total Replayed requests short-circuited by the idempotency guard.\n")
		fmt.Fprintf(rw, "# TYPE hivesync_duplicates_total counter\n")
		fmt.Fprintf(rw, "hivesync_duplicates_total %d\n", m.Duplicates.Load())

		fmt.Fprintf(rw, "# HELP hivesync_ownership_rejections_total Writes rejected by the single-writer rule.\n")
		fmt.Fprintf(rw, "# TYPE hivesync_ownership_rejections_total counter\n")
		fmt.Fprintf(rw, "hivesync_ownership_rejections_total %d\n", m.OwnershipRejections.Load())

		fmt.Fprintf(rw, "# HELP hivesync_tickets_issued_total Move tickets issued.\n")
		fmt.Fprintf(rw, "# TYPE hivesync_tickets_issued_total counter\n")
		fmt.Fprintf(rw, "hivesync_tickets_issued_total %d\n", m.TicketsIssued.Load())

		fmt.Fprintf(rw, "# HELP hivesync_tickets_redeemed_total Move tickets redeemed.\n")
		fmt.Fprintf(rw, "# TYPE hivesync_tickets_redeemed_total counter\n")
		fmt.Fprintf(rw, "hivesync_tickets_redeemed_total %d\n", m.TicketsRedeemed.Load())

		fmt.Fprintf(rw, "# HELP hivesync_eventlog_errors_total Best-effort event log failures.\n")
		fmt.Fprintf(rw, "# TYPE hivesync_eventlog_errors_total counter\n")
		fmt.Fprintf(rw, "hivesync_eventlog_errors_total %d\n", m.EventLogErrors.Load())
	})

	enableAdminHTTP := envBool("HIVE_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("HIVE_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		api.RegisterAdmin(mux)
	} else {
		logger.Printf("admin endpoints disabled (HIVE_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (strict_ownership=%v)", *addr, cfg.Strict())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
