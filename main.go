package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/netauto/nsosync/internal/audit"
	"github.com/netauto/nsosync/internal/config"
	"github.com/netauto/nsosync/internal/database"
	"github.com/netauto/nsosync/internal/handlers"
	"github.com/netauto/nsosync/internal/logging"
	"github.com/netauto/nsosync/internal/middleware"
	"github.com/netauto/nsosync/internal/procprobe"
	"github.com/netauto/nsosync/internal/reachability"
	"github.com/netauto/nsosync/internal/synccheck"
	"github.com/netauto/nsosync/internal/tunnel"
)

func main() {
	config.Load()

	if err := os.MkdirAll(config.Cfg.DataPath, 0755); err != nil {
		log.Fatalf("Data directory: %v", err)
	}
	logging.Init(config.Cfg.LogPath)
	defer logging.Close()

	if err := database.Init(config.Cfg.DatabasePath); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("Hostname: %v", err)
	}
	inv, err := config.LoadInventory(config.Cfg.InventoryPath, hostname, config.Cfg.DirectMarker)
	if err != nil {
		log.Fatalf("Inventory: %v", err)
	}
	log.Printf("Loaded %d instances from %s (hostname %s)", len(inv.All()), config.Cfg.InventoryPath, hostname)

	probe := procprobe.NewUnixProbe()
	launcher := tunnel.NewExecLauncher(config.Cfg.SSHBinary, config.Cfg.ControlDir)
	recorder := audit.NewRecorder(database.DB)
	tunnels := tunnel.NewManager(probe, launcher, recorder)

	handlers.Inv = inv
	handlers.Tunnels = tunnels
	handlers.Checker = synccheck.NewOrchestrator(config.Cfg.SyncWorkers, database.DB)
	handlers.Prober = buildProber()
	handlers.ClientKind = config.Cfg.APIClient

	// Nightly history prune keeps the sqlite file from growing forever.
	scheduler := cron.New()
	scheduler.AddFunc("@daily", func() {
		cutoff := time.Now().AddDate(0, 0, -config.Cfg.RetentionDays)
		n, err := database.PruneBefore(database.DB, cutoff)
		if err != nil {
			log.Printf("History prune: %v", err)
			return
		}
		log.Printf("History prune: removed %d rows older than %s", n, cutoff.Format("2006-01-02"))
	})
	scheduler.Start()
	defer scheduler.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireToken(config.Cfg.APIToken))

		r.Get("/instances", handlers.ListInstances)
		r.Get("/tunnels", handlers.ListTunnels)

		r.Post("/instances/{name}/connect", handlers.ConnectInstance)
		r.Post("/instances/{name}/disconnect", handlers.DisconnectInstance)
		r.Get("/instances/{name}/reachability", handlers.CheckReachability)

		r.Get("/instances/{name}/connection-test", handlers.ConnectionTest)
		r.Get("/instances/{name}/devices", handlers.ListDevices)
		r.Post("/instances/{name}/check-sync", handlers.CheckSync)
		r.Get("/instances/{name}/check-sync/stream", handlers.StreamSync)
		r.Get("/instances/{name}/history", handlers.SyncHistory)

		r.Get("/logs", handlers.ServerLogs)
		r.Delete("/logs", handlers.ClearServerLogs)
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	tunnels.DisconnectAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// buildProber picks the reachability implementation. The exec prober
// inherits ~/.ssh/config (aliases, ProxyJump, agents); the native one
// only needs a key file and is the choice for minimal containers.
func buildProber() reachability.Prober {
	if config.Cfg.Prober != "native" {
		return reachability.NewExecProber(config.Cfg.SSHBinary)
	}

	keyPath := config.Cfg.SSHKeyPath
	username := os.Getenv("USER")
	if u, err := user.Current(); err == nil {
		username = u.Username
		if keyPath == "" {
			keyPath = filepath.Join(u.HomeDir, ".ssh", "id_ed25519")
		}
	}
	return reachability.NewNativeProber(username, keyPath, 22)
}
