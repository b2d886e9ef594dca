// Command groupcore runs a single node: it hosts zero or more groups,
// persists their logs to sqlite, and serves the operator HTTP surface.
// Grounded on goop2's main.go CLI-peer path (flag parsing, signal-driven
// graceful shutdown, peer-directory banner), without the wails desktop
// shell this module doesn't carry forward.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/trustcircle/groupcore/internal/api"
	"github.com/trustcircle/groupcore/internal/config"
	"github.com/trustcircle/groupcore/internal/node"
	"github.com/trustcircle/groupcore/internal/persist/sqlitestore"
)

// nodeShutdownGrace bounds the HTTP server's graceful drain on shutdown.
const nodeShutdownGrace = 3 * time.Second

var (
	dataDirFlag = flag.String("data-dir", "data", "directory holding this node's config and sqlite state")
	showVersion = flag.Bool("version", false, "show version")
)

var appVersion = "dev"

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("groupcore v%s\n", appVersion)
		return
	}

	absDir, err := filepath.Abs(*dataDirFlag)
	if err != nil {
		log.Fatalf("invalid data dir: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	cfgPath := filepath.Join(absDir, "groupcore.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if created {
		log.Printf("wrote default config to %s", cfgPath)
	}

	store, err := sqlitestore.Open(absDir)
	if err != nil {
		log.Fatalf("open state store: %v", err)
	}
	defer store.Close()

	watcher, err := config.WatchFile(cfgPath, func(reloaded config.Config) {
		log.Printf("config changed on disk; reloaded supervisor timing is logged only, not applied: %+v", reloaded.Supervisor)
	})
	if err != nil {
		log.Fatalf("watch config: %v", err)
	}
	defer watcher.Close()

	n := node.New(store, cfg.Fabric.ListenPort, cfg.Fabric.MdnsTag, cfg.Identity.IdentityDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down gracefully...")
		cancel()
	}()

	if err := n.Initialize(ctx); err != nil {
		log.Fatalf("initialize node: %v", err)
	}
	defer n.Shutdown()

	mux := http.NewServeMux()
	api.Register(mux, n)

	printBanner(absDir, cfgPath, cfg)

	srv := &http.Server{Addr: cfg.API.HTTPAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), nodeShutdownGrace)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server failed: %v", err)
	}
}

func printBanner(dataDir, cfgPath string, cfg config.Config) {
	fmt.Println("groupcore node")
	fmt.Printf("data dir:   %s\n", dataDir)
	fmt.Printf("config:     %s\n", cfgPath)
	fmt.Printf("http api:   http://%s\n", cfg.API.HTTPAddr)
	fmt.Println("press ctrl+c to stop")
	fmt.Println()
}
