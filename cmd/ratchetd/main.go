// Command ratchetd is the coordinator daemon: it loads
// configuration, opens the storage backend, starts the worker pool,
// scheduler, and execution engine, serves the MCP tool surface over
// stdio and streamable-HTTP, and re-invokes itself as a worker process
// when spawned with `--worker --worker-id <ID>` (§4.2's "same executable
// re-invoked with a sentinel" contract).
//
// Grounded on the teacher's cmd/ package cobra idiom (cmd/playground.go,
// cmd/update.go): a package-level *cobra.Command with an init() wiring,
// and a runX(cmd, args) error function doing the actual work.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ratchetdata/ratchet/internal/config"
	"github.com/ratchetdata/ratchet/internal/delivery"
	"github.com/ratchetdata/ratchet/internal/engine"
	"github.com/ratchetdata/ratchet/internal/log"
	"github.com/ratchetdata/ratchet/internal/mcp"
	"github.com/ratchetdata/ratchet/internal/pool"
	"github.com/ratchetdata/ratchet/internal/queue"
	"github.com/ratchetdata/ratchet/internal/sanitize"
	"github.com/ratchetdata/ratchet/internal/scheduler"
	"github.com/ratchetdata/ratchet/internal/shutdown"
	"github.com/ratchetdata/ratchet/internal/store/sqlite"
	"github.com/ratchetdata/ratchet/internal/worker"
)

var (
	configPath string
	isWorker   bool
	workerID   string
)

var rootCmd = &cobra.Command{
	Use:   "ratchetd",
	Short: "Ratchet task execution coordinator",
	Long:  `ratchetd runs the coordinator: job queue, worker pool, scheduler, and MCP server.`,
	RunE:  runRoot,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to ratchetd.yaml (defaults built in if empty)")
	rootCmd.Flags().BoolVar(&isWorker, "worker", false, "run as a worker process (internal use: spawned by the pool)")
	rootCmd.Flags().StringVar(&workerID, "worker-id", "", "worker id (required with --worker)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	if isWorker {
		return runWorker(workerID)
	}
	return runCoordinator(cmd.Context())
}

func runWorker(id string) error {
	if id == "" {
		return fmt.Errorf("--worker requires --worker-id")
	}
	w := worker.New(id, os.Stdin, os.Stdout)
	return w.Run()
}

func runCoordinator(ctx context.Context) error {
	loader, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cfg := loader.Current()

	flush, err := log.Init(log.Config{Development: cfg.Log.Development, Level: cfg.ZapLevel(), BufferSize: 512})
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer flush()

	st, err := sqlite.Open(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer st.Close()

	coordinator := shutdown.New(shutdown.DefaultTimeouts())

	p := pool.New(cfg.ToPoolConfig(), pool.ExecSpawner(buildWorkerExtraArgs()...))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := p.Start(runCtx); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}

	q := queue.New(st, loader.Current().ToRetryPolicy())
	sched := scheduler.New(st, q, 30*time.Second)
	sched.Start(runCtx)
	defer sched.Stop()

	deliveryReg := delivery.NewRegistry(os.Stdout, os.Stderr)

	progressManager := mcp.NewProgressManager()

	server := mcp.NewServer("ratchetd", "0.1.0",
		mcp.WithInstructions("Submit and monitor Ratchet jobs."),
		mcp.WithSanitizer(sanitize.New(cfg.ToSanitizeConfig())),
	)
	mcp.NewRatchetTools(st, q, progressManager).Register(server)

	auth := mcp.NewAuthGuard(st.Sessions(), cfg.MCP.RequireAuth)
	httpTransport := mcp.NewHTTPTransport(server, auth, cfg.MCP.SessionTimeout)
	publisher := mcp.NewBroadcastingPublisher(progressManager, httpTransport)

	eng := engine.New(loader.Current().ToEngineConfig(), st, q, p, deliveryReg, publisher, coordinator)
	eng.Start(runCtx)

	loader.OnReload(func(c config.Config) {
		log.SetLevel(c.ZapLevel())
		server.SetSanitizer(sanitize.New(c.ToSanitizeConfig()))
	})

	httpServer := &http.Server{Addr: cfg.MCP.ListenAddr, Handler: httpTransport.Handler()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.ErrorErr(log.CatMCP, "http transport stopped", err)
		}
	}()

	go func() {
		if err := mcp.ServeStdio(runCtx, server, os.Stdin, os.Stdout); err != nil {
			log.ErrorErr(log.CatMCP, "stdio transport stopped", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info(log.CatCoordinator, "shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	// Stop dequeuing, then drain in-flight executions (coordinator.Shutdown
	// waits on the tracker the engine registers each runJob against) before
	// runCtx is cancelled and the pool tears down worker processes, so a
	// job mid-flight gets its graceful_timeout rather than being killed out
	// from under it.
	eng.Stop()
	shutdownErr := coordinator.Shutdown(shutdownCtx)
	cancel()
	p.Shutdown(shutdownCtx)
	return shutdownErr
}

// buildWorkerExtraArgs forwards the coordinator's own --config flag to
// spawned workers, so a worker started at a non-default config path
// still resolves storage settings the same way the coordinator did.
func buildWorkerExtraArgs() []string {
	if configPath == "" {
		return nil
	}
	return []string{"--config", configPath}
}
