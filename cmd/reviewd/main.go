package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kylemclaren/reviewd/internal/api"
	"github.com/kylemclaren/reviewd/internal/bus"
	"github.com/kylemclaren/reviewd/internal/config"
	"github.com/kylemclaren/reviewd/internal/db"
	"github.com/kylemclaren/reviewd/internal/gitutil"
	"github.com/kylemclaren/reviewd/internal/llm"
	"github.com/kylemclaren/reviewd/internal/queue"
	"github.com/kylemclaren/reviewd/internal/review"
	"github.com/kylemclaren/reviewd/internal/scan"
	"github.com/kylemclaren/reviewd/internal/scheduler"
	"github.com/kylemclaren/reviewd/internal/security"
	"github.com/kylemclaren/reviewd/internal/shell"
	"github.com/kylemclaren/reviewd/internal/tui"
	"github.com/kylemclaren/reviewd/internal/version"
)

func main() {
	// Handle CLI commands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			fmt.Println(version.Info())
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "serve":
			if err := runServer(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "tui":
			if err := runTUI(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
			printHelp()
			os.Exit(1)
		}
	}

	if err := runTUI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openDatabase() (*config.Config, *db.DB, error) {
	dataDir, err := config.DefaultDataDir()
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, nil, err
	}

	database, err := db.New(filepath.Join(dataDir, "reviewd.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("initializing database: %w", err)
	}
	return cfg, database, nil
}

func runTUI() error {
	_, database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	return tui.Run(database)
}

func runServer() error {
	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	port := serveCmd.Int("port", 8080, "HTTP server port")
	_ = serveCmd.Parse(os.Args[2:])

	cfg, database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	// Queue state does not survive a restart; fail anything left over from
	// a previous process before accepting new work.
	if n, err := database.MarkStaleRunsAsFailed(); err != nil {
		return fmt.Errorf("failing stale runs: %w", err)
	} else if n > 0 {
		fmt.Printf("Marked %d stale run(s) as failed\n", n)
	}

	eventBus := bus.New()
	jobs := queue.New(cfg.Parallelism)
	reviews := review.New(database, eventBus, jobs, cfg, gitutil.CLI{}, llm.NewClient(cfg))

	scanner := scan.New(database, cfg.ScanRoot)
	reviews.SetRepoResolver(scanner)

	csrf, err := security.NewCSRF()
	if err != nil {
		return fmt.Errorf("minting CSRF token: %w", err)
	}

	sched := scheduler.New(database, reviews)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	server := api.NewServer(api.Deps{
		DB:        database,
		Config:    cfg,
		Reviews:   reviews,
		Shell:     shell.NewRunner(nil),
		Scanner:   scanner,
		Branches:  scan.NewBranchCache(),
		Scheduler: sched,
		CSRF:      csrf,
		Limiter:   security.NewRateLimiter(cfg.ShellRateLimit.MaxCalls, cfg.ShellRateLimit.Window),
	})

	addr := fmt.Sprintf(":%d", *port)
	fmt.Printf("reviewd API server starting on %s\n", addr)
	fmt.Printf("Data directory: %s\n", cfg.DataDir)
	if !cfg.AllowExternalSend || cfg.OpenAIAPIKey == "" {
		fmt.Println("Model access disabled: reviews run in prompt preview mode")
	}
	if cfg.ShellEnabled {
		fmt.Println("Shell API enabled")
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	go func() {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return srv.Shutdown(ctx)
}

func printHelp() {
	fmt.Println(`reviewd - Run LLM code reviews over git diffs

Usage:
  reviewd                   Launch the interactive TUI
  reviewd serve             Run HTTP API server
  reviewd tui               Launch the interactive TUI
  reviewd version           Show version information
  reviewd help              Show this help message

Serve Options:
  --port                    HTTP server port (default: 8080)

Environment Variables:
  REVIEWD_DATA              Override data directory (default: ~/.reviewd)
  OPENAI_API_KEY            Model API key
  ALLOW_EXTERNAL_SEND       Set to "true" to allow prompts to leave the process
  ENABLE_SHELL_API          Set to "true" to enable the shell command API
  REVIEWD_SCAN_ROOT         Root directory for repo auto-discovery`)
}
