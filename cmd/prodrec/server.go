package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/prodrec/internal/api"
	"github.com/kalambet/prodrec/internal/config"
	"github.com/kalambet/prodrec/internal/service"
	"github.com/kalambet/prodrec/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the prodrec server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running prodrec server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show prodrec server and dataset status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "prodrec.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "prodrec version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logs go to stderr; stdout belongs to the MCP stdio transport.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("prodrec is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("prodrec is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	provider := service.NewProvider(store, service.Options{
		MinPopularRatings: cfg.Recommender.MinPopularRatings,
		MaxFeatures:       cfg.Recommender.MaxFeatures,
	})
	if _, err := provider.Current(ctx); err != nil {
		return fmt.Errorf("building initial snapshot: %w", err)
	}

	limits := api.Limits{
		Neighbors: cfg.Recommender.Neighbors,
		TopN:      cfg.Recommender.TopN,
		SimilarN:  cfg.Recommender.SimilarN,
	}
	appHandler := api.NewAppHandler(api.AppDeps{
		Store:     store,
		Snapshots: provider,
		Limits:    limits,
	})

	topRouter := chi.NewRouter()
	topRouter.Use(middleware.Recoverer)
	topRouter.Mount("/", appHandler)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           topRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	worker := service.NewWorker(store, provider, 500*time.Millisecond, cfg.RebuildEvery())
	go worker.Run(ctx)

	if cfg.Server.MCPEnabled {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:     store,
			Snapshots: provider,
			Limits:    limits,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "prodrec listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("prodrec is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop prodrec (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to prodrec (PID %d)", pid)
	return nil
}

type serverStats struct {
	Users           int   `json:"users"`
	Products        int   `json:"products"`
	Ratings         int   `json:"ratings"`
	DatasetVersion  int64 `json:"dataset_version"`
	SnapshotVersion int64 `json:"snapshot_version"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second
	ctx := context.Background()

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
			var stats serverStats
			if statsResp, err := client.get(ctx, "/stats"); err == nil && decodeJSON(statsResp, &stats) == nil {
				printStatus("Users", "%d", stats.Users)
				printStatus("Products", "%d", stats.Products)
				printStatus("Ratings", "%d", stats.Ratings)
				printStatus("Snapshot", "%s", snapshotLabel(stats))
			}
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Neighbors", "%d", cfg.Recommender.Neighbors)
	printStatus("Rebuild every", "%s", cfg.RebuildEvery())
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func snapshotLabel(s serverStats) string {
	switch {
	case s.SnapshotVersion < 0:
		return "not built"
	case s.SnapshotVersion == s.DatasetVersion:
		return fmt.Sprintf("v%d (current)", s.SnapshotVersion)
	default:
		return fmt.Sprintf("v%d (dataset at v%d)", s.SnapshotVersion, s.DatasetVersion)
	}
}
