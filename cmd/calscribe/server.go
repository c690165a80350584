package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/calscribe/internal/ai"
	"github.com/kalambet/calscribe/internal/api"
	"github.com/kalambet/calscribe/internal/calendar"
	"github.com/kalambet/calscribe/internal/config"
	"github.com/kalambet/calscribe/internal/intent"
	"github.com/kalambet/calscribe/internal/ledger"
	"github.com/kalambet/calscribe/internal/reconcile"
	"github.com/kalambet/calscribe/internal/storage"
	"github.com/kalambet/calscribe/internal/syncjob"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the calscribe server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running calscribe server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show calscribe system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "calscribe.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "calscribe version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure API token exists in platform secret store.
	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("calscribe is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("calscribe is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// AI provider and extractor.
	provider, err := ai.New(ai.Config{
		Provider:      cfg.AI.Provider,
		OpenAIBaseURL: cfg.AI.OpenAIBaseURL,
		OpenAIAPIKey:  cfg.AI.OpenAIAPIKey,
		GeminiAPIKey:  cfg.AI.GeminiAPIKey,
	})
	if err != nil {
		return fmt.Errorf("creating AI provider: %w", err)
	}
	extractor := intent.NewExtractor(provider, cfg.AI.Model)

	// Calendar client. Missing authorization is not fatal: the ledger keeps
	// records local with an error flag until the user links the calendar.
	var remote reconcile.Remote
	var calMu sync.Mutex
	calClient, err := calendar.New(ctx, cfg.Calendar.ID)
	switch {
	case err == nil:
		remote = calClient
		slog.Info("calendar client ready", "calendar_id", cfg.Calendar.ID)
	case errors.Is(err, calendar.ErrNotAuthorized):
		printWarning("calendar not authorized; events stay local until 'calscribe auth url' is completed")
	default:
		return fmt.Errorf("creating calendar client: %w", err)
	}
	getCalendar := func() api.CalendarReader {
		calMu.Lock()
		defer calMu.Unlock()
		if calClient == nil {
			return nil
		}
		return calClient
	}

	lm := ledger.NewManager(store)
	reconciler := reconcile.New(lm, store, remote, extractor, cfg.Reconcile.AutoAcceptThreshold)

	callbackURL := fmt.Sprintf("http://127.0.0.1:%d/auth/callback", cfg.Server.Port)
	appHandler := api.NewAppHandler(api.AppDeps{
		Store:       store,
		Ledger:      lm,
		Extractor:   extractor,
		Reconciler:  reconciler,
		Token:       apiToken,
		Provider:    cfg.AI.Provider,
		Model:       cfg.AI.Model,
		CallbackURL: callbackURL,
		Calendar:    getCalendar,
		OnAuthorized: func() {
			client, err := calendar.New(ctx, cfg.Calendar.ID)
			if err != nil {
				slog.Error("calendar client after authorization", "error", err)
				return
			}
			calMu.Lock()
			calClient = client
			calMu.Unlock()
			reconciler.SetRemote(client)
			slog.Info("calendar linked", "calendar_id", cfg.Calendar.ID)
		},
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Start apply worker.
	worker := syncjob.NewWorker(store, reconciler, 500*time.Millisecond)
	go worker.Run(ctx)

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:      store,
		Ledger:     lm,
		Extractor:  extractor,
		Reconciler: reconciler,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "calscribe listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
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
		printError("calscribe is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop calscribe (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to calscribe (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("AI provider", "%s (%s)", cfg.AI.Provider, cfg.AI.Model)

	if calendar.IsAuthorized() {
		printStatus("Calendar", "authorized (%s)", cfg.Calendar.ID)
	} else {
		printStatus("Calendar", "not authorized; run 'calscribe auth url'")
	}

	// Show event counts if server is running.
	apiToken, tokenErr := config.GetAPIToken(config.NewKeychain())
	if tokenErr == nil && resp != nil && resp.StatusCode == 200 {
		eventsResp, err := apiGet(client, serverURL+"/events?limit=100", apiToken)
		if err == nil {
			var events []json.RawMessage
			if json.NewDecoder(eventsResp.Body).Decode(&events) == nil {
				printStatus("Ledger events", "%s", countLabel(len(events), 100))
			}
			eventsResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
