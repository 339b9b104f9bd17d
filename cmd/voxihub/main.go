package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fk219/VoxiHub-sub002/pkg/audit"
	"github.com/fk219/VoxiHub-sub002/pkg/config"
	"github.com/fk219/VoxiHub-sub002/pkg/llm"
	"github.com/fk219/VoxiHub-sub002/pkg/provider"
	"github.com/fk219/VoxiHub-sub002/pkg/session"
	"github.com/fk219/VoxiHub-sub002/pkg/transport"
	"github.com/fk219/VoxiHub-sub002/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:          "voxihub",
	Short:        "VoxiHub - real-time voice conversation engine",
	Long:         `voxihub runs the VoxiHub conversation engine: SIP and browser widget calls answered by an LLM-driven voice agent with pluggable speech providers.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the conversation engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("loading %s: %w", envFile, err)
			}
		} else {
			// Best effort; a missing .env is fine.
			godotenv.Load()
		}

		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.LogLevel)
		logger.Info("Starting engine",
			slog.String("service", "voxihub"),
			slog.String("version", version.Version),
			slog.String("commit", version.GitCommit),
			slog.String("widget_addr", cfg.WidgetAddr),
			slog.Bool("dry_run", dryRun))

		if dryRun {
			logger.Info("Dry run mode - exiting")
			return nil
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runServe(ctx, cfg, logger)
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured speech providers and their capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		godotenv.Load()
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.LogLevel)

		gw, err := provider.NewGateway(cfg.GatewayConfig(), logger)
		if err != nil {
			return err
		}
		defer gw.Close()

		fmt.Printf("%-12s %-6s %-6s %-10s\n", "PROVIDER", "STT", "TTS", "STREAMING")
		for _, p := range provider.All() {
			caps, ok := gw.Available()[p]
			if !ok {
				continue
			}
			fmt.Printf("%-12s %-6s %-6s %-10s\n", p,
				yesNo(caps.Transcribe), yesNo(caps.Synthesize), yesNo(caps.Streaming))
		}
		fmt.Printf("\ndefault stt: %s\ndefault tts: %s\n", gw.DefaultSTT(), gw.DefaultTTS())
		return nil
	},
}

func runServe(ctx context.Context, cfg *config.EngineConfig, logger *slog.Logger) error {
	gw, err := provider.NewGateway(cfg.GatewayConfig(), logger)
	if err != nil {
		return fmt.Errorf("provider gateway: %w", err)
	}
	defer gw.Close()

	model, err := llm.NewOpenAIClient(cfg.LLMConfig())
	if err != nil {
		return fmt.Errorf("llm client: %w", err)
	}
	cache := llm.NewResponseCache(cfg.CacheConfig())
	cache.Start()
	defer cache.Stop()

	manager := session.NewManager(cfg.ManagerConfig(), gw, model, cache, nil, audit.NopRecorder{}, logger)
	defer manager.Shutdown("server_shutdown")

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/widget", func(w http.ResponseWriter, r *http.Request) {
		t, err := transport.UpgradeWidget(w, r, transport.WidgetConfig{}, logger)
		if err != nil {
			logger.Warn("widget upgrade failed", slog.String("error", err.Error()))
			return
		}
		if _, err := manager.Start(t, cfg.DefaultAgent()); err != nil {
			logger.Error("widget call setup failed", slog.String("error", err.Error()))
			t.Close()
		}
	})
	mux.HandleFunc("/v1/sip/answer", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			RemoteAddr string `json:"remote_addr"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RemoteAddr == "" {
			http.Error(w, "remote_addr required", http.StatusBadRequest)
			return
		}
		t, err := transport.NewSIPTransport(transport.SIPConfig{
			LocalAddr:  cfg.SIPAddr,
			RemoteAddr: req.RemoteAddr,
		}, logger)
		if err != nil {
			logger.Error("sip leg setup failed", slog.String("error", err.Error()))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		sess, err := manager.Start(t, cfg.DefaultAgent())
		if err != nil {
			t.Close()
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"session_id": sess.ID,
			"local_addr": t.LocalAddr().String(),
		})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok active=%d\n", manager.Active())
	})

	server := &http.Server{
		Addr:              cfg.WidgetAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", slog.String("addr", cfg.WidgetAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func setupLogger(level slog.Level) *slog.Logger {
	logFormat := os.Getenv("LOG_FORMAT")

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "console" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		// Default to JSON
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func init() {
	serveCmd.Flags().String("env-file", "", "Path to .env file with provider credentials")
	serveCmd.Flags().Bool("dry-run", false, "Validate configuration and exit")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(providersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
