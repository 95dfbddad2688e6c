package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/conserje/internal/gateway"
	"github.com/user/conserje/internal/scheduler"
	"github.com/user/conserje/internal/telegram"
	"github.com/user/conserje/internal/types"
	"github.com/user/conserje/internal/webhook"
)

const pidFileName = "conserje.pid"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the conserje daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// replyRouter finds the reply channel of a conversation from its key, for
// events that do not originate from a channel (expiry).
type replyRouter struct {
	telegram *telegram.Adapter
	logger   *zap.Logger
}

func (r *replyRouter) replyFor(key types.SessionKey) gateway.ReplyFunc {
	if r.telegram != nil && strings.HasPrefix(string(key), "telegram:") {
		if fn, ok := r.telegram.ReplyTo(key); ok {
			return fn
		}
	}
	return func(_ context.Context, text string) error {
		r.logger.Info("reply without channel", zap.String("session_key", string(key)), zap.String("text", text))
		return nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	logger := setupLogging(cfg)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	gw := a.gateway
	gw.Start(ctx)
	defer gw.Stop()

	router := &replyRouter{logger: logger.Named("serve")}

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, gw, a.sessions, a.areas, logger)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		a.registry.Register(telegram.Prefix, telegram.DestinationHandler(adapter.Bot()))
		router.telegram = adapter
		go adapter.Start(ctx)
		logger.Info("telegram adapter started")
	} else {
		logger.Warn("telegram adapter disabled (no token)")
	}

	// Idle-session sweeper
	sweeper := scheduler.NewIdleSweeper(a.sessions, cfg.Intake.SessionIdleTTL,
		func(ctx context.Context, key types.SessionKey) error {
			return gw.Expire(ctx, key, gateway.WithReply(router.replyFor(key)))
		}, logger)
	sched := scheduler.New(logger)
	if err := sched.Add("idle-sweep", cfg.Intake.SweepSchedule, sweeper.Job()); err != nil {
		return fmt.Errorf("schedule idle sweep: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// HTTP server
	var opts []webhook.Option
	opts = append(opts, webhook.WithEventLog(a.events))
	if a.search != nil {
		opts = append(opts, webhook.WithSearch(a.search))
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           webhook.NewServer(gw, a.sessions, logger, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.String("listen", cfg.HTTP.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("conserje started",
		zap.String("data_dir", cfg.DataDir),
		zap.Int("areas", len(a.areas.List())),
		zap.String("sessions", cfg.Storage.Sessions),
		zap.String("incidents", cfg.Storage.Incidents),
		zap.Bool("search_index", cfg.Storage.SearchIndex),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Int("max_concurrent", cfg.MaxConcurrent),
		zap.String("pid_file", pidPath),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			logger.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				logger.Error("failed to get executable path", zap.Error(err))
				continue
			}
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				logger.Error("failed to re-exec", zap.Error(err))
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					logger.Error("failed to re-write PID file", zap.Error(writeErr))
				}
				continue
			}
		}
		logger.Info("shutting down", zap.String("signal", sig.String()))
		return nil
	}
}
