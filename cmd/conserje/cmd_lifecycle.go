package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/conserje/internal/config"
	"github.com/user/conserje/internal/webhook"
)

var errNotRunning = errors.New("daemon not running")

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd, statusCmd)
}

// daemonPID returns the PID recorded by serve, after checking with signal 0
// that the process still exists.
func daemonPID(cfg *config.Config) (int, error) {
	data, err := os.ReadFile(filepath.Join(cfg.DataDir, pidFileName))
	if os.IsNotExist(err) {
		return 0, errNotRunning
	}
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("pid file: %w", err)
	}
	if syscall.Kill(pid, 0) != nil {
		return 0, fmt.Errorf("%w: stale pid %d", errNotRunning, pid)
	}
	return pid, nil
}

func signalCmd(use, short string, sig syscall.Signal, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := daemonPID(loadConfig())
			if err != nil {
				return err
			}
			if err := syscall.Kill(pid, sig); err != nil {
				return fmt.Errorf("signal %d: %w", pid, err)
			}
			fmt.Fprintf(os.Stdout, done+"\n", pid)
			return nil
		},
	}
}

var (
	stopCmd    = signalCmd("stop", "Stop the running daemon", syscall.SIGTERM, "Sent SIGTERM to PID %d.")
	restartCmd = signalCmd("restart", "Reload config, catalogs and channels in the running daemon",
		syscall.SIGHUP, "Sent SIGHUP to PID %d; the daemon reloads in place.")
)

// healthURL turns a listen address such as ":8080" into a loopback URL.
func healthURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/health"
}

func probeHealth(ctx context.Context, url string) (*webhook.Health, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health: status %d", resp.StatusCode)
	}
	var h webhook.Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return &h, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running and how busy it is",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		pid, err := daemonPID(cfg)
		if errors.Is(err, errNotRunning) {
			fmt.Fprintf(os.Stdout, "Not running (%v).\n", err)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Running, PID %d.\n", pid)

		url := healthURL(cfg.HTTP.Listen)
		if url == "" {
			return nil
		}
		h, err := probeHealth(cmd.Context(), url)
		if err != nil {
			fmt.Fprintf(os.Stdout, "HTTP %s unreachable: %v\n", cfg.HTTP.Listen, err)
			return nil
		}
		fmt.Fprintf(os.Stdout, "HTTP %s: %s, up %s", cfg.HTTP.Listen, h.Status, h.Uptime)
		if h.Lanes != nil {
			fmt.Fprintf(os.Stdout, ", %d active conversations", *h.Lanes)
		}
		fmt.Fprintln(os.Stdout)
		return nil
	},
}
