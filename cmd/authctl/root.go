package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/auth-starter/internal/client"
	"github.com/sakif/auth-starter/internal/session"
)

const (
	envServer      = "AUTHCTL_SERVER"
	envSessionFile = "AUTHCTL_SESSION_FILE"
	defaultServer  = "http://localhost:8080"
)

// options are the flags shared by every subcommand.
type options struct {
	server      string
	sessionFile string
	timeout     time.Duration
	verbose     bool
}

// NewRootCmd creates the authctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "authctl",
		Short: "Command-line client for the auth-starter server",
		Long: `authctl registers accounts, logs in and shows the current session.

A remembered login is stored in the session file and shared by every
authctl process using that file; "authctl watch" reports changes made
by other processes as they happen.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.server, "server", envOr(envServer, defaultServer),
		"server base URL (env "+envServer+")")
	cmd.PersistentFlags().StringVar(&opts.sessionFile, "session-file", envOr(envSessionFile, defaultSessionFile()),
		"where remembered logins are stored (env "+envSessionFile+")")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", client.DefaultTimeout, "per-request timeout")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")

	cmd.AddCommand(newRegisterCmd(opts))
	cmd.AddCommand(newLoginCmd(opts))
	cmd.AddCommand(newLogoutCmd(opts))
	cmd.AddCommand(newWhoamiCmd(opts))
	cmd.AddCommand(newWatchCmd(opts))

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".authctl", "session.json")
	}
	return filepath.Join(dir, "authctl", "session.json")
}

func (o *options) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *options) client() (*client.Client, error) {
	return client.New(o.server, client.WithTimeout(o.timeout))
}

func (o *options) openCache(logger *slog.Logger) (*session.Cache, error) {
	storage := session.NewFileStorage(o.sessionFile, logger)
	cache, err := session.Open(storage, session.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("opening session file: %w", err)
	}
	return cache, nil
}
