package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/auth-starter/internal/session"
)

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the session state whenever it changes",
		Long: `Print the current session state, then a line each time it changes,
whether by this process or by another authctl sharing the session file.
Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cache, err := opts.openCache(opts.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer cache.Close()

			view := session.NewView(cache, func(rec session.Record) {
				printRecord(cmd, "changed: ", rec)
			})
			defer view.Close()

			printRecord(cmd, "", view.Current())
			<-ctx.Done()
			return nil
		},
	}
}

func printRecord(cmd *cobra.Command, prefix string, rec session.Record) {
	if !rec.Authenticated() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", prefix, errNotLoggedIn)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%slogged in as %s\n", prefix, label(rec))
}
