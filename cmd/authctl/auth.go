package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakif/auth-starter/internal/apperror"
	"github.com/sakif/auth-starter/internal/client"
	"github.com/sakif/auth-starter/internal/session"
)

var errNotLoggedIn = errors.New("not logged in")

// userError turns a client error into the message shown to the user.
func userError(err error) error {
	return errors.New(client.UserMessage(err))
}

func newRegisterCmd(opts *options) *cobra.Command {
	var name, email string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Long: `Create an account. Missing values are prompted for; the password is
asked twice. Registering does not log you in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := newPrompter(cmd)
			in := &client.RegisterInput{}
			var err error
			if in.Name, err = p.orPrompt(name, "Name"); err != nil {
				return err
			}
			if in.Email, err = p.orPrompt(email, "Email"); err != nil {
				return err
			}
			if in.Password, err = p.secret("Password"); err != nil {
				return err
			}
			if in.ConfirmPassword, err = p.secret("Confirm password"); err != nil {
				return err
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			cache, err := opts.openCache(opts.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer cache.Close()

			user, err := client.NewForms(c, cache).SubmitRegister(cmd.Context(), in)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s, run \"authctl login\" to sign in\n", user.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	return cmd
}

func newLoginCmd(opts *options) *cobra.Command {
	var email string
	var remember bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		Long: `Log in with email and password.

With --remember the session is written to the session file and every
authctl process sharing it sees the login. Without it the token is
printed and forgotten when the command exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := newPrompter(cmd)
			in := &client.LoginInput{RememberMe: remember}
			var err error
			if in.Email, err = p.orPrompt(email, "Email"); err != nil {
				return err
			}
			if in.Password, err = p.secret("Password"); err != nil {
				return err
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			cache, err := opts.openCache(opts.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer cache.Close()

			resp, err := client.NewForms(c, cache).SubmitLogin(cmd.Context(), in)
			if err != nil {
				return userError(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", session.DisplayLabel(cache.Read(), in.Email))
			if !remember {
				fmt.Fprintf(cmd.OutOrStdout(), "token: %s\n", resp.Token)
				fmt.Fprintln(cmd.OutOrStdout(), "session not saved, use --remember to stay logged in")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().BoolVar(&remember, "remember", false, "keep the session in the session file")
	return cmd
}

func newLogoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache, err := opts.openCache(opts.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer cache.Close()

			if err := cache.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func newWhoamiCmd(opts *options) *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show who the stored session belongs to",
		Long: `Show who the stored session belongs to.

With --verify the token is checked against the server; a rejected token
is removed from the session file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache, err := opts.openCache(opts.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer cache.Close()

			rec := cache.Read()
			if !rec.Authenticated() {
				return errNotLoggedIn
			}
			if !verify {
				fmt.Fprintln(cmd.OutOrStdout(), label(rec))
				return nil
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			user, err := c.Me(cmd.Context(), rec.Token)
			if errors.Is(err, apperror.ErrUnauthorized) {
				if err := cache.Clear(); err != nil {
					return err
				}
				return errors.New("session expired, please log in again")
			}
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", user.Name, user.Email)
			return nil
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "check the token with the server")
	return cmd
}

// label names the logged-in user, or a placeholder when the stored session
// carries no profile.
func label(rec session.Record) string {
	if l := session.DisplayLabel(rec, ""); l != "" {
		return l
	}
	return "unknown user"
}
