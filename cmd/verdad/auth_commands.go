package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmcdole/verdad/internal/adapter"
	"github.com/mmcdole/verdad/internal/app"
)

func newLoginCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in, configuring the backend on first use",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !cfg.IsConfigured() {
				if err := promptBackend(cmd.InOrStdin(), out, cfg); err != nil {
					return err
				}
				if err := ctx.saveConfig(cfg); err != nil {
					return err
				}
				fmt.Fprintln(out, "✓ Backend saved")
			}

			return ctx.withApp(nil, func(a *app.App) error {
				user, err := a.SignIn(cmd.Context())
				if err != nil {
					return fmt.Errorf("sign in failed: %w", err)
				}
				ctx.logger.Info("signed in", "user", user.ID)
				fmt.Fprintf(out, "✓ Signed in as %s\n", firstNonEmpty(user.Email, user.ID))
				return nil
			})
		},
	}
}

// promptBackend asks for the project URL and public key
func promptBackend(in io.Reader, out io.Writer, cfg *adapter.Config) error {
	reader := bufio.NewReader(in)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Welcome to VERDAD!")
	fmt.Fprintln(out)

	url, err := promptLine(reader, out, "Backend URL (e.g., https://xyz.supabase.co): ")
	if err != nil {
		return err
	}
	key, err := promptLine(reader, out, "Public anon key: ")
	if err != nil {
		return err
	}

	cfg.Backend.URL = strings.TrimRight(url, "/")
	cfg.Backend.AnonKey = key
	return nil
}

func promptLine(reader *bufio.Reader, out io.Writer, prompt string) (string, error) {
	for {
		fmt.Fprint(out, prompt)
		input, err := reader.ReadString('\n')
		value := strings.TrimSpace(input)
		if value != "" {
			return value, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		fmt.Fprintln(out, "Value cannot be empty. Please try again.")
	}
}

func newLogoutCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget cached per-user state",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := ctx.withApp(nil, func(a *app.App) error {
				if !a.SignedIn() {
					return nil
				}
				if err := a.SignOut(cmd.Context()); err != nil {
					// The local session is already gone
					ctx.logger.Warn("remote sign out failed", "error", err)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if err := ctx.saveSession(adapter.SessionConfig{}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}
