package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jun/gophstore/internal/app"
	"github.com/jun/gophstore/internal/logger"
)

var (
	email    string
	password string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Init(logger.FromEnv())

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "gophstore: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gophstore",
		Short: "Document store client",
		Long: `gophstore signs in to the document store, reads collections and uploads
records in paced, retried batches. Configuration comes from GOPHSTORE_* variables.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&email, "email", os.Getenv("GOPHSTORE_EMAIL"), "Account email; signs in before the command when set")
	cmd.PersistentFlags().StringVar(&password, "password", os.Getenv("GOPHSTORE_PASSWORD"), "Account password")
	cmd.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newHealthCmd(),
		newListCmd(),
		newUploadCmd(),
	)
	return cmd
}

// open builds the App and signs in when credentials were given.
func open(ctx context.Context) (*app.App, error) {
	a, err := app.NewApp(ctx)
	if err != nil {
		return nil, err
	}
	if email != "" {
		if _, err := a.SignIn(ctx, email, password); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			owner, err := a.Tokens().Owner(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s (%s)\n", email, owner)
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Discard the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.Tokens().Logout(cmd.Context())
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the stored credential is accepted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "Print every document of a collection as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			col, err := a.Collection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			docs, err := col.Get(cmd.Context())
			if err != nil {
				return err
			}
			out := make([]map[string]any, 0, len(docs))
			for _, d := range docs {
				out = append(out, d.Native())
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func newUploadCmd() *cobra.Command {
	var failedOut string
	cmd := &cobra.Command{
		Use:   "upload <collection> <file.json>",
		Short: "Upload a JSON array of objects into a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			records, err := readRecords(f, logger.Named("cli"))
			if err != nil {
				return err
			}

			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			stats, runErr := a.Upload(cmd.Context(), args[0], records)

			if err := writeSummary(cmd.OutOrStdout(), stats); err != nil {
				return err
			}
			if failedOut != "" && len(stats.Failures) > 0 {
				if err := writeFailed(failedOut, stats); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&failedOut, "failed-out", "", "Write records that did not upload to this file")
	return cmd
}
