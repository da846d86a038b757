package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/tutorlog/internal/domain/model"
	"github.com/okian/tutorlog/internal/simulate"
	"github.com/okian/tutorlog/pkg/logger"
)

var version = "dev"

type globalFlags struct {
	url     string
	timeout time.Duration
	debug   bool
}

func (g *globalFlags) client() *simulate.Client {
	return simulate.NewClient(g.url, g.timeout)
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "tutorlogctl",
		Short: "Inspect and exercise a tutorlog server",
		Long: `tutorlogctl talks to the tutorlog HTTP API.

It reads, renders, finalizes and deletes transcripts, and can drive
simulated tutoring sessions to check that every message survives the
round trip through the transcript document and its per-role streams.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&g.url, "url", simulate.DefaultConfig().BaseURL, "Base URL of the service")
	cmd.PersistentFlags().DurationVar(&g.timeout, "timeout", simulate.DefaultConfig().Timeout, "HTTP request timeout")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		if err := logger.Init(); err != nil {
			return err
		}
		if g.debug {
			return logger.SetLevelString("debug")
		}
		return nil
	}

	cmd.AddCommand(newSimulateCommand(g))
	cmd.AddCommand(newGetCommand(g))
	cmd.AddCommand(newTextCommand(g))
	cmd.AddCommand(newFinalizeCommand(g))
	cmd.AddCommand(newDeleteCommand(g))

	return cmd
}

func execute() error {
	return newRootCommand().Execute()
}

func newSimulateCommand(g *globalFlags) *cobra.Command {
	cfg := simulate.DefaultConfig()
	var keep bool
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive scripted sessions and verify their transcripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.BaseURL = g.url
			cfg.Timeout = g.timeout
			cfg.Cleanup = !keep
			stats, err := simulate.Run(cmd.Context(), cfg, logger.Get())
			if stats != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "sessions=%d final=%d empty=%d messages=%d duplicate=%d failed=%d duration=%s\n",
					stats.Sessions, stats.Final, stats.Empty, stats.Messages, stats.Duplicate, stats.Failed, stats.Duration.Round(time.Millisecond))
			}
			return err
		},
	}
	cmd.Flags().IntVar(&cfg.Sessions, "sessions", cfg.Sessions, "Number of transcripts to create")
	cmd.Flags().IntVar(&cfg.Turns, "turns", cfg.Turns, "Tutor/learner exchanges per session")
	cmd.Flags().IntVar(&cfg.Workers, "workers", cfg.Workers, "Sessions driven concurrently")
	cmd.Flags().StringVar(&cfg.Language, "language", cfg.Language, "BCP-47 language tag of every session")
	cmd.Flags().IntVar(&cfg.Retries, "retry-every", cfg.Retries, "Resend every Nth append with the same Idempotency-Key (0 disables)")
	cmd.Flags().IntVar(&cfg.Silent, "silent-every", cfg.Silent, "Make every Nth session learner-free so it finalizes empty (0 disables)")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep transcripts instead of deleting them after verification")
	return cmd
}

func newGetCommand(g *globalFlags) *cobra.Command {
	var streams bool
	cmd := &cobra.Command{
		Use:   "get <uid> <tid>",
		Short: "Print a transcript as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := g.client().Get(cmd.Context(), args[0], args[1], streams)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().BoolVar(&streams, "streams", false, "Rebuild the messages from the per-role streams")
	return cmd
}

func newTextCommand(g *globalFlags) *cobra.Command {
	var roles string
	cmd := &cobra.Command{
		Use:   "text <uid> <tid>",
		Short: "Render a transcript as role: body lines",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var parsed []model.Role
			for _, s := range strings.Split(roles, ",") {
				if strings.TrimSpace(s) == "" {
					continue
				}
				r, err := model.ParseRole(s)
				if err != nil {
					return err
				}
				parsed = append(parsed, r)
			}
			text, err := g.client().Text(cmd.Context(), args[0], args[1], parsed...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVar(&roles, "roles", "", "Comma separated roles to include (default ast,usr)")
	return cmd
}

func newFinalizeCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <uid> <tid>",
		Short: "Close a transcript and print its terminal status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := g.client().Finalize(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func newDeleteCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uid> <tid>",
		Short: "Delete a transcript with its streams and sentinels",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.client().Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted users/%s/transcripts/%s\n", args[0], args[1])
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
