// Package main runs one analysis from the command line and prints the
// report.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"token-analyst/internal/app"
	"token-analyst/internal/config"
	"token-analyst/internal/report"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd(ctx context.Context) *cobra.Command {
	var (
		format     string
		outFile    string
		holderMode string
		questions  []string
		withData   bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <contract-address|project-name>",
		Short: "Analyze a token and print a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// Logs go to stderr so stdout stays a clean report.
			app.ConfigureLogging(cfg.LogLevel, "console", os.Stderr)
			if holderMode != "" {
				cfg.Policies.Collector.Mode = holderMode
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			components, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}

			st := components.Aggregator.Aggregate(ctx, args[0])
			rep := components.Synthesizer.Synthesize(ctx, st)

			var history []report.Exchange
			for _, q := range questions {
				a := components.Synthesizer.Answer(ctx, rep, history, q)
				history = append(history, report.Exchange{Question: q, Answer: a})
			}

			out := cmd.OutOrStdout()
			if outFile != "" {
				f, err := os.Create(outFile)
				if err != nil {
					return fmt.Errorf("create %s: %w", outFile, err)
				}
				defer f.Close()
				out = f
				log.Info().Str("path", outFile).Msg("writing report")
			}

			switch format {
			case "json":
				payload := map[string]any{"report": rep}
				if withData {
					payload["data"] = st
				}
				if len(history) > 0 {
					payload["answers"] = history
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(payload)
			case "markdown", "md":
				return writeMarkdown(out, rep, history)
			default:
				return fmt.Errorf("unknown format %q (markdown or json)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "output format: markdown or json")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the report to a file instead of stdout")
	cmd.Flags().StringVar(&holderMode, "holder-mode", "", "override holder scan mode: full or basic")
	cmd.Flags().StringArrayVarP(&questions, "ask", "q", nil, "follow-up question (repeatable)")
	cmd.Flags().BoolVar(&withData, "with-data", false, "include the aggregated source data in JSON output")
	return cmd
}

func writeMarkdown(w io.Writer, rep *report.Report, history []report.Exchange) error {
	if _, err := io.WriteString(w, report.RenderMarkdown(rep)); err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}
	if _, err := io.WriteString(w, "\n## Questions\n\n"); err != nil {
		return err
	}
	for _, ex := range history {
		if _, err := fmt.Fprintf(w, "**Q:** %s\n\n%s\n\n", ex.Question, ex.Answer); err != nil {
			return err
		}
	}
	return nil
}
