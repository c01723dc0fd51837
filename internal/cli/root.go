// Package cli implements the reconciler command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"example.com/progression/internal/app"
	"example.com/progression/internal/config"
)

// EngineFactory opens the engine a command operates on.
type EngineFactory func(ctx context.Context, cfg config.Config, logger *log.Logger) (*app.Engine, func(), error)

// RootOptions holds global flags and collaborators for all commands.
type RootOptions struct {
	Format  string // "json" | "text"
	Config  config.Config
	Factory EngineFactory
	Logger  *log.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the reconciler CLI.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	if opts.Factory == nil {
		opts.Factory = app.Build
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[reconciler] ", log.LstdFlags|log.Lshortfile)
	}

	cmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Daily summary reconciliation for the progression engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewFinalizeCommand(opts))
	cmd.AddCommand(NewDLQCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
