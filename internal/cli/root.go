// Package cli implements querycli, an offline companion to the server: it
// lists configured entities, compiles list requests to SQL and decodes
// cursor tokens without touching a database.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"dcsa-query/internal/analysis"
	"dcsa-query/internal/cursor"
	"dcsa-query/internal/dialect"
	"dcsa-query/internal/metadata"
	"dcsa-query/internal/request"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EntitiesFile string
	Dialect      string
	Format       string // "text" | "json"
	CursorSecret string
	MaxPageSize  int
	AllowOffset  bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the querycli root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "querycli",
		Short: "Inspect entity catalogs and compiled list queries",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.EntitiesFile, "entities", "e", "entities.yaml", "entity catalog file")
	flags.StringVar(&opts.Dialect, "dialect", dialect.MySQL, "SQL dialect (mysql, postgres, sqlite, sqlserver)")
	flags.StringVar(&opts.Format, "format", "text", "output format (text|json)")
	flags.StringVar(&opts.CursorSecret, "cursor-secret", "", "secret used to sign cursor tokens")
	flags.IntVar(&opts.MaxPageSize, "max-page-size", request.DefaultMaxPageSize, "largest accepted page size")
	flags.BoolVar(&opts.AllowOffset, "allow-offset", false, "accept offset pagination for every entity")

	cmd.AddCommand(NewEntitiesCommand(opts))
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewCursorCommand(opts))

	return cmd
}

func (o *RootOptions) registry() (*analysis.Registry, error) {
	catalog, err := metadata.LoadCatalog(o.EntitiesFile)
	if err != nil {
		return nil, err
	}
	return analysis.NewRegistry(catalog), nil
}

func (o *RootOptions) codec() *cursor.Codec {
	return cursor.NewCodec([]byte(o.CursorSecret))
}

func (o *RootOptions) requestOptions() request.Options {
	return request.Options{
		MaxPageSize: o.MaxPageSize,
		Codec:       o.codec(),
		AllowOffset: o.AllowOffset,
	}
}
