package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"dcsa-query/internal/analysis"
)

// EntitySummary describes one entity of the catalog.
type EntitySummary struct {
	Name        string         `json:"name"`
	Table       string         `json:"table"`
	PrimaryKey  []string       `json:"primaryKey"`
	DefaultSort []string       `json:"defaultSort,omitempty"`
	AllowOffset bool           `json:"allowOffset,omitempty"`
	Joins       []string       `json:"joins,omitempty"`
	Fields      []FieldSummary `json:"fields"`
}

// FieldSummary describes one queryable field.
type FieldSummary struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Column     string   `json:"column"`
	Selectable bool     `json:"selectable"`
	Enum       []string `json:"enum,omitempty"`
	Aliases    []string `json:"aliases,omitempty"`
}

// NewEntitiesCommand creates the entities command.
func NewEntitiesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "entities [name...]",
		Short: "List entities and their queryable fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := rootOpts.registry()
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				names = reg.Names()
			}
			summaries := make([]EntitySummary, 0, len(names))
			for _, name := range names {
				a, err := reg.Get(name)
				if err != nil {
					return err
				}
				summaries = append(summaries, summarize(a))
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), summaries)
			}
			return writeEntitiesText(cmd, summaries)
		},
	}
}

func summarize(a *analysis.EntityAnalysis) EntitySummary {
	s := EntitySummary{
		Name:        a.Name(),
		Table:       a.PrimaryTable(),
		AllowOffset: a.AllowOffset(),
	}
	for _, f := range a.PrimaryKey() {
		s.PrimaryKey = append(s.PrimaryKey, f.ExternalName)
	}
	for _, t := range a.DefaultSort() {
		term := t.Field.ExternalName
		if t.Descending {
			term = "-" + term
		}
		s.DefaultSort = append(s.DefaultSort, term)
	}
	for _, j := range a.Joins() {
		s.Joins = append(s.Joins, j.RightAlias)
	}
	for _, f := range a.Fields() {
		s.Fields = append(s.Fields, FieldSummary{
			Name:       f.ExternalName,
			Type:       f.ValueType.String(),
			Column:     f.TableAlias + "." + f.Column,
			Selectable: f.Selectable,
			Enum:       f.EnumValues,
			Aliases:    f.Aliases,
		})
	}
	return s
}

func writeEntitiesText(cmd *cobra.Command, summaries []EntitySummary) error {
	out := cmd.OutOrStdout()
	for i, s := range summaries {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s (table %s, key %s)\n", s.Name, s.Table, strings.Join(s.PrimaryKey, ", "))
		if len(s.DefaultSort) > 0 {
			fmt.Fprintf(out, "  default sort: %s\n", strings.Join(s.DefaultSort, ","))
		}
		if len(s.Joins) > 0 {
			fmt.Fprintf(out, "  joins: %s\n", strings.Join(s.Joins, ", "))
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, f := range s.Fields {
			flags := ""
			if !f.Selectable {
				flags = "filter-only"
			}
			if len(f.Enum) > 0 {
				flags = strings.TrimSpace(flags + " enum(" + strings.Join(f.Enum, "|") + ")")
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", f.Name, f.Type, f.Column, flags)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
