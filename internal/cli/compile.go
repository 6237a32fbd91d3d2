package cli

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"dcsa-query/internal/dialect"
	"dcsa-query/internal/planner"
	"dcsa-query/internal/request"
)

// CompileResult is the JSON form of a compiled list request.
type CompileResult struct {
	Entity   string            `json:"entity"`
	Dialect  string            `json:"dialect"`
	Mode     string            `json:"mode"`
	PageSize int               `json:"pageSize"`
	Joins    []string          `json:"joins,omitempty"`
	Select   planner.SQLQuery  `json:"select"`
	Count    *planner.SQLQuery `json:"count,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "compile <entity> [key=value...]",
		Short: "Compile a list request to SQL",
		Long: `Compile parses a list request the way the server does and prints the
page statement, and the count statement when count=true, with bind arguments.
Parameters may be given one per argument or as a single query string.

  querycli compile event eventType=SHIPMENT,EQUIPMENT sort=-eventCreatedDateTime limit=10
  querycli compile event '?eventType=SHIPMENT&limit=10'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parts := make([]string, 0, len(args)-1)
			for _, a := range args[1:] {
				parts = append(parts, strings.TrimPrefix(a, "?"))
			}
			res, err := compile(rootOpts, args[0], strings.Join(parts, "&"))
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "-- %s %s page, size %d\n", res.Dialect, res.Mode, res.PageSize)
			fmt.Fprintf(out, "%s;\n-- args: %s\n", res.Select.SQL, formatArgs(res.Select.Args))
			if res.Count != nil {
				fmt.Fprintf(out, "%s;\n-- args: %s\n", res.Count.SQL, formatArgs(res.Count.Args))
			}
			return nil
		},
	}
}

func compile(opts *RootOptions, entity, query string) (*CompileResult, error) {
	d, err := dialect.ByName(opts.Dialect)
	if err != nil {
		return nil, err
	}
	params, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("invalid query string: %w", err)
	}
	reg, err := opts.registry()
	if err != nil {
		return nil, err
	}
	a, err := reg.Get(entity)
	if err != nil {
		return nil, err
	}
	st, err := request.Parse(params, a, opts.requestOptions())
	if err != nil {
		return nil, err
	}
	plan, err := planner.Compile(a, st, d)
	if err != nil {
		return nil, err
	}

	res := &CompileResult{
		Entity:   entity,
		Dialect:  d.Name(),
		Mode:     string(st.Mode()),
		PageSize: st.PageSize(),
		Select:   plan.Select,
	}
	for _, j := range plan.Joins {
		res.Joins = append(res.Joins, j.RightAlias)
	}
	if _, known := st.KnownTotal(); st.WantCount() && !known {
		count := plan.Count
		res.Count = &count
	}
	return res, nil
}

func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case string:
			parts[i] = fmt.Sprintf("%q", v)
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
