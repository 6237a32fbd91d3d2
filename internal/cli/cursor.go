package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewCursorCommand creates the cursor command group.
func NewCursorCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Work with pagination cursor tokens",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "decode <token>",
		Short: "Verify a cursor token and print its contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := rootOpts.codec().Decode(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), c)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "entity:    %s\n", c.Entity)
			fmt.Fprintf(out, "mode:      %s\n", c.Mode)
			fmt.Fprintf(out, "backward:  %t\n", c.Backward)
			fmt.Fprintf(out, "page size: %d\n", c.PageSize)
			if c.Offset > 0 {
				fmt.Fprintf(out, "offset:    %d\n", c.Offset)
			}
			sort := make([]string, len(c.Sort))
			for i, k := range c.Sort {
				sort[i] = k.Field
				if k.Descending {
					sort[i] = "-" + k.Field
				}
			}
			fmt.Fprintf(out, "sort:      %s\n", strings.Join(sort, ","))
			values := make([]string, len(c.Values))
			for i, v := range c.Values {
				if v == nil {
					values[i] = "NULL"
					continue
				}
				values[i] = fmt.Sprintf("%q", *v)
			}
			fmt.Fprintf(out, "position:  [%s]\n", strings.Join(values, ", "))
			if c.Total != nil {
				fmt.Fprintf(out, "total:     %d\n", *c.Total)
			}
			return nil
		},
	})
	return cmd
}
