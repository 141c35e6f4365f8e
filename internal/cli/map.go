package cli

import (
	"fmt"
	"iter"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stablekit/internal/multimap"
)

// NewMapCommand creates the map command group.
func NewMapCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Operate on two-level maps",
		Long: `Operate on a two-level (outer, inner) -> value map region.

Reads go through the region's cache; writes go to the store first.`,
	}
	cmd.AddCommand(newMapInsertCommand(rootOpts))
	cmd.AddCommand(newMapGetCommand(rootOpts))
	cmd.AddCommand(newMapRemoveCommand(rootOpts))
	cmd.AddCommand(newMapListCommand(rootOpts))
	return cmd
}

func newMapInsertCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "insert <region> <outer> <inner> <value>",
		Short:         "Insert or replace a value",
		Example:       `  stablekit map insert balances alice icp 100`,
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.cachedMap(args[0])
			if err != nil {
				return err
			}
			prev, replaced, err := m.Insert(cmd.Context(), args[1], args[2], args[3])
			if err != nil {
				return opError("map insert", err)
			}
			f := opts.formatter(cmd)
			if !replaced {
				return f.Result(map[string]any{"replaced": false}, "inserted")
			}
			return f.Result(map[string]any{"replaced": true, "previous": prev}, "replaced "+prev)
		},
	}
}

func newMapGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <region> <outer> <inner>",
		Short:         "Print a value",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.cachedMap(args[0])
			if err != nil {
				return err
			}
			v, ok, err := m.Get(cmd.Context(), args[1], args[2])
			if err != nil {
				return opError("map get", err)
			}
			return outputFound(opts.formatter(cmd), v, ok)
		},
	}
}

func newMapRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <region> <outer> [inner]",
		Short: "Remove one value, or every value under outer",
		Long: `Remove the value at (outer, inner). Without inner, remove every
value stored under outer.`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.cachedMap(args[0])
			if err != nil {
				return err
			}
			f := opts.formatter(cmd)

			if len(args) == 2 {
				removed, err := m.RemovePartial(cmd.Context(), args[1])
				if err != nil {
					return opError("map remove", err)
				}
				text := "nothing removed"
				if removed {
					text = "removed " + args[1]
				}
				return f.Result(map[string]any{"removed": removed}, text)
			}

			v, ok, err := m.Remove(cmd.Context(), args[1], args[2])
			if err != nil {
				return opError("map remove", err)
			}
			return outputFound(f, v, ok)
		},
	}
}

func newMapListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list <region> [outer]",
		Short:         "Print entries in key order",
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.cachedMap(args[0])
			if err != nil {
				return err
			}

			var seq iter.Seq2[multimap.Item[string, string, string], error]
			if len(args) == 2 {
				seq = m.Range(cmd.Context(), args[1])
			} else {
				seq = m.All(cmd.Context())
			}

			entries := []map[string]string{}
			var lines []string
			for it, err := range seq {
				if err != nil {
					return opError("map list", err)
				}
				entries = append(entries, map[string]string{"outer": it.Outer, "inner": it.Inner, "value": it.Value})
				lines = append(lines, fmt.Sprintf("%s\t%s\t%s", it.Outer, it.Inner, it.Value))
			}
			text := strings.Join(lines, "\n")
			if len(lines) == 0 {
				text = "(empty)"
			}
			return opts.formatter(cmd).Result(map[string]any{"entries": entries}, text)
		},
	}
}
