package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewLogCommand creates the log command group.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Operate on deduplicating logs",
		Long: `Operate on a deduplicating log region.

Entries are kept in the textual order of their encoding; pushing a value
that is already present is a no-op.`,
	}
	cmd.AddCommand(newLogPushCommand(rootOpts))
	cmd.AddCommand(newLogPopCommand(rootOpts))
	cmd.AddCommand(newLogListCommand(rootOpts))
	return cmd
}

func newLogPushCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push <region> <value>",
		Short: "Append a value",
		Example: `  stablekit log push events user-created
  stablekit --format json log push events user-deleted`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			l, err := a.log(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := l.Push(ctx, args[1]); err != nil {
				return opError("log push", err)
			}
			n, err := l.Len(ctx)
			if err != nil {
				return opError("log push", err)
			}
			return opts.formatter(cmd).Result(
				map[string]any{"len": n},
				formatLen(n),
			)
		},
	}
}

func newLogPopCommand(opts *RootOptions) *cobra.Command {
	var back bool
	cmd := &cobra.Command{
		Use:           "pop <region>",
		Short:         "Remove and print the first (or last) value",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			l, err := a.log(args[0])
			if err != nil {
				return err
			}
			pop := l.PopFront
			if back {
				pop = l.PopBack
			}
			v, ok, err := pop(cmd.Context())
			if err != nil {
				return opError("log pop", err)
			}
			return outputFound(opts.formatter(cmd), v, ok)
		},
	}
	cmd.Flags().BoolVar(&back, "back", false, "pop the last value instead of the first")
	return cmd
}

func newLogListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list <region>",
		Short:         "Print every value in order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			l, err := a.log(args[0])
			if err != nil {
				return err
			}
			values, err := l.ToSlice(cmd.Context())
			if err != nil {
				return opError("log list", err)
			}
			return outputValues(opts.formatter(cmd), values)
		},
	}
}

// Shared renderers for the structure commands.

func formatLen(n uint64) string {
	return fmt.Sprintf("len=%d", n)
}

func outputFound(f *OutputFormatter, v string, ok bool) error {
	if !ok {
		return f.Result(map[string]any{"found": false}, "(empty)")
	}
	return f.Result(map[string]any{"found": true, "value": v}, v)
}

func outputValues(f *OutputFormatter, values []string) error {
	if values == nil {
		values = []string{}
	}
	text := strings.Join(values, "\n")
	if len(values) == 0 {
		text = "(empty)"
	}
	return f.Result(map[string]any{"values": values}, text)
}
