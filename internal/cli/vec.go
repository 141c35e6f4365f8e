package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/stablekit/internal/identity"
)

// NewVecCommand creates the vec command group.
func NewVecCommand(rootOpts *RootOptions) *cobra.Command {
	var who string
	cmd := &cobra.Command{
		Use:   "vec",
		Short: "Operate on identity-scoped vectors",
		Long: `Operate on an identity-scoped vector region.

Every identity sees its own vector. Commands act as the identity given by
--identity, or the anonymous identity when it is omitted.`,
	}
	cmd.PersistentFlags().StringVar(&who, "identity", "", "caller identity")

	withIdentity := func(ctx context.Context) context.Context {
		return identity.With(ctx, identity.ID(who))
	}
	cmd.AddCommand(newVecPushCommand(rootOpts, withIdentity))
	cmd.AddCommand(newVecPopCommand(rootOpts, withIdentity))
	cmd.AddCommand(newVecGetCommand(rootOpts, withIdentity))
	cmd.AddCommand(newVecSetCommand(rootOpts, withIdentity))
	cmd.AddCommand(newVecListCommand(rootOpts, withIdentity))
	return cmd
}

type scopeFunc func(context.Context) context.Context

func newVecPushCommand(opts *RootOptions, scope scopeFunc) *cobra.Command {
	return &cobra.Command{
		Use:           "push <region> <value>",
		Short:         "Append a value to the caller's vector",
		Example:       `  stablekit vec push inbox hello --identity alice`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.vec(args[0])
			if err != nil {
				return err
			}
			ctx := scope(cmd.Context())
			if err := v.Push(ctx, args[1]); err != nil {
				return opError("vec push", err)
			}
			n, err := v.Len(ctx)
			if err != nil {
				return opError("vec push", err)
			}
			return opts.formatter(cmd).Result(map[string]any{"len": n}, formatLen(n))
		},
	}
}

func newVecPopCommand(opts *RootOptions, scope scopeFunc) *cobra.Command {
	return &cobra.Command{
		Use:           "pop <region>",
		Short:         "Remove and print the caller's last value",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.vec(args[0])
			if err != nil {
				return err
			}
			item, ok, err := v.Pop(scope(cmd.Context()))
			if err != nil {
				return opError("vec pop", err)
			}
			return outputFound(opts.formatter(cmd), item, ok)
		},
	}
}

func newVecGetCommand(opts *RootOptions, scope scopeFunc) *cobra.Command {
	return &cobra.Command{
		Use:           "get <region> <index>",
		Short:         "Print the caller's value at index",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return WrapCodedError(ExitCommandError, ErrCodeBadArgument, fmt.Sprintf("invalid index %q", args[1]), err)
			}

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.vec(args[0])
			if err != nil {
				return err
			}
			item, ok, err := v.Get(scope(cmd.Context()), index)
			if err != nil {
				return opError("vec get", err)
			}
			return outputFound(opts.formatter(cmd), item, ok)
		},
	}
}

func newVecSetCommand(opts *RootOptions, scope scopeFunc) *cobra.Command {
	return &cobra.Command{
		Use:           "set <region> <index> <value>",
		Short:         "Overwrite the caller's value at index (index == len appends)",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return WrapCodedError(ExitCommandError, ErrCodeBadArgument, fmt.Sprintf("invalid index %q", args[1]), err)
			}

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.vec(args[0])
			if err != nil {
				return err
			}
			ctx := scope(cmd.Context())
			if err := v.Set(ctx, index, args[2]); err != nil {
				return opError("vec set", err)
			}
			n, err := v.Len(ctx)
			if err != nil {
				return opError("vec set", err)
			}
			return opts.formatter(cmd).Result(map[string]any{"len": n}, formatLen(n))
		},
	}
}

func newVecListCommand(opts *RootOptions, scope scopeFunc) *cobra.Command {
	return &cobra.Command{
		Use:           "list <region>",
		Short:         "Print the caller's values in index order",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.vec(args[0])
			if err != nil {
				return err
			}
			values, err := v.ToSlice(scope(cmd.Context()))
			if err != nil {
				return opError("vec list", err)
			}
			return outputValues(opts.formatter(cmd), values)
		},
	}
}
