package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stablekit/internal/task"
)

// NewTaskCommand creates the task command group.
func NewTaskCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and maintain the task queue",
		Long: `Inspect and maintain the durable task queue.

Task payloads are opaque to the CLI; only scheduling state is shown.`,
	}
	cmd.AddCommand(newTaskListCommand(rootOpts))
	cmd.AddCommand(newTaskSweepCommand(rootOpts))
	cmd.AddCommand(newTaskDeleteCommand(rootOpts))
	return cmd
}

// taskView is the listing form of a stored task.
type taskView struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Failures     uint32 `json:"failures"`
	ExecuteAfter uint64 `json:"execute_after"`
	Retry        string `json:"retry"`
	Backoff      string `json:"backoff"`
	PayloadSize  int    `json:"payload_size"`
}

func newTaskView(s task.Stored[[]byte]) taskView {
	o := s.Record.Options
	return taskView{
		ID:           s.ID,
		Status:       s.Record.Status.String(),
		Failures:     o.Failures,
		ExecuteAfter: o.ExecuteAfterSecs,
		Retry:        o.RetryStrategy.Retry.String(),
		Backoff:      o.RetryStrategy.Backoff.String(),
		PayloadSize:  len(s.Record.Task),
	}
}

func newTaskListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List stored tasks in id order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ts, err := a.tasks()
			if err != nil {
				return err
			}

			views := []taskView{}
			var lines []string
			for s, err := range ts.List(cmd.Context()) {
				if err != nil {
					return opError("task list", err)
				}
				v := newTaskView(s)
				views = append(views, v)
				lines = append(lines, fmt.Sprintf("%s\t%s\tfailures=%d\tafter=%d\t%s\t%s",
					v.ID, v.Status, v.Failures, v.ExecuteAfter, v.Retry, v.Backoff))
			}
			text := strings.Join(lines, "\n")
			if len(lines) == 0 {
				text = "(empty)"
			}
			return opts.formatter(cmd).Result(map[string]any{"tasks": views}, text)
		},
	}
}

func newTaskSweepCommand(opts *RootOptions) *cobra.Command {
	var staleAfter int64

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Recover executions interrupted by a restart",
		Long: `Recover tasks left behind by a process that stopped mid-pass. A task
left Running counts as a failed attempt and follows its retry policy; a
task left SelectedForExecution never ran and goes back to waiting.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			after := a.cfg.Tasks.StaleAfterSecs
			if staleAfter >= 0 {
				after = uint64(staleAfter)
			}

			ts, err := a.tasks()
			if err != nil {
				return err
			}
			report, err := ts.Recover(cmd.Context(), task.SystemClock{}.NowSecs(), after)
			if err != nil {
				return opError("task sweep", err)
			}

			requeued := nonNilIDs(report.Requeued)
			dropped := nonNilIDs(report.Dropped)
			reselected := nonNilIDs(report.Reselected)
			return opts.formatter(cmd).Result(
				map[string]any{"requeued": requeued, "dropped": dropped, "reselected": reselected},
				fmt.Sprintf("requeued=%d dropped=%d reselected=%d", len(requeued), len(dropped), len(reselected)),
			)
		},
	}

	cmd.Flags().Int64Var(&staleAfter, "stale-after", -1, "seconds before an execution counts as interrupted (default from config)")
	return cmd
}

func newTaskDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete a task regardless of its status",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ts, err := a.tasks()
			if err != nil {
				return err
			}
			ok, err := ts.Delete(cmd.Context(), args[0])
			if err != nil {
				return opError("task delete", err)
			}
			text := "not found"
			if ok {
				text = "deleted " + args[0]
			}
			return opts.formatter(cmd).Result(map[string]any{"deleted": ok}, text)
		},
	}
}

func nonNilIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
