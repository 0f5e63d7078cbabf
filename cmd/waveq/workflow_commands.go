package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"waveq/internal/api"
	"waveq/internal/orchestrator"
)

type workflowFlags struct {
	intent     string
	operations []string
	custom     []string
	hint       string
	duration   float64
	callback   string
}

func (f *workflowFlags) bind(cmd *cobra.Command, withCallback bool) {
	cmd.Flags().StringVar(&f.intent, "intent", "", "Workflow intent (classified from the input when empty)")
	cmd.Flags().StringSliceVar(&f.operations, "op", nil, "Explicit operation list for a custom workflow (repeatable)")
	cmd.Flags().StringArrayVar(&f.custom, "custom", nil, "Per-step setting as operation.key=value (repeatable)")
	cmd.Flags().StringVar(&f.hint, "hint", "", "Operation hint for intent classification")
	cmd.Flags().Float64Var(&f.duration, "duration", 0, "Input duration in seconds when it cannot be probed")
	if withCallback {
		cmd.Flags().StringVar(&f.callback, "callback", "", "Webhook URL notified when the workflow finishes")
	}
}

func (f *workflowFlags) request(input string) (orchestrator.Request, error) {
	req := orchestrator.Request{
		InputRef:    strings.TrimSpace(input),
		Intent:      strings.TrimSpace(f.intent),
		Operations:  f.operations,
		Duration:    f.duration,
		CallbackURL: strings.TrimSpace(f.callback),
	}
	if hint := strings.TrimSpace(f.hint); hint != "" {
		req.Hints = &orchestrator.UserHints{Operation: hint}
	}
	custom, err := parseCustomizations(f.custom)
	if err != nil {
		return orchestrator.Request{}, err
	}
	req.Customizations = custom
	return req, nil
}

// parseCustomizations reads operation.key=value settings into per-step maps.
func parseCustomizations(raw []string) (map[string]map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]map[string]any)
	for _, item := range raw {
		op, rest, ok := strings.Cut(item, ".")
		op = strings.TrimSpace(op)
		if !ok || op == "" {
			return nil, fmt.Errorf("invalid customization %q (want operation.key=value)", item)
		}
		key, value, err := parseSetting(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid customization %q: %w", item, err)
		}
		if out[op] == nil {
			out[op] = make(map[string]any)
		}
		out[op][key] = value
	}
	return out, nil
}

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Plan and run multi-step workflows",
	}
	workflowCmd.AddCommand(newWorkflowRunCommand(ctx))
	workflowCmd.AddCommand(newWorkflowPlanCommand(ctx))
	workflowCmd.AddCommand(newWorkflowShowCommand(ctx))
	workflowCmd.AddCommand(newWorkflowListCommand(ctx))
	return workflowCmd
}

func newWorkflowRunCommand(ctx *commandContext) *cobra.Command {
	var flags workflowFlags
	var wait bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run <input>",
		Short: "Start a workflow for an input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				result, err := client.StartWorkflow(cmd.Context(), req)
				if err != nil {
					return err
				}
				if wait {
					result, err = waitForWorkflow(cmd, client, result.WorkflowID)
					if err != nil {
						return err
					}
				}
				if asJSON {
					return writeJSON(cmd, result)
				}
				printWorkflow(cmd, result)
				if wait && result.Status == orchestrator.StatusFailed {
					return fmt.Errorf("workflow %s failed", result.WorkflowID)
				}
				return nil
			})
		},
	}
	flags.bind(cmd, true)
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the workflow to finish")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func waitForWorkflow(cmd *cobra.Command, client *api.Client, id string) (*orchestrator.Result, error) {
	ticker := time.NewTicker(defaultWaitPoll)
	defer ticker.Stop()
	for {
		result, err := client.GetWorkflow(cmd.Context(), id)
		if err != nil {
			return nil, err
		}
		if result.Status != orchestrator.StatusRunning {
			return result, nil
		}
		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func newWorkflowPlanCommand(ctx *commandContext) *cobra.Command {
	var flags workflowFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plan <input>",
		Short: "Preview the steps a workflow would run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				plan, err := client.PlanWorkflow(cmd.Context(), req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, plan)
				}
				printPlan(cmd, plan)
				return nil
			})
		},
	}
	flags.bind(cmd, false)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newWorkflowShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show a workflow and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				result, err := client.GetWorkflow(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, result)
				}
				printWorkflow(cmd, result)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newWorkflowListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows known to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				results, err := client.ListWorkflows(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					if results == nil {
						results = []*orchestrator.Result{}
					}
					return writeJSON(cmd, results)
				}
				if len(results) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No workflows found")
					return nil
				}
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					rows = append(rows, []string{
						r.WorkflowID,
						displayLabel(string(r.Intent)),
						string(r.Status),
						fmt.Sprintf("%d/%d", len(r.StepsCompleted), len(r.Steps)),
						formatAge(r.StartedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]column{left("Workflow"), left("Intent"), left("Status"), right("Steps"), right("Started")},
					rows,
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printPlan(cmd *cobra.Command, plan *orchestrator.Plan) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Plan", colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Intent", statusInfo, displayLabel(string(plan.Intent)), colorize))
	fmt.Fprintln(out, renderStatusLine("Estimated", statusInfo, formatSeconds(plan.EstimatedSeconds), colorize))
	fmt.Fprintln(out, renderStatusLine("Parallel dispatch", statusInfo, yesNo(plan.ParallelDispatch), colorize))
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderSteps(plan.Steps, nil))
}

func printWorkflow(cmd *cobra.Command, result *orchestrator.Result) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Workflow "+result.WorkflowID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Status", workflowStatusKind(result.Status), string(result.Status), colorize))
	fmt.Fprintln(out, renderStatusLine("Intent", statusInfo, displayLabel(string(result.Intent)), colorize))
	fmt.Fprintln(out, renderStatusLine("Input", statusInfo, result.InputRef, colorize))
	fmt.Fprintln(out, renderStatusLine("Elapsed", statusInfo, formatElapsed(result.StartedAt, result.CompletedAt), colorize))
	for _, stepErr := range result.Errors {
		fmt.Fprintln(out, renderStatusLine(displayLabel(string(stepErr.Operation)), statusError,
			fmt.Sprintf("%s: %s", stepErr.Kind, stepErr.Message), colorize))
	}
	if len(result.Steps) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderSteps(result.Steps, result))
	}
}

// renderSteps tabulates plan steps. With a result, each row also shows
// whether the step completed and its output.
func renderSteps(steps []orchestrator.Step, result *orchestrator.Result) string {
	columns := []column{right("#"), left("Operation"), wrapped("Config", 48), left("Parallel")}
	if result != nil {
		columns = append(columns, left("Done"), wrapped("Output", 48))
	}
	done := make(map[string]bool)
	if result != nil {
		for _, op := range result.StepsCompleted {
			done[string(op)] = true
		}
	}
	rows := make([][]string, 0, len(steps))
	for i, step := range steps {
		row := []string{
			fmt.Sprintf("%d", i+1),
			displayLabel(string(step.Operation)),
			formatMap(step.Config),
			yesNo(step.ParallelWithNext),
		}
		if result != nil {
			row = append(row, yesNo(done[string(step.Operation)]), formatMap(result.Outputs[step.Operation]))
		}
		rows = append(rows, row)
	}
	return renderTable(columns, rows)
}
