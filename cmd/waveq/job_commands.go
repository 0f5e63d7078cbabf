package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"waveq/internal/api"
	"waveq/internal/queue"
)

const defaultWaitPoll = 500 * time.Millisecond

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var settings []string
	var configJSON string
	var callback string
	var wait bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "submit <operation> [input]",
		Short: "Submit a single processing job",
		Long: "Submit one job to the daemon. The input is a path or URL the processing\n" +
			"command can read; tts takes its text from --set text=... instead.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.SubmitJobRequest{
				Operation:   strings.TrimSpace(args[0]),
				CallbackURL: strings.TrimSpace(callback),
			}
			if len(args) > 1 {
				req.InputRef = strings.TrimSpace(args[1])
			}
			cfgValues, err := buildJobConfig(configJSON, settings)
			if err != nil {
				return err
			}
			req.Config = cfgValues

			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.SubmitJob(cmd.Context(), req)
				if err != nil {
					return err
				}
				if !wait {
					if asJSON {
						return writeJSON(cmd, resp)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s (%s)\n", resp.TaskID, resp.Status)
					return nil
				}
				job, err := waitForJob(cmd, client, resp.TaskID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, job)
				}
				printJob(cmd, job)
				if job.Status != queue.StatusCompleted {
					return fmt.Errorf("job %s %s", job.ID, job.Status)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVarP(&settings, "set", "s", nil, "Operation setting as key=value (repeatable)")
	cmd.Flags().StringVar(&configJSON, "config-json", "", "Operation settings as a JSON object")
	cmd.Flags().StringVar(&callback, "callback", "", "Webhook URL notified when the job finishes")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// buildJobConfig merges a JSON object with key=value settings. Settings win.
func buildJobConfig(rawJSON string, settings []string) (map[string]any, error) {
	var out map[string]any
	if strings.TrimSpace(rawJSON) != "" {
		if err := json.Unmarshal([]byte(rawJSON), &out); err != nil {
			return nil, fmt.Errorf("parse --config-json: %w", err)
		}
	}
	parsed, err := parseSettings(settings)
	if err != nil {
		return nil, err
	}
	if len(parsed) > 0 && out == nil {
		out = make(map[string]any, len(parsed))
	}
	for key, value := range parsed {
		out[key] = value
	}
	return out, nil
}

func waitForJob(cmd *cobra.Command, client *api.Client, id string) (*queue.Job, error) {
	ticker := time.NewTicker(defaultWaitPoll)
	defer ticker.Stop()
	for {
		job, err := client.GetJob(cmd.Context(), id)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func newJobCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "job <task-id>",
		Short: "Show a single job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.GetJob(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, job)
				}
				printJob(cmd, job)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printJob(cmd *cobra.Command, job *queue.Job) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Job "+job.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(job.Status), string(job.Status), colorize))
	fmt.Fprintln(out, renderStatusLine("Operation", statusInfo, displayLabel(string(job.Operation)), colorize))
	if job.InputRef != "" {
		fmt.Fprintln(out, renderStatusLine("Input", statusInfo, job.InputRef, colorize))
	}
	if job.WorkflowID != "" {
		fmt.Fprintln(out, renderStatusLine("Workflow", statusInfo, job.WorkflowID, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Created", statusInfo, formatAge(job.CreatedAt), colorize))
	if len(job.Config) > 0 {
		fmt.Fprintln(out, renderStatusLine("Config", statusInfo, formatMap(job.Config), colorize))
	}
	if len(job.Output) > 0 {
		fmt.Fprintln(out, renderStatusLine("Output", statusOK, formatMap(job.Output), colorize))
	}
	if job.Error != nil {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, fmt.Sprintf("%s: %s", job.Error.Kind, job.Error.Message), colorize))
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var workflowID string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range statuses {
				if _, err := queue.ParseStatus(raw); err != nil {
					return err
				}
			}
			return ctx.withClient(func(client *api.Client) error {
				jobs, err := client.ListJobs(cmd.Context(), statuses, strings.TrimSpace(workflowID), limit)
				if err != nil {
					return err
				}
				if asJSON {
					if jobs == nil {
						jobs = []*queue.Job{}
					}
					return writeJSON(cmd, jobs)
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						displayLabel(string(job.Operation)),
						string(job.Status),
						shortID(job.WorkflowID),
						formatAge(job.CreatedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]column{left("Task"), left("Operation"), left("Status"), left("Workflow"), right("Created")},
					rows,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable or comma-separated)")
	cmd.Flags().StringVar(&workflowID, "workflow", "", "Only jobs belonging to this workflow")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of jobs to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.CancelJob(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					var apiErr *api.Error
					if errors.As(err, &apiErr) && apiErr.Kind == "invalid_state" {
						return fmt.Errorf("job %s already finished: %w", args[0], err)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", resp.TaskID)
				return nil
			})
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				printStatus(cmd, status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printStatus(cmd *cobra.Command, status api.StatusResponse) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	runKind := statusError
	if status.Dispatcher.Running {
		runKind = statusOK
	}
	fmt.Fprintln(out, renderStatusLine("Dispatcher", runKind, fmt.Sprintf("running=%s workers=%d", yesNo(status.Dispatcher.Running), status.Dispatcher.Workers), colorize))
	fmt.Fprintln(out, renderStatusLine("Active", statusInfo, fmt.Sprintf("%d", status.Dispatcher.Active), colorize))
	fmt.Fprintln(out, renderStatusLine("Queued", statusInfo, fmt.Sprintf("%d", status.Dispatcher.Queued), colorize))
	fmt.Fprintln(out, renderStatusLine("Workflows", statusInfo, fmt.Sprintf("%d", status.Workflows), colorize))
	fmt.Fprintln(out, renderStatusLine("Parallel dispatch", statusInfo, yesNo(status.ParallelDispatch), colorize))
	fmt.Fprintln(out, renderStatusLine("Version", statusInfo, status.Version, colorize))

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Jobs", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, s := range queue.AllStatuses() {
		fmt.Fprintln(out, renderStatusLine(displayLabel(string(s)), jobStatusKind(s), fmt.Sprintf("%d", status.Dispatcher.Counts[s]), colorize))
	}

	if len(status.Storage) == 0 {
		return
	}
	fmt.Fprintln(out)
	rows := make([][]string, 0, len(status.Storage))
	for _, usage := range status.Storage {
		rows = append(rows, []string{
			displayLabel(usage.Name),
			usage.Path,
			fmt.Sprintf("%d", usage.Entries),
			formatBytes(usage.Bytes),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]column{left("Storage"), left("Path"), right("Entries"), right("Size")},
		rows,
	))
}
