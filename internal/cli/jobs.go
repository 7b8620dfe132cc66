package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	types "github.com/yungbote/postsecret-pipeline/internal/domain"
	"github.com/yungbote/postsecret-pipeline/internal/jobs/worker"
	"github.com/yungbote/postsecret-pipeline/internal/services/bulk"
)

var (
	createStart    bool
	createSource   string
	batchSize      int
	maxStepSeconds int
	errorsLimit    int
	listStatuses   []string
	listLimit      int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job]",
	Short: "List bulk jobs or show one",
	Long: `List bulk jobs, newest first, or show a single job by numeric id or UUID.

Examples:
  secretctl jobs                     # List all jobs
  secretctl jobs --status running    # Only running jobs
  secretctl jobs 12                  # Show job 12`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if len(args) == 1 {
			job, err := application.Services.Bulk.ResolveJob(ctx, args[0])
			if err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), job)
			return nil
		}
		jobs, err := application.Services.Bulk.ListJobs(ctx, listStatuses, listLimit, 0)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		printJobTable(cmd.OutOrStdout(), jobs)
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create <file|zip>...",
	Short: "Create a bulk job from image files and zip archives",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		uploads := make([]bulk.Upload, 0, len(args))
		for _, p := range args {
			abs, err := filepath.Abs(p)
			if err != nil {
				return err
			}
			uploads = append(uploads, bulk.Upload{Name: filepath.Base(p), Path: abs})
		}
		res, err := application.Services.Bulk.CreateJob(ctx, uploads, createSource, settingsFlags())
		if err != nil {
			return err
		}
		for _, r := range res.Rejected {
			warnf("rejected %s: %s", r.Name, r.Reason)
		}
		job := res.Job
		if createStart {
			if job, err = application.Services.Bulk.Start(ctx, job.ID); err != nil {
				return err
			}
		}
		printJob(cmd.OutOrStdout(), job)
		return nil
	},
}

var reclassifyCmd = &cobra.Command{
	Use:   "reclassify <subject-id>...",
	Short: "Create a job that re-runs classification for existing subjects",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]uuid.UUID, 0, len(args))
		for _, a := range args {
			id, err := uuid.Parse(strings.TrimSpace(a))
			if err != nil {
				return fmt.Errorf("invalid subject id %q: %w", a, err)
			}
			ids = append(ids, id)
		}
		job, err := application.Services.Bulk.CreateReclassifyJob(cmd.Context(), ids, "secretctl", settingsFlags())
		if err != nil {
			return err
		}
		if createStart {
			if job, err = application.Services.Bulk.Start(cmd.Context(), job.ID); err != nil {
				return err
			}
		}
		printJob(cmd.OutOrStdout(), job)
		return nil
	},
}

func transitionCmd(use, short string, fn func(ctx context.Context, id uint64) (*types.Job, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := application.Services.Bulk.ResolveJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if job, err = fn(cmd.Context(), job.ID); err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), job)
			return nil
		},
	}
}

var runCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Start a job and process batches until it completes, pauses or stops",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc := application.Services.Bulk
		job, err := svc.ResolveJob(ctx, args[0])
		if err != nil {
			return err
		}
		if job.Status != string(types.JobRunning) {
			if job, err = svc.Start(ctx, job.ID); err != nil {
				return err
			}
		}
		out := cmd.OutOrStdout()
		start := time.Now()
		last, err := worker.RunUntilIdle(ctx, svc, job.ID, func(b *bulk.BatchResult) {
			fmt.Fprintln(out, formatBatch(b))
		})
		if err != nil {
			return err
		}
		if job, err = svc.GetJob(ctx, job.ID); err != nil {
			return err
		}
		fmt.Fprintf(out, "finished in %s with status %s\n", time.Since(start).Round(time.Millisecond), last.Status)
		printJob(out, job)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <job>",
	Short: "Re-queue failed and quarantined items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := application.Services.Bulk.ResolveJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		n, err := application.Services.Bulk.RetryFailed(cmd.Context(), job.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "re-queued %d item(s) of job %d\n", n, job.ID)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <job>",
	Short: "Delete a job, its items and its staged files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := application.Services.Bulk.ResolveJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := application.Services.Bulk.DeleteJob(cmd.Context(), job.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted job %d\n", job.ID)
		return nil
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings <job>",
	Short: "Change a job's batch size and step time budget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := application.Services.Bulk.ResolveJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		settings := job.Settings.Data()
		if cmd.Flags().Changed("batch-size") {
			settings.BatchSize = batchSize
		}
		if cmd.Flags().Changed("max-step-seconds") {
			settings.MaxStepSeconds = maxStepSeconds
		}
		if job, err = application.Services.Bulk.UpdateSettings(cmd.Context(), job.ID, settings.BatchSize, settings.MaxStepSeconds); err != nil {
			return err
		}
		printJob(cmd.OutOrStdout(), job)
		return nil
	},
}

var errorsCmd = &cobra.Command{
	Use:   "errors <job>",
	Short: "List failed and quarantined items of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := application.Services.Bulk.ResolveJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		items, err := application.Services.Bulk.ListItemErrors(cmd.Context(), job.ID, errorsLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "No failed items")
			return nil
		}
		fmt.Fprintf(out, "%-8s %-12s %-8s %-40s %s\n", "ITEM", "STATUS", "TRIES", "LOCATOR", "ERROR")
		for _, it := range items {
			fmt.Fprintf(out, "%-8d %-12s %-8d %-40s %s\n", it.ID, it.Status, it.Attempts, clip(it.Locator, 40), it.LastError)
		}
		return nil
	},
}

func settingsFlags() *types.JobSettings {
	if batchSize == 0 && maxStepSeconds == 0 {
		return nil
	}
	return &types.JobSettings{BatchSize: batchSize, MaxStepSeconds: maxStepSeconds}
}

func printJobTable(out io.Writer, jobs []*types.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return
	}
	fmt.Fprintf(out, "%-6s %-11s %-10s %-12s %-8s %s\n", "ID", "KIND", "STATUS", "PROGRESS", "FAILED", "CREATED")
	fmt.Fprintln(out, strings.Repeat("-", 72))
	for _, j := range jobs {
		fmt.Fprintf(out, "%-6d %-11s %-10s %-12s %-8d %s\n",
			j.ID, j.Kind, j.Status, progress(j), j.FailCount, j.CreatedAt.Format(time.RFC3339))
	}
}

func printJob(out io.Writer, j *types.Job) {
	fmt.Fprintf(out, "Job %d (%s)\n", j.ID, j.UUID)
	fmt.Fprintf(out, "  Kind: %s\n", j.Kind)
	fmt.Fprintf(out, "  Status: %s\n", j.Status)
	fmt.Fprintf(out, "  Progress: %s (success %d, failed %d, skipped %d)\n", progress(j), j.SuccessCount, j.FailCount, j.SkippedCount)
	s := j.Settings.Data()
	fmt.Fprintf(out, "  Settings: batch_size=%d max_step_seconds=%d\n", s.BatchSize, s.MaxStepSeconds)
	if j.LastError != "" {
		fmt.Fprintf(out, "  Last error: %s\n", j.LastError)
	}
}

func progress(j *types.Job) string {
	actionable := j.TotalItems - j.SkippedCount
	return fmt.Sprintf("%d/%d", j.ProcessedItems, actionable)
}

func formatBatch(b *bulk.BatchResult) string {
	if b.Busy {
		return fmt.Sprintf("job %d: batch already in flight", b.JobID)
	}
	var flags []string
	if b.BudgetExhausted {
		flags = append(flags, "budget")
	}
	if b.Interrupted {
		flags = append(flags, "interrupted")
	}
	if b.Degraded > 0 {
		flags = append(flags, fmt.Sprintf("degraded=%d", b.Degraded))
	}
	line := fmt.Sprintf("job %d: processed=%d ok=%d failed=%d quarantined=%d status=%s",
		b.JobID, b.Processed, b.Succeeded, b.Failed, b.Quarantined, b.Status)
	if len(flags) > 0 {
		line += " [" + strings.Join(flags, ",") + "]"
	}
	return line
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n+3:]
}

func init() {
	for _, c := range []*cobra.Command{createCmd, reclassifyCmd, settingsCmd} {
		c.Flags().IntVar(&batchSize, "batch-size", 0, "items per batch (1..100)")
		c.Flags().IntVar(&maxStepSeconds, "max-step-seconds", 0, "time budget per batch in seconds")
	}
	for _, c := range []*cobra.Command{createCmd, reclassifyCmd} {
		c.Flags().BoolVar(&createStart, "start", false, "start the job right away")
	}
	createCmd.Flags().StringVar(&createSource, "source", "secretctl", "free-form source label")
	errorsCmd.Flags().IntVar(&errorsLimit, "limit", 100, "max items to list")
	jobsCmd.Flags().StringSliceVar(&listStatuses, "status", nil, "filter by status (repeatable)")
	jobsCmd.Flags().IntVar(&listLimit, "limit", 50, "max jobs to list")

	svc := func() bulk.BulkJobService { return application.Services.Bulk }
	rootCmd.AddCommand(
		jobsCmd, createCmd, reclassifyCmd, runCmd, retryCmd, deleteCmd, settingsCmd, errorsCmd,
		transitionCmd("start", "Mark a job running", func(ctx context.Context, id uint64) (*types.Job, error) { return svc().Start(ctx, id) }),
		transitionCmd("pause", "Pause a running job", func(ctx context.Context, id uint64) (*types.Job, error) { return svc().Pause(ctx, id) }),
		transitionCmd("resume", "Resume a paused job", func(ctx context.Context, id uint64) (*types.Job, error) { return svc().Resume(ctx, id) }),
		transitionCmd("stop", "Stop a job", func(ctx context.Context, id uint64) (*types.Job, error) { return svc().Stop(ctx, id) }),
	)
}
