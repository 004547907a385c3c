package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"glossa/internal/config"
	"glossa/internal/jobs"
	"glossa/internal/services"
	"glossa/internal/workflow"
)

func newJobCommand(cctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage classification jobs",
	}
	cmd.AddCommand(newJobStartCommand(cctx))
	cmd.AddCommand(newJobPauseCommand(cctx))
	cmd.AddCommand(newJobResumeCommand(cctx))
	cmd.AddCommand(newJobCancelCommand(cctx))
	cmd.AddCommand(newJobSkipCommand(cctx))
	cmd.AddCommand(newJobListCommand(cctx))
	return cmd
}

func newJobStartCommand(cctx *commandContext) *cobra.Command {
	var corpusID string
	var jobType string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a job on a corpus (next pending corpus when omitted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, ok := jobs.ParseType(jobType)
			if !ok {
				return services.Wrap(services.ErrValidation, "cli", "job start",
					fmt.Sprintf("unknown job type %q (classify or refine)", jobType), nil)
			}
			return cctx.withOrchestrator(func(cfg *config.Config, orchestrator *workflow.Orchestrator, store *jobs.Store) error {
				job, err := orchestrator.Start(cmd.Context(), corpusID, parsed)
				if err != nil {
					return err
				}
				return emitResult(cmd, cctx.jsonOutput(), jobPayload(job), func(out io.Writer) {
					fmt.Fprintf(out, "started %s job %s on corpus %s (%d words)\n",
						job.Type, shortID(job.ID), job.CorpusID, job.Total)
				})
			})
		},
	}

	cmd.Flags().StringVar(&corpusID, "corpus", "", "Corpus to run over")
	cmd.Flags().StringVar(&jobType, "type", string(jobs.TypeClassify), "Job type: classify or refine")
	return cmd
}

func newJobPauseCommand(cctx *commandContext) *cobra.Command {
	return jobActionCommand(cctx, "pause", "Pause a running job",
		func(orchestrator *workflow.Orchestrator) func(cmd *cobra.Command, jobID string) error {
			return func(cmd *cobra.Command, jobID string) error {
				return orchestrator.Pause(cmd.Context(), jobID)
			}
		})
}

func newJobResumeCommand(cctx *commandContext) *cobra.Command {
	return jobActionCommand(cctx, "resume", "Resume a paused job",
		func(orchestrator *workflow.Orchestrator) func(cmd *cobra.Command, jobID string) error {
			return func(cmd *cobra.Command, jobID string) error {
				return orchestrator.Resume(cmd.Context(), jobID)
			}
		})
}

func newJobCancelCommand(cctx *commandContext) *cobra.Command {
	return jobActionCommand(cctx, "cancel", "Request cancellation of a job",
		func(orchestrator *workflow.Orchestrator) func(cmd *cobra.Command, jobID string) error {
			return func(cmd *cobra.Command, jobID string) error {
				return orchestrator.Cancel(cmd.Context(), jobID)
			}
		})
}

func jobActionCommand(cctx *commandContext, verb, short string, action func(*workflow.Orchestrator) func(*cobra.Command, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withOrchestrator(func(cfg *config.Config, orchestrator *workflow.Orchestrator, store *jobs.Store) error {
				jobID, err := resolveJobID(cmd, store, args[0])
				if err != nil {
					return err
				}
				if err := action(orchestrator)(cmd, jobID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", verb, shortID(jobID))
				return nil
			})
		},
	}
}

func newJobSkipCommand(cctx *commandContext) *cobra.Command {
	var jobType string

	cmd := &cobra.Command{
		Use:   "skip",
		Short: "Cancel the active job and advance the corpus pointer past it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, ok := jobs.ParseType(jobType)
			if !ok {
				return services.Wrap(services.ErrValidation, "cli", "job skip",
					fmt.Sprintf("unknown job type %q (classify or refine)", jobType), nil)
			}
			return cctx.withOrchestrator(func(cfg *config.Config, orchestrator *workflow.Orchestrator, store *jobs.Store) error {
				job, err := orchestrator.Skip(cmd.Context(), parsed)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "skipped %s job %s; pointer now past corpus %s\n",
					job.Type, shortID(job.ID), job.CorpusID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&jobType, "type", string(jobs.TypeClassify), "Job type: classify or refine")
	return cmd
}

func newJobListCommand(cctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []jobs.Status
			if statusFilter != "" {
				for _, raw := range strings.Split(statusFilter, ",") {
					status, ok := jobs.ParseStatus(raw)
					if !ok {
						return services.Wrap(services.ErrValidation, "cli", "job list",
							fmt.Sprintf("unknown status %q", raw), nil)
					}
					statuses = append(statuses, status)
				}
			}
			return cctx.withJobs(func(cfg *config.Config, store *jobs.Store) error {
				list, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				payloads := make([]map[string]any, 0, len(list))
				for _, job := range list {
					payloads = append(payloads, jobPayload(job))
				}
				return emitResult(cmd, cctx.jsonOutput(), payloads, func(out io.Writer) {
					if len(list) == 0 {
						fmt.Fprintln(out, "no jobs")
						return
					}
					rows := make([][]string, 0, len(list))
					for _, job := range list {
						rows = append(rows, []string{
							shortID(job.ID),
							string(job.Type),
							job.CorpusID,
							string(job.Status),
							fmt.Sprintf("%d/%d", job.Processed, job.Total),
							strconv.FormatInt(job.Failed, 10),
							job.Message,
						})
					}
					renderTable(out,
						[]string{"Job", "Type", "Corpus", "Status", "Progress", "Failed", "Message"},
						rows,
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
					)
				})
			})
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Comma-separated status filter")
	return cmd
}

// resolveJobID accepts a full job id or an unambiguous prefix.
func resolveJobID(cmd *cobra.Command, store *jobs.Store, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", services.Wrap(services.ErrValidation, "cli", "resolve job", "job id required", nil)
	}
	if job, err := store.GetByID(cmd.Context(), raw); err == nil && job != nil {
		return job.ID, nil
	}
	list, err := store.List(cmd.Context())
	if err != nil {
		return "", err
	}
	var match string
	for _, job := range list {
		if strings.HasPrefix(job.ID, raw) {
			if match != "" {
				return "", services.Wrap(services.ErrValidation, "cli", "resolve job",
					fmt.Sprintf("ambiguous job id prefix %q", raw), nil)
			}
			match = job.ID
		}
	}
	if match == "" {
		return "", services.Wrap(services.ErrNotFound, "cli", "resolve job",
			fmt.Sprintf("no job matches %q", raw), nil)
	}
	return match, nil
}

func jobPayload(job *jobs.Job) map[string]any {
	payload := map[string]any{
		"id":        job.ID,
		"type":      string(job.Type),
		"corpus_id": job.CorpusID,
		"status":    string(job.Status),
		"total":     job.Total,
		"processed": job.Processed,
		"succeeded": job.Succeeded,
		"failed":    job.Failed,
		"improved":  job.Improved,
		"unchanged": job.Unchanged,
		"cursor":    job.Cursor,
	}
	if job.Message != "" {
		payload["message"] = job.Message
	}
	return payload
}
