package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"glossa/internal/config"
	"glossa/internal/jobs"
	"glossa/internal/workflow"
)

type statusPayload struct {
	Daemon struct {
		Running bool   `json:"running"`
		PID     int    `json:"pid,omitempty"`
		PidFile string `json:"pid_file"`
	} `json:"daemon"`
	KillSwitch struct {
		State      string `json:"state"`
		InCooldown bool   `json:"in_cooldown"`
	} `json:"kill_switch"`
	Jobs []jobStatusPayload `json:"jobs"`
}

type jobStatusPayload struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	CorpusID  string `json:"corpus_id"`
	Status    string `json:"status"`
	Processed int64  `json:"processed"`
	Total     int64  `json:"total"`
	Failed    int64  `json:"failed"`
	ETA       string `json:"eta,omitempty"`
	Message   string `json:"message,omitempty"`
}

func newStatusCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, kill-switch, and job status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withOrchestrator(func(cfg *config.Config, orchestrator *workflow.Orchestrator, store *jobs.Store) error {
				stop, err := cctx.killSwitch(cfg, store)
				if err != nil {
					return err
				}

				statuses, err := orchestrator.Status(cmd.Context())
				if err != nil {
					return err
				}

				var payload statusPayload
				payload.Daemon.PidFile = cfg.PidPath()
				if pid, alive := daemonPID(cfg.PidPath()); alive {
					payload.Daemon.Running = true
					payload.Daemon.PID = pid
				}
				flagState, _ := stop.State()
				payload.KillSwitch.State = flagState.String()
				payload.KillSwitch.InCooldown, _ = stop.InCooldown()

				for _, status := range statuses {
					job := status.Job
					entry := jobStatusPayload{
						ID:        job.ID,
						Type:      string(job.Type),
						CorpusID:  job.CorpusID,
						Status:    string(job.Status),
						Processed: job.Processed,
						Total:     job.Total,
						Failed:    job.Failed,
						Message:   job.Message,
					}
					if status.ETAAvailable {
						entry.ETA = formatETA(status.ETA)
					}
					payload.Jobs = append(payload.Jobs, entry)
				}

				return emitResult(cmd, cctx.jsonOutput(), payload, func(out io.Writer) {
					renderStatus(out, payload)
				})
			})
		},
	}
}

func renderStatus(out io.Writer, payload statusPayload) {
	if payload.Daemon.Running {
		fmt.Fprintln(out, colorize(out, ansiGreen, fmt.Sprintf("daemon: running (pid %d)", payload.Daemon.PID)))
	} else {
		fmt.Fprintln(out, colorize(out, ansiYellow, "daemon: not running"))
	}
	line := fmt.Sprintf("kill switch: %s", payload.KillSwitch.State)
	if payload.KillSwitch.InCooldown {
		line += " (cooldown)"
	}
	if payload.KillSwitch.State == "active" {
		fmt.Fprintln(out, colorize(out, ansiRed, line))
	} else {
		fmt.Fprintln(out, line)
	}

	if len(payload.Jobs) == 0 {
		fmt.Fprintln(out, "no jobs")
		return
	}
	rows := make([][]string, 0, len(payload.Jobs))
	for _, job := range payload.Jobs {
		progress := fmt.Sprintf("%d/%d", job.Processed, job.Total)
		rows = append(rows, []string{
			shortID(job.ID), job.Type, job.CorpusID, job.Status, progress,
			strconv.FormatInt(job.Failed, 10), job.ETA, job.Message,
		})
	}
	renderTable(out,
		[]string{"Job", "Type", "Corpus", "Status", "Progress", "Failed", "ETA", "Message"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}

// daemonPID reads the daemon pid file and probes the process with a null
// signal. A stale pid file (process gone) reports not running.
func daemonPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	if err := unix.Kill(pid, 0); err != nil {
		// EPERM means the process exists but belongs to another user.
		return pid, err == unix.EPERM
	}
	return pid, true
}

func formatETA(eta time.Duration) string {
	if eta < time.Second {
		return "<1s"
	}
	return eta.Round(time.Second).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
