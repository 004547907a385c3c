package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"glossa/internal/config"
	"glossa/internal/jobs"
	"glossa/internal/services"
)

func newKillCommand(cctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Emergency stop for all classification activity",
	}
	cmd.AddCommand(newKillActivateCommand(cctx))
	cmd.AddCommand(newKillClearCommand(cctx))
	cmd.AddCommand(newKillStatusCommand(cctx))
	return cmd
}

func newKillActivateCommand(cctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Set the stop flag and cancel every active job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return services.Wrap(services.ErrValidation, "cli", "kill activate", "--reason is required", nil)
			}
			return cctx.withJobs(func(cfg *config.Config, store *jobs.Store) error {
				stop, err := cctx.killSwitch(cfg, store)
				if err != nil {
					return err
				}
				report := stop.Activate(cmd.Context(), reason)

				type tablePayload struct {
					Type      string `json:"type"`
					Cancelled int64  `json:"cancelled"`
					Error     string `json:"error,omitempty"`
				}
				payload := struct {
					Reason       string         `json:"reason"`
					FlagSet      bool           `json:"flag_set"`
					FlagError    string         `json:"flag_error,omitempty"`
					FullyStopped bool           `json:"fully_stopped"`
					Cancelled    int64          `json:"cancelled"`
					Tables       []tablePayload `json:"tables"`
				}{
					Reason:       report.Reason,
					FlagSet:      report.FlagSet,
					FullyStopped: report.FullyStopped(),
					Cancelled:    report.TotalCancelled(),
				}
				if report.FlagErr != nil {
					payload.FlagError = report.FlagErr.Error()
				}
				for _, table := range report.Tables {
					entry := tablePayload{Type: string(table.Type), Cancelled: table.Cancelled}
					if table.Err != nil {
						entry.Error = table.Err.Error()
					}
					payload.Tables = append(payload.Tables, entry)
				}

				return emitResult(cmd, cctx.jsonOutput(), payload, func(out io.Writer) {
					if payload.FlagSet {
						fmt.Fprintln(out, colorize(out, ansiRed, "stop flag set"))
					} else {
						fmt.Fprintf(out, "stop flag NOT set: %s\n", payload.FlagError)
					}
					for _, table := range payload.Tables {
						if table.Error != "" {
							fmt.Fprintf(out, "  %s: sweep failed: %s\n", table.Type, table.Error)
							continue
						}
						fmt.Fprintf(out, "  %s: cancelled %d\n", table.Type, table.Cancelled)
					}
					if payload.FullyStopped {
						fmt.Fprintf(out, "all paths stopped (%d jobs cancelled)\n", payload.Cancelled)
					} else {
						fmt.Fprintln(out, colorize(out, ansiYellow,
							"partial stop: executors still honor the flag on their next chunk"))
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why classification is being stopped (recorded on jobs)")
	return cmd
}

func newKillClearCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the stop flag and begin the cooldown window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withJobs(func(cfg *config.Config, store *jobs.Store) error {
				stop, err := cctx.killSwitch(cfg, store)
				if err != nil {
					return err
				}
				if err := stop.Clear(); err != nil {
					return err
				}
				if cooling, until := stop.InCooldown(); cooling {
					fmt.Fprintf(cmd.OutOrStdout(), "flag cleared; cooldown until %s\n",
						until.Format(time.RFC3339))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), "flag cleared")
				return nil
			})
		},
	}
}

func newKillStatusCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the kill-switch flag state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withJobs(func(cfg *config.Config, store *jobs.Store) error {
				stop, err := cctx.killSwitch(cfg, store)
				if err != nil {
					return err
				}
				state, flag := stop.State()
				cooling, until := stop.InCooldown()

				payload := struct {
					State         string `json:"state"`
					Reason        string `json:"reason,omitempty"`
					ActivatedAt   string `json:"activated_at,omitempty"`
					ExpiresAt     string `json:"expires_at,omitempty"`
					InCooldown    bool   `json:"in_cooldown"`
					CooldownUntil string `json:"cooldown_until,omitempty"`
				}{
					State:      state.String(),
					InCooldown: cooling,
				}
				if flag.Active {
					payload.Reason = flag.Reason
					payload.ActivatedAt = flag.ActivatedAt.Format(time.RFC3339)
					payload.ExpiresAt = flag.ExpiresAt.Format(time.RFC3339)
				}
				if cooling {
					payload.CooldownUntil = until.Format(time.RFC3339)
				}

				return emitResult(cmd, cctx.jsonOutput(), payload, func(out io.Writer) {
					fmt.Fprintf(out, "state: %s\n", payload.State)
					if payload.Reason != "" {
						fmt.Fprintf(out, "reason: %s\n", payload.Reason)
						fmt.Fprintf(out, "active since %s, expires %s\n", payload.ActivatedAt, payload.ExpiresAt)
					}
					if payload.InCooldown {
						fmt.Fprintf(out, "cooldown until %s\n", payload.CooldownUntil)
					}
				})
			})
		},
	}
}
