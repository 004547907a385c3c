package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"glossa/internal/cache"
	"glossa/internal/config"
)

func newCacheCommand(cctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the disambiguation cache",
	}
	cmd.AddCommand(newCacheStatsCommand(cctx))
	cmd.AddCommand(newCacheShowCommand(cctx))
	cmd.AddCommand(newCacheConfirmCommand(cctx))
	cmd.AddCommand(newCacheRemoveCommand(cctx))
	return cmd
}

func newCacheStatsCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache entry counts by state and provenance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withCache(func(cfg *config.Config, store *cache.Store) error {
				ctx := cmd.Context()
				total, err := store.TotalEntries(ctx)
				if err != nil {
					return err
				}
				unclassified, err := store.CountUnclassified(ctx)
				if err != nil {
					return err
				}
				missingN2, err := store.CountMissingN2(ctx)
				if err != nil {
					return err
				}
				bySource, err := store.CountBySource(ctx)
				if err != nil {
					return err
				}

				payload := struct {
					Total        int64            `json:"total"`
					Unclassified int64            `json:"unclassified"`
					MissingN2    int64            `json:"missing_n2"`
					BySource     map[string]int64 `json:"by_source"`
				}{
					Total:        total,
					Unclassified: unclassified,
					MissingN2:    missingN2,
					BySource:     make(map[string]int64, len(bySource)),
				}
				for source, count := range bySource {
					payload.BySource[string(source)] = count
				}

				return emitResult(cmd, cctx.jsonOutput(), payload, func(out io.Writer) {
					fmt.Fprintf(out, "entries: %d (unclassified %d, missing N2 %d)\n",
						payload.Total, payload.Unclassified, payload.MissingN2)
					rows := make([][]string, 0, len(bySource))
					for _, source := range []cache.Source{
						cache.SourceRule, cache.SourceInherited, cache.SourceAIPrimary,
						cache.SourceAISecondary, cache.SourceManual,
					} {
						rows = append(rows, []string{
							string(source), strconv.FormatInt(bySource[source], 10),
						})
					}
					renderTable(out, []string{"Source", "Entries"}, rows,
						[]columnAlignment{alignLeft, alignRight})
				})
			})
		},
	}
}

func newCacheShowCommand(cctx *commandContext) *cobra.Command {
	var contextKey string

	cmd := &cobra.Command{
		Use:   "show <word>",
		Short: "Show the cached classification for a word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withCache(func(cfg *config.Config, store *cache.Store) error {
				result, err := store.Get(cmd.Context(), args[0], contextKey)
				if err != nil {
					return err
				}
				if result == nil {
					return fmt.Errorf("no cache entry for %q", args[0])
				}

				payload := classifyPayload{
					Word:       result.Word,
					N1:         result.N1.String(),
					N2:         result.N2.String(),
					N3:         result.N3.String(),
					N4:         result.N4.String(),
					Confidence: result.Confidence,
					Source:     string(result.Source),
					BaseWord:   result.BaseWord,
					Tags:       result.CulturalTags,
				}
				return emitResult(cmd, cctx.jsonOutput(), payload, func(out io.Writer) {
					fmt.Fprintf(out, "%s: %s (source %s, confidence %.2f)\n",
						payload.Word, joinCodes(payload), payload.Source, payload.Confidence)
					if payload.BaseWord != "" {
						fmt.Fprintf(out, "  inherited from %s\n", payload.BaseWord)
					}
					if len(payload.Tags) > 0 {
						fmt.Fprintf(out, "  tags: %v\n", payload.Tags)
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&contextKey, "context", "", "Context key of the cached sense")
	return cmd
}

func newCacheConfirmCommand(cctx *commandContext) *cobra.Command {
	var contextKey string

	cmd := &cobra.Command{
		Use:   "confirm <word>...",
		Short: "Confirm automated classifications as manually reviewed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withCache(func(cfg *config.Config, store *cache.Store) error {
				keys := make([]cache.EntryKey, 0, len(args))
				for _, word := range args {
					keys = append(keys, cache.EntryKey{Word: word, ContextKey: contextKey})
				}
				confirmed, err := store.BatchConfirm(cmd.Context(), keys)
				if err != nil {
					return err
				}
				payload := struct {
					Requested int   `json:"requested"`
					Confirmed int64 `json:"confirmed"`
				}{Requested: len(args), Confirmed: confirmed}
				return emitResult(cmd, cctx.jsonOutput(), payload, func(out io.Writer) {
					fmt.Fprintf(out, "confirmed %d of %d entries\n", confirmed, len(args))
				})
			})
		},
	}

	cmd.Flags().StringVar(&contextKey, "context", "", "Context key of the cached sense")
	return cmd
}

func newCacheRemoveCommand(cctx *commandContext) *cobra.Command {
	var contextKey string

	cmd := &cobra.Command{
		Use:   "remove <word>...",
		Short: "Remove cached classifications so the next run redoes them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withCache(func(cfg *config.Config, store *cache.Store) error {
				keys := make([]cache.EntryKey, 0, len(args))
				for _, word := range args {
					keys = append(keys, cache.EntryKey{Word: word, ContextKey: contextKey})
				}
				removed, err := store.BatchRemove(cmd.Context(), keys)
				if err != nil {
					return err
				}
				payload := struct {
					Requested int   `json:"requested"`
					Removed   int64 `json:"removed"`
				}{Requested: len(args), Removed: removed}
				return emitResult(cmd, cctx.jsonOutput(), payload, func(out io.Writer) {
					fmt.Fprintf(out, "removed %d of %d entries\n", removed, len(args))
				})
			})
		},
	}

	cmd.Flags().StringVar(&contextKey, "context", "", "Context key of the cached sense")
	return cmd
}
