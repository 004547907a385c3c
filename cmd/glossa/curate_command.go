package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"glossa/internal/cache"
	"glossa/internal/config"
	"glossa/internal/services"
	"glossa/internal/taxonomy"
)

func newCurateCommand(cctx *commandContext) *cobra.Command {
	var contextKey string
	var tags []string

	cmd := &cobra.Command{
		Use:   "curate <word> <n1> [n2 [n3 [n4]]]",
		Short: "Write a manual classification that no automatic tier can overwrite",
		Long: "Stores a manual cache entry for the word. Manual entries carry\n" +
			"confidence 1.0 and are immutable to every automatic tier, including\n" +
			"refinement jobs. Curating an existing automatic entry replaces it.",
		Args: cobra.RangeArgs(2, 5),
		RunE: func(cmd *cobra.Command, args []string) error {
			codes := make([]taxonomy.Code, 4)
			for i, raw := range args[1:] {
				code, err := taxonomy.Parse(raw)
				if err != nil {
					return services.Wrap(services.ErrValidation, "cli", "curate",
						fmt.Sprintf("level %d code %q", i+1, raw), err)
				}
				codes[i] = code
			}
			return cctx.withCache(func(cfg *config.Config, store *cache.Store) error {
				entry := cache.Result{
					Word:         args[0],
					ContextKey:   contextKey,
					N1:           codes[0],
					N2:           codes[1],
					N3:           codes[2],
					N4:           codes[3],
					Confidence:   1.0,
					Source:       cache.SourceManual,
					CulturalTags: cleanTags(tags),
				}
				if err := store.Upsert(cmd.Context(), entry); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "curated %s as %s\n", args[0],
					joinCodes(classifyPayload{
						N1: codes[0].String(), N2: codes[1].String(),
						N3: codes[2].String(), N4: codes[3].String(),
					}))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&contextKey, "context", "", "Context key for a sense-specific entry")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "Cultural tags to attach, e.g. regionalism")
	return cmd
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.ToLower(tag))
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
