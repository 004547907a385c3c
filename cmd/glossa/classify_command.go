package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"glossa/internal/cache"
	"glossa/internal/classifier"
	"glossa/internal/lexicon"
	"glossa/internal/logging"
	"glossa/internal/ratelimit"
	"glossa/internal/rules"
	"glossa/internal/services/ai"
)

type classifyPayload struct {
	Word       string   `json:"word"`
	Tier       string   `json:"tier"`
	N1         string   `json:"n1,omitempty"`
	N2         string   `json:"n2,omitempty"`
	N3         string   `json:"n3,omitempty"`
	N4         string   `json:"n4,omitempty"`
	Confidence float64  `json:"confidence"`
	Source     string   `json:"source,omitempty"`
	BaseWord   string   `json:"base_word,omitempty"`
	Tags       []string `json:"cultural_tags,omitempty"`
	Deferred   bool     `json:"deferred"`
	Failed     bool     `json:"failed"`
	MultiWord  bool     `json:"multi_word"`
}

func newClassifyCommand(cctx *commandContext) *cobra.Command {
	var contextKey string
	var leftContext string
	var rightContext string
	var pos string
	var secondary bool

	cmd := &cobra.Command{
		Use:   "classify <word>",
		Short: "Classify one word through the tiered pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cctx.ensureConfig()
			if err != nil {
				return err
			}
			cacheStore, err := cache.Open(cfg)
			if err != nil {
				return err
			}
			defer cacheStore.Close()
			lexiconStore, err := lexicon.Open(cfg)
			if err != nil {
				return err
			}
			defer lexiconStore.Close()

			limiter := ratelimit.New(
				cfg.RateLimit.MaxRequests,
				time.Duration(cfg.RateLimit.WindowMs)*time.Millisecond,
				time.Duration(cfg.RateLimit.MinDelayMs)*time.Millisecond,
			)
			engine := rules.NewEngine(cfg, lexiconStore)
			aiClient := ai.NewClient(ai.FromAppConfig(cfg))
			tiered := classifier.New(cfg, cacheStore, engine, lexiconStore, aiClient, limiter, logging.NewNop())

			outcome, err := tiered.Classify(cmd.Context(), args[0], classifier.Options{
				ContextKey:   contextKey,
				LeftContext:  leftContext,
				RightContext: rightContext,
				POS:          pos,
				Secondary:    secondary,
			})
			if err != nil {
				return err
			}

			payload := classifyPayload{
				Word:      args[0],
				Tier:      string(outcome.Tier),
				Deferred:  outcome.Deferred,
				Failed:    outcome.Failed,
				MultiWord: outcome.MultiWord,
			}
			if result := outcome.Result; result != nil {
				payload.Word = result.Word
				payload.N1 = result.N1.String()
				payload.N2 = result.N2.String()
				payload.N3 = result.N3.String()
				payload.N4 = result.N4.String()
				payload.Confidence = result.Confidence
				payload.Source = string(result.Source)
				payload.BaseWord = result.BaseWord
				payload.Tags = result.CulturalTags
			}

			return emitResult(cmd, cctx.jsonOutput(), payload, func(out io.Writer) {
				renderClassification(out, payload)
			})
		},
	}

	cmd.Flags().StringVar(&contextKey, "context", "", "Context key for sense disambiguation")
	cmd.Flags().StringVar(&leftContext, "left", "", "Text immediately before the word")
	cmd.Flags().StringVar(&rightContext, "right", "", "Text immediately after the word")
	cmd.Flags().StringVar(&pos, "pos", "", "Part-of-speech hint for the rule tier")
	cmd.Flags().BoolVar(&secondary, "secondary", false, "Use the secondary model on the external tier")
	return cmd
}

func renderClassification(out io.Writer, payload classifyPayload) {
	switch {
	case payload.MultiWord:
		fmt.Fprintf(out, "%s: multi-word expression, skipped\n", payload.Word)
		return
	case payload.Deferred:
		fmt.Fprintf(out, "%s: deferred by rate limiter, retry later\n", payload.Word)
		return
	case payload.Failed:
		fmt.Fprintf(out, "%s: external tier failed, stored as NC\n", payload.Word)
		return
	}
	fmt.Fprintf(out, "%s: %s", payload.Word, joinCodes(payload))
	fmt.Fprintf(out, " (tier %s, source %s, confidence %.2f)\n", payload.Tier, payload.Source, payload.Confidence)
	if payload.BaseWord != "" {
		fmt.Fprintf(out, "  inherited from %s\n", payload.BaseWord)
	}
	if len(payload.Tags) > 0 {
		fmt.Fprintf(out, "  tags: %v\n", payload.Tags)
	}
}

func joinCodes(payload classifyPayload) string {
	codes := payload.N1
	for _, code := range []string{payload.N2, payload.N3, payload.N4} {
		if code == "" {
			break
		}
		codes += "." + code
	}
	return codes
}
