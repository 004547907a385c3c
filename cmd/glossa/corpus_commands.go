package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"glossa/internal/config"
	"glossa/internal/corpus"
	"glossa/internal/services"
)

func newCorpusCommand(cctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpus",
		Short: "Manage the ordered corpus list",
	}
	cmd.AddCommand(newCorpusAddCommand(cctx))
	cmd.AddCommand(newCorpusListCommand(cctx))
	cmd.AddCommand(newCorpusAddWordsCommand(cctx))
	return cmd
}

func newCorpusAddCommand(cctx *commandContext) *cobra.Command {
	var name string
	var kind string

	cmd := &cobra.Command{
		Use:   "add <corpus-id>",
		Short: "Register a corpus at the end of the processing order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withCorpora(func(cfg *config.Config, store *corpus.Store) error {
				if name == "" {
					name = args[0]
				}
				added, err := store.Add(cmd.Context(), args[0], name, kind)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added corpus %s at position %d\n", added.ID, added.Position)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the id)")
	cmd.Flags().StringVar(&kind, "kind", "", "Free-form corpus kind, e.g. songs or interviews")
	return cmd
}

func newCorpusListCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List corpora in processing order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withCorpora(func(cfg *config.Config, store *corpus.Store) error {
				list, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				type corpusPayload struct {
					ID        string `json:"id"`
					Name      string `json:"name"`
					Kind      string `json:"kind,omitempty"`
					Position  int64  `json:"position"`
					Completed bool   `json:"completed"`
					Words     int64  `json:"words"`
					Pending   int64  `json:"pending"`
				}
				payloads := make([]corpusPayload, 0, len(list))
				for _, item := range list {
					words, err := store.WordCount(cmd.Context(), item.ID)
					if err != nil {
						return err
					}
					pending, err := store.PendingWordCount(cmd.Context(), item.ID)
					if err != nil {
						return err
					}
					payloads = append(payloads, corpusPayload{
						ID:        item.ID,
						Name:      item.Name,
						Kind:      item.Kind,
						Position:  item.Position,
						Completed: item.Completed,
						Words:     words,
						Pending:   pending,
					})
				}
				return emitResult(cmd, cctx.jsonOutput(), payloads, func(out io.Writer) {
					if len(payloads) == 0 {
						fmt.Fprintln(out, "no corpora")
						return
					}
					rows := make([][]string, 0, len(payloads))
					for _, item := range payloads {
						rows = append(rows, []string{
							strconv.FormatInt(item.Position, 10),
							item.ID,
							item.Name,
							item.Kind,
							strconv.FormatInt(item.Words, 10),
							strconv.FormatInt(item.Pending, 10),
							yesNo(item.Completed),
						})
					}
					renderTable(out,
						[]string{"#", "Corpus", "Name", "Kind", "Words", "Pending", "Done"},
						rows,
						[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
					)
				})
			})
		},
	}
}

func newCorpusAddWordsCommand(cctx *commandContext) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "add-words <corpus-id> [word...]",
		Short: "Append words to a corpus, from arguments or a file",
		Long: "Appends words to the corpus in occurrence order. Words read from a file\n" +
			"are one per line; blank lines and lines starting with # are skipped.\n" +
			"Ordinals are assigned on insert and never change, so running jobs keep\n" +
			"a stable cursor while new words are appended.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			words := make([]corpus.Word, 0, len(args)-1)
			for _, raw := range args[1:] {
				words = append(words, corpus.Word{Word: raw})
			}
			if fromFile != "" {
				fileWords, err := readWordFile(fromFile)
				if err != nil {
					return err
				}
				words = append(words, fileWords...)
			}
			if len(words) == 0 {
				return services.Wrap(services.ErrValidation, "cli", "corpus add-words",
					"no words given (pass arguments or --file)", nil)
			}
			return cctx.withCorpora(func(cfg *config.Config, store *corpus.Store) error {
				inserted, err := store.AddWords(cmd.Context(), args[0], words)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %d words to corpus %s\n", inserted, args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&fromFile, "file", "", "Read words from a file, one per line")
	return cmd
}

func readWordFile(path string) ([]corpus.Word, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "cli", "corpus add-words", "open word file", err)
	}
	defer file.Close()

	var words []corpus.Word
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, corpus.Word{Word: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "cli", "corpus add-words", "read word file", err)
	}
	return words, nil
}
