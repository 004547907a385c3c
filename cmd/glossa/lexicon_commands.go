package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"glossa/internal/config"
	"glossa/internal/lexicon"
	"glossa/internal/services"
	"glossa/internal/taxonomy"
)

func newLexiconCommand(cctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lexicon",
		Short: "Manage the dictionary tier",
	}
	cmd.AddCommand(newLexiconPutCommand(cctx))
	cmd.AddCommand(newLexiconImportCommand(cctx))
	cmd.AddCommand(newLexiconShowCommand(cctx))
	return cmd
}

func newLexiconPutCommand(cctx *commandContext) *cobra.Command {
	var pos string

	cmd := &cobra.Command{
		Use:   "put <word> <n1> [n2 [n3 [n4]]]",
		Short: "Add or replace a dictionary entry",
		Args:  cobra.RangeArgs(2, 5),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := lexiconEntry(args, pos)
			if err != nil {
				return err
			}
			return cctx.withLexicon(func(cfg *config.Config, store *lexicon.Store) error {
				if err := store.Put(cmd.Context(), entry); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "lexicon: %s -> %s\n", entry.Word, entry.N1)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&pos, "pos", "", "Part of speech")
	return cmd
}

func newLexiconImportCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Bulk-load dictionary entries from a tab-separated file",
		Long: "Each line is word<TAB>n1[<TAB>n2[<TAB>n3[<TAB>n4]]]. Blank lines and\n" +
			"lines starting with # are skipped.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return services.Wrap(services.ErrValidation, "cli", "lexicon import", "open file", err)
			}
			defer file.Close()

			return cctx.withLexicon(func(cfg *config.Config, store *lexicon.Store) error {
				var imported, skipped int
				scanner := bufio.NewScanner(file)
				for scanner.Scan() {
					line := strings.TrimSpace(scanner.Text())
					if line == "" || strings.HasPrefix(line, "#") {
						continue
					}
					entry, err := lexiconEntry(strings.Split(line, "\t"), "")
					if err != nil {
						skipped++
						continue
					}
					if err := store.Put(cmd.Context(), entry); err != nil {
						return err
					}
					imported++
				}
				if err := scanner.Err(); err != nil {
					return services.Wrap(services.ErrValidation, "cli", "lexicon import", "read file", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries (%d lines skipped)\n", imported, skipped)
				return nil
			})
		},
	}
}

func newLexiconShowCommand(cctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <word>",
		Short: "Look up a dictionary entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cctx.withLexicon(func(cfg *config.Config, store *lexicon.Store) error {
				entry, err := store.Lookup(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				payload := classifyPayload{
					Word: entry.Word,
					N1:   entry.N1.String(),
					N2:   entry.N2.String(),
					N3:   entry.N3.String(),
					N4:   entry.N4.String(),
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s", entry.Word, joinCodes(payload))
				if entry.POS != "" {
					fmt.Fprintf(cmd.OutOrStdout(), " (%s)", entry.POS)
				}
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}
}

func lexiconEntry(fields []string, pos string) (lexicon.Entry, error) {
	if len(fields) < 2 {
		return lexicon.Entry{}, services.Wrap(services.ErrValidation, "cli", "lexicon",
			"word and N1 code required", nil)
	}
	entry := lexicon.Entry{Word: strings.TrimSpace(fields[0]), POS: pos}
	codes := make([]taxonomy.Code, 4)
	for i, raw := range fields[1:] {
		if i >= 4 {
			break
		}
		code, err := taxonomy.Parse(raw)
		if err != nil {
			return lexicon.Entry{}, services.Wrap(services.ErrValidation, "cli", "lexicon",
				fmt.Sprintf("level %d code %q", i+1, raw), err)
		}
		codes[i] = code
	}
	entry.N1, entry.N2, entry.N3, entry.N4 = codes[0], codes[1], codes[2], codes[3]
	return entry, nil
}
