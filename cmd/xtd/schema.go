package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/extractd/internal/mold"
	"github.com/fyrsmithlabs/extractd/internal/schema"
	"github.com/fyrsmithlabs/extractd/internal/services"
)

var (
	// export flags
	exportOutput string

	// import flags
	importRewrite bool
	importRename  string

	// update flags
	updateRenames []string
	updateDryRun  bool
)

func init() {
	schemaExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "-", "output file, - for stdout")

	schemaImportCmd.Flags().BoolVar(&importRewrite, "rewrite", false, "overwrite the mold of the same name and replace its rules")
	schemaImportCmd.Flags().StringVar(&importRename, "rename", "", "import under this name")

	schemaUpdateCmd.Flags().StringArrayVar(&updateRenames, "rename", nil, "renamed field as old=new, repeatable")
	schemaUpdateCmd.Flags().BoolVar(&updateDryRun, "dry-run", false, "report what the answer migration would change without saving")

	schemaCmd.AddCommand(schemaExportCmd, schemaImportCmd, schemaUpdateCmd)
	rootCmd.AddCommand(schemaCmd)
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Export, import and update molds",
}

var schemaExportCmd = &cobra.Command{
	Use:   "export <mold-id>",
	Short: "Export a mold with its rules as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(ctx context.Context, reg services.Registry) error {
			b, err := reg.Molds().Export(ctx, id)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(b, "", "  ")
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), exportOutput, append(out, '\n'))
		})
	},
}

var schemaImportCmd = &cobra.Command{
	Use:   "import <bundle.json>",
	Short: "Import a mold bundle",
	Long: `Import a mold bundle produced by "xtd schema export".

Without --rewrite or --rename an existing mold of the same name makes the
import fail.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var b mold.Bundle
		if err := json.Unmarshal(raw, &b); err != nil {
			return fmt.Errorf("decode bundle: %w", err)
		}
		return withRegistry(cmd, func(ctx context.Context, reg services.Registry) error {
			m, err := reg.Molds().Import(ctx, &b, mold.ImportOptions{Rewrite: importRewrite, Rename: importRename})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported mold %d %q\n", m.ID, m.Name)
			return nil
		})
	},
}

var schemaUpdateCmd = &cobra.Command{
	Use:   "update <mold-id> <data.json>",
	Short: "Replace the schema of a mold and migrate its answers",
	Long: `Replace the schema data of a mold, then migrate the saved answers of
its questions to the new schema. Fields absent from the new schema are
dropped; renamed fields keep their values when listed with --rename.

Examples:
  # Preview the migration
  xtd schema update 12 data.json --rename persons=people --dry-run

  # Apply
  xtd schema update 12 data.json --rename persons=people`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		var d schema.Data
		if err := json.Unmarshal(raw, &d); err != nil {
			return fmt.Errorf("decode schema: %w", err)
		}
		renames, err := parseRenames(updateRenames)
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(ctx context.Context, reg services.Registry) error {
			checksum, err := schema.Checksum(&d)
			if err != nil {
				return err
			}
			if !updateDryRun {
				res, err := reg.Molds().Update(ctx, id, mold.Patch{Data: &d})
				if err != nil {
					return err
				}
				if !res.DataChanged {
					fmt.Fprintln(cmd.OutOrStdout(), "schema unchanged")
					return nil
				}
				checksum = res.Mold.Checksum
			}
			rep, err := reg.Migrator().MigrateMold(ctx, id, &d, checksum, renames, updateDryRun)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "questions: %d, touched: %d, answers touched: %d, items kept: %d, dropped: %d, dry run: %t\n",
				rep.Questions, rep.QuestionsTouched, rep.AnswersTouched, rep.ItemsKept, rep.ItemsDropped, rep.DryRun)
			return nil
		})
	},
}

// parseRenames reads old=new pairs.
func parseRenames(raw []string) (schema.Renames, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	renames := schema.Renames{}
	for _, r := range raw {
		from, to, ok := strings.Cut(r, "=")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("invalid rename %q, want old=new", r)
		}
		renames[from] = to
	}
	return renames, nil
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
