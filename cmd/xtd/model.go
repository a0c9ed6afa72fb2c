package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/extractd/internal/services"
	"github.com/fyrsmithlabs/extractd/internal/training"
)

var (
	// train flags
	trainFiles []string
	trainTrees []string

	// enable flags
	enableUpdate bool

	// export flags
	modelOutput string
)

func init() {
	modelTrainCmd.Flags().StringSliceVar(&trainFiles, "files", nil, "sample file ids, comma separated")
	modelTrainCmd.Flags().StringSliceVar(&trainTrees, "trees", nil, "sample file tree ids, comma separated")

	modelEnableCmd.Flags().BoolVar(&enableUpdate, "update", false, "re-predict the files of the mold with the enabled version")

	modelExportCmd.Flags().StringVarP(&modelOutput, "output", "o", "", "archive file (default model_<vid>.zip)")

	modelCmd.AddCommand(modelListCmd, modelTrainCmd, modelEnableCmd, modelDisableCmd, modelExportCmd, modelImportCmd)
	rootCmd.AddCommand(modelCmd)
}

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Manage model versions",
}

var modelListCmd = &cobra.Command{
	Use:   "list <mold-id>",
	Short: "List the model versions of a mold",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		moldID, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(ctx context.Context, reg services.Registry) error {
			vs, err := reg.Versions().List(ctx, moldID)
			if err != nil {
				return err
			}
			for _, v := range vs {
				printVersion(cmd.OutOrStdout(), v)
			}
			return nil
		})
	},
}

var modelTrainCmd = &cobra.Command{
	Use:   "train <vid>",
	Short: "Train a model version",
	Long: `Train a model version on the labeled answers of the given sample files
or file trees. Without --async the training runs in this process and the
command returns when it is done.

Examples:
  xtd model train 31 --files 101,102,103
  xtd model train 31 --trees 7 --async`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vid, err := parseID(args[0])
		if err != nil {
			return err
		}
		scope, err := parseScope(trainFiles, trainTrees)
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(ctx context.Context, reg services.Registry) error {
			v, err := reg.Versions().StartTraining(ctx, vid, scope)
			if err != nil {
				return err
			}
			printVersion(cmd.OutOrStdout(), v)
			return nil
		})
	},
}

var modelEnableCmd = &cobra.Command{
	Use:   "enable <vid>",
	Short: "Enable a trained model version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vid, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(ctx context.Context, reg services.Registry) error {
			v, err := reg.Versions().Enable(ctx, vid, enableUpdate)
			if err != nil {
				return err
			}
			printVersion(cmd.OutOrStdout(), v)
			return nil
		})
	},
}

var modelDisableCmd = &cobra.Command{
	Use:   "disable <vid>",
	Short: "Disable a model version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vid, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(ctx context.Context, reg services.Registry) error {
			v, err := reg.Versions().Disable(ctx, vid)
			if err != nil {
				return err
			}
			printVersion(cmd.OutOrStdout(), v)
			return nil
		})
	},
}

var modelExportCmd = &cobra.Command{
	Use:   "export <vid>",
	Short: "Export a model version as a ZIP archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vid, err := parseID(args[0])
		if err != nil {
			return err
		}
		out := modelOutput
		if out == "" {
			out = fmt.Sprintf("model_%d.zip", vid)
		}
		return withRegistry(cmd, func(ctx context.Context, reg services.Registry) error {
			archive, err := reg.Versions().Export(ctx, vid)
			if err != nil {
				return err
			}
			if err := writeOutput(cmd.OutOrStdout(), out, archive); err != nil {
				return err
			}
			if out != "-" {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(archive))
			}
			return nil
		})
	},
}

var modelImportCmd = &cobra.Command{
	Use:   "import <mold-id> <archive.zip>",
	Short: "Import a model version archive into a mold",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		moldID, err := parseID(args[0])
		if err != nil {
			return err
		}
		archive, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(ctx context.Context, reg services.Registry) error {
			v, err := reg.Versions().Import(ctx, moldID, archive)
			if err != nil {
				return err
			}
			printVersion(cmd.OutOrStdout(), v)
			return nil
		})
	},
}

func parseScope(files, trees []string) (training.Scope, error) {
	fileIDs, err := parseIDs(files)
	if err != nil {
		return training.Scope{}, err
	}
	treeIDs, err := parseIDs(trees)
	if err != nil {
		return training.Scope{}, err
	}
	if len(fileIDs) == 0 && len(treeIDs) == 0 {
		return training.Scope{}, fmt.Errorf("--files or --trees is required")
	}
	return training.Scope{Files: fileIDs, Trees: treeIDs}, nil
}

func printVersion(w io.Writer, v *training.Version) {
	fmt.Fprintf(w, "%d\t%s\tmold=%d\tstatus=%s\tenabled=%t\n", v.ID, v.Name, v.MoldID, v.Status, v.Enable)
}
