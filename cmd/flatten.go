package cmd

import (
	"fmt"

	"github.com/crytic/vyperlens/logging/colors"
	"github.com/crytic/vyperlens/utils"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// flattenCmd represents the command provider for flattening a source
var flattenCmd = &cobra.Command{
	Use:   "flatten <path>",
	Short: "Inlines the imports of a source",
	Long: `Prints the source at path as a single file: imported interfaces are replaced by generated interface
definitions and imported modules are inlined.`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: cmdValidSourceArgs,
	RunE:              cmdRunFlatten,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	addProjectFlags(flattenCmd)
	flattenCmd.Flags().String("out", "", "file to write the flattened source to instead of stdout")
	rootCmd.AddCommand(flattenCmd)
}

// cmdRunFlatten executes the CLI flatten command
func cmdRunFlatten(cmd *cobra.Command, args []string) error {
	p, logCloser, err := loadProject(cmd)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	outputPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}
	compiler, closeCaches, err := newCompiler(p, false)
	if err != nil {
		return err
	}
	defer closeCaches()

	content, err := compiler.Flatten(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if outputPath == "" {
		fmt.Println(content.String())
		return nil
	}

	file, err := utils.CreateFile("", outputPath)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(content.String() + "\n"); err != nil {
		return errors.WithStack(err)
	}
	cmdLogger.Info("Flattened source written to: ", colors.Bold, outputPath, colors.Reset)
	return nil
}

