package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/crytic/vyperlens/cmd/exitcodes"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// settingsCmd represents the command provider for printing compiler settings
var settingsCmd = &cobra.Command{
	Use:   "settings [paths...]",
	Short: "Prints the compiler settings of a project",
	Long: `Prints, as JSON, the settings each selected compiler version would be invoked with, grouped by version and
settings key. Interface files are left out.`,
	ValidArgsFunction: cmdValidSourceArgs,
	RunE:              cmdRunSettings,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	settingsCmd.Flags().SortFlags = false
	addProjectFlags(settingsCmd)
	addCompileSettingsFlags(settingsCmd)
	rootCmd.AddCommand(settingsCmd)
}

// cmdRunSettings executes the CLI settings command
func cmdRunSettings(cmd *cobra.Command, args []string) error {
	p, logCloser, err := loadProject(cmd)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	settings, err := compileSettingsFromFlags(cmd)
	if err != nil {
		return err
	}
	compiler, closeCaches, err := newCompiler(p, false)
	if err != nil {
		return err
	}
	defer closeCaches()

	compilerSettings, err := compiler.CompilerSettings(cmd.Context(), args, settings)
	if err != nil {
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCompileError)
	}
	data, err := json.MarshalIndent(compilerSettings, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}
	fmt.Println(string(data))
	return nil
}
