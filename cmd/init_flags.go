package cmd

import (
	"github.com/crytic/vyperlens/config"
	"github.com/spf13/cobra"
)

// addInitFlags adds the various flags for the init command
func addInitFlags() {
	// Prevent alphabetical sorting of usage message
	initCmd.Flags().SortFlags = false

	// Output path for configuration
	initCmd.Flags().String("out", "", "output path for the new project configuration file")

	// Project layout and compiler options
	initCmd.Flags().String("contracts-folder", "", "directory holding the project's sources (default is \"contracts\")")
	initCmd.Flags().String("vyper-version", "", "version constraint applied to every source")
	initCmd.Flags().String("evm-version", "", "hardfork targeted by sources without an evm-version pragma")
	initCmd.Flags().StringSlice("import-remapping", []string{}, "interface import remapping(s), as key=dependency@version")
}

// updateProjectConfigWithInitFlags will update the given projectConfig with any CLI arguments that were provided to the init command
func updateProjectConfigWithInitFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	var err error

	// Update contracts folder
	if cmd.Flags().Changed("contracts-folder") {
		projectConfig.ContractsFolder, err = cmd.Flags().GetString("contracts-folder")
		if err != nil {
			return err
		}
	}

	// Update version constraint
	if cmd.Flags().Changed("vyper-version") {
		projectConfig.Vyper.Version, err = cmd.Flags().GetString("vyper-version")
		if err != nil {
			return err
		}
	}

	// Update EVM version
	if cmd.Flags().Changed("evm-version") {
		projectConfig.Vyper.EVMVersion, err = cmd.Flags().GetString("evm-version")
		if err != nil {
			return err
		}
	}

	// Update import remappings
	if cmd.Flags().Changed("import-remapping") {
		projectConfig.Vyper.ImportRemapping, err = cmd.Flags().GetStringSlice("import-remapping")
		if err != nil {
			return err
		}
	}
	return nil
}
