package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/crytic/vyperlens/cmd/exitcodes"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/crytic/vyperlens/logging/colors"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// versionsCmd represents the command provider for listing, installing and selecting compiler versions
var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Lists, installs and selects compiler versions",
	Long: `Lists the installed compiler versions. With --available, lists every version that can be installed instead.
With --install, installs the highest version matching each constraint. With --map, prints the version selected for
each source of the project.`,
	Args:              cmdValidateVersionsArgs,
	ValidArgsFunction: cmdValidFlagArgs,
	RunE:              cmdRunVersions,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	addVersionsFlags()
	rootCmd.AddCommand(versionsCmd)
}

// addVersionsFlags adds the various flags for the versions command
func addVersionsFlags() {
	// Prevent alphabetical sorting of usage message
	versionsCmd.Flags().SortFlags = false

	addProjectFlags(versionsCmd)
	versionsCmd.Flags().Bool("available", false, "list the versions available for install")
	versionsCmd.Flags().StringSlice("install", []string{}, "install the highest available version matching the constraint(s)")
	versionsCmd.Flags().Bool("map", false, "print the compiler version selected for each project source")
	versionsCmd.Flags().String("vyper-version", "", "with --map, select versions matching this constraint for every source")
}

// cmdValidateVersionsArgs makes sure that there are no positional arguments provided to the versions command
func cmdValidateVersionsArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return fmt.Errorf("versions does not accept any positional arguments, only flags and their associated values")
	}
	return nil
}

// cmdRunVersions executes the CLI versions command
func cmdRunVersions(cmd *cobra.Command, args []string) error {
	p, logCloser, err := loadProject(cmd)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	compiler, closeCaches, err := newCompiler(p, false)
	if err != nil {
		return err
	}
	defer closeCaches()
	selector := compiler.Selector()
	ctx := cmd.Context()

	constraints, err := cmd.Flags().GetStringSlice("install")
	if err != nil {
		return err
	}
	for _, constraint := range constraints {
		specifier, err := pragma.ParseSpecifier(pragma.NormalizeVersionPragma(constraint))
		if err != nil {
			return errors.Wrapf(err, "invalid version constraint %q", constraint)
		}
		available, err := selector.InstallableVersions(ctx)
		if err != nil {
			return err
		}
		version := specifier.Highest(available)
		if version == nil {
			return exitcodes.NewErrorWithExitCode(
				errors.Errorf("no available version matches %s", specifier), exitcodes.ExitCodeCompileError)
		}
		if err := selector.Install(ctx, version, specifier.String()); err != nil {
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCompileError)
		}
		cmdLogger.Info("Installed vyper ", colors.Bold, pragma.FormatVersion(version), colors.Reset)
	}

	showMap, err := cmd.Flags().GetBool("map")
	if err != nil {
		return err
	}
	if showMap {
		settings, err := compileSettingsFromFlags(cmd)
		if err != nil {
			return err
		}
		versionMap, err := compiler.VersionMap(ctx, nil, settings)
		if err != nil {
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCompileError)
		}
		summary := versionMap.Summary()
		keys := make([]string, 0, len(summary))
		for key := range summary {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Printf("%s: %s\n", key, strings.Join(summary[key], ", "))
		}
		return nil
	}

	installed, err := selector.InstalledVersions()
	if err != nil {
		return err
	}
	showAvailable, err := cmd.Flags().GetBool("available")
	if err != nil {
		return err
	}
	if !showAvailable {
		printVersions(installed, nil)
		return nil
	}
	available, err := selector.InstallableVersions(ctx)
	if err != nil {
		return err
	}
	printVersions(available, installed)
	return nil
}

// printVersions prints one version per line, newest first, marking the installed ones.
func printVersions(versions []*semver.Version, installed []*semver.Version) {
	for i := len(versions) - 1; i >= 0; i-- {
		line := pragma.FormatVersion(versions[i])
		if installed != nil && pragma.ContainsVersion(installed, versions[i]) {
			line += " (installed)"
		}
		fmt.Println(line)
	}
}
