package cmd

import (
	"encoding/json"
	"path"
	"path/filepath"
	"strings"

	"github.com/crytic/vyperlens/cmd/exitcodes"
	"github.com/crytic/vyperlens/compilation"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/crytic/vyperlens/logging/colors"
	"github.com/crytic/vyperlens/utils"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// compileCmd represents the command provider for compiling a project
var compileCmd = &cobra.Command{
	Use:   "compile [paths...]",
	Short: "Compiles the sources of a project",
	Long: `Compiles the given sources, or every source of the project. Imports are resolved, each source is assigned an
installed compiler version (installing one when needed) and every version is run once per settings group.`,
	ValidArgsFunction: cmdValidSourceArgs,
	RunE:              cmdRunCompile,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	addCompileFlags()
	rootCmd.AddCommand(compileCmd)
}

// addCompileFlags adds the various flags for the compile command
func addCompileFlags() {
	// Prevent alphabetical sorting of usage message
	compileCmd.Flags().SortFlags = false

	addProjectFlags(compileCmd)
	addCompileSettingsFlags(compileCmd)

	// Artifacts
	compileCmd.Flags().String("out", "", "directory to write one JSON artifact per contract to")
	compileCmd.Flags().Lookup("out").NoOptDefVal = DefaultArtifactsDirectory

	// Build cache
	compileCmd.Flags().Bool("no-cache", false, "always invoke the compiler instead of reusing cached builds")
}

// cmdRunCompile executes the CLI compile command
func cmdRunCompile(cmd *cobra.Command, args []string) error {
	p, logCloser, err := loadProject(cmd)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	settings, err := compileSettingsFromFlags(cmd)
	if err != nil {
		return err
	}
	noCache, err := cmd.Flags().GetBool("no-cache")
	if err != nil {
		return err
	}
	outputDirectory, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}

	compiler, closeCaches, err := newCompiler(p, !noCache)
	if err != nil {
		cmdLogger.Error("Failed to run the compile command", err)
		return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
	}
	defer closeCaches()

	compiler.Events.ContractCompiled.Subscribe(func(event compilation.ContractCompiledEvent) error {
		artifact := event.Contract.Artifact
		suffix := ""
		if event.Cached {
			suffix = " (cached)"
		}
		cmdLogger.Info("Compiled ", colors.Bold, artifact.Name, colors.Reset, " from ", artifact.SourceID, suffix)
		return nil
	})

	var artifacts []*types.ContractArtifact
	for contract, err := range compiler.Compile(cmd.Context(), args, settings) {
		if err != nil {
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCompileError)
		}
		artifacts = append(artifacts, contract.Artifact)
	}
	if len(artifacts) == 0 {
		cmdLogger.Warn("No contracts were compiled")
		return nil
	}

	for _, usage := range compiler.CompilersUsed() {
		cmdLogger.Info("vyper ", colors.Bold, pragma.FormatVersion(usage.Version), colors.Reset,
			" (", usage.SettingsKey, "): ", strings.Join(usage.Contracts, ", "))
	}
	compilation.NotifyArtifactHashStatus(artifacts, cacheDirectory(p), cmdLogger)

	if outputDirectory != "" {
		if !filepath.IsAbs(outputDirectory) {
			outputDirectory = filepath.Join(p.Path(), outputDirectory)
		}
		if err := writeArtifacts(outputDirectory, artifacts); err != nil {
			cmdLogger.Error("Failed to write artifacts", err)
			return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
		}
		cmdLogger.Info("Artifacts written to: ", colors.Bold, outputDirectory, colors.Reset)
	}
	return nil
}

// writeArtifacts writes each artifact as <source directory>/<name>.json under directory.
func writeArtifacts(directory string, artifacts []*types.ContractArtifact) error {
	files := make(map[string]string, len(artifacts))
	for _, artifact := range artifacts {
		data, err := json.MarshalIndent(artifact, "", "  ")
		if err != nil {
			return errors.Wrapf(err, "unable to encode artifact %s", artifact.Name)
		}
		name := path.Join(path.Dir(filepath.ToSlash(artifact.SourceID)), artifact.Name+types.FileKindInterfaceJSON.Extension())
		files[name] = string(data)
	}
	return utils.WriteFiles(directory, files)
}
