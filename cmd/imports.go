package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// importsCmd represents the command provider for printing resolved imports
var importsCmd = &cobra.Command{
	Use:   "imports [paths...]",
	Short: "Prints the resolved imports of a project",
	Long: `Prints the imports of the given sources, or of every source of the project, transitive ones included, with
the kind of each import and the source it resolved to.`,
	ValidArgsFunction: cmdValidSourceArgs,
	RunE:              cmdRunImports,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	addProjectFlags(importsCmd)
	importsCmd.Flags().Bool("unresolved", false, "only print imports that could not be resolved")
	rootCmd.AddCommand(importsCmd)
}

// cmdRunImports executes the CLI imports command
func cmdRunImports(cmd *cobra.Command, args []string) error {
	p, logCloser, err := loadProject(cmd)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	unresolvedOnly, err := cmd.Flags().GetBool("unresolved")
	if err != nil {
		return err
	}
	compiler, closeCaches, err := newCompiler(p, false)
	if err != nil {
		return err
	}
	defer closeCaches()

	importMap, err := compiler.Imports(cmd.Context(), args)
	if err != nil {
		return err
	}
	if unresolvedOnly {
		for _, imp := range importMap.Unresolved() {
			fmt.Printf("%s: %s\n", imp.Importer, imp.Raw)
		}
		return nil
	}
	for _, sourceID := range importMap.SourceIDs() {
		fmt.Println(sourceID)
		for _, imp := range importMap[sourceID] {
			target := imp.SourceID
			if target == "" {
				target = imp.Path
			}
			if target == "" {
				fmt.Printf("  %s (%s)\n", imp.Raw, imp.Kind)
			} else {
				fmt.Printf("  %s -> %s (%s)\n", imp.Raw, target, imp.Kind)
			}
		}
	}
	return nil
}
