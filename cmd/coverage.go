package cmd

import (
	"path/filepath"
	"strings"

	"github.com/crytic/vyperlens/coverage"
	"github.com/crytic/vyperlens/logging/colors"
	"github.com/crytic/vyperlens/tracing"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// coverageCmd represents the command provider for coverage reports
var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Profiles the coverage of execution traces",
	Long: `Compiles the project, profiles the statements and functions of every contract, marks those reached by the
given traces and writes an LCOV report. Each trace is given as Name=<trace file>, optionally followed by
@0x<calldata>.`,
	Args:              cobra.NoArgs,
	ValidArgsFunction: cmdValidFlagArgs,
	RunE:              cmdRunCoverage,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	addCoverageFlags()
	rootCmd.AddCommand(coverageCmd)
}

// addCoverageFlags adds the various flags for the coverage command
func addCoverageFlags() {
	// Prevent alphabetical sorting of usage message
	coverageCmd.Flags().SortFlags = false

	addProjectFlags(coverageCmd)
	addCompileSettingsFlags(coverageCmd)
	coverageCmd.Flags().StringArray("trace", []string{}, "trace of a call into a contract, as Name=<file>[@0x<calldata>]")
	coverageCmd.Flags().StringSlice("address", []string{},
		"deployed address of a project contract called during the traces, as Name=0x...")
	coverageCmd.Flags().String("out", DefaultCoverageDirectory, "directory to write the LCOV report to")
}

// coverageTrace is one --trace assignment.
type coverageTrace struct {
	contract string
	path     string
	calldata []byte
}

// parseCoverageTrace parses Name=<file>[@0x<calldata>].
func parseCoverageTrace(value string) (coverageTrace, error) {
	contract, rest, ok := strings.Cut(value, "=")
	if !ok || contract == "" || rest == "" {
		return coverageTrace{}, errors.Errorf("invalid trace %q, expected Name=<file>[@0x<calldata>]", value)
	}
	trace := coverageTrace{contract: contract, path: rest}
	if index := strings.LastIndex(rest, "@0x"); index >= 0 {
		trace.path = rest[:index]
		var err error
		if trace.calldata, err = decodeHex(rest[index+1:]); err != nil {
			return coverageTrace{}, errors.Wrapf(err, "invalid calldata in trace %q", value)
		}
	}
	return trace, nil
}

// cmdRunCoverage executes the CLI coverage command
func cmdRunCoverage(cmd *cobra.Command, args []string) error {
	p, logCloser, err := loadProject(cmd)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	rawTraces, err := cmd.Flags().GetStringArray("trace")
	if err != nil {
		return err
	}
	traces := make([]coverageTrace, 0, len(rawTraces))
	for _, raw := range rawTraces {
		trace, err := parseCoverageTrace(raw)
		if err != nil {
			return err
		}
		traces = append(traces, trace)
	}
	addresses, err := cmd.Flags().GetStringSlice("address")
	if err != nil {
		return err
	}
	outputDirectory, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}
	if !filepath.IsAbs(outputDirectory) {
		outputDirectory = filepath.Join(p.Path(), outputDirectory)
	}

	compiler, closeCaches, err := newCompiler(p, true)
	if err != nil {
		return err
	}
	defer closeCaches()
	contracts, err := compileContracts(cmd, compiler)
	if err != nil {
		return err
	}
	lookup, err := newAddressLookup(contracts, addresses)
	if err != nil {
		return err
	}

	report := coverage.NewReport()
	for _, contract := range contracts {
		compiler.InitCoverageProfile(report.Source(contract.Artifact.SourceID), contract.Source())
	}

	for _, trace := range traces {
		contract, err := findContract(contracts, trace.contract)
		if err != nil {
			return err
		}
		contractCoverage, ok := report.Source(contract.Artifact.SourceID).Contract(contract.Artifact.Name)
		if !ok {
			cmdLogger.Warn("Skipping trace of excluded contract ", trace.contract)
			continue
		}
		frames, err := readFrames(trace.path)
		if err != nil {
			return err
		}
		source := contract.Source()
		traceback, err := compiler.TraceSource(frames, source, trace.calldata, lookup)
		if err != nil {
			return err
		}
		markTraceback(contractCoverage, traceback, source.SourcePath)
	}

	for _, sourceCoverage := range report.SortedSources() {
		for _, contractCoverage := range sourceCoverage.Contracts {
			cmdLogger.Info(colors.Bold, contractCoverage.Name, colors.Reset,
				": statements ", percentage(contractCoverage.StatementRate()),
				", functions ", percentage(contractCoverage.FunctionRate()))
		}
	}

	reportPath, err := coverage.WriteLCOVReport(report, outputDirectory)
	if err != nil {
		return err
	}
	cmdLogger.Info("LCOV report written to: ", colors.Bold, reportPath, colors.Reset)
	return nil
}

// markTraceback records the calls and statements of the flows that ran in the contract's own source.
func markTraceback(contractCoverage *coverage.ContractCoverage, traceback *tracing.Traceback, sourcePath string) {
	for _, flow := range traceback.Flows {
		if flow.SourcePath != sourcePath {
			continue
		}
		if !flow.Closure.Builtin {
			contractCoverage.MarkCalled(flow.Closure.FullName)
		}
		for _, statement := range flow.Statements {
			contractCoverage.MarkHit(statement.PCs...)
		}
	}
}

func percentage(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}
