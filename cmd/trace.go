package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/core/vm"
	"github.com/crytic/vyperlens/cmd/exitcodes"
	"github.com/crytic/vyperlens/compilation"
	"github.com/crytic/vyperlens/compilation/platforms"
	"github.com/crytic/vyperlens/tracing"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// traceCmd represents the command provider for mapping an execution trace to source
var traceCmd = &cobra.Command{
	Use:   "trace <contract> <trace file>",
	Short: "Maps an execution trace to a source traceback",
	Long: `Compiles the project, then maps the struct logs of a call into the named contract to the statements that
ran. The trace file holds debug_traceTransaction struct logger output. The contract is named as "Name" or
"source.vy:Name". When the call reverted, the revert is classified into the runtime check that raised it.`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: cmdValidFlagArgs,
	RunE:              cmdRunTrace,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func init() {
	addTraceFlags()
	rootCmd.AddCommand(traceCmd)
}

// addTraceFlags adds the various flags for the trace command
func addTraceFlags() {
	// Prevent alphabetical sorting of usage message
	traceCmd.Flags().SortFlags = false

	addProjectFlags(traceCmd)
	addCompileSettingsFlags(traceCmd)
	traceCmd.Flags().String("calldata", "", "hex calldata of the traced call, used to tell overloads apart")
	traceCmd.Flags().String("revert-data", "", "hex return data of a reverted call")
	traceCmd.Flags().StringSlice("address", []string{},
		"deployed address of a project contract called during the trace, as Name=0x...")
}

// cmdRunTrace executes the CLI trace command
func cmdRunTrace(cmd *cobra.Command, args []string) error {
	p, logCloser, err := loadProject(cmd)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	calldata, err := hexFlag(cmd, "calldata")
	if err != nil {
		return err
	}
	revertData, err := hexFlag(cmd, "revert-data")
	if err != nil {
		return err
	}
	addresses, err := cmd.Flags().GetStringSlice("address")
	if err != nil {
		return err
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
	contract, err := findContract(contracts, args[0])
	if err != nil {
		return err
	}
	lookup, err := newAddressLookup(contracts, addresses)
	if err != nil {
		return err
	}
	frames, err := readFrames(args[1])
	if err != nil {
		return err
	}

	traceback, err := compiler.TraceSource(frames, contract.Source(), calldata, lookup)
	if err != nil {
		return err
	}
	fmt.Print(traceback.Format())

	if pc, ok := outermostRevert(frames); ok {
		logicErr := compilation.NewContractLogicError(contract.Artifact, pc, revertData)
		fmt.Printf("Reverted: %v\n", compiler.EnrichError(logicErr))
	}
	return nil
}

// hexFlag decodes a hex string flag. An unset flag yields nil.
func hexFlag(cmd *cobra.Command, name string) ([]byte, error) {
	value, err := cmd.Flags().GetString(name)
	if err != nil || value == "" {
		return nil, err
	}
	data, err := decodeHex(value)
	if err != nil {
		return nil, errors.Wrapf(err, "--%s is not hex", name)
	}
	return data, nil
}

// decodeHex decodes hex text with or without a 0x prefix.
func decodeHex(value string) ([]byte, error) {
	data, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X"))
	return data, errors.WithStack(err)
}

// compileContracts compiles the project with the settings given as flags.
func compileContracts(cmd *cobra.Command, compiler *compilation.VyperCompiler) ([]*platforms.CompiledContract, error) {
	settings, err := compileSettingsFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	var contracts []*platforms.CompiledContract
	for contract, err := range compiler.Compile(cmd.Context(), nil, settings) {
		if err != nil {
			return nil, exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeCompileError)
		}
		contracts = append(contracts, contract)
	}
	return contracts, nil
}

// findContract finds a contract by "Name" or "sourceID:Name". A bare name must be unambiguous.
func findContract(contracts []*platforms.CompiledContract, reference string) (*platforms.CompiledContract, error) {
	sourceID, name := "", reference
	if index := strings.LastIndex(reference, ":"); index >= 0 {
		sourceID, name = reference[:index], reference[index+1:]
	}

	var found *platforms.CompiledContract
	for _, contract := range contracts {
		if contract.Artifact.Name != name || (sourceID != "" && contract.Artifact.SourceID != sourceID) {
			continue
		}
		if found != nil {
			return nil, errors.Errorf("contract name %s is ambiguous, name it as <source>:%s", name, name)
		}
		found = contract
	}
	if found == nil {
		return nil, errors.Errorf("no compiled contract named %s", reference)
	}
	return found, nil
}

// addressLookup resolves call targets to project contracts by deployed address.
type addressLookup map[common.Address]*tracing.CalledContract

// LookupContract implements tracing.ContractLookup.
func (l addressLookup) LookupContract(address common.Address) (*tracing.CalledContract, bool) {
	called, ok := l[address]
	return called, ok
}

// newAddressLookup builds a lookup from Name=0x... assignments.
func newAddressLookup(contracts []*platforms.CompiledContract, assignments []string) (addressLookup, error) {
	lookup := make(addressLookup, len(assignments))
	for _, assignment := range assignments {
		reference, address, ok := strings.Cut(assignment, "=")
		if !ok || !common.IsHexAddress(address) {
			return nil, errors.Errorf("invalid address assignment %q, expected Name=0x...", assignment)
		}
		contract, err := findContract(contracts, reference)
		if err != nil {
			return nil, err
		}
		lookup[common.HexToAddress(address)] = &tracing.CalledContract{Source: contract.Source()}
	}
	return lookup, nil
}

// readFrames reads struct logs from a file.
func readFrames(path string) ([]tracing.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return tracing.ParseStructLogs(data)
}

// outermostRevert returns the program counter of a REVERT ending the outermost call.
func outermostRevert(frames []tracing.Frame) (int, bool) {
	if len(frames) == 0 {
		return 0, false
	}
	depth := frames[0].Depth
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Depth != depth {
			continue
		}
		if frames[i].Op == vm.REVERT {
			return int(frames[i].PC), true
		}
		return 0, false
	}
	return 0, false
}
