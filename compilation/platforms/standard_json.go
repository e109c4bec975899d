package platforms

import (
	"encoding/json"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/vyperlens/compilation/pcmap"
	"github.com/crytic/vyperlens/compilation/pragma"
	"github.com/crytic/vyperlens/compilation/types"
	"github.com/pkg/errors"
)

// Source is an entry of the "sources" member of the compiler input.
type Source struct {
	Content string `json:"content"`
}

// InterfaceABI is an entry of the "interfaces" member of the compiler input.
type InterfaceABI struct {
	ABI json.RawMessage `json:"abi"`
}

// StandardInput is the document fed to the compiler in standard JSON mode.
type StandardInput struct {
	Language   string                  `json:"language"`
	Settings   *Settings               `json:"settings"`
	Sources    map[string]Source       `json:"sources"`
	Interfaces map[string]InterfaceABI `json:"interfaces,omitempty"`
}

// StandardOutput is the subset of the compiler's standard JSON output that artifacts are built from.
type StandardOutput struct {
	Contracts map[string]map[string]*OutputContract `json:"contracts"`
	Sources   map[string]*OutputSource              `json:"sources"`
}

// OutputSource holds the per-file output.
type OutputSource struct {
	ID  int             `json:"id"`
	AST json.RawMessage `json:"ast"`
}

// OutputContract holds the per-contract output.
type OutputContract struct {
	ABI     json.RawMessage `json:"abi"`
	UserDoc json.RawMessage `json:"userdoc"`
	DevDoc  json.RawMessage `json:"devdoc"`
	EVM     struct {
		Bytecode struct {
			Object string `json:"object"`
		} `json:"bytecode"`
		DeployedBytecode struct {
			Object  string `json:"object"`
			Opcodes string `json:"opcodes"`
			// SourceMap is a compressed string up to 0.3.7 and an object with structured maps afterward.
			SourceMap json.RawMessage `json:"sourceMap"`
		} `json:"deployedBytecode"`
		MethodIdentifiers map[string]string `json:"methodIdentifiers"`
	} `json:"evm"`
}

// ParseStandardOutput decodes the compiler's output document.
func ParseStandardOutput(data []byte) (*StandardOutput, error) {
	var output StandardOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, errors.Wrap(err, "unable to parse compiler output")
	}
	return &output, nil
}

// artifactInput is everything buildArtifact needs about one contract.
type artifactInput struct {
	version     *semver.Version
	strategy    PCMapStrategy
	settingsKey string
	sourceID    string
	name        string
	content     types.Content
	rawAST      json.RawMessage
	output      *OutputContract
}

// buildArtifact normalizes the output for one contract into an artifact.
func buildArtifact(in artifactInput) (*types.ContractArtifact, error) {
	deployed := in.output.EVM.DeployedBytecode
	artifact := &types.ContractArtifact{
		Name:               in.name,
		SourceID:           in.sourceID,
		CompilerVersion:    pragma.FormatVersion(in.version),
		SettingsKey:        in.settingsKey,
		RawABI:             in.output.ABI,
		DeploymentBytecode: common.FromHex(in.output.EVM.Bytecode.Object),
		RuntimeBytecode:    common.FromHex(deployed.Object),
		Opcodes:            strings.Fields(deployed.Opcodes),
		RawAST:             in.rawAST,
		DevMessages:        types.DevMessages(in.content),
		MethodIdentifiers:  in.output.EVM.MethodIdentifiers,
		UserDoc:            in.output.UserDoc,
		DevDoc:             in.output.DevDoc,
	}

	var err error
	if artifact.ABI, err = types.ParseABI(in.output.ABI); err != nil {
		return nil, errors.Wrapf(err, "contract %s", in.name)
	}

	if len(in.rawAST) > 0 {
		artifact.AST = &types.ASTNode{}
		if err := json.Unmarshal(in.rawAST, artifact.AST); err != nil {
			return nil, errors.Wrapf(err, "unable to parse AST of %s", in.sourceID)
		}
		artifact.AST.Classify()
		artifact.FunctionOffsets = functionOffsets(artifact.AST, in.content)
	}

	if artifact.RawSourceMap, artifact.SourceMap, err = types.ParseRawSourceMap(deployed.SourceMap); err != nil {
		return nil, errors.Wrapf(err, "unable to parse source map of %s", in.name)
	}
	if artifact.PCMap, err = buildPCMap(in.strategy, artifact, deployed.SourceMap); err != nil {
		return nil, errors.Wrapf(err, "unable to build pcmap of %s", in.name)
	}

	artifact.Metadata = types.ExtractContractMetadata(artifact.DeploymentBytecode)
	if artifact.Metadata == nil {
		artifact.Metadata = types.ExtractContractMetadata(artifact.RuntimeBytecode)
	}
	return artifact, nil
}

// buildPCMap derives the program counter map with the given strategy.
func buildPCMap(strategy PCMapStrategy, artifact *types.ContractArtifact, rawSourceMap json.RawMessage) (types.PCMap, error) {
	switch strategy {
	case PCMapLegacy:
		if artifact.AST == nil {
			return nil, errors.New("the legacy strategy needs an AST")
		}
		return pcmap.BuildLegacy(artifact.AST, artifact.SourceMap, artifact.Opcodes), nil
	case PCMapStructured:
		maps, err := pcmap.ParseStructuredMaps(rawSourceMap)
		if err != nil {
			return nil, err
		}
		return pcmap.BuildStructured(maps), nil
	}
	return nil, errors.Errorf("unhandled pcmap strategy %d", strategy)
}

// functionOffsets returns the line range of every top-level function except the constructor.
func functionOffsets(ast *types.ASTNode, content types.Content) []types.FunctionOffset {
	var offsets []types.FunctionOffset
	for _, node := range ast.Children {
		if node.ASTType != "FunctionDef" {
			continue
		}
		if node.Name == "__init__" || strings.Contains(content[node.LineNo], "__init__") {
			continue
		}
		offsets = append(offsets, types.FunctionOffset{Name: node.Name, StartLine: node.LineNo, EndLine: node.EndLineNo})
	}
	return offsets
}
