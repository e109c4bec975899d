package types

import (
	"encoding/json"
	"strings"

	"github.com/crytic/medusa-geth/accounts/abi"
	"github.com/crytic/medusa-geth/common/hexutil"
	"github.com/pkg/errors"
)

// ContractArtifact is one compiled contract together with the debugging data reconstructed from compiler output.
// Artifacts are never mutated after compilation; recompiling produces new ones.
type ContractArtifact struct {
	Name     string `json:"contractName"`
	SourceID string `json:"sourceId"`

	// CompilerVersion and SettingsKey identify the compiler invocation that produced the artifact.
	CompilerVersion string `json:"compilerVersion"`
	SettingsKey     string `json:"settingsKey"`

	ABI    abi.ABI         `json:"-"`
	RawABI json.RawMessage `json:"abi"`

	DeploymentBytecode hexutil.Bytes `json:"deploymentBytecode"`
	RuntimeBytecode    hexutil.Bytes `json:"runtimeBytecode"`
	// Opcodes is the disassembled runtime bytecode with push operands as separate tokens.
	Opcodes []string `json:"opcodes,omitempty"`

	AST    *ASTNode        `json:"-"`
	RawAST json.RawMessage `json:"ast,omitempty"`

	RawSourceMap string    `json:"sourceMap"`
	SourceMap    SourceMap `json:"-"`
	PCMap        PCMap     `json:"pcmap"`

	// DevMessages maps line numbers to inline developer messages.
	DevMessages map[int]string `json:"devMessages,omitempty"`
	// FunctionOffsets lists the line ranges of every function except the constructor.
	FunctionOffsets []FunctionOffset `json:"functionOffsets,omitempty"`

	MethodIdentifiers map[string]string `json:"methodIdentifiers,omitempty"`
	UserDoc           json.RawMessage   `json:"userdoc,omitempty"`
	DevDoc            json.RawMessage   `json:"devdoc,omitempty"`
	Metadata          *ContractMetadata `json:"metadata,omitempty"`
}

// FunctionOffset is the line range occupied by a function definition.
type FunctionOffset struct {
	Name      string `json:"name"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// ParseABI decodes a JSON ABI, accepting either raw JSON or a value already decoded by encoding/json.
func ParseABI(raw json.RawMessage) (abi.ABI, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return abi.ABI{}, nil
	}
	parsed, err := abi.JSON(strings.NewReader(string(raw)))
	if err != nil {
		return abi.ABI{}, errors.Wrap(err, "unable to parse contract ABI")
	}
	return parsed, nil
}

// Rehydrate restores the decoded ABI, AST and source map of an artifact read back from JSON.
func (a *ContractArtifact) Rehydrate() error {
	var err error
	if a.ABI, err = ParseABI(a.RawABI); err != nil {
		return errors.Wrapf(err, "contract %s", a.Name)
	}
	if len(a.RawAST) > 0 {
		a.AST = &ASTNode{}
		if err := json.Unmarshal(a.RawAST, a.AST); err != nil {
			return errors.Wrapf(err, "unable to parse AST of %s", a.SourceID)
		}
		a.AST.Classify()
	}
	if a.SourceMap, err = decompressSourceMap(a.RawSourceMap); err != nil {
		return errors.Wrapf(err, "unable to parse source map of %s", a.Name)
	}
	return nil
}

// ViewMethods returns the ABI methods that cannot modify state.
func (a *ContractArtifact) ViewMethods() []abi.Method {
	var methods []abi.Method
	for _, method := range a.ABI.Methods {
		if method.StateMutability == "view" || method.StateMutability == "pure" {
			methods = append(methods, method)
		}
	}
	sortMethods(methods)
	return methods
}

// MethodsNamed returns every ABI method whose declared name is name, in ascending order of input count.
func (a *ContractArtifact) MethodsNamed(name string) []abi.Method {
	var methods []abi.Method
	for _, method := range a.ABI.Methods {
		if method.RawName == name {
			methods = append(methods, method)
		}
	}
	sortMethods(methods)
	return methods
}

// MethodByID returns the ABI method with the given 4-byte selector.
func (a *ContractArtifact) MethodByID(selector []byte) (*abi.Method, bool) {
	if len(selector) < 4 {
		return nil, false
	}
	method, err := a.ABI.MethodById(selector[:4])
	if err != nil {
		return nil, false
	}
	return method, true
}
