package types

import (
	"bytes"
	"slices"
	"sort"

	"github.com/crytic/medusa-geth/accounts/abi"
)

// Function is a function definition found in a contract's AST.
type Function struct {
	Name string
	// FullName is the canonical signature when it can be resolved from the ABI, otherwise the bare name.
	FullName string
	// StartLine is the first line of the definition, decorators included.
	StartLine int
	// Offset is the first line of the body. Lines before it belong to the signature.
	Offset  int
	EndLine int
	Node    *ASTNode
}

// Contains reports whether the location falls inside the function's lines.
func (f *Function) Contains(location *SourceLocation) bool {
	return location != nil && location.StartLine >= f.StartLine && location.EndLine <= f.EndLine
}

// ContractSource pairs a compiled artifact with the text it was compiled from.
type ContractSource struct {
	Artifact   *ContractArtifact
	SourcePath string
	Content    Content
	functions  []*Function
}

// NewContractSource indexes the function definitions of the artifact's AST.
func NewContractSource(artifact *ContractArtifact, sourcePath string, content Content) *ContractSource {
	source := &ContractSource{Artifact: artifact, SourcePath: sourcePath, Content: content}
	if artifact.AST == nil {
		return source
	}
	for _, node := range artifact.AST.Functions() {
		source.functions = append(source.functions, &Function{
			Name:      node.Name,
			FullName:  node.Name,
			StartLine: node.StartLine(),
			Offset:    node.BodyLine(),
			EndLine:   node.EndLineNo,
			Node:      node,
		})
	}
	sort.SliceStable(source.functions, func(i, j int) bool {
		return source.functions[i].StartLine < source.functions[j].StartLine
	})
	return source
}

// Functions returns every indexed function in source order.
func (c *ContractSource) Functions() []*Function {
	return c.functions
}

// LookupFunction finds the function containing the location. The method selector, when given, picks among ABI
// overloads to produce the full name; otherwise the overload with the most inputs is used.
func (c *ContractSource) LookupFunction(location *SourceLocation, methodID []byte) *Function {
	if location == nil {
		return nil
	}
	for _, function := range c.functions {
		if !function.Contains(location) {
			continue
		}
		resolved := *function
		resolved.FullName = c.fullName(function.Name, methodID)
		return &resolved
	}
	return nil
}

func (c *ContractSource) fullName(name string, methodID []byte) string {
	overloads := c.Artifact.MethodsNamed(name)
	if len(overloads) == 0 {
		return name
	}
	if len(methodID) >= 4 {
		for _, method := range overloads {
			if bytes.Equal(method.ID, methodID[:4]) {
				return method.Sig
			}
		}
	}
	return overloads[len(overloads)-1].Sig
}

// sortMethods orders methods by input count, then signature.
func sortMethods(methods []abi.Method) {
	slices.SortStableFunc(methods, func(a, b abi.Method) int {
		if len(a.Inputs) != len(b.Inputs) {
			return len(a.Inputs) - len(b.Inputs)
		}
		if a.Sig < b.Sig {
			return -1
		}
		if a.Sig > b.Sig {
			return 1
		}
		return 0
	})
}
