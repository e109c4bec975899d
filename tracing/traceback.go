package tracing

import (
	"fmt"
	"slices"
	"strings"

	"github.com/crytic/vyperlens/compilation/types"
)

// Closure is the function a control flow runs in. Builtin closures stand for compiler-inserted checks.
type Closure struct {
	Name     string
	FullName string
	Builtin  bool
}

// Statement is one step of a control flow.
type Statement struct {
	// Location is nil for builtin statements.
	Location *types.SourceLocation
	// Content holds the source lines of the statement.
	Content []string
	PCs     []int
	// Type is the message displayed for the statement: a developer message or a builtin tag.
	Type string
}

// IsSource reports whether the statement maps to source code.
func (s *Statement) IsSource() bool {
	return s.Location != nil
}

func (s *Statement) addPCs(pcs []int) {
	for _, pc := range pcs {
		if !slices.Contains(s.PCs, pc) {
			s.PCs = append(s.PCs, pc)
		}
	}
	slices.Sort(s.PCs)
}

// ControlFlow is a run of consecutive statements within one closure.
type ControlFlow struct {
	Closure    Closure
	Depth      int
	SourcePath string
	Statements []*Statement
}

// BeginLine returns the first line of the flow, or 0 if it has no source statement.
func (f *ControlFlow) BeginLine() int {
	for _, statement := range f.Statements {
		if statement.Location != nil {
			return statement.Location.StartLine
		}
	}
	return 0
}

// extend appends a statement at location, or merges the program counters into the last statement when it is at the
// same location.
func (f *ControlFlow) extend(location *types.SourceLocation, content types.Content, pcs []int) {
	if n := len(f.Statements); n > 0 {
		last := f.Statements[n-1]
		if last.Location != nil && *last.Location == *location {
			last.addPCs(pcs)
			return
		}
	}
	statement := &Statement{Location: location, Content: content.Lines(location.StartLine, location.EndLine)}
	statement.addPCs(pcs)
	f.Statements = append(f.Statements, statement)
}

// Traceback is the ordered list of control flows an execution went through.
type Traceback struct {
	Flows []*ControlFlow
}

// Last returns the most recent control flow.
func (t *Traceback) Last() *ControlFlow {
	if len(t.Flows) == 0 {
		return nil
	}
	return t.Flows[len(t.Flows)-1]
}

// SourceStatements returns every statement that maps to source code, in order.
func (t *Traceback) SourceStatements() []*Statement {
	var statements []*Statement
	for _, flow := range t.Flows {
		for _, statement := range flow.Statements {
			if statement.IsSource() {
				statements = append(statements, statement)
			}
		}
	}
	return statements
}

// Extend appends the flows of another traceback.
func (t *Traceback) Extend(other *Traceback) {
	if other != nil {
		t.Flows = append(t.Flows, other.Flows...)
	}
}

// AddJump starts a new control flow in function.
func (t *Traceback) AddJump(location *types.SourceLocation, function *types.Function, depth int, pcs []int, contract *types.ContractSource) {
	flow := &ControlFlow{
		Closure:    Closure{Name: function.Name, FullName: function.FullName},
		Depth:      depth,
		SourcePath: contract.SourcePath,
	}
	flow.extend(location, contract.Content, pcs)
	t.Flows = append(t.Flows, flow)
}

// ExtendLast adds a statement to the most recent control flow.
func (t *Traceback) ExtendLast(location *types.SourceLocation, pcs []int, contract *types.ContractSource) {
	if last := t.Last(); last != nil {
		last.extend(location, contract.Content, pcs)
	}
}

// AddBuiltinJump appends a flow for a compiler-inserted check. It has no source statement.
func (t *Traceback) AddBuiltinJump(name string, fullName string, tag string, pcs []int, sourcePath string) {
	depth := 0
	if last := t.Last(); last != nil {
		depth = last.Depth
	}
	statement := &Statement{Type: tag}
	statement.addPCs(pcs)
	t.Flows = append(t.Flows, &ControlFlow{
		Closure:    Closure{Name: name, FullName: fullName, Builtin: true},
		Depth:      depth,
		SourcePath: sourcePath,
		Statements: []*Statement{statement},
	})
}

// Format renders the traceback with the most recent flow last.
func (t *Traceback) Format() string {
	var builder strings.Builder
	builder.WriteString("Traceback (most recent call last)\n")
	for _, flow := range t.Flows {
		if flow.Closure.Builtin {
			builder.WriteString(fmt.Sprintf("  File %s, in %s\n", flow.SourcePath, flow.Closure.FullName))
		} else {
			builder.WriteString(fmt.Sprintf("  File %s, line %d, in %s\n", flow.SourcePath, flow.BeginLine(), flow.Closure.FullName))
		}
		for _, statement := range flow.Statements {
			if !statement.IsSource() {
				builder.WriteString(fmt.Sprintf("    %s\n", statement.Type))
				continue
			}
			for i, line := range statement.Content {
				builder.WriteString(fmt.Sprintf("    %4d  %s\n", statement.Location.StartLine+i, strings.TrimRight(line, " \t")))
			}
			if statement.Type != "" {
				builder.WriteString(fmt.Sprintf("          (%s)\n", statement.Type))
			}
		}
	}
	return builder.String()
}
