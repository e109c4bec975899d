package coverage

import (
	"slices"
	"sort"

	"github.com/crytic/vyperlens/compilation/types"
	"github.com/shopspring/decimal"
)

// BuiltinFunctionName names the pseudo-function collecting compiler-inserted checks with no source location.
const BuiltinFunctionName = "__builtin__"

// Statement is a source statement, or a compiler-inserted check, and the program counters implementing it.
type Statement struct {
	// Location is nil for checks with no source statement.
	Location *types.SourceLocation `json:"location,omitempty"`
	// PCs is kept sorted.
	PCs []int `json:"pcs"`
	// Tag is the developer tag of a compiler-inserted check, e.g. "dev: Integer overflow".
	Tag      string `json:"tag,omitempty"`
	HitCount int    `json:"hitCount"`
}

func (s *Statement) addPC(pc int) {
	index, found := slices.BinarySearch(s.PCs, pc)
	if !found {
		s.PCs = slices.Insert(s.PCs, index, pc)
	}
}

func (s *Statement) contains(pc int) bool {
	_, found := slices.BinarySearch(s.PCs, pc)
	return found
}

// FunctionCoverage is the coverage record of one ABI entry or internal function.
type FunctionCoverage struct {
	Name string `json:"name"`
	// FullName is the canonical signature for ABI entries and the bare name otherwise.
	FullName   string       `json:"fullName"`
	Statements []*Statement `json:"statements"`
	// CallCount counts the calls recorded with MarkCalled.
	CallCount int `json:"callCount"`
}

// ProfileStatement attributes a program counter to the function. Program counters on the same line share a
// statement. Program counters without a location each get their own statement.
func (f *FunctionCoverage) ProfileStatement(pc int, location *types.SourceLocation, tag string) {
	if location != nil {
		for _, statement := range f.Statements {
			if statement.Location != nil && statement.Location.StartLine == location.StartLine {
				statement.addPC(pc)
				return
			}
		}
	}
	f.Statements = append(f.Statements, &Statement{Location: location, PCs: []int{pc}, Tag: tag})
}

// HitStatementCount returns the number of statements executed at least once.
func (f *FunctionCoverage) HitStatementCount() int {
	count := 0
	for _, statement := range f.Statements {
		if statement.HitCount > 0 {
			count++
		}
	}
	return count
}

// HitCount is the number of times the function is known to have run: recorded calls, or else the hits of its most
// executed statement.
func (f *FunctionCoverage) HitCount() int {
	hits := f.CallCount
	for _, statement := range f.Statements {
		hits = max(hits, statement.HitCount)
	}
	return hits
}

// IsCovered reports whether the function ran at least once.
func (f *FunctionCoverage) IsCovered() bool {
	return f.HitCount() > 0
}

// StatementRate is the fraction of the function's statements that ran. A function without statements is fully
// covered once called.
func (f *FunctionCoverage) StatementRate() decimal.Decimal {
	if len(f.Statements) == 0 {
		if f.CallCount > 0 {
			return decimal.NewFromInt(1)
		}
		return decimal.Zero
	}
	return rate(f.HitStatementCount(), len(f.Statements))
}

// StartLine returns the first line attributed to the function, or 0 if no statement has a location.
func (f *FunctionCoverage) StartLine() int {
	line := 0
	for _, statement := range f.Statements {
		if statement.Location == nil {
			continue
		}
		if line == 0 || statement.Location.StartLine < line {
			line = statement.Location.StartLine
		}
	}
	return line
}

// ContractCoverage is the coverage record of one contract.
type ContractCoverage struct {
	Name      string              `json:"name"`
	Functions []*FunctionCoverage `json:"functions"`
}

// Include returns the record of the function with the given full name, creating it if needed.
func (c *ContractCoverage) Include(name string, fullName string) *FunctionCoverage {
	for _, function := range c.Functions {
		if function.FullName == fullName {
			return function
		}
	}
	function := &FunctionCoverage{Name: name, FullName: fullName}
	c.Functions = append(c.Functions, function)
	return function
}

// Function returns the record with the given full name.
func (c *ContractCoverage) Function(fullName string) (*FunctionCoverage, bool) {
	for _, function := range c.Functions {
		if function.FullName == fullName {
			return function, true
		}
	}
	return nil, false
}

// Statements returns the statements of every function.
func (c *ContractCoverage) Statements() []*Statement {
	var statements []*Statement
	for _, function := range c.Functions {
		statements = append(statements, function.Statements...)
	}
	return statements
}

// MarkHit records one execution of every statement containing one of the program counters. A statement is counted
// once per call no matter how many of its program counters are given. Returns the number of statements hit.
func (c *ContractCoverage) MarkHit(pcs ...int) int {
	hit := 0
	for _, statement := range c.Statements() {
		for _, pc := range pcs {
			if statement.contains(pc) {
				statement.HitCount++
				hit++
				break
			}
		}
	}
	return hit
}

// MarkCalled records a call of the function with the given full name.
func (c *ContractCoverage) MarkCalled(fullName string) bool {
	function, ok := c.Function(fullName)
	if ok {
		function.CallCount++
	}
	return ok
}

// StatementRate is the fraction of the contract's statements that ran.
func (c *ContractCoverage) StatementRate() decimal.Decimal {
	statements := c.Statements()
	hit := 0
	for _, statement := range statements {
		if statement.HitCount > 0 {
			hit++
		}
	}
	return rate(hit, len(statements))
}

// FunctionRate is the fraction of the contract's functions that ran.
func (c *ContractCoverage) FunctionRate() decimal.Decimal {
	hit := 0
	for _, function := range c.Functions {
		if function.IsCovered() {
			hit++
		}
	}
	return rate(hit, len(c.Functions))
}

// SourceCoverage is the coverage record of the contracts compiled from one source.
type SourceCoverage struct {
	SourceID  string              `json:"sourceId"`
	Contracts []*ContractCoverage `json:"contracts"`
}

// NewSourceCoverage returns an empty record for the source.
func NewSourceCoverage(sourceID string) *SourceCoverage {
	return &SourceCoverage{SourceID: sourceID}
}

// Include returns the record of the named contract, creating it if needed.
func (s *SourceCoverage) Include(name string) *ContractCoverage {
	if contract, ok := s.Contract(name); ok {
		return contract
	}
	contract := &ContractCoverage{Name: name}
	s.Contracts = append(s.Contracts, contract)
	return contract
}

// Contract returns the record of the named contract.
func (s *SourceCoverage) Contract(name string) (*ContractCoverage, bool) {
	for _, contract := range s.Contracts {
		if contract.Name == name {
			return contract, true
		}
	}
	return nil, false
}

// Report collects the coverage of every profiled source.
type Report struct {
	Sources map[string]*SourceCoverage `json:"sources"`
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{Sources: make(map[string]*SourceCoverage)}
}

// Source returns the record of the source, creating it if needed.
func (r *Report) Source(sourceID string) *SourceCoverage {
	source, ok := r.Sources[sourceID]
	if !ok {
		source = NewSourceCoverage(sourceID)
		r.Sources[sourceID] = source
	}
	return source
}

// SortedSources returns the sources ordered by ID.
func (r *Report) SortedSources() []*SourceCoverage {
	sources := make([]*SourceCoverage, 0, len(r.Sources))
	for _, source := range r.Sources {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].SourceID < sources[j].SourceID
	})
	return sources
}

func rate(hit int, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(hit)).Div(decimal.NewFromInt(int64(total)))
}
