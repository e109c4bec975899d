package types

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ASTNodeClass is the coarse classification attached to nodes after compilation.
type ASTNodeClass int

const (
	// ASTNodeClassUnknown is any node that was not classified.
	ASTNodeClassUnknown ASTNodeClass = iota
	// ASTNodeClassFunction marks function definitions.
	ASTNodeClassFunction
)

// functionASTTypes lists the node types classified as functions.
var functionASTTypes = []string{"FunctionDef"}

// ASTNode is a node of the compiler's JSON AST. Only the fields needed for source lookups are decoded; every other
// member holding nodes becomes a child.
type ASTNode struct {
	ASTType      string `json:"ast_type"`
	NodeID       int    `json:"node_id"`
	Name         string `json:"name,omitempty"`
	LineNo       int    `json:"lineno"`
	ColOffset    int    `json:"col_offset"`
	EndLineNo    int    `json:"end_lineno"`
	EndColOffset int    `json:"end_col_offset"`

	// Src is the "offset:length:file" range of the node in the source file.
	Src SourceMapElement `json:"-"`

	Classification ASTNodeClass `json:"-"`

	// Body holds the statements of nodes that have one (modules, functions, loops).
	Body []*ASTNode `json:"-"`
	// Decorators holds the decorator expressions of function definitions.
	Decorators []*ASTNode `json:"-"`
	// Children holds every child node, body and decorators included, ordered by source position.
	Children []*ASTNode `json:"-"`
}

// UnmarshalJSON decodes a node and all of its descendants.
func (n *ASTNode) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return errors.WithStack(err)
	}

	type plain ASTNode
	var base plain
	decodeInt := func(key string, target *int) {
		if raw, ok := fields[key]; ok {
			_ = json.Unmarshal(raw, target)
		}
	}
	if raw, ok := fields["ast_type"]; ok {
		_ = json.Unmarshal(raw, &base.ASTType)
	}
	if raw, ok := fields["name"]; ok {
		_ = json.Unmarshal(raw, &base.Name)
	}
	// Name expressions carry their identifier under "id".
	if raw, ok := fields["id"]; ok && base.Name == "" {
		_ = json.Unmarshal(raw, &base.Name)
	}
	decodeInt("node_id", &base.NodeID)
	decodeInt("lineno", &base.LineNo)
	decodeInt("col_offset", &base.ColOffset)
	decodeInt("end_lineno", &base.EndLineNo)
	decodeInt("end_col_offset", &base.EndColOffset)

	base.Src = SourceMapElement{Offset: -1, Length: -1, FileID: -1}
	if raw, ok := fields["src"]; ok {
		var src string
		if err := json.Unmarshal(raw, &src); err == nil && src != "" {
			parsed, err := ParseSourceMap(src)
			if err != nil {
				return errors.Wrapf(err, "invalid src on %s node", base.ASTType)
			}
			base.Src = parsed[0]
		}
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		children, err := decodeChildNodes(fields[key])
		if err != nil {
			return errors.Wrapf(err, "invalid %q member on %s node", key, base.ASTType)
		}
		if len(children) == 0 {
			continue
		}
		switch key {
		case "body":
			base.Body = children
		case "decorator_list":
			base.Decorators = children
		}
		base.Children = append(base.Children, children...)
	}
	sort.SliceStable(base.Children, func(i, j int) bool {
		a, b := base.Children[i], base.Children[j]
		if a.LineNo != b.LineNo {
			return a.LineNo < b.LineNo
		}
		return a.ColOffset < b.ColOffset
	})

	*n = ASTNode(base)
	return nil
}

// decodeChildNodes returns the nodes held by a member, which may be a node, a list of nodes, or anything else.
func decodeChildNodes(raw json.RawMessage) ([]*ASTNode, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	switch raw[0] {
	case '{':
		if !isNode(raw) {
			return nil, nil
		}
		var child ASTNode
		if err := json.Unmarshal(raw, &child); err != nil {
			return nil, err
		}
		return []*ASTNode{&child}, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, nil
		}
		var children []*ASTNode
		for _, item := range items {
			nodes, err := decodeChildNodes(item)
			if err != nil {
				return nil, err
			}
			children = append(children, nodes...)
		}
		return children, nil
	default:
		return nil, nil
	}
}

func isNode(raw json.RawMessage) bool {
	var probe struct {
		ASTType *string `json:"ast_type"`
	}
	return json.Unmarshal(raw, &probe) == nil && probe.ASTType != nil
}

// Location returns the node's source range.
func (n *ASTNode) Location() *SourceLocation {
	return NewSourceLocation(n.LineNo, n.ColOffset, n.EndLineNo, n.EndColOffset)
}

// GetNode returns the first node, in depth-first order, whose src range exactly matches the source map element.
func (n *ASTNode) GetNode(src SourceMapElement) *ASTNode {
	if n == nil {
		return nil
	}
	if n.Src.Offset == src.Offset && n.Src.Length == src.Length {
		return n
	}
	for _, child := range n.Children {
		if found := child.GetNode(src); found != nil {
			return found
		}
	}
	return nil
}

// Walk visits the node and its descendants depth first.
func (n *ASTNode) Walk(visit func(node *ASTNode)) {
	if n == nil {
		return
	}
	visit(n)
	for _, child := range n.Children {
		child.Walk(visit)
	}
}

// Classify marks function definitions throughout the tree.
func (n *ASTNode) Classify() {
	n.Walk(func(node *ASTNode) {
		for _, astType := range functionASTTypes {
			if node.ASTType == astType {
				node.Classification = ASTNodeClassFunction
			}
		}
	})
}

// Functions returns the classified function nodes in source order.
func (n *ASTNode) Functions() []*ASTNode {
	var functions []*ASTNode
	n.Walk(func(node *ASTNode) {
		if node.Classification == ASTNodeClassFunction {
			functions = append(functions, node)
		}
	})
	return functions
}

// StartLine returns the first line of the node, decorators included.
func (n *ASTNode) StartLine() int {
	start := n.LineNo
	for _, decorator := range n.Decorators {
		if decorator.LineNo > 0 && decorator.LineNo < start {
			start = decorator.LineNo
		}
	}
	return start
}

// BodyLine returns the first line of the node's body, or the line after the node's first line if it has none.
func (n *ASTNode) BodyLine() int {
	line := 0
	for _, stmt := range n.Body {
		if stmt.LineNo > 0 && (line == 0 || stmt.LineNo < line) {
			line = stmt.LineNo
		}
	}
	if line == 0 {
		return n.LineNo + 1
	}
	return line
}

// HasDecorator reports whether a function node carries the named decorator.
func (n *ASTNode) HasDecorator(name string) bool {
	for _, decorator := range n.Decorators {
		if decorator.Name == name || strings.HasPrefix(decorator.Name, name+"(") {
			return true
		}
		for _, child := range decorator.Children {
			if child.Name == name {
				return true
			}
		}
	}
	return false
}

// String identifies the node for debugging.
func (n *ASTNode) String() string {
	return n.ASTType + "@" + strconv.Itoa(n.LineNo)
}
