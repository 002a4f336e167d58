// Package filters models the recursive AND/OR predicate trees that the
// front-end attaches to queries and that the control plane uses to express
// scopes and action conditions.
package filters

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Aggregator joins the conditions of a branch node.
type Aggregator string

const (
	// AggregatorAnd requires every condition to hold.
	AggregatorAnd Aggregator = "and"
	// AggregatorOr requires at least one condition to hold.
	AggregatorOr Aggregator = "or"
)

// Tree is a filter tree node: either a *Branch or a *Leaf.
type Tree interface {
	isTree()
}

// Branch groups child conditions under an aggregator.
type Branch struct {
	Aggregator Aggregator
	Conditions []Tree
}

// Leaf is a single field/operator/value condition.
type Leaf struct {
	Field    string
	Operator string
	Value    any
}

func (*Branch) isTree() {}
func (*Leaf) isTree()   {}

// ErrMalformed indicates a filter payload that cannot be decoded into a tree.
var ErrMalformed = errors.New("filters: malformed filter tree")

type branchJSON struct {
	Aggregator Aggregator        `json:"aggregator"`
	Conditions []json.RawMessage `json:"conditions"`
}

type leafJSON struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// Parse decodes a JSON filter payload into a Tree. An empty or "null" payload
// yields a nil tree without error.
func Parse(raw []byte) (Tree, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, ok := probe["aggregator"]; ok {
		var b branchJSON
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if b.Aggregator != AggregatorAnd && b.Aggregator != AggregatorOr {
			return nil, fmt.Errorf("%w: unknown aggregator %q", ErrMalformed, b.Aggregator)
		}
		conditions := make([]Tree, 0, len(b.Conditions))
		for _, rawChild := range b.Conditions {
			child, err := Parse(rawChild)
			if err != nil {
				return nil, err
			}
			if child != nil {
				conditions = append(conditions, child)
			}
		}
		return &Branch{Aggregator: b.Aggregator, Conditions: conditions}, nil
	}
	if _, ok := probe["field"]; ok {
		var l leafJSON
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if l.Field == "" || l.Operator == "" {
			return nil, fmt.Errorf("%w: leaf requires field and operator", ErrMalformed)
		}
		return &Leaf{Field: l.Field, Operator: l.Operator, Value: l.Value}, nil
	}
	return nil, fmt.Errorf("%w: node is neither branch nor leaf", ErrMalformed)
}

// Marshal encodes a tree back into its JSON wire form. A nil tree encodes as
// JSON null.
func Marshal(tree Tree) ([]byte, error) {
	return json.Marshal(encode(tree))
}

func encode(tree Tree) any {
	switch node := tree.(type) {
	case *Branch:
		conditions := make([]any, 0, len(node.Conditions))
		for _, child := range node.Conditions {
			conditions = append(conditions, encode(child))
		}
		return map[string]any{"aggregator": node.Aggregator, "conditions": conditions}
	case *Leaf:
		return map[string]any{"field": node.Field, "operator": node.Operator, "value": node.Value}
	default:
		return nil
	}
}

// And combines two trees under an AND branch. Nil operands collapse to the
// other operand so callers can compose optional conditions freely.
func And(a, b Tree) Tree {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return &Branch{Aggregator: AggregatorAnd, Conditions: []Tree{a, b}}
}
