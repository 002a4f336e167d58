package filters

import (
	"fmt"
	"strings"
)

// ErrMissingVariable indicates a dynamic placeholder with no substitution for
// the acting user. Scope evaluation fails closed on it.
type ErrMissingVariable struct {
	Placeholder string
}

func (e *ErrMissingVariable) Error() string {
	return fmt.Sprintf("filters: no substitution for placeholder %s", e.Placeholder)
}

// ResolveVariables returns a copy of the tree where every leaf value starting
// with "$" has been replaced with its concrete value from the substitution
// map. A placeholder absent from the map is an error, never a pass-through.
func ResolveVariables(tree Tree, values map[string]any) (Tree, error) {
	switch node := tree.(type) {
	case *Branch:
		conditions := make([]Tree, len(node.Conditions))
		for i, child := range node.Conditions {
			resolved, err := ResolveVariables(child, values)
			if err != nil {
				return nil, err
			}
			conditions[i] = resolved
		}
		return &Branch{Aggregator: node.Aggregator, Conditions: conditions}, nil
	case *Leaf:
		placeholder, ok := node.Value.(string)
		if !ok || !strings.HasPrefix(placeholder, "$") {
			return &Leaf{Field: node.Field, Operator: node.Operator, Value: node.Value}, nil
		}
		concrete, found := values[placeholder]
		if !found {
			return nil, &ErrMissingVariable{Placeholder: placeholder}
		}
		return &Leaf{Field: node.Field, Operator: node.Operator, Value: concrete}, nil
	default:
		return nil, nil
	}
}
