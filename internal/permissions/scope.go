package permissions

import (
	"github.com/liana-admin/liana/internal/filters"
)

// MatchScope proves that the server-granted scope filter, with the acting
// user's placeholder values substituted, is embedded within the filter tree
// the client actually sent. The client is never trusted to merely claim it
// applied the scope.
//
// A request may narrow the scope with additional and-joined conditions at
// any depth. A request that loosens the scope by adding or-joined siblings
// is rejected: an or-rooted node only matches when its entire content is the
// expected scope.
func MatchScope(request filters.Tree, scope ScopeDefinition, userID int) bool {
	if scope.Filter == nil {
		return true
	}
	expected, err := filters.ResolveVariables(scope.Filter, scope.ValuesForUser(userID))
	if err != nil {
		// Fail closed: a placeholder without a substitution denies access.
		return false
	}

	expectedAggregator, expectedConditions := normalizeExpected(expected)
	if len(expectedConditions) == 0 {
		return true
	}

	match := searchScopeNode(request, expectedAggregator, expectedConditions)
	if match == nil {
		return false
	}
	// A lone condition cannot carry an aggregator mismatch signal; presence
	// is enough.
	if len(expectedConditions) == 1 {
		return true
	}
	return match.aggregator == expectedAggregator && match.conditionCount == len(expectedConditions)
}

type scopeMatch struct {
	aggregator     filters.Aggregator
	conditionCount int
}

// normalizeExpected flattens the substituted scope into an aggregator plus a
// list of expected conditions. A bare leaf behaves as a single and-joined
// condition.
func normalizeExpected(expected filters.Tree) (filters.Aggregator, []filters.Tree) {
	switch node := expected.(type) {
	case *filters.Branch:
		return node.Aggregator, node.Conditions
	case *filters.Leaf:
		return filters.AggregatorAnd, []filters.Tree{node}
	default:
		return filters.AggregatorAnd, nil
	}
}

// searchScopeNode walks the request tree depth-first looking for the node
// that carries the scope. The shallowest matching node on a branch wins;
// nothing deeper is searched once one is found.
func searchScopeNode(node filters.Tree, expectedAggregator filters.Aggregator, expectedConditions []filters.Tree) *scopeMatch {
	switch current := node.(type) {
	case *filters.Branch:
		kept := dropEmpty(current.Conditions)
		if match := asScopeNode(current.Aggregator, kept, expectedAggregator, expectedConditions); match != nil {
			return match
		}
		for _, child := range kept {
			if match := searchScopeNode(child, expectedAggregator, expectedConditions); match != nil {
				return match
			}
		}
		return nil
	case *filters.Leaf:
		if len(expectedConditions) == 1 && conditionFromScope(current, expectedConditions) {
			return &scopeMatch{aggregator: filters.AggregatorAnd, conditionCount: 1}
		}
		return nil
	default:
		return nil
	}
}

// asScopeNode tests whether a branch is the scope node: same condition count
// as expected, every condition found in the expected set, and an aggregator
// that either equals the expected one or is "and" (an and-wrapper is always
// compatible, modeling "scope AND extra user filters").
func asScopeNode(aggregator filters.Aggregator, conditions []filters.Tree, expectedAggregator filters.Aggregator, expectedConditions []filters.Tree) *scopeMatch {
	if len(conditions) != len(expectedConditions) {
		return nil
	}
	if aggregator != expectedAggregator && aggregator != filters.AggregatorAnd {
		return nil
	}
	for _, condition := range conditions {
		if !conditionFromScope(condition, expectedConditions) {
			return nil
		}
	}
	return &scopeMatch{aggregator: aggregator, conditionCount: len(conditions)}
}

// conditionFromScope reports whether a request condition is content-equal to
// one of the expected scope conditions. Exact match, no coercion.
func conditionFromScope(condition filters.Tree, expectedConditions []filters.Tree) bool {
	for _, expected := range expectedConditions {
		if filters.Equal(condition, expected) {
			return true
		}
	}
	return false
}

func dropEmpty(conditions []filters.Tree) []filters.Tree {
	kept := make([]filters.Tree, 0, len(conditions))
	for _, condition := range conditions {
		switch node := condition.(type) {
		case nil:
			continue
		case *filters.Branch:
			if node == nil || len(node.Conditions) == 0 {
				continue
			}
		case *filters.Leaf:
			if node == nil {
				continue
			}
		}
		kept = append(kept, condition)
	}
	return kept
}
