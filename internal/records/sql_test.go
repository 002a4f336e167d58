package records

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liana-admin/liana/internal/filters"
)

func TestWhereBuilderLeafOperators(t *testing.T) {
	cases := []struct {
		leaf *filters.Leaf
		sql  string
		args []any
	}{
		{&filters.Leaf{Field: "status", Operator: "equal", Value: "draft"}, `"status" = $1`, []any{"draft"}},
		{&filters.Leaf{Field: "status", Operator: "not_equal", Value: "draft"}, `"status" <> $1`, []any{"draft"}},
		{&filters.Leaf{Field: "price", Operator: "greater_than", Value: 10}, `"price" > $1`, []any{10}},
		{&filters.Leaf{Field: "price", Operator: "less_than", Value: 10}, `"price" < $1`, []any{10}},
		{&filters.Leaf{Field: "title", Operator: "contains", Value: "go"}, `"title" LIKE $1`, []any{"%go%"}},
		{&filters.Leaf{Field: "title", Operator: "not_contains", Value: "go"}, `"title" NOT LIKE $1`, []any{"%go%"}},
		{&filters.Leaf{Field: "title", Operator: "starts_with", Value: "go"}, `"title" LIKE $1`, []any{"go%"}},
		{&filters.Leaf{Field: "title", Operator: "ends_with", Value: "go"}, `"title" LIKE $1`, []any{"%go"}},
		{&filters.Leaf{Field: "deleted_at", Operator: "present"}, `"deleted_at" IS NOT NULL`, nil},
		{&filters.Leaf{Field: "deleted_at", Operator: "blank"}, `"deleted_at" IS NULL`, nil},
		{&filters.Leaf{Field: "status", Operator: "in", Value: []any{"a", "b"}}, `"status" IN ($1, $2)`, []any{"a", "b"}},
	}

	for _, tc := range cases {
		builder := whereBuilder{}
		clause, err := builder.build(tc.leaf)
		require.NoError(t, err, tc.leaf.Operator)
		require.Equal(t, tc.sql, clause)
		require.Equal(t, tc.args, builder.args)
	}
}

func TestWhereBuilderBranch(t *testing.T) {
	tree := &filters.Branch{Aggregator: filters.AggregatorOr, Conditions: []filters.Tree{
		&filters.Leaf{Field: "status", Operator: "equal", Value: "draft"},
		&filters.Branch{Aggregator: filters.AggregatorAnd, Conditions: []filters.Tree{
			&filters.Leaf{Field: "price", Operator: "greater_than", Value: 10},
			&filters.Leaf{Field: "price", Operator: "less_than", Value: 100},
		}},
	}}

	builder := whereBuilder{}
	clause, err := builder.build(tree)
	require.NoError(t, err)
	require.Equal(t, `("status" = $1 OR ("price" > $2 AND "price" < $3))`, clause)
	require.Equal(t, []any{"draft", 10, 100}, builder.args)
}

func TestWhereBuilderEmpty(t *testing.T) {
	builder := whereBuilder{}
	clause, err := builder.build(nil)
	require.NoError(t, err)
	require.Empty(t, clause)

	clause, err = builder.build(&filters.Branch{Aggregator: filters.AggregatorAnd})
	require.NoError(t, err)
	require.Empty(t, clause)
}

func TestWhereBuilderRejectsBadInput(t *testing.T) {
	builder := whereBuilder{}
	_, err := builder.build(&filters.Leaf{Field: "name; DROP TABLE books", Operator: "equal", Value: 1})
	require.ErrorIs(t, err, ErrInvalidFilter)

	_, err = builder.build(&filters.Leaf{Field: "name", Operator: "resembles", Value: 1})
	require.ErrorIs(t, err, ErrInvalidFilter)

	_, err = builder.build(&filters.Leaf{Field: "status", Operator: "in", Value: "not-a-list"})
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestCountRejectsBadCollection(t *testing.T) {
	counter := NewPGCounter(nil, nil, nil)
	_, err := counter.Count(context.Background(), `books"; DROP TABLE`, 1, CountQuery{})
	require.ErrorIs(t, err, ErrInvalidFilter)
}
