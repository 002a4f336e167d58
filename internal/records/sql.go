package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liana-admin/liana/internal/filters"
	"github.com/liana-admin/liana/internal/observability"
)

// identifierPattern allow-lists collection and field names before they are
// quoted into SQL.
var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PGCounter counts records by compiling filter trees into parameterized
// SELECT COUNT(*) statements against Postgres.
type PGCounter struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPGCounter constructs a PGCounter. Metrics may be nil.
func NewPGCounter(pool *pgxpool.Pool, logger *slog.Logger, metrics *observability.Metrics) *PGCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGCounter{pool: pool, logger: logger, metrics: metrics}
}

// Count executes the filter tree against the collection table.
func (c *PGCounter) Count(ctx context.Context, collection string, userID int, query CountQuery) (int64, error) {
	if !identifierPattern.MatchString(collection) {
		return 0, fmt.Errorf("%w: collection name %q", ErrInvalidFilter, collection)
	}

	builder := whereBuilder{}
	clause, err := builder.build(query.Filters)
	if err != nil {
		return 0, err
	}

	sql := fmt.Sprintf(`SELECT COUNT(*) FROM %q`, collection)
	if clause != "" {
		sql += " WHERE " + clause
	}

	start := time.Now()
	var count int64
	err = c.pool.QueryRow(ctx, sql, builder.args...).Scan(&count)
	if c.metrics != nil {
		c.metrics.ObserveCountQuery(time.Since(start))
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// A backend rejection of the generated statement means the
			// condition references something the schema cannot answer.
			c.logger.Warn("count query rejected",
				slog.String("collection", collection),
				slog.String("code", pgErr.Code),
				slog.String("message", pgErr.Message))
			return 0, fmt.Errorf("%w: %s", ErrInvalidFilter, pgErr.Message)
		}
		return 0, err
	}
	return count, nil
}

type whereBuilder struct {
	args []any
}

func (b *whereBuilder) build(tree filters.Tree) (string, error) {
	switch node := tree.(type) {
	case nil:
		return "", nil
	case *filters.Branch:
		if len(node.Conditions) == 0 {
			return "", nil
		}
		parts := make([]string, 0, len(node.Conditions))
		for _, child := range node.Conditions {
			part, err := b.build(child)
			if err != nil {
				return "", err
			}
			if part != "" {
				parts = append(parts, part)
			}
		}
		if len(parts) == 0 {
			return "", nil
		}
		joiner := " AND "
		if node.Aggregator == filters.AggregatorOr {
			joiner = " OR "
		}
		return "(" + strings.Join(parts, joiner) + ")", nil
	case *filters.Leaf:
		return b.leaf(node)
	default:
		return "", fmt.Errorf("%w: unknown node type", ErrInvalidFilter)
	}
}

func (b *whereBuilder) leaf(leaf *filters.Leaf) (string, error) {
	if !identifierPattern.MatchString(leaf.Field) {
		return "", fmt.Errorf("%w: field name %q", ErrInvalidFilter, leaf.Field)
	}
	column := fmt.Sprintf("%q", leaf.Field)

	switch leaf.Operator {
	case "equal":
		return fmt.Sprintf("%s = %s", column, b.bind(leaf.Value)), nil
	case "not_equal":
		return fmt.Sprintf("%s <> %s", column, b.bind(leaf.Value)), nil
	case "greater_than":
		return fmt.Sprintf("%s > %s", column, b.bind(leaf.Value)), nil
	case "less_than":
		return fmt.Sprintf("%s < %s", column, b.bind(leaf.Value)), nil
	case "contains":
		return fmt.Sprintf("%s LIKE %s", column, b.bind(wildcard("%", leaf.Value, "%"))), nil
	case "not_contains":
		return fmt.Sprintf("%s NOT LIKE %s", column, b.bind(wildcard("%", leaf.Value, "%"))), nil
	case "starts_with":
		return fmt.Sprintf("%s LIKE %s", column, b.bind(wildcard("", leaf.Value, "%"))), nil
	case "ends_with":
		return fmt.Sprintf("%s LIKE %s", column, b.bind(wildcard("%", leaf.Value, ""))), nil
	case "present":
		return fmt.Sprintf("%s IS NOT NULL", column), nil
	case "blank":
		return fmt.Sprintf("%s IS NULL", column), nil
	case "in":
		values, ok := leaf.Value.([]any)
		if !ok || len(values) == 0 {
			return "", fmt.Errorf("%w: operator in requires a non-empty list", ErrInvalidFilter)
		}
		placeholders := make([]string, len(values))
		for i, value := range values {
			placeholders[i] = b.bind(value)
		}
		return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")), nil
	default:
		return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, leaf.Operator)
	}
}

func (b *whereBuilder) bind(value any) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", len(b.args))
}

func wildcard(prefix string, value any, suffix string) string {
	return prefix + fmt.Sprintf("%v", value) + suffix
}
