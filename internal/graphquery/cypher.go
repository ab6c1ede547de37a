// Package graphquery builds label-aware Cypher for keyword lookups across the
// ontology. Each configured label contributes one union block matching its
// searchable attributes directly, and every block projects the same
// {n, labels, ts} shape so callers never branch on label.
package graphquery

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// tsExpr normalizes the per-label timestamp attributes into one sortable
// value. Labels without any of these attributes yield null, which sorts last.
const tsExpr = "coalesce(n.published_at, n.award_date, n.lastSeenAt)"

// Builder renders keyword queries from a label -> searchable-attributes map.
type Builder struct {
	searchKeys map[string][]string
}

// NewBuilder keeps the configured key map. Attribute order within a label is
// preserved; label order in the output is sorted for determinism.
func NewBuilder(searchKeys map[string][]string) *Builder {
	return &Builder{searchKeys: searchKeys}
}

// Query is a rendered Cypher statement with its parameters.
type Query struct {
	Cypher string
	Params map[string]any
}

// Keyword builds the union query for one keyword. limit bounds total rows;
// lookback, when positive, restricts rows to nodes stamped within the window
// (unstamped nodes always pass, reference data has no timestamps).
func (b *Builder) Keyword(keyword string, limit int, lookback time.Duration, now time.Time) (Query, error) {
	if strings.TrimSpace(keyword) == "" {
		return Query{}, fmt.Errorf("empty keyword")
	}
	if len(b.searchKeys) == 0 {
		return Query{}, fmt.Errorf("no searchable labels configured")
	}
	if limit <= 0 {
		limit = 30
	}

	labels := make([]string, 0, len(b.searchKeys))
	for label := range b.searchKeys {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var blocks []string
	for _, label := range labels {
		attrs := b.searchKeys[label]
		if len(attrs) == 0 {
			continue
		}
		conds := make([]string, len(attrs))
		for i, attr := range attrs {
			conds[i] = fmt.Sprintf("toLower(n.%s) CONTAINS toLower($q)", attr)
		}
		where := strings.Join(conds, " OR ")
		if len(conds) > 1 {
			where = "(" + where + ")"
		}
		if lookback > 0 {
			where += fmt.Sprintf(" AND (%s IS NULL OR %s >= $since)", tsExpr, tsExpr)
		}
		blocks = append(blocks, fmt.Sprintf(
			"  MATCH (n:%s)\n  WHERE %s\n  RETURN n, labels(n) AS labels, %s AS ts",
			label, where, tsExpr))
	}
	if len(blocks) == 0 {
		return Query{}, fmt.Errorf("no searchable labels configured")
	}

	cypher := "CALL {\n" + strings.Join(blocks, "\n  UNION\n") +
		"\n}\nRETURN n, labels, ts\nORDER BY ts DESC\nLIMIT $limit"

	params := map[string]any{"q": keyword, "limit": limit}
	if lookback > 0 {
		params["since"] = now.Add(-lookback).UTC().Format(time.RFC3339)
	}
	return Query{Cypher: cypher, Params: params}, nil
}

// Neighborhood builds a one-hop expansion around nodes matching a company
// name, used by the deep path to pull related entities.
func (b *Builder) Neighborhood(company string, limit int) (Query, error) {
	if strings.TrimSpace(company) == "" {
		return Query{}, fmt.Errorf("empty company")
	}
	if limit <= 0 {
		limit = 30
	}
	cypher := `MATCH (c:Company)-[r]-(n)
WHERE toLower(c.name) CONTAINS toLower($q)
RETURN n, labels(n) AS labels, ` + tsExpr + ` AS ts
ORDER BY ts DESC
LIMIT $limit`
	return Query{Cypher: cypher, Params: map[string]any{"q": company, "limit": limit}}, nil
}
