package backends

import (
	"context"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog/log"

	"github.com/nuri428/ontology-chat/internal/config"
	"github.com/nuri428/ontology-chat/internal/errkind"
)

// Neo4jGraph adapts the bolt driver to the Graph interface. Queries are
// expected to project {n, labels, ts} per row.
type Neo4jGraph struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jGraph opens a driver. Connectivity is verified lazily; startup
// never blocks on the graph backend.
func NewNeo4jGraph(cfg config.GraphBackendConfig) (*Neo4jGraph, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URL, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, errkind.Wrap(errkind.ErrBackendUnavailable, "graph driver: %v", err)
	}
	return &Neo4jGraph{driver: driver, database: cfg.Database}, nil
}

// Query runs a read query and converts records into GraphRows.
func (g *Neo4jGraph) Query(ctx context.Context, cypher string, params map[string]any) ([]GraphRow, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: g.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, classifyGraphErr(err)
	}

	var rows []GraphRow
	for result.Next(ctx) {
		rows = append(rows, recordToRow(result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, classifyGraphErr(err)
	}
	log.Debug().Int("rows", len(rows)).Msg("graph query completed")
	return rows, nil
}

func recordToRow(rec *neo4j.Record) GraphRow {
	row := GraphRow{Props: map[string]any{}}

	if v, ok := rec.Get("n"); ok {
		switch node := v.(type) {
		case neo4j.Node:
			row.Props = node.Props
		case map[string]any:
			row.Props = node
		}
	}
	if v, ok := rec.Get("labels"); ok {
		if ls, ok := v.([]any); ok {
			for _, l := range ls {
				if s, ok := l.(string); ok {
					row.Labels = append(row.Labels, s)
				}
			}
		}
	}
	if v, ok := rec.Get("ts"); ok {
		row.TS = toTime(v)
	}
	return row
}

// toTime normalizes the coalesced timestamp projection, which may be a bolt
// temporal value, an epoch, or a string depending on how the node was loaded.
func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case neo4j.Date:
		return t.Time()
	case neo4j.LocalDateTime:
		return t.Time()
	case int64:
		return time.Unix(t, 0).UTC()
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}

// Ping verifies connectivity, used by the readiness probe.
func (g *Neo4jGraph) Ping(ctx context.Context) error {
	if err := g.driver.VerifyConnectivity(ctx); err != nil {
		return errkind.Wrap(errkind.ErrBackendUnavailable, "graph: %v", err)
	}
	return nil
}

// Close shuts the driver down.
func (g *Neo4jGraph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func classifyGraphErr(err error) error {
	if kerr := errkind.FromContext(err); kerr != err {
		return errkind.Wrap(kerr, "graph: %v", err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax") || strings.Contains(msg, "invalid input"):
		return errkind.Wrap(errkind.ErrQuery, "graph: %v", err)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "refused") ||
		strings.Contains(msg, "no reachable servers") || strings.Contains(msg, "pool"):
		return errkind.Wrap(errkind.ErrBackendUnavailable, "graph: %v", err)
	default:
		return errkind.Wrap(errkind.ErrUpstream, "graph: %v", err)
	}
}
