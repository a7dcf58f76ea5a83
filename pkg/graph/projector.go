package graph

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	mergeCustomersCypher = `
		UNWIND $ids AS id
		MERGE (c:Customer {id: id})
	`
	dropAbsorbedCypher = `
		MATCH (c:Customer)
		WHERE c.id IN $ids
		DETACH DELETE c
	`
	clearEdgesCypher = `
		MATCH (:Customer)-[r:CONNECTED_WITH]->(:Customer)
		DELETE r
	`
	createEdgesCypher = `
		UNWIND $rows AS row
		MATCH (a:Customer {id: row.from})
		MATCH (b:Customer {id: row.to})
		CREATE (a)-[:CONNECTED_WITH {
			strength: row.strength,
			interaction_count: row.interaction_count,
			interaction_types: row.interaction_types,
			first_interaction_date: row.first_interaction_date,
			last_interaction_date: row.last_interaction_date
		}]->(b)
	`
)

// Writer applies statements in one write transaction
type Writer interface {
	Apply(ctx context.Context, statements ...Statement) (Counters, error)
}

// Projector mirrors the connection table as :CONNECTED_WITH edges between
// :Customer nodes. It implements pipeline.Publisher.
type Projector struct {
	client Writer
	logger ectologger.Logger
}

func NewProjector(client Writer, logger ectologger.Logger) *Projector {
	return &Projector{client: client, logger: logger}
}

func (p *Projector) Name() string {
	return "graph"
}

// Publish replaces every edge with the run's connection table in one transaction
func (p *Projector) Publish(ctx context.Context, out *models.RunOutput) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.Publish")
	defer span.End()

	start := time.Now()
	proj := project(out)

	counters, err := p.client.Apply(ctx, proj.statements()...)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordGraphSync(status, time.Since(start).Seconds())

	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("run_id", out.RunID).Error("Failed to project connections to graph")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":   out.RunID,
		"nodes":    len(proj.nodes),
		"absorbed": len(proj.absorbed),
		"edges":    len(proj.edges),
		"created":  counters.RelationshipsCreated,
		"deleted":  counters.RelationshipsDeleted,
	}).Info("Projected connections to graph")
	return nil
}

type projection struct {
	nodes    []string
	absorbed []string
	edges    []map[string]any
}

// statements drops absorbed customers, merges live ones, then swaps every edge
func (proj projection) statements() []Statement {
	return []Statement{
		{Cypher: dropAbsorbedCypher, Params: map[string]any{"ids": proj.absorbed}},
		{Cypher: mergeCustomersCypher, Params: map[string]any{"ids": proj.nodes}},
		{Cypher: clearEdgesCypher},
		{Cypher: createEdgesCypher, Params: map[string]any{"rows": proj.edges}},
	}
}

// project splits the run output into node ids, absorbed ids and edge rows.
// Every connection endpoint becomes a node even when the run did not touch
// that customer.
func project(out *models.RunOutput) projection {
	proj := projection{nodes: []string{}, absorbed: []string{}, edges: []map[string]any{}}
	seen := map[string]bool{}
	addNode := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		proj.nodes = append(proj.nodes, id)
	}

	for _, c := range out.Customers {
		if c.IsMerged() {
			proj.absorbed = append(proj.absorbed, c.CustomerID)
			continue
		}
		addNode(c.CustomerID)
	}
	for _, c := range out.Connections {
		addNode(c.CustomerID1)
		addNode(c.CustomerID2)

		types := make([]string, len(c.InteractionTypes))
		copy(types, c.InteractionTypes)
		proj.edges = append(proj.edges, map[string]any{
			"from":                   c.CustomerID1,
			"to":                     c.CustomerID2,
			"strength":               int64(c.StrengthScore),
			"interaction_count":      int64(c.InteractionCount),
			"interaction_types":      types,
			"first_interaction_date": c.FirstInteractionDate.Format(time.DateOnly),
			"last_interaction_date":  c.LastInteractionDate.Format(time.DateOnly),
		})
	}
	return proj
}
