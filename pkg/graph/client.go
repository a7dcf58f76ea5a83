// Package graph projects the connection table into Memgraph/Neo4j over Bolt
package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
}

// URI is the bolt address of the graph database
func (c Config) URI() string {
	return fmt.Sprintf("bolt://%s:%d", c.Host, c.Port)
}

// Statement is one parameterized Cypher query
type Statement struct {
	Cypher string
	Params map[string]any
}

// Counters totals what a set of statements changed in the graph
type Counters struct {
	NodesCreated         int
	NodesDeleted         int
	RelationshipsCreated int
	RelationshipsDeleted int
}

func (c *Counters) add(s neo4j.Counters) {
	c.NodesCreated += s.NodesCreated()
	c.NodesDeleted += s.NodesDeleted()
	c.RelationshipsCreated += s.RelationshipsCreated()
	c.RelationshipsDeleted += s.RelationshipsDeleted()
}

// Client runs fern's projection statements against the graph database
type Client struct {
	driver neo4j.DriverWithContext
	logger ectologger.Logger
}

// NewClient creates the driver. It connects lazily; call VerifyConnectivity to fail fast.
func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI(), auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver for %s: %w", cfg.URI(), err)
	}
	return &Client{driver: driver, logger: logger}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) VerifyConnectivity(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// Apply runs the statements in order inside one write transaction. Either
// every statement lands or none do.
func (c *Client) Apply(ctx context.Context, statements ...Statement) (Counters, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Client.Apply")
	defer span.End()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	counters, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		var total Counters
		for i, s := range statements {
			result, err := tx.Run(ctx, s.Cypher, s.Params)
			if err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			summary, err := result.Consume(ctx)
			if err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			total.add(summary.Counters())
		}
		return total, nil
	})
	if err != nil {
		tracing.Fail(span, err)
		return Counters{}, err
	}
	return counters.(Counters), nil
}
