// Package store publishes run output to Postgres in one transaction.
package store

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/repositories/connection"
	"github.com/Ramsey-B/fern/internal/repositories/customer"
	"github.com/Ramsey-B/fern/internal/repositories/customerevent"
	"github.com/Ramsey-B/fern/internal/repositories/customermerge"
	"github.com/Ramsey-B/fern/internal/repositories/identifierlink"
	"github.com/Ramsey-B/fern/internal/repositories/interaction"
	"github.com/Ramsey-B/fern/internal/repositories/mergereview"
	"github.com/Ramsey-B/fern/internal/repositories/pipelinerun"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Store implements the pipeline's output store over the repositories
type Store struct {
	db        database.DB
	logger    ectologger.Logger
	batchSize int

	Customers    *customer.Repository
	Links        *identifierlink.Repository
	Merges       *customermerge.Repository
	Reviews      *mergereview.Repository
	Events       *customerevent.Repository
	Interactions *interaction.Repository
	Connections  *connection.Repository
	Runs         *pipelinerun.Repository
}

// New wires every repository. batchSize bounds the rows per insert statement.
func New(db database.DB, logger ectologger.Logger, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Store{
		db:           db,
		logger:       logger,
		batchSize:    batchSize,
		Customers:    customer.NewRepository(db, logger),
		Links:        identifierlink.NewRepository(db, logger),
		Merges:       customermerge.NewRepository(db, logger),
		Reviews:      mergereview.NewRepository(db, logger),
		Events:       customerevent.NewRepository(db, logger),
		Interactions: interaction.NewRepository(db, logger),
		Connections:  connection.NewRepository(db, logger),
		Runs:         pipelinerun.NewRepository(db, logger),
	}
}

func (s *Store) LoadSnapshot(ctx context.Context) (*identity.Snapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "store.Store.LoadSnapshot")
	defer span.End()

	customers, err := s.Customers.List(ctx)
	if err != nil {
		return nil, err
	}
	links, err := s.Links.List(ctx)
	if err != nil {
		return nil, err
	}
	merges, err := s.Merges.List(ctx)
	if err != nil {
		return nil, err
	}
	return &identity.Snapshot{Customers: customers, Links: links, Merges: merges}, nil
}

func (s *Store) LoadInteractions(ctx context.Context) ([]models.Interaction, error) {
	return s.Interactions.List(ctx)
}

// Publish writes every output table of a run inside one transaction
func (s *Store) Publish(ctx context.Context, out *models.RunOutput) error {
	ctx, span := tracing.StartSpan(ctx, "store.Store.Publish")
	defer span.End()

	err := database.WithTx(ctx, s.db, func(ctx context.Context) error {
		if err := chunked(ctx, out.Customers, s.batchSize, s.Customers.UpsertMany); err != nil {
			return err
		}
		if err := chunked(ctx, uniqueLinks(out.Links), s.batchSize, s.Links.UpsertMany); err != nil {
			return err
		}
		if err := chunked(ctx, out.Merges, s.batchSize, s.Merges.InsertMany); err != nil {
			return err
		}
		if err := chunked(ctx, out.MergeReviews, s.batchSize, s.Reviews.InsertMany); err != nil {
			return err
		}
		if err := chunked(ctx, out.Events, s.batchSize, s.Events.UpsertMany); err != nil {
			return err
		}
		if err := chunked(ctx, out.Interactions, s.batchSize, func(ctx context.Context, rows []models.Interaction) error {
			_, err := s.Interactions.InsertMany(ctx, rows)
			return err
		}); err != nil {
			return err
		}
		if err := s.replaceConnections(ctx, out.Connections); err != nil {
			return err
		}
		if out.Summary != nil {
			return s.Runs.Save(ctx, out.Summary)
		}
		return nil
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("run_id", out.RunID).Error("Run publication rolled back")
		return fmt.Errorf("failed to publish run %s: %w", out.RunID, err)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":       out.RunID,
		"customers":    len(out.Customers),
		"links":        len(out.Links),
		"events":       len(out.Events),
		"interactions": len(out.Interactions),
		"connections":  len(out.Connections),
	}).Info("Published run")
	return nil
}

func (s *Store) ReplaceConnections(ctx context.Context, connections []models.Connection) error {
	ctx, span := tracing.StartSpan(ctx, "store.Store.ReplaceConnections")
	defer span.End()

	return database.WithTx(ctx, s.db, func(ctx context.Context) error {
		return s.replaceConnections(ctx, connections)
	})
}

func (s *Store) replaceConnections(ctx context.Context, connections []models.Connection) error {
	if err := s.Connections.DeleteAll(ctx); err != nil {
		return err
	}
	return chunked(ctx, connections, s.batchSize, s.Connections.InsertMany)
}

func (s *Store) SaveRun(ctx context.Context, summary *models.RunSummary) error {
	return s.Runs.Save(ctx, summary)
}

func chunked[T any](ctx context.Context, rows []T, size int, write func(context.Context, []T) error) error {
	for _, chunk := range database.Chunk(rows, size) {
		if err := write(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// uniqueLinks keeps the last link per identifier key; one statement cannot upsert a key twice
func uniqueLinks(links []models.IdentifierLink) []models.IdentifierLink {
	pos := make(map[string]int, len(links))
	out := make([]models.IdentifierLink, 0, len(links))
	for _, l := range links {
		if i, ok := pos[l.Key()]; ok {
			out[i] = l
			continue
		}
		pos[l.Key()] = len(out)
		out = append(out, l)
	}
	return out
}
