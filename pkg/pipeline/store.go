package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Ramsey-B/fern/pkg/identity"
	"github.com/Ramsey-B/fern/pkg/models"
)

// ErrRunInProgress is returned when another run holds the pipeline lock
var ErrRunInProgress = errors.New("another pipeline run is in progress")

// Store is the durable home of every output table
type Store interface {
	LoadSnapshot(ctx context.Context) (*identity.Snapshot, error)
	LoadInteractions(ctx context.Context) ([]models.Interaction, error)
	// Publish writes a run's output atomically: all tables or none
	Publish(ctx context.Context, out *models.RunOutput) error
	// ReplaceConnections swaps the connection table and nothing else
	ReplaceConnections(ctx context.Context, connections []models.Connection) error
	SaveRun(ctx context.Context, summary *models.RunSummary) error
}

// Lock is a held run lock
type Lock interface {
	Release(ctx context.Context) error
}

// Locker grants exclusive ownership of the output tables. Acquire must fail
// fast with an error wrapping ErrRunInProgress when the lock is held.
type Locker interface {
	Acquire(ctx context.Context, name string) (Lock, error)
}

// Publisher fans a committed run out to downstream systems
type Publisher interface {
	Name() string
	Publish(ctx context.Context, out *models.RunOutput) error
}

// LocalLocker is an in-process Locker for dry runs and tests
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

type localLock struct {
	locker *LocalLocker
	name   string
}

func (l *LocalLocker) Acquire(_ context.Context, name string) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, ErrRunInProgress
	}
	l.held[name] = true
	return &localLock{locker: l, name: name}, nil
}

func (l *localLock) Release(_ context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.name)
	return nil
}

// MemoryStore keeps every table in memory with the same conflict rules as Postgres
type MemoryStore struct {
	mu           sync.RWMutex
	customers    map[string]models.Customer
	links        map[string]models.IdentifierLink
	merges       []models.CustomerMerge
	reviews      map[string]models.MergeReview
	events       map[string]models.Event
	interactions map[string]models.Interaction
	order        []string
	connections  []models.Connection
	runs         []models.RunSummary
	// FailPublish makes the next Publish fail, for exercising rollback paths
	FailPublish error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers:    make(map[string]models.Customer),
		links:        make(map[string]models.IdentifierLink),
		reviews:      make(map[string]models.MergeReview),
		events:       make(map[string]models.Event),
		interactions: make(map[string]models.Interaction),
	}
}

func (s *MemoryStore) LoadSnapshot(_ context.Context) (*identity.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &identity.Snapshot{Merges: append([]models.CustomerMerge(nil), s.merges...)}
	for _, c := range s.customers {
		snap.Customers = append(snap.Customers, c)
	}
	for _, l := range s.links {
		snap.Links = append(snap.Links, l)
	}
	sort.Slice(snap.Customers, func(i, j int) bool { return snap.Customers[i].CustomerID < snap.Customers[j].CustomerID })
	sort.Slice(snap.Links, func(i, j int) bool { return snap.Links[i].Key() < snap.Links[j].Key() })
	return snap, nil
}

func (s *MemoryStore) LoadInteractions(_ context.Context) ([]models.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Interaction, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.interactions[id])
	}
	return out, nil
}

func (s *MemoryStore) Publish(_ context.Context, out *models.RunOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailPublish; err != nil {
		s.FailPublish = nil
		return err
	}

	for _, c := range out.Customers {
		s.customers[c.CustomerID] = c
	}
	for _, l := range out.Links {
		s.links[l.Key()] = l
	}
	s.merges = append(s.merges, out.Merges...)
	for _, r := range out.MergeReviews {
		s.reviews[r.ID] = r
	}
	for _, e := range out.Events {
		s.events[e.EventID] = e
	}
	for _, i := range out.Interactions {
		if _, ok := s.interactions[i.InteractionID]; ok {
			continue
		}
		s.interactions[i.InteractionID] = i
		s.order = append(s.order, i.InteractionID)
	}
	s.connections = append([]models.Connection(nil), out.Connections...)
	if out.Summary != nil {
		s.runs = append(s.runs, *out.Summary)
	}
	return nil
}

func (s *MemoryStore) ReplaceConnections(_ context.Context, connections []models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections = append([]models.Connection(nil), connections...)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, summary *models.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *summary)
	return nil
}

// Connections returns the current connection table
func (s *MemoryStore) Connections() []models.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Connection(nil), s.connections...)
}

// Events returns every stored event
func (s *MemoryStore) Events() []models.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

// Runs returns every recorded run summary in order
func (s *MemoryStore) Runs() []models.RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.RunSummary(nil), s.runs...)
}
