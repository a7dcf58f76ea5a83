// Package customer serves customer identity, timeline and connection reads
package customer

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	defaultEventLimit = 500
	maxEventLimit     = 5000
	// merge chains are flattened by the resolver; this only guards a corrupt table
	maxMergeHops = 16
)

type CustomerRepository interface {
	Get(ctx context.Context, customerID string) (*models.Customer, error)
	ListMergedInto(ctx context.Context, customerID string) ([]string, error)
}

type LinkRepository interface {
	ListByCustomers(ctx context.Context, customerIDs []string) ([]models.IdentifierLink, error)
}

type EventRepository interface {
	ListByCustomers(ctx context.Context, customerIDs []string, limit int) ([]models.Event, error)
}

type ConnectionRepository interface {
	ListByCustomers(ctx context.Context, customerIDs []string, minStrength int) ([]models.Connection, error)
}

// Response is a customer with every identifier resolved to it
type Response struct {
	models.Customer
	Identifiers       []models.IdentifierLink `json:"identifiers"`
	MergedCustomerIDs []string                `json:"merged_customer_ids"`
}

type Handler struct {
	customers   CustomerRepository
	links       LinkRepository
	events      EventRepository
	connections ConnectionRepository
}

func NewHandler(customers CustomerRepository, links LinkRepository, events EventRepository, connections ConnectionRepository) *Handler {
	return &Handler{customers: customers, links: links, events: events, connections: connections}
}

// Register registers customer routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/:id", h.GetCustomer)
	g.GET("/:id/events", h.ListEvents)
	g.GET("/:id/connections", h.ListConnections)
}

// GetCustomer returns a customer and its identifiers. Merged ids redirect to the survivor.
func (h *Handler) GetCustomer(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "routes.customer.GetCustomer")
	defer span.End()

	customer, redirected, err := h.resolve(ctx, c, "")
	if err != nil || redirected {
		return err
	}

	ids, err := h.withAbsorbed(ctx, customer.CustomerID)
	if err != nil {
		return err
	}
	links, err := h.links.ListByCustomers(ctx, ids)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, Response{
		Customer:          *customer,
		Identifiers:       links,
		MergedCustomerIDs: ids[1:],
	})
}

// ListEvents returns the customer's timeline in date order
func (h *Handler) ListEvents(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "routes.customer.ListEvents")
	defer span.End()

	limit, err := intParam(c, "limit", defaultEventLimit)
	if err != nil {
		return err
	}
	if limit <= 0 || limit > maxEventLimit {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "limit must be between 1 and %d", maxEventLimit)
	}

	customer, redirected, err := h.resolve(ctx, c, "/events")
	if err != nil || redirected {
		return err
	}

	ids, err := h.withAbsorbed(ctx, customer.CustomerID)
	if err != nil {
		return err
	}
	events, err := h.events.ListByCustomers(ctx, ids, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, events)
}

// ListConnections returns the customer's connections, strongest first
func (h *Handler) ListConnections(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "routes.customer.ListConnections")
	defer span.End()

	minStrength, err := intParam(c, "min_strength", 0)
	if err != nil {
		return err
	}
	if minStrength < 0 || minStrength > 5 {
		return httperror.NewHTTPError(http.StatusBadRequest, "min_strength must be between 0 and 5")
	}

	customer, redirected, err := h.resolve(ctx, c, "/connections")
	if err != nil || redirected {
		return err
	}

	conns, err := h.connections.ListByCustomers(ctx, []string{customer.CustomerID}, minStrength)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conns)
}

// resolve loads the path customer. When it was merged forward the response is
// a permanent redirect to the survivor's resource and redirected is true.
func (h *Handler) resolve(ctx context.Context, c echo.Context, suffix string) (*models.Customer, bool, error) {
	id := c.Param("id")
	customer, err := h.customers.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !customer.IsMerged() {
		return customer, false, nil
	}

	survivor := customer
	for hops := 0; survivor.IsMerged(); hops++ {
		if hops >= maxMergeHops {
			return nil, false, httperror.NewHTTPErrorf(http.StatusInternalServerError, "customer %s has an unresolvable merge chain", id)
		}
		survivor, err = h.customers.Get(ctx, *survivor.MergedInto)
		if err != nil {
			return nil, false, err
		}
	}

	location := "/api/v1/customers/" + survivor.CustomerID + suffix
	if q := c.QueryString(); q != "" {
		location += "?" + q
	}
	return nil, true, c.Redirect(http.StatusPermanentRedirect, location)
}

// withAbsorbed returns the survivor followed by every customer merged into it
func (h *Handler) withAbsorbed(ctx context.Context, survivorID string) ([]string, error) {
	ids := []string{survivorID}
	seen := map[string]bool{survivorID: true}
	for i := 0; i < len(ids); i++ {
		absorbed, err := h.customers.ListMergedInto(ctx, ids[i])
		if err != nil {
			return nil, err
		}
		for _, a := range absorbed {
			if !seen[a] {
				seen[a] = true
				ids = append(ids, a)
			}
		}
	}
	return ids, nil
}

func intParam(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, httperror.NewHTTPErrorf(http.StatusBadRequest, "%s must be an integer", name)
	}
	return n, nil
}
