// Package mergereview serves the merge review queue
package mergereview

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	fernctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

var statuses = []models.MergeReviewStatus{
	models.MergeReviewPending,
	models.MergeReviewApproved,
	models.MergeReviewRejected,
}

type Repository interface {
	List(ctx context.Context, status models.MergeReviewStatus, limit int) ([]models.MergeReview, error)
	Review(ctx context.Context, id string, req models.UpdateMergeReviewRequest) (*models.MergeReview, error)
}

type Handler struct {
	repo     Repository
	validate *validator.Validate
	logger   ectologger.Logger
}

func NewHandler(repo Repository, logger ectologger.Logger) *Handler {
	return &Handler{repo: repo, validate: validator.New(), logger: logger}
}

// Register registers merge review routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.ListMergeReviews)
	g.PATCH("/:id", h.UpdateMergeReview)
}

// ListMergeReviews lists reviews, pending ones by default
func (h *Handler) ListMergeReviews(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "routes.mergereview.ListMergeReviews")
	defer span.End()

	status := models.MergeReviewStatus(c.QueryParam("status"))
	if status == "" {
		status = models.MergeReviewPending
	}
	if !ectolinq.Contains(statuses, status) {
		return httperror.NewHTTPError(http.StatusBadRequest, "status must be one of pending, approved, rejected")
	}

	limit := defaultLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxLimit {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "limit must be between 1 and %d", maxLimit)
		}
		limit = n
	}

	reviews, err := h.repo.List(ctx, status, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reviews)
}

// UpdateMergeReview approves or rejects a pending review
func (h *Handler) UpdateMergeReview(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "routes.mergereview.UpdateMergeReview")
	defer span.End()

	var req models.UpdateMergeReviewRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, describe(err))
	}

	id := c.Param("id")
	review, err := h.repo.Review(ctx, id, req)
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"review_id": id,
		"status":    req.Status,
		"reviewer":  fernctx.GetSubject(ctx),
	}).Info("Reviewed customer merge")

	return c.JSON(http.StatusOK, review)
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, strings.ToLower(fe.Field())+": failed "+fe.Tag())
	}
	return strings.Join(msgs, "; ")
}
