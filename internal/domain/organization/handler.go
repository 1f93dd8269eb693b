package organization

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/arborhealth/arbor/internal/platform/fhir"
)

type Handler struct {
	repo Repository
	log  zerolog.Logger
}

func NewHandler(repo Repository, log zerolog.Logger) *Handler {
	return &Handler{repo: repo, log: log}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/organizations", h.Create)
	api.GET("/organizations/:id", h.Get)
}

// CreateRequest is the practice registration payload.
type CreateRequest struct {
	Name  string  `json:"name"`
	Email *string `json:"email,omitempty"`
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, fhir.ErrorOutcome("name is required"))
	}

	org := &Organization{
		Name:   req.Name,
		Email:  req.Email,
		Active: true,
	}
	if err := h.repo.Create(c.Request().Context(), org); err != nil {
		h.log.Error().Err(err).Msg("organization create failed")
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome("failed to create organization"))
	}
	return c.JSON(http.StatusCreated, org.ToFHIR())
}

// Get returns the organization as a FHIR Organization resource with its
// subscription-* extensions. The path parameter is resolved as a FHIR id
// first, then as the internal UUID.
func (h *Handler) Get(c echo.Context) error {
	raw := c.Param("id")

	org, err := h.repo.GetByFHIRID(c.Request().Context(), raw)
	if errors.Is(err, ErrNotFound) {
		if id, parseErr := uuid.Parse(raw); parseErr == nil {
			org, err = h.repo.GetByID(c.Request().Context(), id)
		}
	}
	if errors.Is(err, ErrNotFound) {
		return c.JSON(http.StatusNotFound, fhir.ErrorOutcome("Organization not found"))
	}
	if err != nil {
		h.log.Error().Err(err).Str("id", raw).Msg("organization lookup failed")
		return c.JSON(http.StatusInternalServerError, fhir.ErrorOutcome("failed to load organization"))
	}
	return c.JSON(http.StatusOK, org.ToFHIR())
}
