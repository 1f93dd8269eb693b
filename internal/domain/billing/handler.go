package billing

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"

	"github.com/arborhealth/arbor/internal/platform/auth"
)

// maxWebhookBody caps webhook payload reads, matching the gateway's own
// delivery size limit.
const maxWebhookBody = 64 * 1024

type Handler struct {
	svc           *Service
	webhookSecret string
	log           zerolog.Logger
}

func NewHandler(svc *Service, webhookSecret string, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, webhookSecret: webhookSecret, log: log}
}

// RegisterRoutes mounts the authenticated billing API.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/billing/actions", h.Action)
	api.GET("/billing/plans", h.ListPlans)
	api.GET("/billing/state", h.GetState)
	api.POST("/billing/usage", h.RecordUsage)
}

// RegisterWebhookRoutes mounts the unauthenticated webhook receiver; its
// requests are authenticated by signature instead of JWT.
func (h *Handler) RegisterWebhookRoutes(g *echo.Group) {
	g.POST("/stripe", h.StripeWebhook)
}

// ActionRequest is the front end's billing action payload.
type ActionRequest struct {
	OrganizationID string `json:"organizationId"`
	Action         string `json:"action"`
	PriceID        string `json:"priceId,omitempty"`
	CustomerName   string `json:"customerName,omitempty"`
	CustomerEmail  string `json:"customerEmail,omitempty"`
}

func (h *Handler) Action(c echo.Context) error {
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.OrganizationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "organizationId is required")
	}
	orgID, err := uuid.Parse(req.OrganizationID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid organizationId")
	}
	if claimOrg := auth.OrganizationIDFromContext(c.Request().Context()); claimOrg != "" && claimOrg != req.OrganizationID {
		return echo.NewHTTPError(http.StatusForbidden, "organization mismatch")
	}

	ctx := c.Request().Context()
	var result *ActionResult
	switch req.Action {
	case "create":
		result, err = h.svc.Create(ctx, orgID, req.PriceID, req.CustomerName, req.CustomerEmail)
	case "upgrade":
		result, err = h.svc.Upgrade(ctx, orgID, req.PriceID)
	case "cancel":
		result, err = h.svc.Cancel(ctx, orgID)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown action: "+req.Action)
	}
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) ListPlans(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"plans": h.svc.Plans()})
}

func (h *Handler) GetState(c echo.Context) error {
	orgID, err := h.resolveOrgID(c)
	if err != nil {
		return err
	}
	state, err := h.svc.State(c.Request().Context(), orgID)
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, state)
}

func (h *Handler) RecordUsage(c echo.Context) error {
	orgID, err := h.resolveOrgID(c)
	if err != nil {
		return err
	}
	state, err := h.svc.ConsumeSession(c.Request().Context(), orgID)
	if err != nil {
		return h.toHTTPError(err)
	}
	return c.JSON(http.StatusOK, state)
}

// StripeWebhook receives gateway deliveries. The signature is verified
// before any decode or side effect; a processing failure returns 500 so the
// gateway redelivers.
func (h *Handler) StripeWebhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable payload")
	}

	stripeEvent, err := stripewebhook.ConstructEvent(payload, c.Request().Header.Get("Stripe-Signature"), h.webhookSecret)
	if err != nil {
		h.log.Warn().Err(err).Msg("webhook signature verification failed")
		return echo.NewHTTPError(http.StatusBadRequest, "signature verification failed")
	}

	ev, err := DecodeEvent(stripeEvent.ID, string(stripeEvent.Type), stripeEvent.Data.Raw)
	if err != nil {
		h.log.Warn().Err(err).Str("event_id", stripeEvent.ID).Msg("webhook payload decode failed")
		return echo.NewHTTPError(http.StatusBadRequest, "malformed event payload")
	}

	if err := h.svc.HandleEvent(c.Request().Context(), ev); err != nil {
		h.log.Error().Err(err).Str("event_id", ev.ID).Str("type", ev.RawType).Msg("webhook handling failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "event handling failed")
	}
	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}

// resolveOrgID takes the organization from the JWT claim, falling back to
// the organizationId query parameter (dev mode has no claim).
func (h *Handler) resolveOrgID(c echo.Context) (uuid.UUID, error) {
	raw := auth.OrganizationIDFromContext(c.Request().Context())
	if raw == "" {
		raw = c.QueryParam("organizationId")
	}
	if raw == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "organizationId is required")
	}
	orgID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid organizationId")
	}
	return orgID, nil
}

// toHTTPError maps the billing error taxonomy onto HTTP status codes in one
// place: validation 400, not found 404, conflict/quota 409, gateway failure
// 502, gateway timeout 504.
func (h *Handler) toHTTPError(err error) error {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		conflict   *ConflictError
		quota      *QuotaError
		external   *ExternalServiceError
	)
	switch {
	case errors.As(err, &validation):
		return echo.NewHTTPError(http.StatusBadRequest, validation.Error())
	case errors.As(err, &notFound):
		return echo.NewHTTPError(http.StatusNotFound, notFound.Error())
	case errors.As(err, &conflict):
		return echo.NewHTTPError(http.StatusConflict, conflict.Error())
	case errors.As(err, &quota):
		return echo.NewHTTPError(http.StatusConflict, quota.Error())
	case errors.As(err, &external):
		if external.Timeout {
			return echo.NewHTTPError(http.StatusGatewayTimeout, "payment gateway timed out")
		}
		return echo.NewHTTPError(http.StatusBadGateway, "payment gateway unavailable")
	default:
		h.log.Error().Err(err).Msg("unhandled billing error")
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
