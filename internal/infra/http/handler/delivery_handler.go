package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/webhooks/internal/infra/notification"
	"github.com/openctemio/webhooks/pkg/apierror"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
	"github.com/openctemio/webhooks/pkg/validator"
)

const (
	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 500
)

// DeliveryQuery reads recorded delivery outcomes.
type DeliveryQuery interface {
	Get(id string) (webhook.DeliveryOutcome, bool)
	ListByUser(userID string, status webhook.DeliveryStatus, limit int) []webhook.DeliveryOutcome
	Stats(userID string) notification.DeliveryStats
}

var _ DeliveryQuery = (*notification.DeliveryLog)(nil)

// DeliveryHandler exposes delivery status.
type DeliveryHandler struct {
	log       DeliveryQuery
	validator *validator.Validator
	logger    *logger.Logger
}

// NewDeliveryHandler creates a new DeliveryHandler.
func NewDeliveryHandler(q DeliveryQuery, v *validator.Validator, log *logger.Logger) *DeliveryHandler {
	return &DeliveryHandler{
		log:       q,
		validator: v,
		logger:    log.With("handler", "deliveries"),
	}
}

type deliveryListQuery struct {
	Status string `validate:"delivery_status"`
	Limit  int    `validate:"gte=1,lte=500"`
}

func redactOutcome(o webhook.DeliveryOutcome) webhook.DeliveryOutcome {
	o.CallbackURI = logger.RedactURL(o.CallbackURI)
	return o
}

// Get handles GET /api/v1/deliveries/{id}. Deliveries of other users are
// reported as not found.
func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	outcome, found := h.log.Get(chi.URLParam(r, "id"))
	if !found || outcome.UserID != userID {
		apierror.NotFound("Delivery").WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, redactOutcome(outcome))
}

// List handles GET /api/v1/deliveries?status=&limit=
func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	q := deliveryListQuery{
		Status: r.URL.Query().Get("status"),
		Limit:  parseQueryInt(r.URL.Query().Get("limit"), defaultDeliveryLimit),
	}
	if err := h.validator.Validate(q); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	outcomes := h.log.ListByUser(userID, webhook.DeliveryStatus(q.Status), min(q.Limit, maxDeliveryLimit))
	data := make([]webhook.DeliveryOutcome, len(outcomes))
	for i, o := range outcomes {
		data[i] = redactOutcome(o)
	}
	writeJSON(w, http.StatusOK, ListResponse[webhook.DeliveryOutcome]{Data: data, Total: len(data)})
}

// Stats handles GET /api/v1/deliveries/stats
func (h *DeliveryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.log.Stats(userID))
}
