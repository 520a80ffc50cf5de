package handler

import (
	"net/http"

	"github.com/openctemio/webhooks/pkg/domain/webhook"
)

// FilterLister exposes the filter catalog.
type FilterLister interface {
	List() []webhook.Filter
}

// FilterHandler lists the actions a registration may subscribe to.
type FilterHandler struct {
	catalog FilterLister
}

// NewFilterHandler creates a new FilterHandler.
func NewFilterHandler(catalog FilterLister) *FilterHandler {
	return &FilterHandler{catalog: catalog}
}

// FilterResponse is one catalog entry.
type FilterResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// List handles GET /api/v1/filters
func (h *FilterHandler) List(w http.ResponseWriter, _ *http.Request) {
	filters := h.catalog.List()
	data := make([]FilterResponse, len(filters))
	for i, f := range filters {
		data[i] = FilterResponse{Name: f.Name, Description: f.Description}
	}
	writeJSON(w, http.StatusOK, ListResponse[FilterResponse]{Data: data, Total: len(data)})
}
