package api

import (
	"net/http"

	"github.com/ashureev/supercoder/internal/examples"
	"github.com/go-chi/chi/v5"
)

// ExamplesHandler serves the built-in example program descriptions.
type ExamplesHandler struct{}

// NewExamplesHandler creates a new examples handler.
func NewExamplesHandler() *ExamplesHandler {
	return &ExamplesHandler{}
}

// RegisterRoutes registers example routes.
func (h *ExamplesHandler) RegisterRoutes(r chi.Router) {
	r.Get("/examples", h.List)
	r.Get("/examples/random", h.Random)
}

// List returns every example description.
func (h *ExamplesHandler) List(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"examples": examples.Catalog(),
	})
}

// Random returns one example, picked at random.
func (h *ExamplesHandler) Random(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, examples.Random())
}
