package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"registrar/internal/registry"
	"registrar/internal/signature"
)

// RegistryHandler exposes the extractor registry and signature catalog.
type RegistryHandler struct {
	registry *registry.Registry
	catalog  *signature.Catalog
}

// NewRegistryHandler creates a new RegistryHandler.
func NewRegistryHandler(reg *registry.Registry, catalog *signature.Catalog) *RegistryHandler {
	return &RegistryHandler{registry: reg, catalog: catalog}
}

// RegistryEntry is one category and its ordered extractor ids.
type RegistryEntry struct {
	Category   string   `json:"category"`
	Extractors []string `json:"extractors"`
}

// List handles GET /api/v1/registry
func (h *RegistryHandler) List(c *gin.Context) {
	cats := h.registry.Categories()
	entries := make([]RegistryEntry, 0, len(cats))
	for _, cat := range cats {
		ids, _ := h.registry.Lookup(cat)
		entries = append(entries, RegistryEntry{Category: string(cat), Extractors: ids})
	}
	RespondOK(c, entries)
}

// SignatureView is the public shape of a signature.
type SignatureView struct {
	ID           string            `json:"id"`
	Instructions string            `json:"instructions"`
	Inputs       []signature.Field `json:"inputs"`
	OutputSchema map[string]any    `json:"output_schema"`
}

// GetSignature handles GET /api/v1/signatures/:id
func (h *RegistryHandler) GetSignature(c *gin.Context) {
	sig, ok := h.catalog.Get(c.Param("id"))
	if !ok {
		RespondError(c, http.StatusNotFound, "SIGNATURE_NOT_FOUND", "signature not found")
		return
	}
	RespondOK(c, SignatureView{
		ID:           sig.ID,
		Instructions: sig.Instructions,
		Inputs:       sig.Inputs,
		OutputSchema: sig.OutputSchema(),
	})
}
