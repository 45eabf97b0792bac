package handler

import (
	"errors"
	"net/http"

	"github.com/AnTengye/cerfaflow/pkg/logger"
	"github.com/AnTengye/cerfaflow/service"
	"github.com/gin-gonic/gin"
)

// TemplateHandler exposes the CERFA template itself: field analysis, the
// labelled debug PDF and filling from an arbitrary payload.
type TemplateHandler struct {
	cerfa *service.CerfaService
}

func NewTemplateHandler(cerfa *service.CerfaService) *TemplateHandler {
	return &TemplateHandler{cerfa: cerfa}
}

// Fields lists the form fields of the template with their kind
func (h *TemplateHandler) Fields(c *gin.Context) {
	fields, err := h.cerfa.Fields()
	if err != nil {
		h.templateError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(fields),
		"fields": fields,
	})
}

// DebugPDF returns the template with every field labelled by its number
func (h *TemplateHandler) DebugPDF(c *gin.Context) {
	gen, err := h.cerfa.DebugPDF(c.Request.Context())
	if err != nil {
		h.templateError(c, err)
		return
	}
	sendPDF(c, gen)
}

// GenerateCerfa fills the template from the request body
func (h *TemplateHandler) GenerateCerfa(c *gin.Context) {
	data, ok := readObject(c)
	if !ok {
		return
	}
	gen, err := h.cerfa.Fill(c.Request.Context(), data)
	if err != nil {
		h.templateError(c, err)
		return
	}
	sendPDF(c, gen)
}

func (h *TemplateHandler) templateError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrTemplateUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Template PDF or mapping not loaded"})
		return
	}
	logger.Error(c.Request.Context(), "template operation failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msgGenerationFailed})
}
