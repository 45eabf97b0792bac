package handler

import (
	"net/http"
	"time"

	"github.com/AnTengye/cerfaflow/config"
	"github.com/AnTengye/cerfaflow/pkg/logger"
	"github.com/AnTengye/cerfaflow/service"
	"github.com/gin-gonic/gin"
)

type SystemHandler struct {
	config    *config.Config
	contracts *service.ContractService
	cerfa     *service.CerfaService
}

func NewSystemHandler(cfg *config.Config, contracts *service.ContractService, cerfa *service.CerfaService) *SystemHandler {
	return &SystemHandler{config: cfg, contracts: contracts, cerfa: cerfa}
}

// Health is the liveness check
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Debug reports where the template assets came from and the store state
func (h *SystemHandler) Debug(c *gin.Context) {
	template := gin.H{
		"source":  h.config.Template.Source,
		"pdf":     h.config.Template.PDF,
		"mapping": h.config.Template.Mapping,
		"found":   false,
	}
	if assets := h.cerfa.Assets(); assets != nil {
		template["pdfPath"] = assets.PDFLocation
		template["mappingPath"] = assets.MappingLocation
		template["found"] = assets.Found()
		template["mappedKeys"] = len(assets.FlatMapping)
	}

	store := gin.H{"driver": h.config.Store.Driver}
	contracts, err := h.contracts.List(c.Request.Context())
	if err != nil {
		logger.Warn(c.Request.Context(), "failed to count contracts", "error", err)
		store["error"] = err.Error()
	} else {
		store["contracts"] = len(contracts)
	}

	c.JSON(http.StatusOK, gin.H{
		"template":    template,
		"store":       store,
		"minio":       h.config.Minio.Enabled,
		"archive":     h.config.Minio.Enabled && h.config.Minio.Archive,
		"authEnabled": h.config.Auth.Enabled(),
	})
}
