package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/AnTengye/cerfaflow/model"
	"github.com/AnTengye/cerfaflow/pkg/logger"
	"github.com/AnTengye/cerfaflow/service"
	"github.com/gin-gonic/gin"
)

const (
	msgContractNotFound   = "Contrat non trouvé"
	msgContractIncomplete = "Le contrat n'est pas complet"
	msgGenerationFailed   = "Erreur lors de la génération du PDF"
)

type ContractHandler struct {
	contracts *service.ContractService
	cerfa     *service.CerfaService
	publicURL string
}

func NewContractHandler(contracts *service.ContractService, cerfa *service.CerfaService, publicURL string) *ContractHandler {
	return &ContractHandler{
		contracts: contracts,
		cerfa:     cerfa,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// Links are the form URLs handed to each party
type Links struct {
	Student  string `json:"etudiant"`
	Employer string `json:"entreprise"`
}

type CreateResponse struct {
	Success    bool   `json:"success"`
	ContractID string `json:"contractId"`
	Links      Links  `json:"liens"`
}

// ContractSummary is one row of the contract list
type ContractSummary struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"createdAt"`
	Status           string    `json:"status"`
	StudentComplete  bool      `json:"etudiantComplete"`
	EmployerComplete bool      `json:"entrepriseComplete"`
	Links            Links     `json:"liens"`
}

// baseURL returns the configured public URL or the one the client used
func baseURL(c *gin.Context, publicURL string) string {
	if publicURL != "" {
		return publicURL
	}

	proto := c.GetHeader("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
		if c.Request.TLS != nil {
			proto = "https"
		}
	}
	host := c.GetHeader("X-Forwarded-Host")
	if host == "" {
		host = c.Request.Host
	}
	return proto + "://" + host
}

var formPages = map[model.Role]string{
	model.RoleStudent:  "etudiant.html",
	model.RoleEmployer: "entreprise.html",
}

func linkFor(base string, contract *model.Contract, role model.Role) string {
	return fmt.Sprintf("%s/%s?token=%s", base, formPages[role], contract.Token(role))
}

func linksFor(base string, contract *model.Contract) Links {
	return Links{
		Student:  linkFor(base, contract, model.RoleStudent),
		Employer: linkFor(base, contract, model.RoleEmployer),
	}
}

// Create creates a contract and returns the links of both parties
func (h *ContractHandler) Create(c *gin.Context) {
	contract, err := h.contracts.Create(c.Request.Context())
	if err != nil {
		logger.Error(c.Request.Context(), "failed to create contract", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create contract"})
		return
	}

	c.JSON(http.StatusOK, CreateResponse{
		Success:    true,
		ContractID: contract.ID,
		Links:      linksFor(baseURL(c, h.publicURL), contract),
	})
}

// List returns all contracts, oldest first
func (h *ContractHandler) List(c *gin.Context) {
	contracts, err := h.contracts.List(c.Request.Context())
	if err != nil {
		logger.Error(c.Request.Context(), "failed to list contracts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list contracts"})
		return
	}

	base := baseURL(c, h.publicURL)
	summaries := make([]ContractSummary, 0, len(contracts))
	for _, contract := range contracts {
		summaries = append(summaries, ContractSummary{
			ID:               contract.ID,
			CreatedAt:        contract.CreatedAt,
			Status:           contract.Status,
			StudentComplete:  contract.StudentComplete(),
			EmployerComplete: contract.EmployerComplete(),
			Links:            linksFor(base, contract),
		})
	}

	c.JSON(http.StatusOK, summaries)
}

// GeneratePDF fills the CERFA with the merged data of a ready contract
func (h *ContractHandler) GeneratePDF(c *gin.Context) {
	id := c.Param("id")
	ctx := logger.WithContract(c.Request.Context(), id, "")

	contract, err := h.contracts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": msgContractNotFound})
			return
		}
		logger.Error(ctx, "failed to load contract", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgGenerationFailed})
		return
	}

	gen, err := h.cerfa.Generate(ctx, contract)
	if err != nil {
		if errors.Is(err, service.ErrContractNotReady) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":              msgContractIncomplete,
				"etudiantComplete":   contract.StudentComplete(),
				"entrepriseComplete": contract.EmployerComplete(),
			})
			return
		}
		logger.Error(ctx, "pdf generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgGenerationFailed})
		return
	}

	sendPDF(c, gen)
}

// Delete removes a contract, its tokens and its archived PDFs
func (h *ContractHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	ctx := logger.WithContract(c.Request.Context(), id, "")

	if err := h.contracts.Delete(ctx, id); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": msgContractNotFound})
			return
		}
		logger.Error(ctx, "failed to delete contract", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete contract"})
		return
	}

	h.cerfa.DeleteArchive(ctx, id)

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// sendPDF writes a generation as a download
func sendPDF(c *gin.Context, gen *service.Generation) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, gen.Filename))
	c.Header("X-Generation-ID", gen.ID)
	if gen.ArchiveURL != "" {
		c.Header("X-Archive-URL", gen.ArchiveURL)
	}
	c.Data(http.StatusOK, "application/pdf", gen.PDF)
}
