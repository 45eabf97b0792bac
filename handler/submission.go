package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/AnTengye/cerfaflow/model"
	"github.com/AnTengye/cerfaflow/pkg/logger"
	"github.com/AnTengye/cerfaflow/service"
	"github.com/gin-gonic/gin"
)

const (
	msgInvalidToken = "Token invalide"
	maxBodyBytes    = 1 << 20
)

var savedMessages = map[model.Role]string{
	model.RoleStudent:  "Données étudiant enregistrées",
	model.RoleEmployer: "Données entreprise enregistrées",
}

// SubmissionHandler serves the token-scoped routes used by both forms
type SubmissionHandler struct {
	contracts *service.ContractService
}

func NewSubmissionHandler(contracts *service.ContractService) *SubmissionHandler {
	return &SubmissionHandler{contracts: contracts}
}

type TokenResponse struct {
	Type       model.Role     `json:"type"`
	ContractID string         `json:"contractId"`
	Data       map[string]any `json:"data"`
	Complete   bool           `json:"complete"`
}

// ByToken returns the role a token grants and the data already submitted
func (h *SubmissionHandler) ByToken(c *gin.Context) {
	contract, role, err := h.contracts.ResolveToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.tokenError(c, err)
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		Type:       role,
		ContractID: contract.ID,
		Data:       contract.Data(role),
		Complete:   contract.Complete(role),
	})
}

// SubmitStudent stores the student form
func (h *SubmissionHandler) SubmitStudent(c *gin.Context) {
	h.submit(c, model.RoleStudent)
}

// SubmitEmployer stores the employer form
func (h *SubmissionHandler) SubmitEmployer(c *gin.Context) {
	h.submit(c, model.RoleEmployer)
}

func (h *SubmissionHandler) submit(c *gin.Context, role model.Role) {
	data, ok := readObject(c)
	if !ok {
		return
	}

	contract, err := h.contracts.Submit(c.Request.Context(), role, c.Param("token"), data)
	if err != nil {
		h.tokenError(c, err)
		return
	}

	logger.Debug(logger.WithContract(c.Request.Context(), contract.ID, string(role)), "form received",
		"status", contract.Status,
	)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": savedMessages[role],
	})
}

func (h *SubmissionHandler) tokenError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": msgInvalidToken})
		return
	}
	logger.Error(c.Request.Context(), "token lookup failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

// readObject decodes the request body as a JSON object. An empty,
// malformed or non-object body yields an empty object. A body that cannot
// be read is answered with 413 or 400 and ok is false.
func readObject(c *gin.Context) (data map[string]any, ok bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		logger.Warn(c.Request.Context(), "failed to read request body", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable request body"})
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	if err := dec.Decode(&data); err != nil || data == nil {
		if len(bytes.TrimSpace(raw)) > 0 {
			logger.Warn(c.Request.Context(), "ignoring malformed request body", "bytes", len(raw))
		}
		return map[string]any{}, true
	}
	return data, true
}
