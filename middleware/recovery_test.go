package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestRecoveryHidesToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logs := captureLogs(t)

	router := gin.New()
	router.Use(RequestID(), Recovery())
	router.POST("/api/etudiant/:token", func(c *gin.Context) {
		panic("nil submission")
	})

	req := httptest.NewRequest("POST", "/api/etudiant/secret-token", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}

	requestID := w.Header().Get("X-Request-ID")
	if !strings.Contains(w.Body.String(), requestID) {
		t.Errorf("Expected request id %s in body %s", requestID, w.Body.String())
	}

	out := logs.String()
	for _, want := range []string{"panic recovered", "/api/etudiant/:token", "request_id=" + requestID, "nil submission"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in log output", want)
		}
	}
	if strings.Contains(out, "secret-token") {
		t.Error("Expected token not to be logged")
	}
}

func TestRecoveryAfterResponseStarted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logs := captureLogs(t)

	router := gin.New()
	router.Use(Recovery())
	router.GET("/api/contracts/:id/generate-pdf", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/pdf", []byte("%PDF-1.7"))
		panic("late failure")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/contracts/c1/generate-pdf", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected the started response to keep status 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "Internal server error") {
		t.Error("Expected no JSON appended to the pdf body")
	}
	if !strings.Contains(logs.String(), "response_started=true") {
		t.Error("Expected response_started in log output")
	}
}

func TestRecoveryPassThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}
