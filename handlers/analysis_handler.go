package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/bsg-jongho/smartclm-eval/repository"
	"github.com/bsg-jongho/smartclm-eval/service"
	"github.com/bsg-jongho/smartclm-eval/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AnalysisHandler handles HTTP requests for contract risk analysis
type AnalysisHandler struct {
	analysisService *service.AnalysisService
	usageRepo       *repository.TokenUsageRepository
	archive         storage.Storage
}

// NewAnalysisHandler creates a new analysis handler. The archive is
// optional; when set, finished reports are stored as JSON artifacts.
func NewAnalysisHandler(analysisService *service.AnalysisService, usageRepo *repository.TokenUsageRepository, archive storage.Storage) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
		usageRepo:       usageRepo,
		archive:         archive,
	}
}

// GetUsageTotals handles GET /api/usage
func (h *AnalysisHandler) GetUsageTotals(c *gin.Context) {
	totals, err := h.usageRepo.Totals(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "USAGE_QUERY_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    totals,
	})
}

// AnalyzeContract handles POST /api/documents/:id/analyze
func (h *AnalysisHandler) AnalyzeContract(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_DOCUMENT_ID",
				"message": "Invalid document id format",
			},
		})
		return
	}

	report, err := h.analysisService.AnalyzeContract(c.Request.Context(), documentID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDocumentNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "DOCUMENT_NOT_FOUND",
					"message": "Document not found",
				},
			})
		case errors.Is(err, service.ErrNoClauses):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NO_CLAUSES",
					"message": "Document has no clause chunks to analyze",
				},
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "ANALYSIS_FAILED",
					"message": err.Error(),
				},
			})
		}
		return
	}

	if h.archive != nil {
		if body, err := json.MarshalIndent(report, "", "  "); err == nil {
			name := fmt.Sprintf("chain_analysis_%s.json", report.DocumentName)
			if _, err := h.archive.Upload(c.Request.Context(), "reports", report.RunID, name, bytes.NewReader(body)); err != nil {
				log.Printf("Warning: failed to archive analysis report %s: %v", report.RunID, err)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    report,
	})
}
