package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bsg-jongho/smartclm-eval/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SearchHandler handles HTTP requests for hybrid retrieval
type SearchHandler struct {
	searchService *service.SearchService
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(searchService *service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// SearchRequest represents the request body for a hybrid search
type SearchRequest struct {
	Query       string   `json:"query" binding:"required"`
	WorkspaceID *string  `json:"workspace_id"`
	DocTypes    []string `json:"doc_types"`
	TopK        int      `json:"top_k"`
}

// Search handles POST /api/search
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	var workspaceID *uuid.UUID
	if req.WorkspaceID != nil && *req.WorkspaceID != "" {
		id, err := uuid.Parse(*req.WorkspaceID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INVALID_WORKSPACE_ID",
					"message": "Invalid workspace_id format",
				},
			})
			return
		}
		workspaceID = &id
	}

	hits, err := h.searchService.Search(c.Request.Context(), service.SearchRequest{
		Query:       req.Query,
		WorkspaceID: workspaceID,
		DocTypes:    req.DocTypes,
		TopK:        req.TopK,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "SEARCH_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"count": len(hits),
			"hits":  hits,
		},
	})
}

// NeighborContext handles GET /api/documents/:id/neighbors
func (h *SearchHandler) NeighborContext(c *gin.Context) {
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

	parentRef := c.Query("parent_ref")
	if parentRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "MISSING_PARENT_REF",
				"message": "parent_ref query parameter is required",
			},
		})
		return
	}

	count := 0
	if raw := c.Query("count"); raw != "" {
		count, err = strconv.Atoi(raw)
		if err != nil || count < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INVALID_COUNT",
					"message": "count must be a non-negative integer",
				},
			})
			return
		}
	}

	hits, err := h.searchService.NeighborContext(c.Request.Context(), documentID, parentRef, count)
	if err != nil {
		if errors.Is(err, service.ErrParentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "PARENT_NOT_FOUND",
					"message": "No parent chunk with that ref",
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "NEIGHBOR_SEARCH_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"parent_ref": parentRef,
			"count":      len(hits),
			"neighbors":  hits,
		},
	})
}
