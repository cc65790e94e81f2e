package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bizfin-insight/internal/app"
	"bizfin-insight/internal/role"
	"bizfin-insight/internal/transport/http/response"
)

type AnalysisHandler struct {
	analysis *app.AnalysisService
}

type QueryRequest struct {
	Query            string `json:"query" binding:"required"`
	FinancialData    any    `json:"financialData"`
	UserRole         string `json:"userRole"`
	VectorDocumentID string `json:"vectorDocumentId"`
}

type ReportRequest struct {
	FinancialData any    `json:"financialData" binding:"required"`
	UserRole      string `json:"userRole"`
}

func NewAnalysisHandler(analysis *app.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{analysis: analysis}
}

func (h *AnalysisHandler) Query(c *gin.Context) {
	in, ok := h.queryInput(c)
	if !ok {
		return
	}
	result, err := h.analysis.Query(c.Request.Context(), in)
	if err != nil {
		writeServiceError(c, err, "analysis failed")
		return
	}
	response.OK(c, result)
}

// QueryStream sends the answer as SSE data events, then a done event with the
// full result. Failures after the stream started arrive as an error event.
func (h *AnalysisHandler) QueryStream(c *gin.Context) {
	in, ok := h.queryInput(c)
	if !ok {
		return
	}
	w, ok := startSSE(c)
	if !ok {
		return
	}

	result, err := h.analysis.QueryStream(c.Request.Context(), in, func(chunk string) error {
		return w.send("", chunk)
	})
	if err != nil {
		status, code, msg := serviceError(err, "analysis failed")
		_ = c.Error(err)
		_ = w.sendJSON("error", gin.H{"status": status, "code": code, "error": msg})
		return
	}
	_ = w.sendJSON("done", result)
}

func (h *AnalysisHandler) Report(c *gin.Context) {
	tu, ok := currentUser(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "financialData is required")
		return
	}
	effective, ok := effectiveRole(c, tu, req.UserRole)
	if !ok {
		return
	}

	report, err := h.analysis.GenerateReport(c.Request.Context(), req.FinancialData, effective, tu.ID)
	if err != nil {
		writeServiceError(c, err, "report generation failed")
		return
	}
	response.OK(c, gin.H{
		"report":      report,
		"generatedAt": time.Now().UTC(),
		"userRole":    string(role.Normalize(effective)),
	})
}

func (h *AnalysisHandler) Capabilities(c *gin.Context) {
	response.OK(c, role.CapabilitiesOf(c.Param("role")))
}

func (h *AnalysisHandler) queryInput(c *gin.Context) (app.QueryInput, bool) {
	tu, ok := currentUser(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return app.QueryInput{}, false
	}
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "query is required")
		return app.QueryInput{}, false
	}
	effective, ok := effectiveRole(c, tu, req.UserRole)
	if !ok {
		return app.QueryInput{}, false
	}

	docID := strings.TrimSpace(req.VectorDocumentID)
	if docID == "" {
		if m, isMap := req.FinancialData.(map[string]any); isMap {
			docID, _ = m["vectorDocumentId"].(string)
		}
	}
	return app.QueryInput{
		UserID:           tu.ID,
		Role:             effective,
		Query:            req.Query,
		FinancialData:    req.FinancialData,
		VectorDocumentID: docID,
	}, true
}

// effectiveRole lets a caller ask for a lower-privilege view of the data but
// never a higher one.
func effectiveRole(c *gin.Context, tu tokenUser, requested string) (string, bool) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return tu.Role, true
	}
	if !role.HasAccess(tu.Role, requested) {
		response.Error(c, http.StatusForbidden, response.CodeForbidden, "requested role exceeds your access level")
		return "", false
	}
	return requested, true
}
