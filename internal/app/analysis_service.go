package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"bizfin-insight/internal/ai"
	"bizfin-insight/internal/eventlog"
	"bizfin-insight/internal/pkg/logger"
	"bizfin-insight/internal/role"
	"bizfin-insight/internal/vectorindex"
)

const (
	analysisMaxTokens   = 2000
	analysisTemperature = 0.7
	reportMaxTokens     = 4000
	reportTemperature   = 0.5
)

// ContextSearcher finds stored chunks related to a query.
type ContextSearcher interface {
	SearchRelevantChunks(ctx context.Context, query string, topK int, filter map[string]string) ([]RetrievedChunk, error)
}

type AnalysisService struct {
	completer ai.Completer
	searcher  ContextSearcher
	events    eventlog.Recorder
	topK      int
	now       func() time.Time
}

type AnalysisResult struct {
	Content       string    `json:"content"`
	Role          string    `json:"role"`
	Insights      []string  `json:"insights"`
	Tools         []string  `json:"tools"`
	Timestamp     time.Time `json:"timestamp"`
	ContextChunks int       `json:"contextChunks"`
}

type QueryInput struct {
	UserID           uint
	Role             string
	Query            string
	FinancialData    any
	VectorDocumentID string
}

// NewAnalysisService builds the analysis engine. searcher may be nil, in
// which case queries are never augmented.
func NewAnalysisService(completer ai.Completer, searcher ContextSearcher, events eventlog.Recorder, topK int) *AnalysisService {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if events == nil {
		events = eventlog.Nop{}
	}
	return &AnalysisService{
		completer: completer,
		searcher:  searcher,
		events:    events,
		topK:      topK,
		now:       time.Now,
	}
}

// Analyze answers query over data for the given role. Unknown roles are
// treated as Junior Staff.
func (s *AnalysisService) Analyze(ctx context.Context, data any, roleName, query string) (*AnalysisResult, error) {
	return s.analyze(ctx, QueryInput{Role: roleName, Query: query, FinancialData: data}, nil, nil)
}

// Query is Analyze preceded by retrieval against the referenced document.
// Retrieval problems are logged and the query continues without context.
func (s *AnalysisService) Query(ctx context.Context, in QueryInput) (*AnalysisResult, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, ErrInvalidInput
	}
	return s.analyze(ctx, in, s.retrieve(ctx, in), nil)
}

// QueryStream behaves like Query but hands partial output to onChunk as it
// arrives. The returned result carries the full content.
func (s *AnalysisService) QueryStream(ctx context.Context, in QueryInput, onChunk func(string) error) (*AnalysisResult, error) {
	if strings.TrimSpace(in.Query) == "" || onChunk == nil {
		return nil, ErrInvalidInput
	}
	return s.analyze(ctx, in, s.retrieve(ctx, in), onChunk)
}

func (s *AnalysisService) GenerateReport(ctx context.Context, data any, roleName string, userID uint) (string, error) {
	if data == nil {
		return "", ErrInvalidInput
	}
	r := role.Normalize(roleName)
	req := ai.CompletionRequest{
		Messages:    reportMessages(r, renderData(data, nil)),
		MaxTokens:   reportMaxTokens,
		Temperature: reportTemperature,
	}

	resp, err := s.complete(ctx, "report", userID, req, nil)
	if err != nil {
		return "", classifyProviderError(err, ErrReportFailed)
	}
	return resp.Content, nil
}

func (s *AnalysisService) analyze(ctx context.Context, in QueryInput, retrieved []RetrievedChunk, onChunk func(string) error) (*AnalysisResult, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, ErrInvalidInput
	}
	r := role.Normalize(in.Role)
	req := ai.CompletionRequest{
		Messages:    analysisMessages(r, renderData(in.FinancialData, retrieved), query),
		MaxTokens:   analysisMaxTokens,
		Temperature: analysisTemperature,
	}

	resp, err := s.complete(ctx, "analysis", in.UserID, req, onChunk)
	if err != nil {
		return nil, classifyProviderError(err, ErrAnalysisFailed)
	}

	return &AnalysisResult{
		Content:       resp.Content,
		Role:          string(r),
		Insights:      extractInsights(resp.Content),
		Tools:         role.Tools(string(r)),
		Timestamp:     s.now().UTC(),
		ContextChunks: len(retrieved),
	}, nil
}

func (s *AnalysisService) complete(ctx context.Context, kind string, userID uint, req ai.CompletionRequest, onChunk func(string) error) (*ai.CompletionResponse, error) {
	log := logger.FromContext(ctx)
	s.events.Record(ctx, eventlog.TypeLLM, kind+"_request", withUser(userID, map[string]any{
		"provider":    s.completer.Name(),
		"maxTokens":   req.MaxTokens,
		"temperature": req.Temperature,
		"promptChars": promptChars(req.Messages),
	}))

	started := time.Now()
	var (
		resp *ai.CompletionResponse
		err  error
	)
	if onChunk != nil {
		resp, err = ai.Stream(ctx, s.completer, req, onChunk)
	} else {
		resp, err = s.completer.Complete(ctx, req)
	}
	if err != nil {
		log.Warn("completion failed", zap.String("kind", kind), zap.String("errorKind", string(ai.KindOf(err))), zap.Error(err))
		s.events.Record(ctx, eventlog.TypeError, kind+"_failed", withUser(userID, map[string]any{
			"errorKind": string(ai.KindOf(err)),
			"error":     err.Error(),
		}))
		return nil, err
	}

	s.events.Record(ctx, eventlog.TypeLLM, kind+"_response", withUser(userID, map[string]any{
		"model":        resp.Model,
		"inputTokens":  resp.InputTokens,
		"outputTokens": resp.OutputTokens,
		"durationMs":   time.Since(started).Milliseconds(),
	}))
	return resp, nil
}

// retrieve only reads chunks the caller uploaded, except for Departmental
// Heads who may reference any stored document.
func (s *AnalysisService) retrieve(ctx context.Context, in QueryInput) []RetrievedChunk {
	docID := strings.TrimSpace(in.VectorDocumentID)
	if s.searcher == nil || docID == "" {
		return nil
	}
	filter := map[string]string{vectorindex.KeyDocumentID: docID}
	if !role.HasAccess(in.Role, string(role.DepartmentalHead)) {
		filter[vectorindex.KeyUserID] = strconv.FormatUint(uint64(in.UserID), 10)
	}
	chunks, err := s.searcher.SearchRelevantChunks(ctx, in.Query, s.topK, filter)
	if err != nil {
		logger.FromContext(ctx).Warn("retrieval failed, continuing without context",
			zap.String("documentId", docID), zap.Error(err))
		s.events.Record(ctx, eventlog.TypeError, "retrieval_degraded", withUser(in.UserID, map[string]any{
			"documentId": docID,
			"error":      err.Error(),
		}))
		return nil
	}
	return chunks
}

func promptChars(msgs []ai.ChatMessage) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Content)
	}
	return n
}

func withUser(userID uint, data map[string]any) map[string]any {
	if userID != 0 {
		data["userId"] = userID
	}
	return data
}
