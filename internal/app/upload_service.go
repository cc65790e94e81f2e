package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"bizfin-insight/internal/eventlog"
	"bizfin-insight/internal/model"
	"bizfin-insight/internal/pkg/logger"
	"bizfin-insight/internal/pkg/pdfextract"
	"bizfin-insight/internal/pkg/sheetextract"
	"bizfin-insight/internal/vectorindex"
)

const DefaultMaxUploadBytes = 10 << 20

var ErrFileTooLarge = errors.New("file too large")

var supportedExtensions = map[string]string{
	".xlsx": model.DocumentTypeSpreadsheet,
	".csv":  model.DocumentTypeSpreadsheet,
	".pdf":  model.DocumentTypePDF,
}

// DocumentStore persists uploaded documents.
type DocumentStore interface {
	Create(ctx context.Context, doc *model.Document) error
	UpdateRAGStatus(ctx context.Context, id, status, vectorDocumentID string, chunks int) error
	ListByUserID(ctx context.Context, userID uint) ([]model.Document, error)
	GetByID(ctx context.Context, id string) (*model.Document, error)
	Delete(ctx context.Context, id string) error
}

// DocumentIndexer is the retrieval side of a document's lifecycle.
type DocumentIndexer interface {
	StoreDocument(ctx context.Context, documentID, content string, metadata map[string]string) (*StoreResult, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

type UploadService struct {
	docs     DocumentStore
	indexer  DocumentIndexer
	events   eventlog.Recorder
	maxBytes int64
	now      func() time.Time
}

type UploadInput struct {
	UserID   uint
	Filename string
	Body     io.Reader
}

type UploadResult struct {
	Filename         string    `json:"filename"`
	DocumentID       string    `json:"documentId"`
	FinancialData    any       `json:"financialData"`
	ProcessedAt      time.Time `json:"processedAt"`
	VectorDocumentID string    `json:"vectorDocumentId,omitempty"`
	ChunksStored     int       `json:"chunksStored"`
	RAGStatus        string    `json:"ragStatus"`
}

// NewUploadService wires upload processing. indexer may be nil when retrieval
// is disabled; uploads then finish with ragStatus "failed".
func NewUploadService(docs DocumentStore, indexer DocumentIndexer, events eventlog.Recorder, maxBytes int64) *UploadService {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	if events == nil {
		events = eventlog.Nop{}
	}
	return &UploadService{docs: docs, indexer: indexer, events: events, maxBytes: maxBytes, now: time.Now}
}

func (s *UploadService) MaxBytes() int64 { return s.maxBytes }

// Upload extracts, persists and indexes a file. Indexing failure never fails
// the upload; it is reported through RAGStatus.
func (s *UploadService) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	name := filepath.Base(strings.TrimSpace(in.Filename))
	if in.UserID == 0 || name == "" || name == "." || in.Body == nil {
		return nil, ErrInvalidInput
	}
	ext := strings.ToLower(filepath.Ext(name))
	fileType, ok := supportedExtensions[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: .xlsx, .csv, .pdf)", ErrUnsupportedFile, ext)
	}

	raw, err := io.ReadAll(io.LimitReader(in.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload failed: %w", err)
	}
	if int64(len(raw)) > s.maxBytes {
		return nil, ErrFileTooLarge
	}

	processedAt := s.now().UTC()
	doc := &model.Document{
		ID:        DocumentID(processedAt, name),
		UserID:    in.UserID,
		Filename:  name,
		FileType:  fileType,
		SizeBytes: int64(len(raw)),
		RAGStatus: model.RAGStatusPending,
	}

	financialData, err := extract(doc, ext, raw)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(financialData)
	if err != nil {
		return nil, fmt.Errorf("encode financial data failed: %w", err)
	}
	doc.FinancialData = string(encoded)

	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("save document failed: %w", err)
	}
	s.events.Record(ctx, eventlog.TypeInfo, "upload", map[string]any{
		"userId":     in.UserID,
		"documentId": doc.ID,
		"filename":   name,
		"fileType":   fileType,
		"sizeBytes":  doc.SizeBytes,
	})

	result := &UploadResult{
		Filename:      name,
		DocumentID:    doc.ID,
		FinancialData: financialData,
		ProcessedAt:   processedAt,
		RAGStatus:     model.RAGStatusFailed,
	}
	s.index(ctx, doc, result)
	return result, nil
}

func (s *UploadService) index(ctx context.Context, doc *model.Document, result *UploadResult) {
	log := logger.FromContext(ctx).With(zap.String("documentId", doc.ID))
	if s.indexer == nil {
		log.Warn("retrieval disabled, document not indexed")
		return
	}

	stored, err := s.indexer.StoreDocument(ctx, doc.ID, doc.Content, map[string]string{
		"filename":            doc.Filename,
		"fileType":            doc.FileType,
		vectorindex.KeyUserID: strconv.FormatUint(uint64(doc.UserID), 10),
		"uploadedAt":          result.ProcessedAt.Format(time.RFC3339),
	})
	if err != nil {
		log.Warn("document indexing failed, upload continues without retrieval", zap.Error(err))
		if uerr := s.docs.UpdateRAGStatus(ctx, doc.ID, model.RAGStatusFailed, "", 0); uerr != nil {
			log.Error("update rag status failed", zap.Error(uerr))
		}
		return
	}

	result.RAGStatus = model.RAGStatusStored
	result.VectorDocumentID = stored.DocumentID
	result.ChunksStored = stored.ChunksStored
	if err := s.docs.UpdateRAGStatus(ctx, doc.ID, model.RAGStatusStored, stored.DocumentID, stored.ChunksStored); err != nil {
		log.Error("update rag status failed", zap.Error(err))
	}
}

// extract fills doc.Content (text fed to the chunker) and returns the
// structured data handed back to clients.
func extract(doc *model.Document, ext string, raw []byte) (any, error) {
	if ext == ".pdf" {
		res, err := pdfextract.Extract(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		doc.Content = res.Text
		doc.Pages = res.Pages
		return map[string]any{
			"type":     model.DocumentTypePDF,
			"pages":    res.Pages,
			"text":     res.Text,
			"filename": doc.Filename,
		}, nil
	}

	sheet, err := sheetextract.Parse(bytes.NewReader(raw), ext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	doc.Content = sheet.Text()
	doc.Rows = len(sheet.Rows)
	return sheet.Rows, nil
}

// DocumentID is "doc_<unix millis>_<filename slug>".
func DocumentID(at time.Time, filename string) string {
	return "doc_" + strconv.FormatInt(at.UnixMilli(), 10) + "_" + slug(filename)
}

func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "file"
	}
	return out
}
