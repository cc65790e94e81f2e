package app

import (
	"context"
	"fmt"
	"strings"

	"bizfin-insight/internal/eventlog"
	"bizfin-insight/internal/model"
	"bizfin-insight/internal/role"
)

type DocumentService struct {
	docs    DocumentStore
	indexer DocumentIndexer
	events  eventlog.Recorder
}

func NewDocumentService(docs DocumentStore, indexer DocumentIndexer, events eventlog.Recorder) *DocumentService {
	if events == nil {
		events = eventlog.Nop{}
	}
	return &DocumentService{docs: docs, indexer: indexer, events: events}
}

func (s *DocumentService) List(ctx context.Context, userID uint) ([]model.Document, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.docs.ListByUserID(ctx, userID)
}

// Get returns a document visible to the caller: its owner or a Departmental
// Head.
func (s *DocumentService) Get(ctx context.Context, userID uint, roleName, id string) (*model.Document, error) {
	id = strings.TrimSpace(id)
	if userID == 0 || id == "" {
		return nil, ErrInvalidInput
	}
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	if doc.UserID != userID && !role.HasAccess(roleName, string(role.DepartmentalHead)) {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Delete removes the document's index entries and then the document. The
// index is cleaned whatever the rag status says, since a failed store can
// still leave partial entries. When that cleanup fails the row is kept so
// the delete can be retried.
func (s *DocumentService) Delete(ctx context.Context, userID uint, roleName, id string) error {
	doc, err := s.Get(ctx, userID, roleName, id)
	if err != nil {
		return err
	}
	if s.indexer != nil {
		if err := s.indexer.DeleteDocument(ctx, doc.ID); err != nil {
			return fmt.Errorf("delete document vectors failed: %w", err)
		}
	}
	if err := s.docs.Delete(ctx, doc.ID); err != nil {
		return err
	}
	s.events.Record(ctx, eventlog.TypeInfo, "document_delete", map[string]any{
		"userId":     userID,
		"documentId": doc.ID,
	})
	return nil
}
