package model

import "time"

const (
	DocumentTypeSpreadsheet = "spreadsheet"
	DocumentTypePDF         = "pdf"

	RAGStatusPending = "pending"
	RAGStatusStored  = "stored"
	RAGStatusFailed  = "failed"
)

// Document is an uploaded file after extraction. Content and FinancialData
// never change after creation; only the RAG columns are updated.
type Document struct {
	ID               string    `gorm:"primaryKey;size:191" json:"id"`
	UserID           uint      `gorm:"not null;index" json:"user_id"`
	Filename         string    `gorm:"size:255;not null" json:"filename"`
	FileType         string    `gorm:"size:16;not null" json:"file_type"`
	SizeBytes        int64     `json:"size_bytes"`
	Pages            int       `json:"pages,omitempty"`
	Rows             int       `json:"rows,omitempty"`
	Content          string    `gorm:"type:longtext" json:"-"`
	FinancialData    string    `gorm:"type:longtext" json:"-"` // JSON
	RAGStatus        string    `gorm:"size:16;not null;default:pending" json:"rag_status"`
	ChunksStored     int       `json:"chunks_stored"`
	VectorDocumentID string    `gorm:"size:191" json:"vector_document_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
