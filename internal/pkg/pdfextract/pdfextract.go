package pdfextract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

var ErrEmptyFile = errors.New("pdf file is empty")

type Result struct {
	Text  string
	Pages int
}

// Extract reads a whole PDF and returns its plain text and page count. A PDF
// without extractable text yields an empty Text and no error.
func Extract(r io.Reader) (*Result, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf failed: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrEmptyFile
	}
	pdfReader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("open pdf failed: %w", err)
	}
	plainReader, err := pdfReader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extract pdf text failed: %w", err)
	}
	out, err := io.ReadAll(plainReader)
	if err != nil {
		return nil, fmt.Errorf("read pdf text failed: %w", err)
	}
	return &Result{
		Text:  strings.TrimSpace(string(out)),
		Pages: pdfReader.NumPage(),
	}, nil
}
