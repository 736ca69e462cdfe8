package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"apicourse/pkg/storage"
)

const (
	// MaxDocumentSize caps uploads at 10 MiB.
	MaxDocumentSize = 10 << 20
	maxPDFPages     = 500
	presignExpiry   = 15 * time.Minute
)

var allowedExtensions = map[string]string{
	".pdf": "application/pdf",
	".txt": "text/plain",
	".md":  "text/markdown",
}

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentType     = errors.New("file type must be .pdf, .txt or .md")
	ErrDocumentTooLarge = fmt.Errorf("file exceeds the %d MiB limit", MaxDocumentSize>>20)
	ErrDocumentEmpty    = errors.New("file is empty")
	ErrPDFUnreadable    = errors.New("pdf could not be parsed")
	ErrPDFNoPages       = errors.New("pdf has no pages")
	ErrPDFTooManyPages  = fmt.Errorf("pdf exceeds %d pages", maxPDFPages)
)

// PDFChecker counts pages of a PDF payload. Split out so tests can stub it.
type PDFChecker interface {
	PageCount(data []byte) (int, error)
}

// StdPDFChecker parses PDFs with ledongthuc/pdf.
type StdPDFChecker struct{}

func (StdPDFChecker) PageCount(data []byte) (int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, ErrPDFUnreadable
	}
	return reader.NumPage(), nil
}

// Document is a stored upload.
type Document struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	Size        int64     `json:"size"`
	Pages       int       `json:"pages,omitempty"`
	ContentType string    `json:"contentType"`
	StorageKey  string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

type documentIndex struct {
	mu    sync.RWMutex
	byID  map[string]Document
	order []string
}

func newDocumentIndex() *documentIndex {
	return &documentIndex{byID: make(map[string]Document)}
}

// Documents manages uploads: metadata in-process, bytes in object storage.
type Documents struct {
	index   *documentIndex
	objects storage.ObjectStore
	pdfs    PDFChecker
}

// NewDocuments wires the upload pipeline to its dependencies.
func NewDocuments(a *App, objects storage.ObjectStore, pdfs PDFChecker) *Documents {
	if pdfs == nil {
		pdfs = StdPDFChecker{}
	}
	return &Documents{index: a.documents, objects: objects, pdfs: pdfs}
}

// Upload validates and stores a file under docs/<uuid><ext>.
func (d *Documents) Upload(ctx context.Context, fileName string, data []byte) (Document, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	contentType, allowed := allowedExtensions[ext]
	if !allowed {
		return Document{}, ErrDocumentType
	}
	if len(data) == 0 {
		return Document{}, ErrDocumentEmpty
	}
	if len(data) > MaxDocumentSize {
		return Document{}, ErrDocumentTooLarge
	}
	pages := 0
	if ext == ".pdf" {
		count, err := d.pdfs.PageCount(data)
		if err != nil {
			return Document{}, ErrPDFUnreadable
		}
		if count < 1 {
			return Document{}, ErrPDFNoPages
		}
		if count > maxPDFPages {
			return Document{}, ErrPDFTooManyPages
		}
		pages = count
	}
	doc := Document{
		ID:          uuid.NewString(),
		FileName:    filepath.Base(fileName),
		Size:        int64(len(data)),
		Pages:       pages,
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
	}
	doc.StorageKey = "docs/" + doc.ID + ext
	if err := d.objects.Put(ctx, doc.StorageKey, bytes.NewReader(data), doc.Size, contentType); err != nil {
		return Document{}, fmt.Errorf("store document: %w", err)
	}
	d.index.mu.Lock()
	d.index.byID[doc.ID] = doc
	d.index.order = append(d.index.order, doc.ID)
	d.index.mu.Unlock()
	return doc, nil
}

// List returns documents in upload order.
func (d *Documents) List() []Document {
	d.index.mu.RLock()
	defer d.index.mu.RUnlock()
	out := make([]Document, 0, len(d.index.order))
	for _, id := range d.index.order {
		if doc, ok := d.index.byID[id]; ok {
			out = append(out, doc)
		}
	}
	return out
}

// DownloadURL returns a presigned GET URL for a document.
func (d *Documents) DownloadURL(ctx context.Context, id string) (string, error) {
	d.index.mu.RLock()
	doc, ok := d.index.byID[id]
	d.index.mu.RUnlock()
	if !ok {
		return "", ErrDocumentNotFound
	}
	url, err := d.objects.PresignGet(ctx, doc.StorageKey, presignExpiry)
	if err != nil {
		return "", fmt.Errorf("presign document: %w", err)
	}
	return url, nil
}
