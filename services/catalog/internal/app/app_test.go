package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func validProduct() ProductInput {
	return ProductInput{
		SKU:      "AB-1234",
		Name:     "Wireless Keyboard",
		Price:    49.99,
		Category: "electronics",
		Stock:    10,
		Tags:     []string{"wireless", "usb-c"},
	}
}

func TestCreateProductValidation(t *testing.T) {
	a := New()
	_, err := a.CreateProduct(ProductInput{
		SKU:      "bad-sku",
		Name:     "ab",
		Price:    0,
		Category: "furniture",
		Stock:    -1,
		Tags:     []string{"Go", "go"},
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"sku", "name", "price", "category", "stock", "tags"} {
		if len(vErr.Fields[field]) == 0 {
			t.Errorf("expected error for %s, fields: %v", field, vErr.Fields)
		}
	}
}

func TestCreateProductSKUConflict(t *testing.T) {
	a := New()
	if _, err := a.CreateProduct(validProduct()); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := a.CreateProduct(validProduct())
	if !errors.Is(err, ErrSKUTaken) {
		t.Fatalf("expected ErrSKUTaken, got %v", err)
	}
}

func TestReplaceProductChangesSKU(t *testing.T) {
	a := New()
	p, err := a.CreateProduct(validProduct())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	in := validProduct()
	in.SKU = "CD-9999"
	updated, err := a.ReplaceProduct(p.ID, in)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if updated.SKU != "CD-9999" {
		t.Fatalf("sku not updated: %s", updated.SKU)
	}
	// Old SKU is free again.
	again := validProduct()
	if _, err := a.CreateProduct(again); err != nil {
		t.Fatalf("old sku should be reusable: %v", err)
	}
}

func TestListProductsByCategory(t *testing.T) {
	a := New()
	first := validProduct()
	if _, err := a.CreateProduct(first); err != nil {
		t.Fatalf("create: %v", err)
	}
	second := validProduct()
	second.SKU = "BK-100"
	second.Name = "Practical Databases"
	second.Category = "books"
	if _, err := a.CreateProduct(second); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := len(a.ListProducts("")); got != 2 {
		t.Fatalf("expected 2 products, got %d", got)
	}
	books := a.ListProducts("BOOKS")
	if len(books) != 1 || books[0].Category != "books" {
		t.Fatalf("category filter failed: %v", books)
	}
}

func TestCreateOrderDecrementsStock(t *testing.T) {
	a := New()
	p, err := a.CreateProduct(validProduct())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	order, err := a.CreateOrder(OrderInput{
		CustomerEmail: "Buyer@Example.com",
		Items:         []OrderItemInput{{ProductID: p.ID, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if order.Status != "confirmed" {
		t.Fatalf("status: %s", order.Status)
	}
	if order.CustomerEmail != "buyer@example.com" {
		t.Fatalf("email not normalized: %s", order.CustomerEmail)
	}
	if order.Total != p.Price*3 {
		t.Fatalf("total: %v", order.Total)
	}
	got, err := a.GetProduct(p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stock != 7 {
		t.Fatalf("stock not decremented: %d", got.Stock)
	}
}

func TestCreateOrderOversell(t *testing.T) {
	a := New()
	p, err := a.CreateProduct(validProduct())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = a.CreateOrder(OrderInput{
		CustomerEmail: "buyer@example.com",
		Items:         []OrderItemInput{{ProductID: p.ID, Quantity: 11}},
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	msgs := vErr.Fields["items.0.quantity"]
	if len(msgs) != 1 || !strings.Contains(msgs[0], "only 10 in stock") {
		t.Fatalf("unexpected messages: %v", msgs)
	}
	// Failed order must not touch stock.
	got, _ := a.GetProduct(p.ID)
	if got.Stock != 10 {
		t.Fatalf("stock changed on failed order: %d", got.Stock)
	}
}

func TestCreateOrderDuplicateLinesShareStock(t *testing.T) {
	a := New()
	in := validProduct()
	in.Stock = 5
	p, err := a.CreateProduct(in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Two lines for the same product must be checked against stock as a
	// whole, not each against the full amount.
	_, err = a.CreateOrder(OrderInput{
		CustomerEmail: "buyer@example.com",
		Items: []OrderItemInput{
			{ProductID: p.ID, Quantity: 5},
			{ProductID: p.ID, Quantity: 5},
		},
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	msgs := vErr.Fields["items.1.quantity"]
	if len(msgs) != 1 || !strings.Contains(msgs[0], "only 0 in stock") {
		t.Fatalf("unexpected messages: %v", vErr.Fields)
	}
	got, _ := a.GetProduct(p.ID)
	if got.Stock != 5 {
		t.Fatalf("stock changed on rejected order: %d", got.Stock)
	}

	// Split lines that fit together are still accepted.
	order, err := a.CreateOrder(OrderInput{
		CustomerEmail: "buyer@example.com",
		Items: []OrderItemInput{
			{ProductID: p.ID, Quantity: 3},
			{ProductID: p.ID, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if order.Total != p.Price*5 {
		t.Fatalf("total: %v", order.Total)
	}
	got, _ = a.GetProduct(p.ID)
	if got.Stock != 0 {
		t.Fatalf("stock after split order: %d", got.Stock)
	}
}

func TestCreateOrderNestedValidation(t *testing.T) {
	a := New()
	_, err := a.CreateOrder(OrderInput{
		CustomerEmail: "not-an-email",
		CustomerPhone: "abc",
		Items:         []OrderItemInput{{ProductID: "", Quantity: 0}},
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"customerEmail", "customerPhone", "items.0.productId", "items.0.quantity"} {
		if len(vErr.Fields[field]) == 0 {
			t.Errorf("expected error for %s, fields: %v", field, vErr.Fields)
		}
	}
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	a := New()
	in := validProduct()
	in.Stock = 5
	p, err := a.CreateProduct(in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var wg sync.WaitGroup
	var placed int32
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.CreateOrder(OrderInput{
				CustomerEmail: "buyer@example.com",
				Items:         []OrderItemInput{{ProductID: p.ID, Quantity: 1}},
			})
			if err == nil {
				mu.Lock()
				placed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if placed != 5 {
		t.Fatalf("expected exactly 5 successful orders, got %d", placed)
	}
	got, _ := a.GetProduct(p.ID)
	if got.Stock != 0 {
		t.Fatalf("stock: %d", got.Stock)
	}
}

type stubObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newStubObjectStore() *stubObjectStore {
	return &stubObjectStore{objects: make(map[string][]byte)}
}

func (s *stubObjectStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return nil
}

func (s *stubObjectStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return "", errors.New("missing object")
	}
	return "https://storage.test/" + key, nil
}

func (s *stubObjectStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

type stubPDFChecker struct {
	pages int
	err   error
}

func (s stubPDFChecker) PageCount([]byte) (int, error) {
	return s.pages, s.err
}

func TestUploadTextDocument(t *testing.T) {
	a := New()
	objects := newStubObjectStore()
	docs := NewDocuments(a, objects, stubPDFChecker{pages: 1})
	doc, err := docs.Upload(context.Background(), "notes.txt", []byte("hello world"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.ContentType != "text/plain" || doc.Size != 11 || doc.Pages != 0 {
		t.Fatalf("unexpected doc: %+v", doc)
	}
	if !strings.HasPrefix(doc.StorageKey, "docs/") || !strings.HasSuffix(doc.StorageKey, ".txt") {
		t.Fatalf("storage key: %s", doc.StorageKey)
	}
	if _, ok := objects.objects[doc.StorageKey]; !ok {
		t.Fatalf("object not stored")
	}
	url, err := docs.DownloadURL(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("download url: %v", err)
	}
	if !strings.Contains(url, doc.StorageKey) {
		t.Fatalf("url: %s", url)
	}
}

func TestUploadRejections(t *testing.T) {
	a := New()
	docs := NewDocuments(a, newStubObjectStore(), stubPDFChecker{pages: 1})
	ctx := context.Background()

	if _, err := docs.Upload(ctx, "payload.exe", []byte("x")); !errors.Is(err, ErrDocumentType) {
		t.Fatalf("expected ErrDocumentType, got %v", err)
	}
	if _, err := docs.Upload(ctx, "empty.txt", nil); !errors.Is(err, ErrDocumentEmpty) {
		t.Fatalf("expected ErrDocumentEmpty, got %v", err)
	}
	big := make([]byte, MaxDocumentSize+1)
	if _, err := docs.Upload(ctx, "big.txt", big); !errors.Is(err, ErrDocumentTooLarge) {
		t.Fatalf("expected ErrDocumentTooLarge, got %v", err)
	}
}

func TestUploadPDFPageRules(t *testing.T) {
	a := New()
	objects := newStubObjectStore()
	ctx := context.Background()

	broken := NewDocuments(a, objects, stubPDFChecker{err: errors.New("bad xref")})
	if _, err := broken.Upload(ctx, "doc.pdf", []byte("%PDF-1.4")); !errors.Is(err, ErrPDFUnreadable) {
		t.Fatalf("expected ErrPDFUnreadable, got %v", err)
	}

	empty := NewDocuments(a, objects, stubPDFChecker{pages: 0})
	if _, err := empty.Upload(ctx, "doc.pdf", []byte("%PDF-1.4")); !errors.Is(err, ErrPDFNoPages) {
		t.Fatalf("expected ErrPDFNoPages, got %v", err)
	}

	huge := NewDocuments(a, objects, stubPDFChecker{pages: 501})
	if _, err := huge.Upload(ctx, "doc.pdf", []byte("%PDF-1.4")); !errors.Is(err, ErrPDFTooManyPages) {
		t.Fatalf("expected ErrPDFTooManyPages, got %v", err)
	}

	ok := NewDocuments(a, objects, stubPDFChecker{pages: 12})
	doc, err := ok.Upload(ctx, "doc.pdf", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if doc.Pages != 12 || doc.ContentType != "application/pdf" {
		t.Fatalf("unexpected doc: %+v", doc)
	}
}

func TestDocumentListOrder(t *testing.T) {
	a := New()
	docs := NewDocuments(a, newStubObjectStore(), stubPDFChecker{pages: 1})
	ctx := context.Background()
	first, _ := docs.Upload(ctx, "a.txt", []byte("a"))
	second, _ := docs.Upload(ctx, "b.md", []byte("b"))
	list := docs.List()
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("unexpected order: %v", list)
	}
	if _, err := docs.DownloadURL(ctx, "missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}
