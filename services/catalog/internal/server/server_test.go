package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"apicourse/services/catalog/internal/app"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return nil
}

func (m *memObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return "", errors.New("missing object")
	}
	return "https://storage.test/" + key, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

type fixedPages struct{ pages int }

func (f fixedPages) PageCount([]byte) (int, error) { return f.pages, nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	core := app.New()
	documents := app.NewDocuments(core, &memObjects{objects: make(map[string][]byte)}, fixedPages{pages: 3})
	srv := New(Config{App: core, Documents: documents})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func productPayload() map[string]any {
	return map[string]any{
		"sku":      "AB-1234",
		"name":     "Wireless Keyboard",
		"price":    49.99,
		"category": "electronics",
		"stock":    10,
		"tags":     []string{"wireless"},
	}
}

type validationEnvelope struct {
	Error struct {
		Code   string              `json:"code"`
		Fields map[string][]string `json:"fields"`
	} `json:"error"`
}

func TestProductCRUD(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/products", productPayload())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status: %d", resp.StatusCode)
	}
	created := decode[app.Product](t, resp)
	if created.ID == "" || created.SKU != "AB-1234" {
		t.Fatalf("unexpected product: %+v", created)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/products/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	update := productPayload()
	update["name"] = "Mechanical Keyboard"
	resp = doJSON(t, http.MethodPut, ts.URL+"/products/"+created.ID, update)
	updated := decode[app.Product](t, resp)
	if updated.Name != "Mechanical Keyboard" {
		t.Fatalf("update failed: %+v", updated)
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/products/"+created.ID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/products/"+created.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["code"] != "PRODUCT_NOT_FOUND" {
		t.Fatalf("code: %v", body["code"])
	}
}

func TestProductValidation422(t *testing.T) {
	ts := newTestServer(t)
	resp := doJSON(t, http.MethodPost, ts.URL+"/products", map[string]any{
		"sku":      "nope",
		"name":     "x",
		"price":    -1,
		"category": "furniture",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	envelope := decode[validationEnvelope](t, resp)
	if envelope.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("code: %s", envelope.Error.Code)
	}
	for _, field := range []string{"sku", "name", "price", "category"} {
		if len(envelope.Error.Fields[field]) == 0 {
			t.Errorf("missing field error %s: %v", field, envelope.Error.Fields)
		}
	}
}

func TestProductSKUConflict(t *testing.T) {
	ts := newTestServer(t)
	resp := doJSON(t, http.MethodPost, ts.URL+"/products", productPayload())
	resp.Body.Close()
	resp = doJSON(t, http.MethodPost, ts.URL+"/products", productPayload())
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["code"] != "PRODUCT_SKU_CONFLICT" {
		t.Fatalf("code: %v", body["code"])
	}
}

func TestProductCategoryFilter(t *testing.T) {
	ts := newTestServer(t)
	resp := doJSON(t, http.MethodPost, ts.URL+"/products", productPayload())
	resp.Body.Close()
	book := productPayload()
	book["sku"] = "BK-100"
	book["name"] = "Practical Databases"
	book["category"] = "books"
	resp = doJSON(t, http.MethodPost, ts.URL+"/products", book)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/products?category=books", nil)
	list := decode[struct {
		Items []app.Product `json:"items"`
		Count int           `json:"count"`
	}](t, resp)
	if list.Count != 1 || list.Items[0].Category != "books" {
		t.Fatalf("filter failed: %+v", list)
	}
}

func TestOrderFlow(t *testing.T) {
	ts := newTestServer(t)
	resp := doJSON(t, http.MethodPost, ts.URL+"/products", productPayload())
	product := decode[app.Product](t, resp)

	resp = doJSON(t, http.MethodPost, ts.URL+"/orders", map[string]any{
		"customerEmail": "buyer@example.com",
		"items":         []map[string]any{{"productId": product.ID, "quantity": 4}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("order status: %d", resp.StatusCode)
	}
	order := decode[app.Order](t, resp)
	if order.Total != product.Price*4 || order.Status != "confirmed" {
		t.Fatalf("unexpected order: %+v", order)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/orders/"+order.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get order status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Stock is down to 6, so ordering 7 must fail with a field error.
	resp = doJSON(t, http.MethodPost, ts.URL+"/orders", map[string]any{
		"customerEmail": "buyer@example.com",
		"items":         []map[string]any{{"productId": product.ID, "quantity": 7}},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("oversell status: %d", resp.StatusCode)
	}
	envelope := decode[validationEnvelope](t, resp)
	msgs := envelope.Error.Fields["items.0.quantity"]
	if len(msgs) != 1 || !strings.Contains(msgs[0], "only 6 in stock") {
		t.Fatalf("messages: %v", envelope.Error.Fields)
	}
}

func TestOrderUnknownProduct(t *testing.T) {
	ts := newTestServer(t)
	resp := doJSON(t, http.MethodPost, ts.URL+"/orders", map[string]any{
		"customerEmail": "buyer@example.com",
		"items":         []map[string]any{{"productId": "nope", "quantity": 1}},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	envelope := decode[validationEnvelope](t, resp)
	if len(envelope.Error.Fields["items.0.productId"]) == 0 {
		t.Fatalf("fields: %v", envelope.Error.Fields)
	}
}

func uploadFile(t *testing.T, url, fileName string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	writer.Close()
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func TestDocumentUploadAndDownload(t *testing.T) {
	ts := newTestServer(t)

	resp := uploadFile(t, ts.URL+"/documents", "handbook.pdf", []byte("%PDF-1.4 content"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status: %d", resp.StatusCode)
	}
	doc := decode[app.Document](t, resp)
	if doc.Pages != 3 || doc.ContentType != "application/pdf" {
		t.Fatalf("unexpected document: %+v", doc)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/documents", nil)
	list := decode[struct {
		Items []app.Document `json:"items"`
		Count int            `json:"count"`
	}](t, resp)
	if list.Count != 1 || list.Items[0].ID != doc.ID {
		t.Fatalf("list: %+v", list)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/documents/"+doc.ID+"/download", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status: %d", resp.StatusCode)
	}
	link := decode[map[string]string](t, resp)
	if !strings.HasPrefix(link["url"], "https://storage.test/docs/") {
		t.Fatalf("url: %s", link["url"])
	}
}

func TestDocumentUploadRejectsBadType(t *testing.T) {
	ts := newTestServer(t)
	resp := uploadFile(t, ts.URL+"/documents", "malware.exe", []byte("MZ"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["code"] != "DOCUMENT_INVALID_FILE" {
		t.Fatalf("code: %v", body["code"])
	}
}

func TestDocumentDownloadNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp := doJSON(t, http.MethodGet, ts.URL+"/documents/missing/download", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["code"] != "DOCUMENT_NOT_FOUND" {
		t.Fatalf("code: %v", body["code"])
	}
}

func TestCategoriesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp := doJSON(t, http.MethodGet, ts.URL+"/categories", nil)
	list := decode[map[string][]string](t, resp)
	if len(list["items"]) != 5 {
		t.Fatalf("categories: %v", list)
	}
}
