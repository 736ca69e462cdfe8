package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"apicourse/internal/health"
	"apicourse/internal/util"
	"apicourse/services/catalog/internal/app"
)

const maxRequestBodyLen = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App       *app.App
	Documents *app.Documents
	Checker   *health.Checker
}

// Server exposes HTTP endpoints for the catalog service.
type Server struct {
	app       *app.App
	documents *app.Documents
	checker   *health.Checker
	mux       *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:       cfg.App,
		documents: cfg.Documents,
		checker:   cfg.Checker,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("catalog", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/readyz", s.handleReady)

	s.mux.HandleFunc("/products", s.handleProducts)
	s.mux.HandleFunc("/products/", s.handleProductByID)
	s.mux.HandleFunc("/orders", s.handleOrders)
	s.mux.HandleFunc("/orders/", s.handleOrderByID)
	s.mux.HandleFunc("/documents", s.handleDocuments)
	s.mux.HandleFunc("/documents/", s.handleDocumentSubroutes)
	s.mux.HandleFunc("/categories", s.handleCategories)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "catalog"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	report := s.checker.RunAll(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products := s.app.ListProducts(r.URL.Query().Get("category"))
		writeJSON(w, http.StatusOK, map[string]any{"items": products, "count": len(products)})
	case http.MethodPost:
		var in app.ProductInput
		if !decodeBody(w, r, &in) {
			return
		}
		product, err := s.app.CreateProduct(in)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, product)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleProductByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/products/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		product, err := s.app.GetProduct(id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, product)
	case http.MethodPut:
		var in app.ProductInput
		if !decodeBody(w, r, &in) {
			return
		}
		product, err := s.app.ReplaceProduct(id, in)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, product)
	case http.MethodDelete:
		if err := s.app.DeleteProduct(id); err != nil {
			writeAppError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		orders := s.app.ListOrders()
		writeJSON(w, http.StatusOK, map[string]any{"items": orders, "count": len(orders)})
	case http.MethodPost:
		var in app.OrderInput
		if !decodeBody(w, r, &in) {
			return
		}
		order, err := s.app.CreateOrder(in)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, order)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/orders/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	order, err := s.app.GetOrder(id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		docs := s.documents.List()
		writeJSON(w, http.StatusOK, map[string]any{"items": docs, "count": len(docs)})
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Multipart overhead on top of the document cap.
	r.Body = http.MaxBytesReader(w, r.Body, app.MaxDocumentSize+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, app.MaxDocumentSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	doc, err := s.documents.Upload(r.Context(), header.Filename, data)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// /documents/{id}/download
func (s *Server) handleDocumentSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/documents/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "download" {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, err := s.documents.DownloadURL(r.Context(), parts[0])
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": app.Categories})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyLen)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeAppError(w http.ResponseWriter, err error) {
	var vErr *app.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeValidationError(w, vErr)
	case errors.Is(err, app.ErrProductNotFound),
		errors.Is(err, app.ErrOrderNotFound),
		errors.Is(err, app.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrSKUTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrDocumentTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, app.ErrDocumentType),
		errors.Is(err, app.ErrDocumentEmpty),
		errors.Is(err, app.ErrPDFUnreadable),
		errors.Is(err, app.ErrPDFNoPages),
		errors.Is(err, app.ErrPDFTooManyPages):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeValidationError renders the 422 envelope with the per-field map.
func writeValidationError(w http.ResponseWriter, vErr *app.ValidationError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":   "VALIDATION_ERROR",
			"fields": vErr.Fields,
		},
		"requestId": strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForCatalog(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForCatalog(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "product not found":
		return "PRODUCT_NOT_FOUND"
	case message == "order not found":
		return "ORDER_NOT_FOUND"
	case message == "document not found":
		return "DOCUMENT_NOT_FOUND"
	case message == "sku already exists":
		return "PRODUCT_SKU_CONFLICT"
	case strings.Contains(message, "pdf"):
		return "DOCUMENT_INVALID_PDF"
	case strings.Contains(message, "exceeds"):
		return "DOCUMENT_TOO_LARGE"
	case strings.Contains(message, "file"):
		return "DOCUMENT_INVALID_FILE"
	case strings.Contains(message, "multipart"):
		return "DOCUMENT_INVALID_FILE"
	case message == "invalid json body":
		return "CATALOG_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}
	switch status {
	case http.StatusBadRequest:
		return "CATALOG_INVALID_REQUEST"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusConflict:
		return "CATALOG_CONFLICT"
	case http.StatusRequestEntityTooLarge:
		return "DOCUMENT_TOO_LARGE"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
