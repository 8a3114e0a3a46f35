package expense

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/expensense/expensense/internal/extract"
	"github.com/expensense/expensense/internal/signature"
)

// maxUploadSize bounds multipart uploads; phone photos run large.
const maxUploadSize = int64(50 << 20) // 50MB

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes a JSON response body with CORS headers
func writeJSON(w http.ResponseWriter, status int, body any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps service errors onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUnauthorizedTransition):
		status = http.StatusForbidden
	case errors.Is(err, ErrConflictingTransition):
		status = http.StatusConflict
	case errors.Is(err, signature.ErrImageDecode):
		status = http.StatusBadRequest
	case errors.Is(err, extract.ErrExtractionFailed):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// readUpload pulls the "file" part out of a multipart request and infers
// a content type when the browser did not send one.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, string, bool) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "error parsing form"})
		return nil, "", "", false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no file provided"})
		return nil, "", "", false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "error reading file"})
		return nil, "", "", false
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".gif":
			contentType = "image/gif"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic", ".heif":
			contentType = "image/heic"
		}
	}

	return data, header.Filename, contentType, true
}

// actorID identifies the acting user on manual adjudication requests.
func actorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

// handleSubmitExpense files a new expense claim from a multipart form
func (s *Server) handleSubmitExpense(w http.ResponseWriter, r *http.Request) {
	data, filename, contentType, ok := readUpload(w, r)
	if !ok {
		return
	}

	amount, err := decimal.NewFromString(r.FormValue("amount"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid amount"})
		return
	}

	expenseDate, err := time.Parse("2006-01-02", r.FormValue("expense_date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid expense_date, want YYYY-MM-DD"})
		return
	}

	e, err := s.service.SubmitExpense(SubmitRequest{
		UserID:      r.FormValue("user_id"),
		Name:        r.FormValue("name"),
		Amount:      amount,
		ExpenseDate: expenseDate,
		Category:    r.FormValue("category"),
		Filename:    filename,
		ReceiptData: data,
		ContentType: contentType,
	})
	if err != nil {
		slog.Error("Error submitting expense", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, e)
}

// handleScanReceipt runs field extraction for claim-form pre-fill
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	data, _, contentType, ok := readUpload(w, r)
	if !ok {
		return
	}

	fields, err := s.service.ScanReceipt(r.Context(), data, contentType)
	if err != nil {
		slog.Error("Error scanning receipt", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, fields)
}

// handleListExpenses returns all expenses
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses()
	if err != nil {
		slog.Error("Error listing expenses", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, expenses)
}

// handleGetExpense returns a single expense
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := s.service.GetExpense(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleGetReceiptFile streams the stored receipt image
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	setCORSHeaders(w)
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Write(data)
}

// handleApproveExpense applies a manual approval by the acting user
func (s *Server) handleApproveExpense(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "X-User-ID header required"})
		return
	}

	e, err := s.service.Approve(r.PathValue("id"), actor)
	if err != nil {
		slog.Error("Error approving expense", "error", err, "actor_id", actor)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleDenyExpense applies a manual rejection by the acting user
func (s *Server) handleDenyExpense(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "X-User-ID header required"})
		return
	}

	e, err := s.service.Deny(r.PathValue("id"), actor)
	if err != nil {
		slog.Error("Error denying expense", "error", err, "actor_id", actor)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleCreateUser registers a user
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Role    Role   `json:"role"`
		Company string `json:"company"`
		Team    string `json:"team"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	u, err := s.service.CreateUser(req.Name, req.Role, req.Company, req.Team)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// handleListUsers returns all users
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.ListUsers()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// handleSetSignature stores a user's reference signature image
func (s *Server) handleSetSignature(w http.ResponseWriter, r *http.Request) {
	data, filename, contentType, ok := readUpload(w, r)
	if !ok {
		return
	}

	u, err := s.service.SetSignature(r.PathValue("id"), filename, data, contentType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleSetCondition creates or replaces an approval condition
func (s *Server) handleSetCondition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Company   string `json:"company"`
		Team      string `json:"team"`
		Role      Role   `json:"role"`
		MaxAmount string `json:"max_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	maxAmount, err := decimal.NewFromString(req.MaxAmount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid max_amount"})
		return
	}

	c, err := s.service.SetCondition(req.Company, req.Team, req.Role, maxAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleListConditions returns all approval conditions
func (s *Server) handleListConditions(w http.ResponseWriter, r *http.Request) {
	conditions, err := s.service.ListConditions()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conditions)
}
