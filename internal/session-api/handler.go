// internal/session-api/handler.go
package sessionapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"enrollment-sync/internal/common/auth"
	apperrors "enrollment-sync/internal/common/errors"
	"enrollment-sync/internal/common/logger"
	sessioncoordinator "enrollment-sync/internal/engine/session-coordinator"
	"enrollment-sync/internal/gateway"
	"enrollment-sync/internal/models"
)

const (
	maxUploadMemory = 10 << 20
	requestTimeout  = 60 * time.Second
)

// Session is the wizard session the API drives.
type Session interface {
	Snapshot() sessioncoordinator.State
	ReviewSummary() sessioncoordinator.ReviewSummary
	Edit(ctx context.Context, section models.SectionName, fn func(*models.ApplicationRecord) error) (models.ValidationState, error)
	Advance(ctx context.Context, step int) bool
	CompleteStep(ctx context.Context, step int) (int, error)
	EditFrom(ctx context.Context, step int) error
	StartOver(ctx context.Context) error
	Submit(ctx context.Context) (string, error)
	AttachDocument(ctx context.Context, upload gateway.Upload) (models.Document, error)
	RemoveDocument(ctx context.Context, documentID string) error
}

// SignInRequest carries either password credentials (Keycloak) or a trusted
// identity (embedded mode).
type SignInRequest struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Subject  string `json:"sub,omitempty"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Mobile   string `json:"mobile,omitempty"`
}

// Accounts signs the wizard user in and out. Both emit auth transitions.
type Accounts interface {
	SignIn(ctx context.Context, req SignInRequest) (auth.Identity, error)
	SignOut(ctx context.Context)
}

type Handler struct {
	session  Session
	accounts Accounts
	logger   logger.Logger
}

func New(session Session, accounts Accounts, log logger.Logger) *Handler {
	return &Handler{
		session:  session,
		accounts: accounts,
		logger:   logger.ForComponent(log, "session-api"),
	}
}

// Register mounts the session routes under /api/v1.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.RequestID)
	api.Use(middleware.Recoverer)
	api.Use(middleware.Timeout(requestTimeout))
	api.Use(h.requestLogger)

	api.Post("/session/login", h.handleSignIn)
	api.Post("/session/logout", h.handleSignOut)

	api.Get("/state", h.handleState)
	api.Get("/summary", h.handleSummary)
	api.Put("/sections/{section}", h.handleEditSection)
	api.Post("/steps/{step}/advance", h.handleAdvance)
	api.Post("/steps/{step}/complete", h.handleCompleteStep)
	api.Post("/steps/{step}/edit", h.handleEditFrom)
	api.Post("/start-over", h.handleStartOver)
	api.Post("/submit", h.handleSubmit)
	api.Post("/documents", h.handleUpload)
	api.Delete("/documents/{id}", h.handleRemoveDocument)

	r.Mount("/api/v1", api)
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("request served", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"durationMs": time.Since(start).Milliseconds(),
			"requestId":  middleware.GetReqID(r.Context()),
		})
	})
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	identity, err := h.accounts.SignIn(r.Context(), req)
	if err != nil {
		h.logger.Warn("sign-in failed", map[string]interface{}{"error": err})
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"identity": identity,
		"state":    h.session.Snapshot(),
	})
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	h.accounts.SignOut(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.ReviewSummary())
}

// handleEditSection replaces one section with the request body.
func (h *Handler) handleEditSection(w http.ResponseWriter, r *http.Request) {
	section, ok := parseSection(chi.URLParam(r, "section"))
	if !ok {
		writeBadRequest(w, "unknown section")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	update, err := decodeSection(section, raw)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := h.session.Edit(r.Context(), section, func(rec *models.ApplicationRecord) error {
		if section == models.SectionDocuments {
			rec.Documents = update.Documents
			return nil
		}
		rec.Merge(update.Only(section))
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	step, ok := parseStep(w, r)
	if !ok {
		return
	}
	if !h.session.Advance(r.Context(), step) {
		writeError(w, apperrors.NewStepLockedError(step, "Complete the previous step first"))
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot().Steps)
}

func (h *Handler) handleCompleteStep(w http.ResponseWriter, r *http.Request) {
	step, ok := parseStep(w, r)
	if !ok {
		return
	}
	if _, err := h.session.CompleteStep(r.Context(), step); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot().Steps)
}

func (h *Handler) handleEditFrom(w http.ResponseWriter, r *http.Request) {
	step, ok := parseStep(w, r)
	if !ok {
		return
	}
	if err := h.session.EditFrom(r.Context(), step); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot().Steps)
}

func (h *Handler) handleStartOver(w http.ResponseWriter, r *http.Request) {
	if err := h.session.StartOver(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := h.session.Submit(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"applicationId": id,
		"status":        models.StatusSubmitted,
	})
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeBadRequest(w, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeBadRequest(w, "file is required")
		return
	}
	defer file.Close()

	documentType := r.FormValue("document_type")
	if documentType == "" {
		writeBadRequest(w, "document_type is required")
		return
	}

	doc, err := h.session.AttachDocument(r.Context(), gateway.Upload{
		DocumentType: documentType,
		Filename:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Size:         header.Size,
		Content:      file,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) handleRemoveDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.session.RemoveDocument(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseSection(name string) (models.SectionName, bool) {
	for _, s := range models.AllSections {
		if string(s) == name {
			return s, true
		}
	}
	return "", false
}

func parseStep(w http.ResponseWriter, r *http.Request) (int, bool) {
	step, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil || step < 1 || step > models.TotalSteps {
		writeBadRequest(w, "invalid step")
		return 0, false
	}
	return step, true
}

// decodeSection decodes raw as the value of section within a record.
func decodeSection(section models.SectionName, raw json.RawMessage) (models.ApplicationRecord, error) {
	wrapped, err := json.Marshal(map[string]json.RawMessage{string(section): raw})
	if err != nil {
		return models.ApplicationRecord{}, err
	}
	var rec models.ApplicationRecord
	if err := json.Unmarshal(wrapped, &rec); err != nil {
		return models.ApplicationRecord{}, fmt.Errorf("invalid %s section: %w", section, err)
	}
	return rec, nil
}

type errorBody struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Details  string                 `json:"details,omitempty"`
	Recovery string                 `json:"recovery,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	stdErr, ok := apperrors.AsStandard(err)
	if !ok {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			stdErr = apperrors.NewAuthenticationExpiredError(err)
		} else {
			stdErr = apperrors.NewInternalError(err)
		}
	}
	writeJSON(w, statusFor(stdErr.Code), errorBody{
		Code:     string(stdErr.Code),
		Message:  stdErr.Message,
		Details:  stdErr.Details,
		Recovery: string(stdErr.Recovery()),
		Metadata: stdErr.Metadata,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: message})
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidationFailed:
		return http.StatusUnprocessableEntity
	case apperrors.ErrCodeAuthenticationExpired:
		return http.StatusUnauthorized
	case apperrors.ErrCodeStepLocked:
		return http.StatusConflict
	case apperrors.ErrCodeSubmitFailed, apperrors.ErrCodeUploadFailed, apperrors.ErrCodeSaveFailed, apperrors.ErrCodeHydrationFailed:
		return http.StatusBadGateway
	case apperrors.ErrCodeIdentityUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
