// internal/gateway/http-gateway/gateway.go
package httpgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	commonhttp "enrollment-sync/internal/common/http"
	"enrollment-sync/internal/common/logger"
	"enrollment-sync/internal/common/observability"
	"enrollment-sync/internal/common/validation"
	fieldtransformer "enrollment-sync/internal/engine/field-transformer"
	"enrollment-sync/internal/gateway"
	"enrollment-sync/internal/models"
)

// TokenSource supplies the bearer token for each call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// sectionEndpoints are the explicit per-step submit endpoints.
var sectionEndpoints = map[models.SectionName]string{
	models.SectionAcademicHistory: "/academic/academic-history",
	models.SectionFinancing:       "/financing/select-plan",
	models.SectionDeclaration:     "/enrollment/declaration",
}

var applicationSchema = validation.MustCompileSchema(`{
	"type": "object",
	"properties": {
		"id":     {"type": "string"},
		"status": {"type": ["string", "null"]}
	},
	"additionalProperties": {"type": ["object", "array", "string", "null"]}
}`)

// Gateway talks to the enrollment REST API.
type Gateway struct {
	baseURL string
	client  *commonhttp.Client
	tokens  TokenSource
	obs     *observability.Observability
	logger  logger.Logger
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func New(cfg Config, tokens TokenSource, obs *observability.Observability, log logger.Logger) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if obs == nil {
		obs = observability.NewNoop("enrollment-sync")
	}
	return &Gateway{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  commonhttp.NewClient(timeout),
		tokens:  tokens,
		obs:     obs,
		logger:  logger.ForComponent(log, "http-gateway"),
	}
}

// WithHTTPClient replaces the outbound client. Used by tests.
func (g *Gateway) WithHTTPClient(c *commonhttp.Client) *Gateway {
	g.client = c
	return g
}

type autoSaveResponse struct {
	Message       string `json:"message"`
	ApplicationID string `json:"application_id"`
}

type errorResponse struct {
	Detail  interface{} `json:"detail"`
	Message string      `json:"message"`
}

type uploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	File    struct {
		ID           string `json:"id"`
		Filename     string `json:"filename"`
		Size         int64  `json:"size"`
		ContentType  string `json:"content_type"`
		DocumentType string `json:"document_type"`
		DownloadURL  string `json:"download_url"`
		CreatedAt    string `json:"created_at"`
	} `json:"file"`
}

func (g *Gateway) CreateOrFetchInProgress(ctx context.Context) (string, error) {
	var out autoSaveResponse
	if err := g.doJSON(ctx, "create_or_fetch", http.MethodPost, "/enrollment/auto-save", map[string]interface{}{}, &out); err != nil {
		return "", err
	}
	if out.ApplicationID == "" {
		return "", fmt.Errorf("auto-save response has no application_id")
	}
	return out.ApplicationID, nil
}

func (g *Gateway) FetchApplication(ctx context.Context, id string) (fieldtransformer.Document, error) {
	var out map[string]interface{}
	path := "/enrollment/get-application/" + url.PathEscape(id)
	if err := g.doJSON(ctx, "fetch_application", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	result, err := applicationSchema.Validate(out)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, fmt.Errorf("unexpected application payload: %s", strings.Join(result.GetErrorMessages(), "; "))
	}

	// Envelope fields are not part of the record.
	delete(out, "id")
	delete(out, "created_at")
	delete(out, "updated_at")
	return fieldtransformer.Document(out), nil
}

func (g *Gateway) PartialUpdate(ctx context.Context, id string, sections fieldtransformer.Document) error {
	body := make(map[string]interface{}, len(sections)+1)
	for k, v := range sections {
		body[k] = v
	}
	body["application_id"] = id
	return g.doJSON(ctx, "partial_update", http.MethodPost, "/enrollment/auto-save", body, nil)
}

func (g *Gateway) SubmitSection(ctx context.Context, id string, section models.SectionName, payload fieldtransformer.Document) error {
	path, ok := sectionEndpoints[section]
	if !ok {
		return fmt.Errorf("section %q has no submit endpoint", section)
	}
	body := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["application_id"] = id
	return g.doJSON(ctx, "submit_"+fieldtransformer.ToRemoteKey(string(section)), http.MethodPost, path, body, nil)
}

func (g *Gateway) SubmitFullApplication(ctx context.Context, id string, payload fieldtransformer.Document) error {
	body := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["application_id"] = id
	return g.doJSON(ctx, "submit_application", http.MethodPost, "/enrollment/submit-application", body, nil)
}

func (g *Gateway) UploadFile(ctx context.Context, upload gateway.Upload) (models.Document, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, upload.Filename))
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return models.Document{}, fmt.Errorf("create file part: %w", err)
	}
	if upload.Content != nil {
		if _, err := io.Copy(part, upload.Content); err != nil {
			return models.Document{}, fmt.Errorf("read upload content: %w", err)
		}
	}
	if err := mw.WriteField("application_id", upload.ApplicationID); err != nil {
		return models.Document{}, err
	}
	if err := mw.WriteField("document_type", upload.DocumentType); err != nil {
		return models.Document{}, err
	}
	if err := mw.Close(); err != nil {
		return models.Document{}, err
	}

	var out uploadResponse
	if err := g.do(ctx, "upload_file", http.MethodPost, "/documents/upload", &buf, mw.FormDataContentType(), &out); err != nil {
		return models.Document{}, err
	}

	doc := models.Document{
		ID:           out.File.ID,
		Filename:     out.File.Filename,
		Size:         out.File.Size,
		ContentType:  out.File.ContentType,
		DocumentType: out.File.DocumentType,
		URL:          out.File.DownloadURL,
		UploadedAt:   out.File.CreatedAt,
	}
	if doc.DocumentType == "" {
		doc.DocumentType = upload.DocumentType
	}
	if c, ok := models.CategoryFor(doc); ok {
		doc.Category = c.Key
	}
	return doc, nil
}

func (g *Gateway) doJSON(ctx context.Context, operation, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", operation, err)
		}
		reader = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return g.do(ctx, operation, method, path, reader, contentType, out)
}

func (g *Gateway) do(ctx context.Context, operation, method, path string, body io.Reader, contentType string, out interface{}) error {
	ctx, span := g.obs.StartSpan(ctx, "gateway."+operation,
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	)
	defer span.End()
	start := time.Now()

	status, err := g.roundTrip(ctx, method, path, body, contentType, out)
	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.obs.RecordCall(ctx, operation, time.Since(start), "error")
		g.logger.Warn("gateway call failed", map[string]interface{}{
			"operation": operation,
			"status":    status,
			"error":     err,
		})
		return err
	}
	g.obs.RecordCall(ctx, operation, time.Since(start), "ok")
	return nil
}

func (g *Gateway) roundTrip(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if g.tokens != nil {
		token, err := g.tokens.Token(ctx)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", gateway.ErrUnauthorized, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		commonhttp.ReadErrorBody(resp)
		return resp.StatusCode, gateway.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		commonhttp.ReadErrorBody(resp)
		return resp.StatusCode, gateway.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return resp.StatusCode, &gateway.RemoteError{StatusCode: resp.StatusCode, Reason: reason(commonhttp.ReadErrorBody(resp))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

// reason extracts the server message from an error body ({"detail": ...} or {"message": ...}).
func reason(body string) string {
	var e errorResponse
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return strings.TrimSpace(body)
	}
	switch d := e.Detail.(type) {
	case string:
		return d
	case nil:
	default:
		raw, _ := json.Marshal(d)
		return string(raw)
	}
	return e.Message
}

var _ gateway.Gateway = (*Gateway)(nil)
