// internal/gateway/postgres-gateway/gateway.go
package postgresgateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"enrollment-sync/internal/common/auth"
	"enrollment-sync/internal/common/logger"
	"enrollment-sync/internal/common/observability"
	fieldtransformer "enrollment-sync/internal/engine/field-transformer"
	"enrollment-sync/internal/gateway"
	"enrollment-sync/internal/models"
)

// MaxUploadSize bounds the bytes stored per document.
const MaxUploadSize = 10 << 20

const (
	statusInProgress = models.StatusInProgress
	statusSubmitted  = models.StatusSubmitted
)

// OwnerSource tells the gateway who is signed in. Applications are scoped to that user.
type OwnerSource interface {
	CurrentIdentity() (auth.Identity, bool)
}

// Gateway stores applications directly in Postgres. It backs deployments
// where the engine runs next to the admissions database instead of behind the REST API.
type Gateway struct {
	db     *sql.DB
	owners OwnerSource
	obs    *observability.Observability
	logger logger.Logger
	now    func() time.Time
}

func New(db *sql.DB, owners OwnerSource, obs *observability.Observability, log logger.Logger) *Gateway {
	if obs == nil {
		obs = observability.NewNoop("enrollment-sync")
	}
	return &Gateway{
		db:     db,
		owners: owners,
		obs:    obs,
		logger: logger.ForComponent(log, "postgres-gateway"),
		now:    time.Now,
	}
}

// Migrate creates the application and document tables when missing.
func (g *Gateway) Migrate(ctx context.Context) error {
	_, err := g.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS enrollment_applications (
  id TEXT PRIMARY KEY,
  owner_email TEXT NOT NULL,
  status TEXT NOT NULL,
  data JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  submitted_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS enrollment_applications_owner_idx
  ON enrollment_applications (owner_email, status);
CREATE TABLE IF NOT EXISTS enrollment_documents (
  id TEXT PRIMARY KEY,
  application_id TEXT NOT NULL REFERENCES enrollment_applications(id),
  document_type TEXT NOT NULL,
  filename TEXT NOT NULL,
  content_type TEXT NOT NULL,
  size BIGINT NOT NULL,
  content BYTEA NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`)
	if err != nil {
		return fmt.Errorf("migrate enrollment tables: %w", err)
	}
	return nil
}

func (g *Gateway) owner() (string, error) {
	if g.owners == nil {
		return "", gateway.ErrUnauthorized
	}
	identity, ok := g.owners.CurrentIdentity()
	if !ok {
		return "", gateway.ErrUnauthorized
	}
	if identity.Email != "" {
		return identity.Email, nil
	}
	if identity.Subject != "" {
		return identity.Subject, nil
	}
	return "", gateway.ErrUnauthorized
}

func (g *Gateway) CreateOrFetchInProgress(ctx context.Context) (id string, err error) {
	ctx, done := g.track(ctx, "create_or_fetch")
	defer func() { done(err) }()

	owner, err := g.owner()
	if err != nil {
		return "", err
	}

	err = g.db.QueryRowContext(ctx, `
		SELECT id FROM enrollment_applications
		WHERE owner_email = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`, owner, statusInProgress).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("find in-progress application: %w", err)
	}

	id = uuid.NewString()
	if _, err = g.db.ExecContext(ctx, `
		INSERT INTO enrollment_applications (id, owner_email, status, data)
		VALUES ($1, $2, $3, '{}'::jsonb)`, id, owner, statusInProgress); err != nil {
		return "", fmt.Errorf("create application: %w", err)
	}
	g.logger.Info("application created", map[string]interface{}{"applicationId": id})
	return id, nil
}

func (g *Gateway) FetchApplication(ctx context.Context, id string) (doc fieldtransformer.Document, err error) {
	ctx, done := g.track(ctx, "fetch_application")
	defer func() { done(err) }()

	owner, err := g.owner()
	if err != nil {
		return nil, err
	}

	var status string
	var raw []byte
	err = g.db.QueryRowContext(ctx, `
		SELECT status, data FROM enrollment_applications
		WHERE id = $1 AND owner_email = $2`, id, owner).Scan(&status, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gateway.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch application: %w", err)
	}

	doc = fieldtransformer.Document{}
	if len(raw) > 0 {
		if err = json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode application data: %w", err)
		}
	}
	doc["status"] = status

	documents, err := g.documents(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(documents) > 0 {
		doc["documents"] = documents
	}
	return doc, nil
}

func (g *Gateway) documents(ctx context.Context, applicationID string) ([]interface{}, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, filename, size, content_type, document_type, created_at
		FROM enrollment_documents
		WHERE application_id = $1
		ORDER BY created_at`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []interface{}
	for rows.Next() {
		var id, filename, contentType, documentType string
		var size int64
		var createdAt time.Time
		if err := rows.Scan(&id, &filename, &size, &contentType, &documentType, &createdAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, map[string]interface{}{
			"id":            id,
			"filename":      filename,
			"size":          size,
			"content_type":  contentType,
			"document_type": documentType,
			"uploaded_at":   createdAt.UTC().Format(time.RFC3339),
		})
	}
	return out, rows.Err()
}

func (g *Gateway) PartialUpdate(ctx context.Context, id string, sections fieldtransformer.Document) (err error) {
	ctx, done := g.track(ctx, "partial_update")
	defer func() { done(err) }()

	owner, err := g.owner()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}

	// Object sections merge per field, so a field left out of the payload (for
	// example one dropped by sanitizing) keeps its stored value. Any other value,
	// such as the documents array, replaces the stored one.
	res, err := g.db.ExecContext(ctx, `
		UPDATE enrollment_applications a
		SET data = a.data || (
			SELECT COALESCE(jsonb_object_agg(p.key,
				CASE WHEN jsonb_typeof(p.value) = 'object' AND jsonb_typeof(a.data->p.key) = 'object'
					THEN (a.data->p.key) || p.value
					ELSE p.value
				END), '{}'::jsonb)
			FROM jsonb_each($1::jsonb) AS p(key, value)
		), updated_at = $2
		WHERE a.id = $3 AND a.owner_email = $4 AND a.status = $5`,
		string(payload), g.now().UTC(), id, owner, statusInProgress)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	return g.requireRow(ctx, res, id, owner)
}

func (g *Gateway) SubmitSection(ctx context.Context, id string, section models.SectionName, payload fieldtransformer.Document) (err error) {
	ctx, done := g.track(ctx, "submit_"+fieldtransformer.ToRemoteKey(string(section)))
	defer func() { done(err) }()

	owner, err := g.owner()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", section, err)
	}

	res, err := g.db.ExecContext(ctx, `
		UPDATE enrollment_applications
		SET data = data || jsonb_build_object($1::text, $2::jsonb), updated_at = $3
		WHERE id = $4 AND owner_email = $5 AND status = $6`,
		fieldtransformer.ToRemoteKey(string(section)), string(raw), g.now().UTC(), id, owner, statusInProgress)
	if err != nil {
		return fmt.Errorf("submit %s: %w", section, err)
	}
	return g.requireRow(ctx, res, id, owner)
}

func (g *Gateway) SubmitFullApplication(ctx context.Context, id string, payload fieldtransformer.Document) (err error) {
	ctx, done := g.track(ctx, "submit_application")
	defer func() { done(err) }()

	owner, err := g.owner()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode application: %w", err)
	}

	now := g.now().UTC()
	res, err := g.db.ExecContext(ctx, `
		UPDATE enrollment_applications
		SET data = data || $1::jsonb, status = $2, updated_at = $3, submitted_at = $3
		WHERE id = $4 AND owner_email = $5 AND status = $6`,
		string(raw), statusSubmitted, now, id, owner, statusInProgress)
	if err != nil {
		return fmt.Errorf("submit application: %w", err)
	}
	if err = g.requireRow(ctx, res, id, owner); err != nil {
		return err
	}
	g.logger.Info("application submitted", map[string]interface{}{"applicationId": id})
	return nil
}

func (g *Gateway) UploadFile(ctx context.Context, upload gateway.Upload) (doc models.Document, err error) {
	ctx, done := g.track(ctx, "upload_file")
	defer func() { done(err) }()

	owner, err := g.owner()
	if err != nil {
		return models.Document{}, err
	}
	if upload.Content == nil {
		return models.Document{}, &gateway.RemoteError{StatusCode: http.StatusBadRequest, Reason: "No file provided"}
	}
	content, err := io.ReadAll(io.LimitReader(upload.Content, MaxUploadSize+1))
	if err != nil {
		return models.Document{}, fmt.Errorf("read upload: %w", err)
	}
	if len(content) > MaxUploadSize {
		return models.Document{}, &gateway.RemoteError{StatusCode: http.StatusRequestEntityTooLarge, Reason: "File too large"}
	}

	var exists bool
	if err = g.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM enrollment_applications WHERE id = $1 AND owner_email = $2)`,
		upload.ApplicationID, owner).Scan(&exists); err != nil {
		return models.Document{}, fmt.Errorf("check application: %w", err)
	}
	if !exists {
		return models.Document{}, gateway.ErrNotFound
	}

	contentType := upload.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(content)
	}
	now := g.now().UTC()
	doc = models.Document{
		ID:           uuid.NewString(),
		Filename:     upload.Filename,
		Size:         int64(len(content)),
		ContentType:  contentType,
		DocumentType: upload.DocumentType,
		UploadedAt:   now.Format(time.RFC3339),
	}
	if _, err = g.db.ExecContext(ctx, `
		INSERT INTO enrollment_documents (id, application_id, document_type, filename, content_type, size, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, upload.ApplicationID, doc.DocumentType, doc.Filename, doc.ContentType, doc.Size, content, now); err != nil {
		return models.Document{}, fmt.Errorf("store document: %w", err)
	}
	if c, ok := models.CategoryFor(doc); ok {
		doc.Category = c.Key
	}
	return doc, nil
}

// requireRow maps an update that touched nothing to not-found, or to a
// conflict when the application exists but is no longer in progress.
func (g *Gateway) requireRow(ctx context.Context, res sql.Result, id, owner string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = g.db.QueryRowContext(ctx, `
		SELECT status FROM enrollment_applications WHERE id = $1 AND owner_email = $2`, id, owner).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check application status: %w", err)
	}
	return &gateway.RemoteError{StatusCode: http.StatusConflict, Reason: fmt.Sprintf("Application is %s and can no longer be changed", status)}
}

func (g *Gateway) track(ctx context.Context, operation string) (context.Context, func(error)) {
	ctx, span := g.obs.StartSpan(ctx, "gateway."+operation, attribute.String("db.system", "postgresql"))
	start := time.Now()
	return ctx, func(err error) {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
		}
		g.obs.RecordCall(ctx, operation, time.Since(start), status)
		span.End()
	}
}

var _ gateway.Gateway = (*Gateway)(nil)
