package postgresgateway

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"enrollment-sync/internal/common/auth"
	"enrollment-sync/internal/common/logger"
	fieldtransformer "enrollment-sync/internal/engine/field-transformer"
	"enrollment-sync/internal/gateway"
	"enrollment-sync/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

const owner = "parent@example.co.za"

var fixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestGateway(t *testing.T) (*Gateway, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	owners := auth.NewLocalAuthenticator()
	owners.SignIn(auth.Identity{Subject: "user-1", Email: owner}, "tok")

	g := New(db, owners, nil, logger.NewTestLogger(t))
	g.now = func() time.Time { return fixedNow }
	return g, mock
}

func q(sql string) string {
	return regexp.QuoteMeta(sql)
}

// ==========================
// Identity
// ==========================

func TestCreateOrFetchInProgress_ReturnsExisting(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.ExpectQuery(q("SELECT id FROM enrollment_applications")).
		WithArgs(owner, models.StatusInProgress).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("app-1"))

	id, err := g.CreateOrFetchInProgress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "app-1", id)
}

func TestCreateOrFetchInProgress_CreatesWhenNone(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.ExpectQuery(q("SELECT id FROM enrollment_applications")).
		WithArgs(owner, models.StatusInProgress).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(q("INSERT INTO enrollment_applications")).
		WithArgs(sqlmock.AnyArg(), owner, models.StatusInProgress).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := g.CreateOrFetchInProgress(context.Background())
	require.NoError(t, err)
	assert.Len(t, id, 36)
}

func TestCreateOrFetchInProgress_RequiresSignedInUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	g := New(db, auth.NewLocalAuthenticator(), nil, logger.NewNoOpLogger())
	_, err = g.CreateOrFetchInProgress(context.Background())
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Fetch
// ==========================

func TestFetchApplication(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.ExpectQuery(q("SELECT status, data FROM enrollment_applications")).
		WithArgs("app-1", owner).
		WillReturnRows(sqlmock.NewRows([]string{"status", "data"}).
			AddRow(models.StatusInProgress, []byte(`{"student":{"first_name":"Lerato","date_of_birth":"2015-03-09"}}`)))
	mock.ExpectQuery(q("FROM enrollment_documents")).
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "filename", "size", "content_type", "document_type", "created_at"}).
			AddRow("doc-1", "bill.pdf", int64(512), "application/pdf", "utility-bill", fixedNow))

	doc, err := g.FetchApplication(context.Background(), "app-1")
	require.NoError(t, err)

	rec, err := fieldtransformer.Inverse(doc)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, rec.Status)
	require.NotNil(t, rec.Student)
	assert.Equal(t, "Lerato", rec.Student.FirstName)
	require.Len(t, rec.Documents, 1)
	assert.Equal(t, "utility-bill", rec.Documents[0].DocumentType)
	assert.Equal(t, "application/pdf", rec.Documents[0].ContentType)
	assert.Equal(t, "2025-03-10T09:00:00Z", rec.Documents[0].UploadedAt)
}

func TestFetchApplication_NotFound(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.ExpectQuery(q("SELECT status, data FROM enrollment_applications")).
		WithArgs("missing", owner).
		WillReturnError(sql.ErrNoRows)

	_, err := g.FetchApplication(context.Background(), "missing")
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}

// ==========================
// Writes
// ==========================

func TestPartialUpdate_MergesSections(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.ExpectExec(q("FROM jsonb_each($1::jsonb) AS p(key, value)")).
		WithArgs(`{"fee":{"fee_person":"Father"}}`, fixedNow, "app-1", owner, models.StatusInProgress).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := g.PartialUpdate(context.Background(), "app-1", fieldtransformer.Document{
		"fee": map[string]interface{}{"fee_person": "Father"},
	})
	require.NoError(t, err)
}

func TestPartialUpdate_MergesFieldsWithinSection(t *testing.T) {
	g, mock := newTestGateway(t)
	// A sanitized payload without id_number must merge into the stored
	// student object rather than replace it.
	mock.ExpectExec(q("THEN (a.data->p.key) || p.value")).
		WithArgs(`{"documents":[],"student":{"first_name":"A"}}`, fixedNow, "app-1", owner, models.StatusInProgress).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := g.PartialUpdate(context.Background(), "app-1", fieldtransformer.Document{
		"student":   map[string]interface{}{"first_name": "A"},
		"documents": []interface{}{},
	})
	require.NoError(t, err)
}

func TestPartialUpdate_NoRowsAffected(t *testing.T) {
	tests := []struct {
		name  string
		setup func(mock sqlmock.Sqlmock)
		check func(t *testing.T, err error)
	}{
		{
			name: "missing application",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(q("SELECT status FROM enrollment_applications")).
					WithArgs("app-1", owner).
					WillReturnError(sql.ErrNoRows)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, gateway.ErrNotFound)
			},
		},
		{
			name: "already submitted",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(q("SELECT status FROM enrollment_applications")).
					WithArgs("app-1", owner).
					WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.StatusSubmitted))
			},
			check: func(t *testing.T, err error) {
				var remote *gateway.RemoteError
				require.True(t, errors.As(err, &remote))
				assert.Equal(t, http.StatusConflict, remote.StatusCode)
				assert.Contains(t, remote.Reason, "submitted")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, mock := newTestGateway(t)
			mock.ExpectExec(q("UPDATE enrollment_applications")).
				WillReturnResult(sqlmock.NewResult(0, 0))
			tt.setup(mock)

			err := g.PartialUpdate(context.Background(), "app-1", fieldtransformer.Document{"fee": map[string]interface{}{}})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestSubmitSection_StoresUnderSectionKey(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.ExpectExec(q("jsonb_build_object($1::text, $2::jsonb)")).
		WithArgs("academic_history", `{"school_name":"Riverside Primary"}`, fixedNow, "app-1", owner, models.StatusInProgress).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := g.SubmitSection(context.Background(), "app-1", models.SectionAcademicHistory, fieldtransformer.Document{
		"school_name": "Riverside Primary",
	})
	require.NoError(t, err)
}

func TestSubmitFullApplication_MarksSubmitted(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.ExpectExec(q("status = $2, updated_at = $3, submitted_at = $3")).
		WithArgs(`{}`, models.StatusSubmitted, fixedNow, "app-1", owner, models.StatusInProgress).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, g.SubmitFullApplication(context.Background(), "app-1", fieldtransformer.Document{}))
}

func TestSubmitFullApplication_DatabaseError(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.ExpectExec(q("UPDATE enrollment_applications")).
		WillReturnError(errors.New("connection reset"))

	err := g.SubmitFullApplication(context.Background(), "app-1", fieldtransformer.Document{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

// ==========================
// Upload
// ==========================

func TestUploadFile_StoresContent(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.ExpectQuery(q("SELECT EXISTS")).
		WithArgs("app-1", owner).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(q("INSERT INTO enrollment_documents")).
		WithArgs(sqlmock.AnyArg(), "app-1", "bank-statement", "march.pdf", "application/pdf", int64(8), []byte("%PDF-1.4"), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	doc, err := g.UploadFile(context.Background(), gateway.Upload{
		ApplicationID: "app-1",
		DocumentType:  "bank-statement",
		Filename:      "march.pdf",
		ContentType:   "application/pdf",
		Content:       strings.NewReader("%PDF-1.4"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, int64(8), doc.Size)
	assert.Equal(t, "bankStatements", doc.Category)
	assert.Equal(t, "2025-03-10T09:00:00Z", doc.UploadedAt)
}

func TestUploadFile_UnknownApplication(t *testing.T) {
	g, mock := newTestGateway(t)
	mock.ExpectQuery(q("SELECT EXISTS")).
		WithArgs("app-x", owner).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err := g.UploadFile(context.Background(), gateway.Upload{
		ApplicationID: "app-x",
		DocumentType:  "payslip",
		Filename:      "p.pdf",
		Content:       strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}

func TestUploadFile_TooLarge(t *testing.T) {
	g, _ := newTestGateway(t)

	_, err := g.UploadFile(context.Background(), gateway.Upload{
		ApplicationID: "app-1",
		DocumentType:  "payslip",
		Filename:      "huge.pdf",
		Content:       strings.NewReader(strings.Repeat("a", MaxUploadSize+1)),
	})
	require.Error(t, err)
	assert.Equal(t, "File too large", gateway.ReasonOf(err))
}
