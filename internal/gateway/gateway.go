// Package gateway defines the remote backend contract shared by the engine and its adapters.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"

	fieldtransformer "enrollment-sync/internal/engine/field-transformer"
	"enrollment-sync/internal/models"
)

var (
	ErrNotFound     = errors.New("APPLICATION_NOT_FOUND")
	ErrUnauthorized = errors.New("UNAUTHORIZED")
)

// RemoteError is a non-2xx backend response. Reason is the server message when one was sent.
type RemoteError struct {
	StatusCode int
	Reason     string
}

func (e *RemoteError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("remote error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote error: status %d: %s", e.StatusCode, e.Reason)
}

// ReasonOf returns the server-provided reason carried by err, if any.
func ReasonOf(err error) string {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Reason
	}
	return ""
}

// Upload is one file handed to the upload transport.
type Upload struct {
	ApplicationID string
	DocumentType  string
	Filename      string
	ContentType   string
	Size          int64
	Content       io.Reader
}

// Gateway is the remote backend. Payloads are already in remote field naming.
// CreateOrFetchInProgress, FetchApplication and PartialUpdate are idempotent;
// the submit and upload operations are not and are never retried.
type Gateway interface {
	CreateOrFetchInProgress(ctx context.Context) (string, error)
	FetchApplication(ctx context.Context, id string) (fieldtransformer.Document, error)
	PartialUpdate(ctx context.Context, id string, sections fieldtransformer.Document) error
	SubmitSection(ctx context.Context, id string, section models.SectionName, payload fieldtransformer.Document) error
	SubmitFullApplication(ctx context.Context, id string, payload fieldtransformer.Document) error
	UploadFile(ctx context.Context, upload Upload) (models.Document, error)
}
