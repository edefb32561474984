// Package gatewaytest provides an in-memory gateway.Gateway for engine tests.
package gatewaytest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	fieldtransformer "enrollment-sync/internal/engine/field-transformer"
	"enrollment-sync/internal/gateway"
	"enrollment-sync/internal/models"
)

// Fake records every call. Hook functions, when set, replace the default behaviour.
type Fake struct {
	CreateFn      func(ctx context.Context) (string, error)
	FetchFn       func(ctx context.Context, id string) (fieldtransformer.Document, error)
	UpdateFn      func(ctx context.Context, id string, sections fieldtransformer.Document) error
	SubmitSecFn   func(ctx context.Context, id string, section models.SectionName, payload fieldtransformer.Document) error
	SubmitFullFn  func(ctx context.Context, id string, payload fieldtransformer.Document) error
	UploadFn      func(ctx context.Context, upload gateway.Upload) (models.Document, error)
	UpdateLatency time.Duration

	mu            sync.Mutex
	nextID        int
	creates       int
	updates       []Update
	sectionSubmit []SectionSubmit
	fullSubmits   []string
	uploads       []gateway.Upload
	calls         []string

	inFlight    int32
	maxInFlight int32
}

type Update struct {
	ID       string
	Sections fieldtransformer.Document
}

type SectionSubmit struct {
	ID      string
	Section models.SectionName
	Payload fieldtransformer.Document
}

func New() *Fake {
	return &Fake{}
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *Fake) CreateOrFetchInProgress(ctx context.Context) (string, error) {
	f.record("create")
	f.mu.Lock()
	f.creates++
	f.mu.Unlock()
	if f.CreateFn != nil {
		return f.CreateFn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("app-%d", f.nextID), nil
}

func (f *Fake) FetchApplication(ctx context.Context, id string) (fieldtransformer.Document, error) {
	f.record("fetch")
	if f.FetchFn != nil {
		return f.FetchFn(ctx, id)
	}
	return nil, gateway.ErrNotFound
}

func (f *Fake) PartialUpdate(ctx context.Context, id string, sections fieldtransformer.Document) error {
	f.record("update")
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, n) {
			break
		}
	}

	if f.UpdateLatency > 0 {
		time.Sleep(f.UpdateLatency)
	}

	var err error
	if f.UpdateFn != nil {
		err = f.UpdateFn(ctx, id, sections)
	}
	if err == nil {
		f.mu.Lock()
		f.updates = append(f.updates, Update{ID: id, Sections: sections})
		f.mu.Unlock()
	}
	return err
}

func (f *Fake) SubmitSection(ctx context.Context, id string, section models.SectionName, payload fieldtransformer.Document) error {
	f.record("submit:" + string(section))
	if f.SubmitSecFn != nil {
		if err := f.SubmitSecFn(ctx, id, section, payload); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.sectionSubmit = append(f.sectionSubmit, SectionSubmit{ID: id, Section: section, Payload: payload})
	f.mu.Unlock()
	return nil
}

func (f *Fake) SubmitFullApplication(ctx context.Context, id string, payload fieldtransformer.Document) error {
	f.record("submit")
	if f.SubmitFullFn != nil {
		if err := f.SubmitFullFn(ctx, id, payload); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.fullSubmits = append(f.fullSubmits, id)
	f.mu.Unlock()
	return nil
}

func (f *Fake) UploadFile(ctx context.Context, upload gateway.Upload) (models.Document, error) {
	f.record("upload")
	if f.UploadFn != nil {
		return f.UploadFn(ctx, upload)
	}
	if upload.Content != nil {
		if _, err := io.Copy(io.Discard, upload.Content); err != nil {
			return models.Document{}, err
		}
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, upload)
	n := len(f.uploads)
	f.mu.Unlock()
	return models.Document{
		ID:           fmt.Sprintf("doc-%d", n),
		Filename:     upload.Filename,
		Size:         upload.Size,
		ContentType:  upload.ContentType,
		DocumentType: upload.DocumentType,
		UploadedAt:   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// Creates returns the number of create-or-fetch calls.
func (f *Fake) Creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

// Updates returns the successful partial updates in call order.
func (f *Fake) Updates() []Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Update(nil), f.updates...)
}

func (f *Fake) SectionSubmits() []SectionSubmit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SectionSubmit(nil), f.sectionSubmit...)
}

func (f *Fake) FullSubmits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fullSubmits...)
}

func (f *Fake) Uploads() []gateway.Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Upload(nil), f.uploads...)
}

// Calls returns the names of every call in order, e.g. "update", "submit:declaration".
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// MaxConcurrentUpdates is the highest number of overlapping PartialUpdate calls observed.
func (f *Fake) MaxConcurrentUpdates() int {
	return int(atomic.LoadInt32(&f.maxInFlight))
}

var _ gateway.Gateway = (*Fake)(nil)
