// internal/engine/identity-manager/manager.go
package identitymanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "enrollment-sync/internal/common/errors"
	"enrollment-sync/internal/common/logger"
	"enrollment-sync/internal/common/metrics"
	fieldtransformer "enrollment-sync/internal/engine/field-transformer"
	localstore "enrollment-sync/internal/engine/local-store"
	"enrollment-sync/internal/gateway"
	"enrollment-sync/internal/models"

	"golang.org/x/sync/singleflight"
)

const (
	flightKey = "identity"
	// createTimeout bounds the shared request, which outlives any single caller.
	createTimeout = 30 * time.Second
)

var errDiscarded = errors.New("identity reset while creation was in flight")

// Manager owns the application id: the cached value, its persisted copy and
// the single in-flight creation request.
type Manager struct {
	gateway gateway.Gateway
	store   localstore.Store
	logger  logger.Logger

	mu       sync.Mutex
	identity models.ApplicationIdentity
	epoch    uint64

	flight singleflight.Group
}

func New(gw gateway.Gateway, store localstore.Store, log logger.Logger) *Manager {
	return &Manager{
		gateway: gw,
		store:   store,
		logger:  logger.ForComponent(log, "identity-manager"),
	}
}

// Identity returns a snapshot of the current identity.
func (m *Manager) Identity() models.ApplicationIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// EnsureIdentity returns the confirmed application id, restoring it from the
// local store or asking the backend to create one when needed. Concurrent
// callers share one request.
func (m *Manager) EnsureIdentity(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.identity.Confirmed {
		id := m.identity.ID
		m.mu.Unlock()
		metrics.IdentityRequests.WithLabelValues("cache", "success").Inc()
		return id, nil
	}
	epoch := m.epoch
	m.mu.Unlock()

	ch := m.flight.DoChan(flightKey, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), createTimeout)
		defer cancel()
		return m.resolve(shared, epoch)
	})

	select {
	case <-ctx.Done():
		return "", apperrors.NewIdentityUnavailableError(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *Manager) resolve(ctx context.Context, epoch uint64) (string, error) {
	if id := localstore.GetJSON(ctx, m.store, localstore.KeyApplicationID, ""); id != "" {
		if err := m.confirm(epoch, id); err != nil {
			return "", err
		}
		metrics.IdentityRequests.WithLabelValues("store", "success").Inc()
		m.logger.Debug("restored application id", map[string]interface{}{"applicationId": id})
		return id, nil
	}

	id, err := m.gateway.CreateOrFetchInProgress(ctx)
	if err == nil && strings.TrimSpace(id) == "" {
		err = fmt.Errorf("backend returned an empty application id")
	}
	if err != nil {
		metrics.IdentityRequests.WithLabelValues("remote", "failure").Inc()
		m.logger.Warn("application id unavailable", map[string]interface{}{"error": err})
		if errors.Is(err, gateway.ErrUnauthorized) {
			return "", apperrors.NewAuthenticationExpiredError(err)
		}
		return "", apperrors.NewIdentityUnavailableError(err)
	}

	if err := m.confirm(epoch, id); err != nil {
		metrics.IdentityRequests.WithLabelValues("remote", "discarded").Inc()
		return "", apperrors.NewIdentityUnavailableError(err)
	}

	if err := localstore.SetJSON(ctx, m.store, localstore.KeyApplicationID, id); err != nil {
		m.logger.Warn("failed to persist application id", map[string]interface{}{"error": err, "applicationId": id})
	}
	metrics.IdentityRequests.WithLabelValues("remote", "success").Inc()
	m.logger.Info("application id confirmed", map[string]interface{}{"applicationId": id})
	return id, nil
}

// confirm adopts id unless a reset happened since the request started.
func (m *Manager) confirm(epoch uint64, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return errDiscarded
	}
	m.identity = models.ApplicationIdentity{ID: id, Confirmed: true}
	return nil
}

// Hydrate fetches the remote record for id. A missing record yields an empty
// record; any other failure keeps the cached id and returns HydrationFailed.
func (m *Manager) Hydrate(ctx context.Context, id string) (models.ApplicationRecord, error) {
	doc, err := m.gateway.FetchApplication(ctx, id)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		m.logger.Info("no saved application found", map[string]interface{}{"applicationId": id})
		return models.ApplicationRecord{}, nil
	case errors.Is(err, gateway.ErrUnauthorized):
		return models.ApplicationRecord{}, apperrors.NewAuthenticationExpiredError(err)
	case err != nil:
		return models.ApplicationRecord{}, apperrors.NewHydrationFailedError(id, err)
	}

	rec, err := fieldtransformer.Inverse(doc)
	if err != nil {
		return models.ApplicationRecord{}, apperrors.NewHydrationFailedError(id, err)
	}
	return rec, nil
}

// Reset clears the cached and persisted id. A creation in flight is discarded.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.identity = models.ApplicationIdentity{}
	m.epoch++
	m.mu.Unlock()

	m.flight.Forget(flightKey)
	if err := m.store.Remove(ctx, localstore.KeyApplicationID); err != nil {
		return fmt.Errorf("clear application id: %w", err)
	}
	return nil
}
