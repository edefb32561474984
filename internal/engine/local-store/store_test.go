package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"enrollment-sync/internal/common/database"
	"enrollment-sync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	client, err := database.NewSQLite(filepath.Join(t.TempDir(), "wizard.db"))
	require.NoError(t, err)
	s, err := NewSQLiteStore(context.Background(), client.DB, "enrollment")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "enrollment", 0)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func backends(t *testing.T) map[string]Store {
	redisStore, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
		"redis":  redisStore,
	}
}

// ==========================
// Contract Tests
// ==========================

func TestStore_Contract(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, found, err := s.Get(ctx, KeyActiveStep)
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, s.Set(ctx, KeyActiveStep, "2"))
			require.NoError(t, s.Set(ctx, KeyActiveStep, "3"))
			v, found, err := s.Get(ctx, KeyActiveStep)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "3", v)

			require.NoError(t, s.Set(ctx, KeyApplicationID, "app-1"))
			require.NoError(t, s.Remove(ctx, KeyActiveStep, KeyApplicationID, "never-set"))
			_, found, _ = s.Get(ctx, KeyApplicationID)
			assert.False(t, found)

			require.NoError(t, s.Remove(ctx))
		})
	}
}

func TestTypedHelpers(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			assert.Equal(t, []int{}, GetJSON(ctx, s, KeyCompletedSteps, []int{}))

			require.NoError(t, SetJSON(ctx, s, KeyCompletedSteps, []int{1, 2}))
			assert.Equal(t, []int{1, 2}, GetJSON(ctx, s, KeyCompletedSteps, []int{}))

			draft := models.Student{Surname: "Nkosi", Dob: "2015-03-09"}
			require.NoError(t, SetJSON(ctx, s, DraftKey(models.SectionStudent), draft))
			assert.Equal(t, draft, GetJSON(ctx, s, DraftKey(models.SectionStudent), models.Student{}))
		})
	}
}

func TestGetJSON_FallsBackOnParseFailure(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, KeyActiveStep, "{not json"))

	assert.Equal(t, 1, GetJSON(ctx, s, KeyActiveStep, 1))
}

// ==========================
// Backend Specific Tests
// ==========================

func TestRedisStore_NamespacesKeysAndAppliesTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "user-42", time.Hour)

	require.NoError(t, s.Set(context.Background(), KeyApplicationID, "app-9"))

	got, err := mr.Get("user-42:application_id")
	require.NoError(t, err)
	assert.Equal(t, "app-9", got)
	assert.Equal(t, time.Hour, mr.TTL("user-42:application_id"))
}

func TestRedisStore_ErrorsAreWrapped(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStore(client, "ns", 0)

	mock.ExpectGet("ns:active_step").SetErr(errors.New("connection reset"))
	_, _, err := s.Get(context.Background(), KeyActiveStep)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))

	mock.ExpectSet("ns:active_step", "2", 0).SetErr(errors.New("readonly"))
	err = s.Set(context.Background(), KeyActiveStep, "2")
	assert.True(t, errors.Is(err, ErrStoreUnavailable))

	// A failing backend still yields the default through the typed helper.
	mock.ExpectGet("ns:completed_steps").SetErr(errors.New("down"))
	assert.Equal(t, []int{}, GetJSON(context.Background(), s, KeyCompletedSteps, []int{}))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_NamespacesAreIsolated(t *testing.T) {
	client, err := database.NewSQLite(filepath.Join(t.TempDir(), "shared.db"))
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	a, err := NewSQLiteStore(ctx, client.DB, "alice")
	require.NoError(t, err)
	b, err := NewSQLiteStore(ctx, client.DB, "bob")
	require.NoError(t, err)

	require.NoError(t, a.Set(ctx, KeyApplicationID, "app-a"))
	_, found, err := b.Get(ctx, KeyApplicationID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDraftKeys(t *testing.T) {
	keys := DraftKeys()
	assert.Len(t, keys, len(models.AllSections))
	assert.Contains(t, keys, "draft:academicHistory")
}
