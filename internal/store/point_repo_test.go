package store

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbms-io/supervisor-sub000/internal/config"
	"github.com/openbms-io/supervisor-sub000/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(config.StoreConfig{
		Path:        ":memory:",
		BusyTimeout: 30 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations())
	return db
}

func testPointRepo(t *testing.T) PointRepository {
	t.Helper()
	return NewPointRepository(testDB(t), 3, time.Millisecond, slog.Default())
}

func testPoint(controllerID string) *models.ControllerPoint {
	units := "degreesCelsius"
	return &models.ControllerPoint{
		IotDevicePointID:         models.IotDevicePointID(controllerID, "pt-1").String(),
		ControllerID:             controllerID,
		ObjectType:               models.ObjectAnalogValue,
		ObjectInstance:           7,
		ControllerIP:             "10.0.0.9",
		ControllerPort:           47808,
		ControllerDeviceInstance: 1001,
		PresentValue:             "21.5",
		Units:                    &units,
	}
}

func TestPointRepo_InsertAssignsIdentity(t *testing.T) {
	repo := testPointRepo(t)
	ctx := context.Background()

	p := testPoint("ctrl-1")
	require.NoError(t, repo.Insert(ctx, p))

	assert.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())
	assert.NotZero(t, p.CreatedAtUnixMilli)
}

func TestPointRepo_GetByController(t *testing.T) {
	repo := testPointRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, testPoint("ctrl-1")))
	require.NoError(t, repo.Insert(ctx, testPoint("ctrl-1")))
	require.NoError(t, repo.Insert(ctx, testPoint("ctrl-2")))

	points, err := repo.GetByController(ctx, "ctrl-1")
	require.NoError(t, err)
	assert.Len(t, points, 2)
	for _, p := range points {
		assert.Equal(t, "ctrl-1", p.ControllerID)
	}
}

func TestPointRepo_GetByController_RoundTripsFields(t *testing.T) {
	repo := testPointRepo(t)
	ctx := context.Background()

	flags := "inAlarm;fault"
	outOfService := true
	priorityArray := `[null,21.5]`
	p := testPoint("ctrl-1")
	p.StatusFlags = &flags
	p.OutOfService = &outOfService
	p.PriorityArray = &priorityArray
	require.NoError(t, repo.Insert(ctx, p))

	points, err := repo.GetByController(ctx, "ctrl-1")
	require.NoError(t, err)
	require.Len(t, points, 1)

	got := points[0]
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "21.5", got.PresentValue)
	require.NotNil(t, got.StatusFlags)
	assert.Equal(t, flags, *got.StatusFlags)
	require.NotNil(t, got.OutOfService)
	assert.True(t, *got.OutOfService)
	require.NotNil(t, got.PriorityArray)
	assert.Equal(t, priorityArray, *got.PriorityArray)
	assert.Nil(t, got.Reliability)
}

func TestPointRepo_BulkInsert(t *testing.T) {
	repo := testPointRepo(t)
	ctx := context.Background()

	batch := []*models.ControllerPoint{testPoint("ctrl-1"), testPoint("ctrl-1"), testPoint("ctrl-1")}
	require.NoError(t, repo.BulkInsert(ctx, batch))

	points, err := repo.GetByController(ctx, "ctrl-1")
	require.NoError(t, err)
	assert.Len(t, points, 3)
}

func TestPointRepo_BulkInsert_EmptyIsNoop(t *testing.T) {
	repo := testPointRepo(t)
	require.NoError(t, repo.BulkInsert(context.Background(), nil))
}

func TestPointRepo_GetPending_CreationOrder(t *testing.T) {
	repo := testPointRepo(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		p := testPoint("ctrl-1")
		require.NoError(t, repo.Insert(ctx, p))
		ids = append(ids, p.ID)
	}

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, p := range pending {
		assert.Equal(t, ids[i], p.ID)
		assert.False(t, p.IsUploaded)
	}
}

func TestPointRepo_GetPending_RespectsLimit(t *testing.T) {
	repo := testPointRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Insert(ctx, testPoint("ctrl-1")))
	}
	pending, err := repo.GetPending(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestPointRepo_MarkUploaded(t *testing.T) {
	repo := testPointRepo(t)
	ctx := context.Background()

	a, b := testPoint("ctrl-1"), testPoint("ctrl-1")
	require.NoError(t, repo.Insert(ctx, a))
	require.NoError(t, repo.Insert(ctx, b))

	require.NoError(t, repo.MarkUploaded(ctx, []*models.ControllerPoint{a}))
	assert.True(t, a.IsUploaded)

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)
}

func TestPointRepo_MarkUploaded_SkipsMissingIDs(t *testing.T) {
	repo := testPointRepo(t)
	ctx := context.Background()

	inserted := testPoint("ctrl-1")
	require.NoError(t, repo.Insert(ctx, inserted))

	orphan := testPoint("ctrl-1")
	orphan.ID = ""
	require.NoError(t, repo.MarkUploaded(ctx, []*models.ControllerPoint{orphan, inserted}))

	assert.False(t, orphan.IsUploaded)
	assert.True(t, inserted.IsUploaded)
}

func TestPointRepo_MarkUploaded_EmptyIsNoop(t *testing.T) {
	repo := testPointRepo(t)
	require.NoError(t, repo.MarkUploaded(context.Background(), nil))
}

func TestPointRepo_DeleteUploaded(t *testing.T) {
	repo := testPointRepo(t)
	ctx := context.Background()

	a, b, c := testPoint("ctrl-1"), testPoint("ctrl-1"), testPoint("ctrl-1")
	for _, p := range []*models.ControllerPoint{a, b, c} {
		require.NoError(t, repo.Insert(ctx, p))
	}
	require.NoError(t, repo.MarkUploaded(ctx, []*models.ControllerPoint{a, b}))

	deleted, err := repo.DeleteUploaded(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	remaining, err := repo.GetByController(ctx, "ctrl-1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, c.ID, remaining[0].ID)
}
