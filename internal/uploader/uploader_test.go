package uploader

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openbms-io/supervisor-sub000/internal/actor"
	"github.com/openbms-io/supervisor-sub000/internal/models"
)

type mockPointRepo struct {
	mock.Mock
}

func (m *mockPointRepo) Insert(ctx context.Context, point *models.ControllerPoint) error {
	args := m.Called(ctx, point)
	return args.Error(0)
}

func (m *mockPointRepo) BulkInsert(ctx context.Context, points []*models.ControllerPoint) error {
	args := m.Called(ctx, points)
	return args.Error(0)
}

func (m *mockPointRepo) GetByController(ctx context.Context, controllerID string) ([]*models.ControllerPoint, error) {
	args := m.Called(ctx, controllerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ControllerPoint), args.Error(1)
}

func (m *mockPointRepo) GetPending(ctx context.Context, limit int) ([]*models.ControllerPoint, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ControllerPoint), args.Error(1)
}

func (m *mockPointRepo) MarkUploaded(ctx context.Context, points []*models.ControllerPoint) error {
	args := m.Called(ctx, points)
	return args.Error(0)
}

func (m *mockPointRepo) DeleteUploaded(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// fakePublisher records published batches.
type fakePublisher struct {
	mu       sync.Mutex
	payloads []models.BulkPointsPayload
	err      error
}

func (p *fakePublisher) PublishPointBulk(payload models.BulkPointsPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePublisher) published() []models.BulkPointsPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.BulkPointsPayload, len(p.payloads))
	copy(out, p.payloads)
	return out
}

func pendingRows(n int) []*models.ControllerPoint {
	rows := make([]*models.ControllerPoint, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, &models.ControllerPoint{
			ID:               "row",
			IotDevicePointID: models.IotDevicePointID("ctrl-1", "pt-1").String(),
			ControllerID:     "ctrl-1",
			ObjectType:       models.ObjectAnalogValue,
			ObjectInstance:   uint32(i),
			PresentValue:     "21.5",
			CreatedAt:        time.Now().UTC(),
		})
	}
	return rows
}

func newUploader(points *mockPointRepo, publisher *fakePublisher) *Uploader {
	return New(points, publisher, actor.NewRuntime(slog.Default()), time.Minute, time.Hour, 10, slog.Default())
}

func TestUploadBatch_PublishesAndMarks(t *testing.T) {
	points := &mockPointRepo{}
	publisher := &fakePublisher{}
	rows := pendingRows(3)
	points.On("GetPending", mock.Anything, 10).Return(rows, nil)
	points.On("MarkUploaded", mock.Anything, rows).Return(nil)

	n, err := newUploader(points, publisher).UploadBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	batches := publisher.published()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Points, 3)
	assert.Equal(t, "21.5", batches[0].Points[0].PresentValue)
	points.AssertExpectations(t)
}

func TestUploadBatch_NothingPending(t *testing.T) {
	points := &mockPointRepo{}
	publisher := &fakePublisher{}
	points.On("GetPending", mock.Anything, 10).Return([]*models.ControllerPoint{}, nil)

	n, err := newUploader(points, publisher).UploadBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, publisher.published())
	points.AssertNotCalled(t, "MarkUploaded", mock.Anything, mock.Anything)
}

func TestUploadBatch_PublishFailureLeavesRowsPending(t *testing.T) {
	points := &mockPointRepo{}
	publisher := &fakePublisher{err: assert.AnError}
	points.On("GetPending", mock.Anything, 10).Return(pendingRows(2), nil)

	_, err := newUploader(points, publisher).UploadBatch(context.Background())
	require.Error(t, err)
	points.AssertNotCalled(t, "MarkUploaded", mock.Anything, mock.Anything)
}

func TestUploadBatch_MarkFailureIsReported(t *testing.T) {
	points := &mockPointRepo{}
	publisher := &fakePublisher{}
	rows := pendingRows(2)
	points.On("GetPending", mock.Anything, 10).Return(rows, nil)
	points.On("MarkUploaded", mock.Anything, rows).Return(assert.AnError)

	_, err := newUploader(points, publisher).UploadBatch(context.Background())
	require.Error(t, err)
	// The batch went out before the mark failed; the rows stay pending
	// and the next cycle re-publishes them.
	assert.Len(t, publisher.published(), 1)
}

func TestHandle_TriggerCoalesces(t *testing.T) {
	u := newUploader(&mockPointRepo{}, &fakePublisher{})

	msg := actor.Message{Type: models.ImmediateUploadTriggerType, Payload: models.ImmediateUploadTrigger{}}
	require.NoError(t, u.Handle(context.Background(), msg))
	require.NoError(t, u.Handle(context.Background(), msg))
	require.NoError(t, u.Handle(context.Background(), msg))

	assert.Len(t, u.trigger, 1)
}

func TestHandle_IgnoresOtherTypes(t *testing.T) {
	u := newUploader(&mockPointRepo{}, &fakePublisher{})

	require.NoError(t, u.Handle(context.Background(), actor.Message{Type: models.ForceHeartbeatRequestType}))
	assert.Empty(t, u.trigger)
}

func TestRun_TriggerDrainsUntilExhausted(t *testing.T) {
	points := &mockPointRepo{}
	publisher := &fakePublisher{}

	// First batch fills the batch size, so drain fetches again; the
	// second batch is short and ends the drain.
	full := pendingRows(10)
	short := pendingRows(4)
	points.On("GetPending", mock.Anything, 10).Return(full, nil).Once()
	points.On("GetPending", mock.Anything, 10).Return(short, nil).Once()
	points.On("MarkUploaded", mock.Anything, mock.Anything).Return(nil)

	u := newUploader(points, publisher)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		u.Run(ctx)
		close(done)
	}()

	require.NoError(t, u.Handle(ctx, actor.Message{Type: models.ImmediateUploadTriggerType}))

	require.Eventually(t, func() bool {
		return len(publisher.published()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	points.AssertExpectations(t)
}

func TestRun_CleanupTickPostsToCleaner(t *testing.T) {
	points := &mockPointRepo{}
	rt := actor.NewRuntime(slog.Default())

	seen := make(chan actor.Message, 4)
	require.NoError(t, rt.Register(actor.NameCleaner, actor.HandlerFunc(func(_ context.Context, msg actor.Message) error {
		seen <- msg
		return nil
	})))
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(rt.Stop)

	u := New(points, &fakePublisher{}, rt, time.Hour, 20*time.Millisecond, 10, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		u.Run(ctx)
		close(done)
	}()

	select {
	case msg := <-seen:
		assert.Equal(t, models.CleanupRequestType, msg.Type)
		assert.Equal(t, actor.NameUploader, msg.Sender)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cleanup request")
	}

	cancel()
	<-done
	// The delete itself belongs to the CLEANER actor's handler.
	points.AssertNotCalled(t, "DeleteUploaded", mock.Anything)
}

func TestCleanupNow(t *testing.T) {
	points := &mockPointRepo{}
	points.On("DeleteUploaded", mock.Anything).Return(int64(5), nil)

	newUploader(points, &fakePublisher{}).CleanupNow(context.Background())
	points.AssertExpectations(t)
}

func TestCleanupNow_FailureIsTolerated(t *testing.T) {
	points := &mockPointRepo{}
	points.On("DeleteUploaded", mock.Anything).Return(int64(0), assert.AnError)

	newUploader(points, &fakePublisher{}).CleanupNow(context.Background())
}
