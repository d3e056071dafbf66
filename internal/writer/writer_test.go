package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openbms-io/supervisor-sub000/internal/actor"
	"github.com/openbms-io/supervisor-sub000/internal/bacnet"
	"github.com/openbms-io/supervisor-sub000/internal/models"
)

type writeCall struct {
	IP         string
	ObjectType models.ObjectType
	ObjectID   uint32
	Value      float64
	Priority   uint
}

// fakeConn scripts the write path: writes are recorded, the verification
// read returns readBack.
type fakeConn struct {
	mu       sync.Mutex
	writes   []writeCall
	writeErr error
	readBack any
}

func (c *fakeConn) WhoIs(low, high int) ([]uint32, error) { return nil, nil }

func (c *fakeConn) ObjectList(ip string, deviceID uint32) ([]string, error) { return nil, nil }

func (c *fakeConn) ReadProperty(ip string, objectType models.ObjectType, objectID uint32, property string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if property != "presentValue" {
		return nil, fmt.Errorf("unexpected property %s", property)
	}
	return c.readBack, nil
}

func (c *fakeConn) ReadMulti(ip string, requests []bacnet.ReadRequest) (map[string]map[string]any, error) {
	return nil, nil
}

func (c *fakeConn) WriteProperty(ip string, objectType models.ObjectType, objectID uint32, value float64, priority uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, writeCall{IP: ip, ObjectType: objectType, ObjectID: objectID, Value: value, Priority: priority})
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) written() []writeCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]writeCall, len(c.writes))
	copy(out, c.writes)
	return out
}

type mockConfigRepo struct {
	mock.Mock
}

func (m *mockConfigRepo) SaveSnapshot(ctx context.Context, controllers []models.ControllerConfig) error {
	args := m.Called(ctx, controllers)
	return args.Error(0)
}

func (m *mockConfigRepo) Latest(ctx context.Context) ([]models.ControllerConfig, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ControllerConfig), args.Error(1)
}

func (m *mockConfigRepo) LatestRaw(ctx context.Context) (json.RawMessage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

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

type capture struct {
	mu   sync.Mutex
	msgs []actor.Message
	seen chan struct{}
}

func newCapture() *capture {
	return &capture{seen: make(chan struct{}, 16)}
}

func (c *capture) Handle(_ context.Context, msg actor.Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	c.seen <- struct{}{}
	return nil
}

func (c *capture) wait(t *testing.T) actor.Message {
	t.Helper()
	select {
	case <-c.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for actor message")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msgs[len(c.msgs)-1]
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

type fixture struct {
	writer   *Writer
	conn     *fakeConn
	configs  *mockConfigRepo
	points   *mockPointRepo
	mqtt     *capture
	uploader *capture
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		conn:     &fakeConn{},
		configs:  &mockConfigRepo{},
		points:   &mockPointRepo{},
		mqtt:     newCapture(),
		uploader: newCapture(),
	}

	pool := bacnet.NewPool(func(models.ReaderConfig) (bacnet.Conn, error) {
		return f.conn, nil
	}, slog.Default())
	require.NoError(t, pool.Initialize([]models.ReaderConfig{
		{ID: "r1", IPAddress: "192.168.1.10", Port: 47808, IsActive: true},
	}))

	rt := actor.NewRuntime(slog.Default())
	require.NoError(t, rt.Register(actor.NameMQTT, f.mqtt))
	require.NoError(t, rt.Register(actor.NameUploader, f.uploader))
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(rt.Stop)

	f.writer = New(pool, f.configs, f.points, rt, slog.Default())
	return f
}

func testControllers() []models.ControllerConfig {
	return []models.ControllerConfig{
		{
			ControllerID:   "ctrl-1",
			IPAddress:      "10.0.0.9",
			Port:           47808,
			DeviceInstance: 1001,
			ObjectList: []models.PointDescriptor{
				{PointID: "pt-1", ObjectType: models.ObjectAnalogValue, InstanceID: 7},
				{PointID: "pt-2", ObjectType: models.ObjectBinaryOutput, InstanceID: 7},
			},
		},
	}
}

func testRequest() models.SetValueRequest {
	return models.SetValueRequest{
		CommandID:       "cmd-1",
		ControllerID:    "ctrl-1",
		PointInstanceID: 7,
		PresentValue:    22.5,
	}
}

func TestSetValue_VerifiedWrite(t *testing.T) {
	f := newFixture(t)
	f.configs.On("Latest", mock.Anything).Return(testControllers(), nil)
	f.conn.readBack = float32(22.5)
	f.points.On("Insert", mock.Anything, mock.MatchedBy(func(p *models.ControllerPoint) bool {
		return p.ControllerID == "ctrl-1" &&
			p.ObjectType == models.ObjectAnalogValue &&
			p.ObjectInstance == 7 &&
			p.PresentValue == "22.5"
	})).Return(nil)

	resp := f.writer.SetValue(context.Background(), testRequest())
	assert.True(t, resp.Success)
	assert.Equal(t, "cmd-1", resp.CommandID)

	writes := f.conn.written()
	require.Len(t, writes, 1)
	assert.Equal(t, "10.0.0.9", writes[0].IP)
	assert.Equal(t, 22.5, writes[0].Value)
	assert.Equal(t, uint(bacnet.DefaultWritePriority), writes[0].Priority)
	f.points.AssertExpectations(t)
}

func TestSetValue_ExplicitPriority(t *testing.T) {
	f := newFixture(t)
	f.configs.On("Latest", mock.Anything).Return(testControllers(), nil)
	f.conn.readBack = float32(22.5)
	f.points.On("Insert", mock.Anything, mock.Anything).Return(nil)

	req := testRequest()
	priority := uint(12)
	req.Priority = &priority

	resp := f.writer.SetValue(context.Background(), req)
	assert.True(t, resp.Success)

	writes := f.conn.written()
	require.Len(t, writes, 1)
	assert.Equal(t, uint(12), writes[0].Priority)
}

func TestSetValue_ObjectTypeDisambiguates(t *testing.T) {
	f := newFixture(t)
	f.configs.On("Latest", mock.Anything).Return(testControllers(), nil)
	f.conn.readBack = float32(22.5)
	f.points.On("Insert", mock.Anything, mock.Anything).Return(nil)

	req := testRequest()
	req.ObjectType = string(models.ObjectBinaryOutput)

	resp := f.writer.SetValue(context.Background(), req)
	assert.True(t, resp.Success)

	writes := f.conn.written()
	require.Len(t, writes, 1)
	assert.Equal(t, models.ObjectBinaryOutput, writes[0].ObjectType)
}

func TestSetValue_UnknownController(t *testing.T) {
	f := newFixture(t)
	f.configs.On("Latest", mock.Anything).Return(testControllers(), nil)

	req := testRequest()
	req.ControllerID = "ctrl-9"

	resp := f.writer.SetValue(context.Background(), req)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "controller ctrl-9")
	assert.Empty(t, f.conn.written())
}

func TestSetValue_UnknownPoint(t *testing.T) {
	f := newFixture(t)
	f.configs.On("Latest", mock.Anything).Return(testControllers(), nil)

	req := testRequest()
	req.PointInstanceID = 99

	resp := f.writer.SetValue(context.Background(), req)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "point 99 on controller ctrl-1")
}

func TestSetValue_VerificationMismatch(t *testing.T) {
	f := newFixture(t)
	f.configs.On("Latest", mock.Anything).Return(testControllers(), nil)
	f.conn.readBack = float32(25)

	resp := f.writer.SetValue(context.Background(), testRequest())
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "Write failed: 25.0 != 22.5")
	f.points.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestSetValue_WriteRejected(t *testing.T) {
	f := newFixture(t)
	f.configs.On("Latest", mock.Anything).Return(testControllers(), nil)
	f.conn.writeErr = assert.AnError

	resp := f.writer.SetValue(context.Background(), testRequest())
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Message)
}

func TestSetValue_InsertFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.configs.On("Latest", mock.Anything).Return(testControllers(), nil)
	f.conn.readBack = float32(22.5)
	f.points.On("Insert", mock.Anything, mock.Anything).Return(assert.AnError)

	resp := f.writer.SetValue(context.Background(), testRequest())
	assert.True(t, resp.Success)
}

func TestHandle_SuccessTriggersUpload(t *testing.T) {
	f := newFixture(t)
	f.configs.On("Latest", mock.Anything).Return(testControllers(), nil)
	f.conn.readBack = float32(22.5)
	f.points.On("Insert", mock.Anything, mock.Anything).Return(nil)

	err := f.writer.Handle(context.Background(), actor.Message{
		Type:    models.SetValueRequestType,
		Payload: testRequest(),
	})
	require.NoError(t, err)

	resp := f.mqtt.wait(t)
	assert.Equal(t, models.SetValueResponseType, resp.Type)
	body, ok := resp.Payload.(models.SetValueResponse)
	require.True(t, ok)
	assert.True(t, body.Success)

	trigger := f.uploader.wait(t)
	assert.Equal(t, models.ImmediateUploadTriggerType, trigger.Type)
}

func TestHandle_FailureSkipsUploadTrigger(t *testing.T) {
	f := newFixture(t)
	f.configs.On("Latest", mock.Anything).Return(testControllers(), nil)
	f.conn.writeErr = assert.AnError

	err := f.writer.Handle(context.Background(), actor.Message{
		Type:    models.SetValueRequestType,
		Payload: testRequest(),
	})
	require.NoError(t, err)

	resp := f.mqtt.wait(t)
	body, ok := resp.Payload.(models.SetValueResponse)
	require.True(t, ok)
	assert.False(t, body.Success)
	assert.Zero(t, f.uploader.count())
}

func TestHandle_IgnoresOtherTypes(t *testing.T) {
	f := newFixture(t)
	err := f.writer.Handle(context.Background(), actor.Message{
		Type:    models.ForceHeartbeatRequestType,
		Payload: models.ForceHeartbeatRequest{},
	})
	require.NoError(t, err)
	assert.Zero(t, f.mqtt.count())
}
