package bacnet

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbms-io/supervisor-sub000/internal/models"
)

func testDial(models.ReaderConfig) (Conn, error) {
	return &fakeConn{readValues: map[string]any{"presentValue": float32(1)}}, nil
}

func testPool(t *testing.T, n int) *Pool {
	t.Helper()
	configs := make([]models.ReaderConfig, 0, n)
	for i := 0; i < n; i++ {
		configs = append(configs, models.ReaderConfig{
			ID:        string(rune('a' + i)),
			IPAddress: "192.168.1.10",
			Port:      47808 + i,
			IsActive:  true,
		})
	}
	p := NewPool(testDial, slog.Default())
	require.NoError(t, p.Initialize(configs))
	return p
}

func TestPool_Initialize_RejectsDuplicateEndpoints(t *testing.T) {
	p := NewPool(testDial, slog.Default())
	err := p.Initialize([]models.ReaderConfig{
		{ID: "a", IPAddress: "192.168.1.10", Port: 47808},
		{ID: "b", IPAddress: "192.168.1.10", Port: 47808},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate reader endpoint")
}

func TestPool_Initialize_ReplacesPriorPool(t *testing.T) {
	p := testPool(t, 2)
	require.Equal(t, 2, p.Size())

	require.NoError(t, p.Initialize([]models.ReaderConfig{
		{ID: "x", IPAddress: "192.168.1.11", Port: 47808, IsActive: true},
	}))
	assert.Equal(t, 1, p.Size())
	assert.Equal(t, "x", p.All()[0].ID())
}

func TestPool_ForOperation_EmptyPool(t *testing.T) {
	p := NewPool(testDial, slog.Default())
	require.NoError(t, p.Initialize(nil))

	_, err := p.ForOperation(OpRead)
	assert.Error(t, err)
}

func TestPool_RoundRobin_Cycles(t *testing.T) {
	p := testPool(t, 3)

	var order []string
	for i := 0; i < 6; i++ {
		r, err := p.ForOperation(OpRead)
		require.NoError(t, err)
		order = append(order, r.ID())
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, order)
}

func TestPool_RoundRobin_IndexResetsOnReinitialize(t *testing.T) {
	p := testPool(t, 3)
	_, err := p.ForOperation(OpRead)
	require.NoError(t, err)
	_, err = p.ForOperation(OpRead)
	require.NoError(t, err)

	require.NoError(t, p.Initialize([]models.ReaderConfig{
		{ID: "a", IPAddress: "192.168.1.10", Port: 47808, IsActive: true},
		{ID: "b", IPAddress: "192.168.1.10", Port: 47809, IsActive: true},
	}))
	r, err := p.ForOperation(OpRead)
	require.NoError(t, err)
	assert.Equal(t, "a", r.ID())
}

func TestPool_RoundRobin_IndexResetsOnStrategyChange(t *testing.T) {
	p := testPool(t, 3)
	_, err := p.ForOperation(OpRead)
	require.NoError(t, err)

	p.SetStrategy(StrategyLeastBusy)
	p.SetStrategy(StrategyRoundRobin)

	r, err := p.ForOperation(OpRead)
	require.NoError(t, err)
	assert.Equal(t, "a", r.ID())
}

func TestPool_LeastBusy_PrefersIdleReader(t *testing.T) {
	p := testPool(t, 2)
	p.SetStrategy(StrategyLeastBusy)

	readers := p.All()
	// Simulate reader "a" busy with one operation.
	readers[0].stateMu.Lock()
	readers[0].inFlight = 1
	readers[0].stateMu.Unlock()

	r, err := p.ForOperation(OpRead)
	require.NoError(t, err)
	assert.Equal(t, "b", r.ID())
}

func TestPool_LeastBusy_TiesBrokenByOrder(t *testing.T) {
	p := testPool(t, 3)
	p.SetStrategy(StrategyLeastBusy)

	r, err := p.ForOperation(OpRead)
	require.NoError(t, err)
	assert.Equal(t, "a", r.ID())
}

func TestPool_FirstAvailable(t *testing.T) {
	p := testPool(t, 3)
	p.SetStrategy(StrategyFirstAvailable)

	readers := p.All()
	readers[0].stateMu.Lock()
	readers[0].inFlight = 1
	readers[0].stateMu.Unlock()

	r, err := p.ForOperation(OpRead)
	require.NoError(t, err)
	assert.Equal(t, "b", r.ID())
}

func TestPool_Utilization(t *testing.T) {
	p := testPool(t, 2)

	readers := p.All()
	readers[1].stateMu.Lock()
	readers[1].inFlight = 2
	readers[1].stateMu.Unlock()

	util := p.Utilization()
	assert.Equal(t, map[string]ReaderStatus{
		"a": {ActiveOperations: 0, IsBusy: false, IP: "192.168.1.10", Port: 47808, Strategy: StrategyRoundRobin},
		"b": {ActiveOperations: 2, IsBusy: true, IP: "192.168.1.10", Port: 47809, Strategy: StrategyRoundRobin},
	}, util)
}

func TestPool_Utilization_ReflectsStrategy(t *testing.T) {
	p := testPool(t, 1)
	p.SetStrategy(StrategyLeastBusy)

	util := p.Utilization()
	require.Len(t, util, 1)
	assert.Equal(t, StrategyLeastBusy, util["a"].Strategy)
}

func TestPool_Cleanup(t *testing.T) {
	p := testPool(t, 2)
	p.Cleanup()
	assert.Zero(t, p.Size())
}
