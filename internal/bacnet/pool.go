package bacnet

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/openbms-io/supervisor-sub000/internal/models"
	"github.com/openbms-io/supervisor-sub000/internal/pkg/errors"
)

// Strategy selects which reader serves the next operation.
type Strategy string

const (
	StrategyRoundRobin     Strategy = "round_robin"
	StrategyLeastBusy      Strategy = "least_busy"
	StrategyFirstAvailable Strategy = "first_available"
)

// OperationKind tags pool checkouts for logging and utilization stats.
type OperationKind string

const (
	OpRead  OperationKind = "read"
	OpWrite OperationKind = "write"
	OpScan  OperationKind = "scan"
)

// Pool owns the reader set and load-balances operations across it.
type Pool struct {
	logger *slog.Logger
	dial   DialFunc

	mu       sync.Mutex
	readers  []*Reader
	strategy Strategy
	next     int
}

// NewPool creates an empty pool using the given dialer.
func NewPool(dial DialFunc, logger *slog.Logger) *Pool {
	return &Pool{
		logger:   logger,
		dial:     dial,
		strategy: StrategyRoundRobin,
	}
}

// Initialize replaces the reader set from configuration. Existing
// readers are disconnected first; the rotation index resets so the new
// set starts from the beginning.
func (p *Pool) Initialize(configs []models.ReaderConfig) error {
	seen := make(map[string]struct{}, len(configs))
	for _, cfg := range configs {
		key := fmt.Sprintf("%s:%d", cfg.IPAddress, cfg.Port)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate reader endpoint %s", key)
		}
		seen[key] = struct{}{}
	}

	p.mu.Lock()
	old := p.readers
	readers := make([]*Reader, 0, len(configs))
	for _, cfg := range configs {
		readers = append(readers, NewReader(cfg, p.dial, p.logger))
	}
	p.readers = readers
	p.next = 0
	p.mu.Unlock()

	for _, r := range old {
		r.Disconnect()
	}

	p.logger.Info("reader pool initialized",
		slog.Int("readers", len(readers)),
		slog.String("strategy", string(p.strategy)),
	)
	return nil
}

// SetStrategy switches the selection strategy at runtime.
func (p *Pool) SetStrategy(s Strategy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.strategy = s
	p.next = 0
}

// All returns a snapshot of the current reader set.
func (p *Pool) All() []*Reader {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Reader, len(p.readers))
	copy(out, p.readers)
	return out
}

// Size returns the number of readers in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.readers)
}

// ForOperation picks a reader for the next operation according to the
// active strategy. Selection never blocks behind in-flight operations;
// the returned reader serializes internally.
func (p *Pool) ForOperation(op OperationKind) (*Reader, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.readers) == 0 {
		return nil, errors.ErrNoReaderAvailable
	}

	var reader *Reader
	switch p.strategy {
	case StrategyLeastBusy:
		reader = p.readers[0]
		busiest := reader.ActiveOperations()
		for _, r := range p.readers[1:] {
			if n := r.ActiveOperations(); n < busiest {
				reader, busiest = r, n
			}
		}
	case StrategyFirstAvailable:
		reader = p.readers[0]
		for _, r := range p.readers {
			if r.ActiveOperations() == 0 {
				reader = r
				break
			}
		}
	default:
		if p.next >= len(p.readers) {
			p.next = 0
		}
		reader = p.readers[p.next]
		p.next++
	}

	p.logger.Debug("reader selected",
		slog.String("reader", reader.ID()),
		slog.String("operation", string(op)),
		slog.String("strategy", string(p.strategy)),
	)
	return reader, nil
}

// ReaderStatus is one reader's utilization record.
type ReaderStatus struct {
	ActiveOperations int      `json:"active_operations"`
	IsBusy           bool     `json:"is_busy"`
	IP               string   `json:"ip"`
	Port             int      `json:"port"`
	Strategy         Strategy `json:"strategy"`
}

// Utilization reports per-reader load keyed by reader id.
func (p *Pool) Utilization() map[string]ReaderStatus {
	p.mu.Lock()
	readers := make([]*Reader, len(p.readers))
	copy(readers, p.readers)
	strategy := p.strategy
	p.mu.Unlock()

	out := make(map[string]ReaderStatus, len(readers))
	for _, r := range readers {
		active := r.ActiveOperations()
		out[r.ID()] = ReaderStatus{
			ActiveOperations: active,
			IsBusy:           active > 0,
			IP:               r.IP(),
			Port:             r.Port(),
			Strategy:         strategy,
		}
	}
	return out
}

// AnyConnected reports whether at least one reader holds an established
// connection.
func (p *Pool) AnyConnected() bool {
	for _, r := range p.All() {
		if r.IsConnected() {
			return true
		}
	}
	return false
}

// Cleanup disconnects every reader and empties the pool.
func (p *Pool) Cleanup() {
	p.mu.Lock()
	readers := p.readers
	p.readers = nil
	p.next = 0
	p.mu.Unlock()

	for _, r := range readers {
		r.Disconnect()
	}
	p.logger.Info("reader pool cleaned up", slog.Int("readers", len(readers)))
}
