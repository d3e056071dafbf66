package bacnet

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/openbms-io/supervisor-sub000/internal/models"
)

// ReadRequest asks for a set of properties from one object.
type ReadRequest struct {
	ObjectType models.ObjectType
	ObjectID   uint32
	Properties []string
}

// Conn is the narrow surface the reader needs from the protocol library.
// Implementations return results in the library's own vocabulary; the
// Reader translates them into the canonical shape.
type Conn interface {
	WhoIs(low, high int) ([]uint32, error)
	ObjectList(ip string, deviceID uint32) ([]string, error)
	ReadProperty(ip string, objectType models.ObjectType, objectID uint32, property string) (any, error)
	ReadMulti(ip string, requests []ReadRequest) (map[string]map[string]any, error)
	WriteProperty(ip string, objectType models.ObjectType, objectID uint32, value float64, priority uint) error
	Close() error
}

// DialFunc opens a protocol connection for one local endpoint.
type DialFunc func(cfg models.ReaderConfig) (Conn, error)

// Reader owns one protocol endpoint. One operation in flight at a time,
// serialized by opMu; stateMu guards the connection handle and the
// in-flight counter so utilization reads never block behind an operation.
type Reader struct {
	cfg    models.ReaderConfig
	dial   DialFunc
	logger *slog.Logger

	opMu sync.Mutex

	stateMu   sync.Mutex
	conn      Conn
	connected bool
	inFlight  int
}

// NewReader creates a reader wrapper. The connection is established
// lazily on first use.
func NewReader(cfg models.ReaderConfig, dial DialFunc, logger *slog.Logger) *Reader {
	return &Reader{
		cfg:    cfg,
		dial:   dial,
		logger: logger.With(slog.String("reader", cfg.ID)),
	}
}

// ID returns the reader's stable identifier.
func (r *Reader) ID() string { return r.cfg.ID }

// IP returns the reader's bind address.
func (r *Reader) IP() string { return r.cfg.IPAddress }

// Port returns the reader's UDP port.
func (r *Reader) Port() int { return r.cfg.Port }

// ActiveOperations returns the in-flight operation count (0 or 1). It
// only takes the state lock, never the operation lock, so pool selection
// stays non-blocking.
func (r *Reader) ActiveOperations() int {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.inFlight
}

// IsConnected reports whether the underlying connection is established.
func (r *Reader) IsConnected() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.connected
}

// Start establishes the connection eagerly. Safe to skip; every
// operation connects lazily.
func (r *Reader) Start() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	_, err := r.ensureConn()
	return err
}

// Disconnect closes the underlying connection if open.
func (r *Reader) Disconnect() {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.stateMu.Lock()
	conn := r.conn
	r.conn = nil
	r.connected = false
	r.stateMu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			r.logger.Warn("error closing protocol connection", slog.String("error", err.Error()))
		}
	}
}

// ensureConn lazily dials the endpoint. Caller must hold opMu.
func (r *Reader) ensureConn() (Conn, error) {
	r.stateMu.Lock()
	if r.connected && r.conn != nil {
		conn := r.conn
		r.stateMu.Unlock()
		return conn, nil
	}
	r.stateMu.Unlock()

	conn, err := r.dial(r.cfg)
	if err != nil {
		return nil, fmt.Errorf("reader %s: connect failed: %w", r.cfg.ID, err)
	}

	r.stateMu.Lock()
	r.conn = conn
	r.connected = true
	r.stateMu.Unlock()

	r.logger.Info("protocol connection established",
		slog.String("ip", r.cfg.IPAddress),
		slog.Int("port", r.cfg.Port),
	)
	return conn, nil
}

// withOperation serializes one protocol operation and maintains the
// in-flight counter around it.
func (r *Reader) withOperation(fn func(conn Conn) error) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.stateMu.Lock()
	r.inFlight++
	r.stateMu.Unlock()
	defer func() {
		r.stateMu.Lock()
		r.inFlight--
		r.stateMu.Unlock()
	}()

	conn, err := r.ensureConn()
	if err != nil {
		return err
	}
	return fn(conn)
}

// WhoIs broadcasts a who-is and returns discovered device instances.
func (r *Reader) WhoIs(low, high int) ([]uint32, error) {
	var devices []uint32
	err := r.withOperation(func(conn Conn) error {
		var err error
		devices, err = conn.WhoIs(low, high)
		return err
	})
	return devices, err
}

// ReadObjectList reads a controller's object list, translated into the
// canonical vocabulary.
func (r *Reader) ReadObjectList(ip string, deviceID uint32) ([]string, error) {
	var objects []string
	err := r.withOperation(func(conn Conn) error {
		libObjects, err := conn.ObjectList(ip, deviceID)
		if err != nil {
			return err
		}
		objects = make([]string, 0, len(libObjects))
		for _, key := range libObjects {
			objects = append(objects, canonicalKey(key))
		}
		return nil
	})
	return objects, err
}

// ReadPresentValue reads a single point's present value.
func (r *Reader) ReadPresentValue(ip string, objectType models.ObjectType, objectID uint32) (any, error) {
	var value any
	err := r.withOperation(func(conn Conn) error {
		raw, err := conn.ReadProperty(ip, objectType, objectID, "presentValue")
		if err != nil {
			return err
		}
		value = CoerceValue("presentValue", raw)
		return nil
	})
	return value, err
}

// ReadProperties reads a set of properties from a single point.
func (r *Reader) ReadProperties(ip string, objectType models.ObjectType, objectID uint32, properties []string) (map[string]any, error) {
	result := make(map[string]any, len(properties))
	err := r.withOperation(func(conn Conn) error {
		for _, prop := range properties {
			raw, err := conn.ReadProperty(ip, objectType, objectID, prop)
			if err != nil {
				return fmt.Errorf("read %s of %s: %w", prop, ObjectKey(objectType, objectID), err)
			}
			result[prop] = CoerceValue(prop, raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReadMultipleProperties issues one ReadPropertyMultiple covering every
// requested object. The response is translated into the canonical
// {objectType:instance -> {property -> value}} map; objects the
// controller did not answer for are present with empty property maps so
// callers can schedule fallbacks. The protocol library is known to panic
// on malformed responses; that is recovered here and surfaced as an
// error so the caller can fall back to per-point reads.
func (r *Reader) ReadMultipleProperties(ip string, requests []ReadRequest) (result map[string]map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("reader %s: malformed bulk response from %s: %v", r.cfg.ID, ip, rec)
		}
	}()

	err = r.withOperation(func(conn Conn) error {
		libResult, err := conn.ReadMulti(ip, requests)
		if err != nil {
			return err
		}

		result = make(map[string]map[string]any, len(requests))
		for _, req := range requests {
			result[ObjectKey(req.ObjectType, req.ObjectID)] = map[string]any{}
		}
		for libKey, props := range libResult {
			key := canonicalKey(libKey)
			coerced := make(map[string]any, len(props))
			for prop, raw := range props {
				coerced[prop] = CoerceValue(prop, raw)
			}
			result[key] = coerced
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Write parses a legacy command string of the form
// "ip objectType instance value [priority]" and performs a verified
// write.
func (r *Reader) Write(command string) error {
	fields := strings.Fields(command)
	if len(fields) < 4 {
		return fmt.Errorf("malformed write command %q", command)
	}
	instance, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return fmt.Errorf("malformed write command %q: %w", command, err)
	}
	value, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return fmt.Errorf("malformed write command %q: %w", command, err)
	}
	priority := uint(DefaultWritePriority)
	if len(fields) >= 5 {
		p, err := strconv.ParseUint(fields[4], 10, 8)
		if err != nil {
			return fmt.Errorf("malformed write command %q: %w", command, err)
		}
		priority = uint(p)
	}
	return r.WriteWithPriority(fields[0], models.ObjectType(fields[1]), uint32(instance), value, priority)
}

// DefaultWritePriority is the BACnet priority slot used when a command
// does not specify one.
const DefaultWritePriority = 8

// WriteWithPriority writes presentValue at the given priority slot, then
// reads the value back. A mismatch fails the operation.
func (r *Reader) WriteWithPriority(ip string, objectType models.ObjectType, objectID uint32, value float64, priority uint) error {
	return r.withOperation(func(conn Conn) error {
		if err := conn.WriteProperty(ip, objectType, objectID, value, priority); err != nil {
			return fmt.Errorf("write %s: %w", ObjectKey(objectType, objectID), err)
		}

		raw, err := conn.ReadProperty(ip, objectType, objectID, "presentValue")
		if err != nil {
			return fmt.Errorf("write verification read %s: %w", ObjectKey(objectType, objectID), err)
		}
		readBack, ok := asFloat(CoerceValue("presentValue", raw))
		if !ok {
			return fmt.Errorf("Write failed: %s != %s",
				Stringify(CoerceValue("presentValue", raw)), formatWriteValue(value))
		}
		if readBack != value {
			return fmt.Errorf("Write failed: %s != %s",
				formatWriteValue(readBack), formatWriteValue(value))
		}
		return nil
	})
}

// formatWriteValue renders a numeric value for failure messages. Whole
// numbers keep a decimal point, so 25 reads as 25.0.
func formatWriteValue(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// canonicalKey translates a library "object-type:id" key into canonical
// form. Keys without the library vocabulary pass through unchanged.
func canonicalKey(libKey string) string {
	idx := strings.LastIndex(libKey, ":")
	if idx <= 0 {
		return libKey
	}
	return fmt.Sprintf("%s%s", CanonicalObjectType(libKey[:idx]), libKey[idx:])
}

func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
