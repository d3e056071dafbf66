// Package bacnet wraps the BACnet protocol library behind reader wrappers
// and a load-balanced pool. It is the only package that tolerates the
// library's quirks; everything upstream sees the canonical
// {objectType:instance -> {property -> value}} shape.
package bacnet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openbms-io/supervisor-sub000/internal/models"
)

// libraryObjectNames maps the agent's canonical object vocabulary to the
// protocol library's hyphenated vocabulary.
var libraryObjectNames = map[models.ObjectType]string{
	models.ObjectAnalogInput:      "analog-input",
	models.ObjectAnalogOutput:     "analog-output",
	models.ObjectAnalogValue:      "analog-value",
	models.ObjectBinaryInput:      "binary-input",
	models.ObjectBinaryOutput:     "binary-output",
	models.ObjectBinaryValue:      "binary-value",
	models.ObjectMultiStateInput:  "multi-state-input",
	models.ObjectMultiStateOutput: "multi-state-output",
	models.ObjectMultiStateValue:  "multi-state-value",
	models.ObjectDevice:           "device",
}

var canonicalObjectNames = func() map[string]models.ObjectType {
	m := make(map[string]models.ObjectType, len(libraryObjectNames))
	for canonical, lib := range libraryObjectNames {
		m[lib] = canonical
	}
	return m
}()

// objectTypeNumbers maps canonical object types to their ASHRAE 135
// object type numbers.
var objectTypeNumbers = map[models.ObjectType]uint16{
	models.ObjectAnalogInput:      0,
	models.ObjectAnalogOutput:     1,
	models.ObjectAnalogValue:      2,
	models.ObjectBinaryInput:      3,
	models.ObjectBinaryOutput:     4,
	models.ObjectBinaryValue:      5,
	models.ObjectDevice:           8,
	models.ObjectMultiStateInput:  13,
	models.ObjectMultiStateOutput: 14,
	models.ObjectMultiStateValue:  19,
}

// propertyIDs maps canonical property names to ASHRAE 135 property
// identifiers.
var propertyIDs = map[string]uint32{
	"presentValue":             85,
	"units":                    117,
	"statusFlags":              111,
	"eventState":               36,
	"outOfService":             81,
	"reliability":              103,
	"minPresValue":             69,
	"maxPresValue":             65,
	"resolution":               106,
	"priorityArray":            87,
	"relinquishDefault":        104,
	"covIncrement":             22,
	"timeDelay":                113,
	"timeDelayNormal":          356,
	"notificationClass":        17,
	"highLimit":                45,
	"lowLimit":                 59,
	"deadband":                 25,
	"limitEnable":              52,
	"eventEnable":              35,
	"ackedTransitions":         0,
	"notifyType":               72,
	"eventTimeStamps":          130,
	"eventMessageTexts":        351,
	"eventMessageTextsConfig":  352,
	"eventDetectionEnable":     353,
	"eventAlgorithmInhibit":    355,
	"eventAlgorithmInhibitRef": 354,
	"objectList":               76,
}

// PropertyID resolves a canonical property name to its identifier.
func PropertyID(name string) (uint32, bool) {
	id, ok := propertyIDs[name]
	return id, ok
}

// LibraryObjectName returns the protocol library's name for a canonical
// object type.
func LibraryObjectName(t models.ObjectType) (string, bool) {
	name, ok := libraryObjectNames[t]
	return name, ok
}

// CanonicalObjectType translates a library object name ("analog-value")
// into the canonical vocabulary ("analogValue"). Unknown names pass
// through unchanged so a new object type degrades to an odd key instead
// of a dropped point.
func CanonicalObjectType(libName string) models.ObjectType {
	if t, ok := canonicalObjectNames[libName]; ok {
		return t
	}
	return models.ObjectType(libName)
}

// ObjectTypeNumber returns the ASHRAE object type number for a canonical
// object type.
func ObjectTypeNumber(t models.ObjectType) (uint16, bool) {
	n, ok := objectTypeNumbers[t]
	return n, ok
}

// ObjectKey is the canonical map key for one object.
func ObjectKey(t models.ObjectType, instance uint32) string {
	return fmt.Sprintf("%s:%d", t, instance)
}

// ParseObjectKey splits a canonical object key.
func ParseObjectKey(key string) (models.ObjectType, uint32, error) {
	idx := strings.LastIndex(key, ":")
	if idx <= 0 || idx == len(key)-1 {
		return "", 0, fmt.Errorf("malformed object key %q", key)
	}
	instance, err := strconv.ParseUint(key[idx+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("malformed object key %q: %w", key, err)
	}
	return models.ObjectType(key[:idx]), uint32(instance), nil
}

// CoerceValue normalizes a BACnet-typed scalar into a portable value.
// Booleans arrive as integers, enumerations as stringer objects; status
// flag sets are preserved intact for downstream splitting.
func CoerceValue(property string, raw any) any {
	if raw == nil {
		return nil
	}
	switch property {
	case "outOfService", "eventDetectionEnable", "eventAlgorithmInhibit":
		return coerceBool(raw)
	case "statusFlags":
		return coerceStatusFlags(raw)
	}
	switch v := raw.(type) {
	case fmt.Stringer:
		return v.String()
	case float32:
		return float64(v)
	case uint:
		return uint64(v)
	case int:
		return int64(v)
	default:
		return raw
	}
}

func coerceBool(raw any) any {
	switch v := raw.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case uint32:
		return v != 0
	case uint64:
		return v != 0
	case float64:
		return v != 0
	default:
		return raw
	}
}

// coerceStatusFlags joins flag lists into the stored semicolon form while
// leaving already-joined strings untouched.
func coerceStatusFlags(raw any) any {
	switch v := raw.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, ";")
	case []any:
		parts := make([]string, 0, len(v))
		for _, f := range v {
			parts = append(parts, fmt.Sprint(f))
		}
		return strings.Join(parts, ";")
	case fmt.Stringer:
		return v.String()
	default:
		return raw
	}
}

// Stringify renders a coerced value as the stored present-value string.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
