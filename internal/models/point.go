// Package models defines the agent's persisted and wire-level data types.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ControllerPoint is one point reading as persisted in the local store.
// Complex BACnet properties are stored as JSON strings; status flags as a
// semicolon-joined list. Pointer fields are nullable columns.
type ControllerPoint struct {
	// Identity
	ID                       string     `json:"id"`
	IotDevicePointID         string     `json:"iot_device_point_id"`
	ControllerID             string     `json:"controller_id"`
	ObjectType               ObjectType `json:"bacnet_object_type"`
	ObjectInstance           uint32     `json:"point_instance_id"`
	ControllerIP             string     `json:"controller_ip_address"`
	ControllerPort           int        `json:"controller_port"`
	ControllerDeviceInstance uint32     `json:"controller_device_id"`

	// Value
	PresentValue       string    `json:"present_value"`
	Units              *string   `json:"units"`
	CreatedAt          time.Time `json:"created_at"`
	CreatedAtUnixMilli int64     `json:"created_at_unix_milli_timestamp"`

	// Upload state
	IsUploaded bool      `json:"is_uploaded"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Health
	StatusFlags  *string `json:"status_flags"`
	EventState   *string `json:"event_state"`
	OutOfService *bool   `json:"out_of_service"`
	Reliability  *string `json:"reliability"`
	ErrorInfo    *string `json:"error_info"`

	// Optional BACnet properties
	MinPresValue             *float64 `json:"min_pres_value"`
	MaxPresValue             *float64 `json:"max_pres_value"`
	Resolution               *float64 `json:"resolution"`
	PriorityArray            *string  `json:"priority_array"`
	RelinquishDefault        *string  `json:"relinquish_default"`
	CovIncrement             *float64 `json:"cov_increment"`
	TimeDelay                *int64   `json:"time_delay"`
	TimeDelayNormal          *int64   `json:"time_delay_normal"`
	NotificationClass        *int64   `json:"notification_class"`
	HighLimit                *float64 `json:"high_limit"`
	LowLimit                 *float64 `json:"low_limit"`
	Deadband                 *float64 `json:"deadband"`
	LimitEnable              *string  `json:"limit_enable"`
	EventEnable              *string  `json:"event_enable"`
	AckedTransitions         *string  `json:"acked_transitions"`
	NotifyType               *string  `json:"notify_type"`
	EventTimeStamps          *string  `json:"event_time_stamps"`
	EventMessageTexts        *string  `json:"event_message_texts"`
	EventMessageTextsConfig  *string  `json:"event_message_texts_config"`
	EventDetectionEnable     *bool    `json:"event_detection_enable"`
	EventAlgorithmInhibit    *bool    `json:"event_algorithm_inhibit"`
	EventAlgorithmInhibitRef *string  `json:"event_algorithm_inhibit_ref"`
}

// PointPayload is the per-point element of the bulk upload body. Datetimes
// are ISO-8601 strings, status flags a list, and the JSON-string columns
// are re-parsed into structured values.
type PointPayload struct {
	ID                       string          `json:"id"`
	IotDevicePointID         string          `json:"iot_device_point_id"`
	ControllerID             string          `json:"controller_id"`
	ObjectType               ObjectType      `json:"bacnet_object_type"`
	ObjectInstance           uint32          `json:"point_instance_id"`
	ControllerIP             string          `json:"controller_ip_address"`
	ControllerPort           int             `json:"controller_port"`
	ControllerDeviceInstance uint32          `json:"controller_device_id"`
	PresentValue             string          `json:"present_value"`
	Units                    *string         `json:"units"`
	CreatedAt                string          `json:"created_at"`
	CreatedAtUnixMilli       int64           `json:"created_at_unix_milli_timestamp"`
	StatusFlags              []string        `json:"status_flags"`
	EventState               *string         `json:"event_state"`
	OutOfService             *bool           `json:"out_of_service"`
	Reliability              *string         `json:"reliability"`
	ErrorInfo                json.RawMessage `json:"error_info,omitempty"`
	MinPresValue             *float64        `json:"min_pres_value"`
	MaxPresValue             *float64        `json:"max_pres_value"`
	Resolution               *float64        `json:"resolution"`
	PriorityArray            json.RawMessage `json:"priority_array,omitempty"`
	RelinquishDefault        *string         `json:"relinquish_default"`
	CovIncrement             *float64        `json:"cov_increment"`
	TimeDelay                *int64          `json:"time_delay"`
	TimeDelayNormal          *int64          `json:"time_delay_normal"`
	NotificationClass        *int64          `json:"notification_class"`
	HighLimit                *float64        `json:"high_limit"`
	LowLimit                 *float64        `json:"low_limit"`
	Deadband                 *float64        `json:"deadband"`
	LimitEnable              json.RawMessage `json:"limit_enable,omitempty"`
	EventEnable              json.RawMessage `json:"event_enable,omitempty"`
	AckedTransitions         json.RawMessage `json:"acked_transitions,omitempty"`
	NotifyType               *string         `json:"notify_type"`
	EventTimeStamps          json.RawMessage `json:"event_time_stamps,omitempty"`
	EventMessageTexts        json.RawMessage `json:"event_message_texts,omitempty"`
	EventMessageTextsConfig  json.RawMessage `json:"event_message_texts_config,omitempty"`
	EventDetectionEnable     *bool           `json:"event_detection_enable"`
	EventAlgorithmInhibit    *bool           `json:"event_algorithm_inhibit"`
	EventAlgorithmInhibitRef json.RawMessage `json:"event_algorithm_inhibit_ref,omitempty"`
}

// BulkPointsPayload is the body published to the per-device bulk topic.
type BulkPointsPayload struct {
	Points []PointPayload `json:"points"`
}

// rawJSON re-parses a stored JSON string column. Strings that are not
// valid JSON are carried as a JSON string so a single corrupt column
// cannot poison the batch.
func rawJSON(s *string) json.RawMessage {
	if s == nil {
		return nil
	}
	if json.Valid([]byte(*s)) {
		return json.RawMessage(*s)
	}
	quoted, _ := json.Marshal(*s)
	return quoted
}

// rawString converts a structured wire value back into its stored string
// form.
func rawString(raw json.RawMessage) *string {
	if raw == nil {
		return nil
	}
	s := string(raw)
	return &s
}

// SplitStatusFlags splits the stored semicolon-joined flag list.
func SplitStatusFlags(flags *string) []string {
	if flags == nil || *flags == "" {
		return nil
	}
	return strings.Split(*flags, ";")
}

// JoinStatusFlags joins a flag list back into its stored form.
func JoinStatusFlags(flags []string) *string {
	if len(flags) == 0 {
		return nil
	}
	joined := strings.Join(flags, ";")
	return &joined
}

// ToPayload converts a stored point into its upload representation.
func (p *ControllerPoint) ToPayload() PointPayload {
	return PointPayload{
		ID:                       p.ID,
		IotDevicePointID:         p.IotDevicePointID,
		ControllerID:             p.ControllerID,
		ObjectType:               p.ObjectType,
		ObjectInstance:           p.ObjectInstance,
		ControllerIP:             p.ControllerIP,
		ControllerPort:           p.ControllerPort,
		ControllerDeviceInstance: p.ControllerDeviceInstance,
		PresentValue:             p.PresentValue,
		Units:                    p.Units,
		CreatedAt:                p.CreatedAt.UTC().Format(time.RFC3339Nano),
		CreatedAtUnixMilli:       p.CreatedAt.UTC().UnixMilli(),
		StatusFlags:              SplitStatusFlags(p.StatusFlags),
		EventState:               p.EventState,
		OutOfService:             p.OutOfService,
		Reliability:              p.Reliability,
		ErrorInfo:                rawJSON(p.ErrorInfo),
		MinPresValue:             p.MinPresValue,
		MaxPresValue:             p.MaxPresValue,
		Resolution:               p.Resolution,
		PriorityArray:            rawJSON(p.PriorityArray),
		RelinquishDefault:        p.RelinquishDefault,
		CovIncrement:             p.CovIncrement,
		TimeDelay:                p.TimeDelay,
		TimeDelayNormal:          p.TimeDelayNormal,
		NotificationClass:        p.NotificationClass,
		HighLimit:                p.HighLimit,
		LowLimit:                 p.LowLimit,
		Deadband:                 p.Deadband,
		LimitEnable:              rawJSON(p.LimitEnable),
		EventEnable:              rawJSON(p.EventEnable),
		AckedTransitions:         rawJSON(p.AckedTransitions),
		NotifyType:               p.NotifyType,
		EventTimeStamps:          rawJSON(p.EventTimeStamps),
		EventMessageTexts:        rawJSON(p.EventMessageTexts),
		EventMessageTextsConfig:  rawJSON(p.EventMessageTextsConfig),
		EventDetectionEnable:     p.EventDetectionEnable,
		EventAlgorithmInhibit:    p.EventAlgorithmInhibit,
		EventAlgorithmInhibitRef: rawJSON(p.EventAlgorithmInhibitRef),
	}
}

// PointFromPayload converts an upload representation back into a stored
// point. The inverse of ToPayload for every field the store owns; upload
// state is not part of the wire format.
func PointFromPayload(pl PointPayload) (ControllerPoint, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, pl.CreatedAt)
	if err != nil {
		return ControllerPoint{}, err
	}
	return ControllerPoint{
		ID:                       pl.ID,
		IotDevicePointID:         pl.IotDevicePointID,
		ControllerID:             pl.ControllerID,
		ObjectType:               pl.ObjectType,
		ObjectInstance:           pl.ObjectInstance,
		ControllerIP:             pl.ControllerIP,
		ControllerPort:           pl.ControllerPort,
		ControllerDeviceInstance: pl.ControllerDeviceInstance,
		PresentValue:             pl.PresentValue,
		Units:                    pl.Units,
		CreatedAt:                createdAt,
		CreatedAtUnixMilli:       pl.CreatedAtUnixMilli,
		StatusFlags:              JoinStatusFlags(pl.StatusFlags),
		EventState:               pl.EventState,
		OutOfService:             pl.OutOfService,
		Reliability:              pl.Reliability,
		ErrorInfo:                rawString(pl.ErrorInfo),
		MinPresValue:             pl.MinPresValue,
		MaxPresValue:             pl.MaxPresValue,
		Resolution:               pl.Resolution,
		PriorityArray:            rawString(pl.PriorityArray),
		RelinquishDefault:        pl.RelinquishDefault,
		CovIncrement:             pl.CovIncrement,
		TimeDelay:                pl.TimeDelay,
		TimeDelayNormal:          pl.TimeDelayNormal,
		NotificationClass:        pl.NotificationClass,
		HighLimit:                pl.HighLimit,
		LowLimit:                 pl.LowLimit,
		Deadband:                 pl.Deadband,
		LimitEnable:              rawString(pl.LimitEnable),
		EventEnable:              rawString(pl.EventEnable),
		AckedTransitions:         rawString(pl.AckedTransitions),
		NotifyType:               pl.NotifyType,
		EventTimeStamps:          rawString(pl.EventTimeStamps),
		EventMessageTexts:        rawString(pl.EventMessageTexts),
		EventMessageTextsConfig:  rawString(pl.EventMessageTextsConfig),
		EventDetectionEnable:     pl.EventDetectionEnable,
		EventAlgorithmInhibit:    pl.EventAlgorithmInhibit,
		EventAlgorithmInhibitRef: rawString(pl.EventAlgorithmInhibitRef),
	}, nil
}
