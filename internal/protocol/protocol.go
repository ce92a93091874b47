package protocol

import "encoding/json"

// Bus channel names
const (
	CHANNEL_ACTION_REQUEST = "clientActionRequest"
	CHANNEL_ACTION_RESULT  = "clientActionResult"
	CHANNEL_SENSOR_DATA    = "sensorData"
)

// Inbound frame types (device -> bridge)
const (
	FRAME_AUTH      = "AUTH"
	FRAME_RESULT    = "RESULT"
	FRAME_HEARTBEAT = "HEARTBEAT"
)

// Outbound frame types (bridge -> device)
const (
	FRAME_REQUEST = "REQUEST"
	FRAME_VITALS  = "VITALS"
)

// Action describes an operation the device firmware should perform.
// Parameters is an opaque JSON string meaningful only to the device.
type Action struct {
	Request    string `json:"request"`
	Parameters string `json:"parameters"`
}

// ActionRequest is the envelope published on clientActionRequest.
type ActionRequest struct {
	UserID string `json:"userId"`
	ID     string `json:"id"`
	Action Action `json:"action"`
}

// ActionOutcome is the success/message pair carried by an ActionResult.
type ActionOutcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ActionResult is the envelope published on clientActionResult.
type ActionResult struct {
	UserID string        `json:"userId"`
	ID     string        `json:"id"`
	Result ActionOutcome `json:"result"`
}

// VitalsReading is the best-effort envelope published on sensorData.
// It carries no correlation id; delivery is fire-and-forget.
type VitalsReading struct {
	UserID    string  `json:"userId"`
	HeartRate float64 `json:"heartRate"`
	SpO2      float64 `json:"spo2"`
	Stress    float64 `json:"stress"`
}

// InboundFrame is a message received from a device connection.
type InboundFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Token   string          `json:"token,omitempty"`
	Payload *ResultPayload  `json:"payload,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// ResultPayload is the payload of an inbound RESULT frame.
type ResultPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// OutboundFrame is a message sent to a device connection. Payload shape
// depends on the frame type.
type OutboundFrame struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	Payload interface{} `json:"payload"`
}

// RequestPayload is the payload of an outbound REQUEST frame.
type RequestPayload struct {
	Request    string `json:"request"`
	Parameters string `json:"parameters"`
}

// AckPayload is the payload of an outbound RESULT or HEARTBEAT frame.
type AckPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// VitalsPayload is the payload of an outbound VITALS frame.
type VitalsPayload struct {
	HeartRate float64 `json:"heartRate"`
	SpO2      float64 `json:"spo2"`
	Stress    float64 `json:"stress"`
}
