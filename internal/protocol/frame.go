package protocol

import (
	"encoding/json"
	"fmt"
)

// BuildRequestFrame creates the REQUEST frame forwarded to a device for an
// ActionRequest taken off the bus. The frame id carries the correlation id.
func BuildRequestFrame(req *ActionRequest) *OutboundFrame {
	return &OutboundFrame{
		Type: FRAME_REQUEST,
		ID:   req.ID,
		Payload: RequestPayload{
			Request:    req.Action.Request,
			Parameters: req.Action.Parameters,
		},
	}
}

// BuildAckFrame creates a RESULT frame acknowledging an inbound frame.
func BuildAckFrame(id string, success bool, message string) *OutboundFrame {
	return &OutboundFrame{
		Type: FRAME_RESULT,
		ID:   id,
		Payload: AckPayload{
			Success: success,
			Message: message,
		},
	}
}

// BuildHeartbeatFrame creates the echo reply for an inbound HEARTBEAT.
func BuildHeartbeatFrame(id string) *OutboundFrame {
	return &OutboundFrame{
		Type: FRAME_HEARTBEAT,
		ID:   id,
		Payload: AckPayload{
			Success: true,
		},
	}
}

// BuildVitalsFrame creates a VITALS push frame. Notifications carry no
// correlation id.
func BuildVitalsFrame(reading *VitalsReading) *OutboundFrame {
	return &OutboundFrame{
		Type: FRAME_VITALS,
		ID:   "",
		Payload: VitalsPayload{
			HeartRate: reading.HeartRate,
			SpO2:      reading.SpO2,
			Stress:    reading.Stress,
		},
	}
}

// DeserializeInboundFrame parses a raw connection message into an InboundFrame.
func DeserializeInboundFrame(data []byte) (*InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to deserialize frame: %w", err)
	}
	frame.Raw = data

	if err := ValidateInboundFrame(&frame); err != nil {
		return nil, err
	}

	return &frame, nil
}

// ValidateInboundFrame checks that a frame has the shape its type requires.
func ValidateInboundFrame(frame *InboundFrame) error {
	switch frame.Type {
	case FRAME_AUTH:
		if frame.Token == "" {
			return fmt.Errorf("token required for AUTH frame")
		}
	case FRAME_RESULT:
		if frame.Token == "" {
			return fmt.Errorf("token required for RESULT frame")
		}
		if frame.Payload == nil {
			return fmt.Errorf("payload required for RESULT frame")
		}
	case FRAME_HEARTBEAT:
		// No additional fields required
	default:
		return fmt.Errorf("unknown frame type: %s", frame.Type)
	}

	return nil
}

// DeserializeActionRequest parses a clientActionRequest bus payload.
func DeserializeActionRequest(payload string) (*ActionRequest, error) {
	var req ActionRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return nil, fmt.Errorf("failed to deserialize action request: %w", err)
	}
	if req.UserID == "" || req.Action.Request == "" {
		return nil, fmt.Errorf("invalid action request: missing userId or action")
	}
	return &req, nil
}

// DeserializeActionResult parses a clientActionResult bus payload.
func DeserializeActionResult(payload string) (*ActionResult, error) {
	var result ActionResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to deserialize action result: %w", err)
	}
	return &result, nil
}

// DeserializeVitalsReading parses a sensorData bus payload.
func DeserializeVitalsReading(payload string) (*VitalsReading, error) {
	var reading VitalsReading
	if err := json.Unmarshal([]byte(payload), &reading); err != nil {
		return nil, fmt.Errorf("failed to deserialize vitals reading: %w", err)
	}
	if reading.UserID == "" {
		return nil, fmt.Errorf("invalid vitals reading: missing userId")
	}
	return &reading, nil
}

// Serialize marshals any envelope or frame to its JSON wire form.
func Serialize(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}
