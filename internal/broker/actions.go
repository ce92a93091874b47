package broker

import (
	"context"
	"fmt"
	"time"

	"vale/internal/protocol"
)

// Action kinds understood by the device firmware. INTERUPT keeps the
// firmware's historical spelling.
const (
	ACTION_GET_SYSINFO   = "GET_SYSINFO"
	ACTION_SET_ALARM     = "SET_ALARM"
	ACTION_SET_REMINDER  = "SET_REMINDER"
	ACTION_SEND_WHATSAPP = "SEND_WHATSAPP"
	ACTION_INTERRUPT     = "INTERUPT"
)

// SysInfoParams selects which system information to read.
type SysInfoParams struct {
	Info string `json:"info"`
}

// AlarmParams describes a device alarm in 24-hour time.
type AlarmParams struct {
	Hour    int    `json:"hour"`
	Minute  int    `json:"minute"`
	Message string `json:"message"`
}

// ReminderParams describes a calendar reminder window in epoch milliseconds.
type ReminderParams struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	StartTimeMillis int64  `json:"startTimeMillis"`
	EndTimeMillis   int64  `json:"endTimeMillis"`
}

// WhatsAppParams addresses a message by the contact's name on the device.
type WhatsAppParams struct {
	ContactName string `json:"contactName"`
	Message     string `json:"message"`
}

// InterruptParams carries an external interrupt to surface on the device.
type InterruptParams struct {
	Origin    string `json:"origin"`
	Details   string `json:"details"`
	UserName  string `json:"userName"`
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

// GetSystemInfo asks the device for system information ("all", "battery" or
// "device").
func (b *Broker) GetSystemInfo(ctx context.Context, userID, info string) (string, error) {
	return b.issueTyped(ctx, userID, ACTION_GET_SYSINFO, SysInfoParams{Info: info})
}

// SetAlarm sets an alarm on the device.
func (b *Broker) SetAlarm(ctx context.Context, userID string, params AlarmParams) (string, error) {
	if params.Hour < 0 || params.Hour > 23 {
		return "", fmt.Errorf("hour out of range: %d", params.Hour)
	}
	if params.Minute < 0 || params.Minute > 59 {
		return "", fmt.Errorf("minute out of range: %d", params.Minute)
	}
	return b.issueTyped(ctx, userID, ACTION_SET_ALARM, params)
}

// SetReminder creates a calendar reminder on the device.
func (b *Broker) SetReminder(ctx context.Context, userID string, params ReminderParams) (string, error) {
	if params.EndTimeMillis < params.StartTimeMillis {
		return "", fmt.Errorf("reminder ends before it starts")
	}
	return b.issueTyped(ctx, userID, ACTION_SET_REMINDER, params)
}

// SendWhatsApp sends a WhatsApp message through the device.
func (b *Broker) SendWhatsApp(ctx context.Context, userID string, params WhatsAppParams) (string, error) {
	if params.ContactName == "" {
		return "", fmt.Errorf("contact name is required")
	}
	return b.issueTyped(ctx, userID, ACTION_SEND_WHATSAPP, params)
}

// Interrupt surfaces an external interrupt on the device.
func (b *Broker) Interrupt(ctx context.Context, userID string, params InterruptParams) (string, error) {
	if params.Origin == "" || params.Details == "" {
		return "", fmt.Errorf("origin and details are required")
	}
	if params.UserID == "" {
		params.UserID = userID
	}
	if params.Timestamp == "" {
		params.Timestamp = time.Now().Format(time.RFC3339)
	}
	return b.issueTyped(ctx, userID, ACTION_INTERRUPT, params)
}

func (b *Broker) issueTyped(ctx context.Context, userID, kind string, params interface{}) (string, error) {
	payload, err := protocol.Serialize(params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s parameters: %w", kind, err)
	}
	return b.IssueRequest(ctx, userID, kind, string(payload))
}
