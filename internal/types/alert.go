package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlertState tracks the handling of an alert. Resolved is terminal.
type AlertState string

const (
	AlertActive       AlertState = "active"
	AlertAcknowledged AlertState = "acknowledged"
	AlertResolved     AlertState = "resolved"
)

// Alert is a durable health signal raised by the monitor.
type Alert struct {
	ID             string     `json:"id"`
	Check          string     `json:"check"`
	Severity       Severity   `json:"severity"`
	State          AlertState `json:"state"`
	Message        string     `json:"message"`
	Value          float64    `json:"value,omitempty"`
	Threshold      float64    `json:"threshold,omitempty"`
	RaisedAt       time.Time  `json:"raised_at"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Encode serializes the alert detail record.
func (a *Alert) Encode() (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode alert %s: %w", a.ID, err)
	}
	return string(b), nil
}

// DecodeAlert parses a serialized alert record.
func DecodeAlert(raw string) (*Alert, error) {
	var a Alert
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("decode alert: %w", err)
	}
	return &a, nil
}
