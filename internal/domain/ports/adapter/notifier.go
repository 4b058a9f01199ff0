package adapter

import "context"

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	Severity Severity
	Title    string
	Detail   string
	Fields   map[string]string
}

// AlertNotifier pages operators.
type AlertNotifier interface {
	Notify(ctx context.Context, a Alert) error
}
