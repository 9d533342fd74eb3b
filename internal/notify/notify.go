package notify

import (
	"github.com/yanun0323/logs"
)

// Kind classifies a notification.
type Kind uint16

const (
	KindUnknown Kind = iota
	KindOrderTransition
	KindRiskRejection
	KindConnectorFault
	KindReconciliation
)

// String returns the kind label used in notification output.
func (k Kind) String() string {
	switch k {
	case KindOrderTransition:
		return "order_transition"
	case KindRiskRejection:
		return "risk_rejection"
	case KindConnectorFault:
		return "connector_fault"
	case KindReconciliation:
		return "reconciliation"
	default:
		return "unknown"
	}
}

// Severity ranks how loud a notification should be.
type Severity uint16

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityCritical
)

// Event is a single operator-facing notification.
type Event struct {
	Kind     Kind
	Severity Severity
	Message  string
	Ts       int64
}

// Notifier delivers operator notifications. Implementations must not block
// the caller; delivery is best effort.
type Notifier interface {
	Notify(e Event)
}

// Log writes notifications through the structured logger.
type Log struct{}

// NewLog creates a log-backed notifier.
func NewLog() Log {
	return Log{}
}

// Notify writes the event at a level matching its severity.
func (Log) Notify(e Event) {
	switch e.Severity {
	case SeverityCritical:
		logs.Errorf("[notify] %s: %s", e.Kind, e.Message)
	case SeverityWarn:
		logs.Warnf("[notify] %s: %s", e.Kind, e.Message)
	default:
		logs.Infof("[notify] %s: %s", e.Kind, e.Message)
	}
}

// Fanout delivers every event to all wrapped notifiers.
type Fanout []Notifier

// Notify forwards the event to each notifier in order.
func (f Fanout) Notify(e Event) {
	for _, n := range f {
		if n != nil {
			n.Notify(e)
		}
	}
}

// Discard drops all notifications.
type Discard struct{}

// Notify is a no-op.
func (Discard) Notify(Event) {}
