// Package report turns recorded hours into operator-facing output: state
// transition events, CSV tables and GeoJSON layers.
package report

import (
	"context"

	"github.com/signalsfoundry/sewerflow-simulator/core"
	"github.com/signalsfoundry/sewerflow-simulator/internal/logging"
	"github.com/signalsfoundry/sewerflow-simulator/model"
)

// EventKind classifies a transition between two consecutive hours.
type EventKind string

const (
	EventRegimeChanged  EventKind = "regime_changed"
	EventNodeAlert      EventKind = "node_alert"
	EventNodeCleared    EventKind = "node_cleared"
	EventOverflowOpened EventKind = "overflow_opened"
	EventOverflowClosed EventKind = "overflow_closed"
)

// Event is one state transition observed at the end of an hour.
type Event struct {
	Hour    int
	Kind    EventKind
	Subject string // node, plant or overflow ID
	From    string
	To      string
	Value   float64
}

// Detector compares each hour with the previous one. The zero value treats
// the hour before the first as all-normal with the overflow closed.
type Detector struct {
	seen     bool
	regime   model.Regime
	alerts   map[string]bool
	overflow bool
}

// Observe returns the transitions between the previous hour and s.
func (d *Detector) Observe(s *core.HourSnapshot) []Event {
	if s == nil {
		return nil
	}
	if d.alerts == nil {
		d.alerts = make(map[string]bool)
	}
	var out []Event

	prev := model.RegimeNormal
	if d.seen {
		prev = d.regime
	}
	if s.Plant.Regime != prev {
		out = append(out, Event{
			Hour:    s.Hour,
			Kind:    EventRegimeChanged,
			Subject: s.Plant.ID,
			From:    prev.String(),
			To:      s.Plant.Regime.String(),
			Value:   s.Plant.TotalIn,
		})
	}

	for _, n := range s.Nodes {
		alert := n.Status == model.StatusAlert
		if alert == d.alerts[n.ID] {
			continue
		}
		kind := EventNodeCleared
		if alert {
			kind = EventNodeAlert
		}
		out = append(out, Event{
			Hour:    s.Hour,
			Kind:    kind,
			Subject: n.ID,
			From:    statusName(d.alerts[n.ID]),
			To:      n.Status.String(),
			Value:   n.CurrentFlow,
		})
		d.alerts[n.ID] = alert
	}

	if s.Overflow.Active != d.overflow {
		kind := EventOverflowClosed
		if s.Overflow.Active {
			kind = EventOverflowOpened
		}
		out = append(out, Event{
			Hour:    s.Hour,
			Kind:    kind,
			Subject: s.Overflow.ID,
			Value:   s.Overflow.DivertedFlow,
		})
		d.overflow = s.Overflow.Active
	}

	d.seen = true
	d.regime = s.Plant.Regime
	return out
}

func statusName(alert bool) string {
	if alert {
		return model.StatusAlert.String()
	}
	return model.StatusNormal.String()
}

// LogSink is a core.HourObserver that logs transitions. Regime changes and
// overflow switching go out at INFO, node alerts at WARN.
type LogSink struct {
	log      logging.Logger
	detector Detector
	events   []Event
	keep     bool
}

// NewLogSink returns a sink logging to log. When keep is set the sink also
// retains every event for Events.
func NewLogSink(log logging.Logger, keep bool) *LogSink {
	if log == nil {
		log = logging.Noop()
	}
	return &LogSink{log: log, keep: keep}
}

// ObserveHour implements core.HourObserver.
func (l *LogSink) ObserveHour(ctx context.Context, s *core.HourSnapshot) {
	for _, e := range l.detector.Observe(s) {
		fields := []logging.Field{
			logging.Int("hour", e.Hour),
			logging.String("event", string(e.Kind)),
			logging.String("subject", e.Subject),
			logging.Float("value", e.Value),
		}
		if e.From != "" || e.To != "" {
			fields = append(fields, logging.String("from", e.From), logging.String("to", e.To))
		}
		switch e.Kind {
		case EventNodeAlert:
			l.log.Warn(ctx, "node flow above alert threshold", fields...)
		case EventNodeCleared:
			l.log.Info(ctx, "node flow back to normal", fields...)
		case EventRegimeChanged:
			l.log.Info(ctx, "plant regime changed", fields...)
		default:
			l.log.Info(ctx, "overflow state changed", fields...)
		}
		if l.keep {
			l.events = append(l.events, e)
		}
	}
}

// Events returns the retained events.
func (l *LogSink) Events() []Event {
	return append([]Event(nil), l.events...)
}
