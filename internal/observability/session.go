package observability

import (
	"errors"
	"time"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/session"
)

// SessionMetrics is a session.Observer that feeds the sender metrics.
type SessionMetrics struct {
	Link string

	started time.Time
}

func NewSessionMetrics(link string) *SessionMetrics {
	return &SessionMetrics{Link: link}
}

func (m *SessionMetrics) OnState(tr session.Transition) {
	switch tr.State {
	case session.StateBuilding:
		m.started = tr.At
	case session.StateRetrying:
		RecordChunkRetry(m.Link)
	case session.StateCompleted, session.StateFailed:
		RecordSession(m.Link, tr.State.String(), tr.At.Sub(m.started))
	}
}

func (m *SessionMetrics) OnWrite(o session.WriteOutcome) {
	RecordChunkWrite(m.Link, WriteResultLabel(o.Err))
}

func (m *SessionMetrics) OnProgress(session.Progress) {}

// WriteResultLabel maps a write error to a bounded metric label.
func WriteResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, session.ErrAckTimeout):
		return "timeout"
	case errors.Is(err, session.ErrWriteSubmissionFailed):
		return "submit_failed"
	case errors.Is(err, session.ErrWriteRejected):
		return "rejected"
	case errors.Is(err, session.ErrLinkDisconnected):
		return "disconnected"
	case errors.Is(err, session.ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}

// Observers fans one session out to several observers.
type Observers []session.Observer

func (obs Observers) OnState(tr session.Transition) {
	for _, o := range obs {
		o.OnState(tr)
	}
}

func (obs Observers) OnWrite(w session.WriteOutcome) {
	for _, o := range obs {
		o.OnWrite(w)
	}
}

func (obs Observers) OnProgress(p session.Progress) {
	for _, o := range obs {
		o.OnProgress(p)
	}
}
