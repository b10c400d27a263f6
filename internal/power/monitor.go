package power

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pos-resilience-backend/config"
	"pos-resilience-backend/internal/model"
)

// Transition describes a status change observed by the monitor.
type Transition struct {
	From     Status
	To       Status
	Reading  Reading
	SafeMode bool
}

// Subscriber receives status transitions. Callbacks run synchronously within
// RefreshStatus, after the safe mode flag has already been updated.
type Subscriber func(Transition)

// Alerter delivers one-time user-facing alerts for power transitions.
type Alerter interface {
	Alert(eventType, message string)
}

// Monitor polls the power source, classifies readings, maintains the safe mode
// flag, and logs transitions as power events. It is the single writer of the
// power state; UI gates read it through Current, SafeMode and
// CanStartTransaction.
type Monitor struct {
	cfg     *config.PowerConfig
	source  Source
	events  EventStore
	alerter Alerter

	mu         sync.RWMutex
	current    Reading
	safeMode   bool
	monitoring bool
	cancel     context.CancelFunc
	subs       []Subscriber
}

// NewMonitor creates a monitor. The alerter may be nil.
func NewMonitor(cfg *config.PowerConfig, source Source, events EventStore, alerter Alerter) *Monitor {
	return &Monitor{
		cfg:     cfg,
		source:  source,
		events:  events,
		alerter: alerter,
		current: Reading{Status: StatusNotDetected},
	}
}

// Subscribe registers a transition callback.
func (m *Monitor) Subscribe(fn Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Current returns the latest reading and whether safe mode is active.
func (m *Monitor) Current() (Reading, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.safeMode
}

// SafeMode reports whether the terminal is in safe mode.
func (m *Monitor) SafeMode() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.safeMode
}

// CanStartTransaction is the action gate for new transactions. It reads under
// the same lock transitions write under, so a gate check can never observe a
// stale safe mode flag concurrently with a transition.
func (m *Monitor) CanStartTransaction() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.safeMode
}

// Monitoring reports whether the polling loop is running.
func (m *Monitor) Monitoring() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.monitoring
}

// RefreshStatus fetches and classifies the current reading, applying any
// transition. Source unavailability resolves to StatusNotDetected rather than
// an error. Repeated refreshes with an unchanged status do not re-fire
// notifications or events.
func (m *Monitor) RefreshStatus(ctx context.Context) Reading {
	reading, err := m.source.Status(ctx)
	if err != nil {
		if !errors.Is(err, ErrSourceUnavailable) {
			log.Printf("power: error reading source: %v", err)
		}
		reading = Reading{Status: StatusNotDetected, LastUpdate: time.Now().UTC()}
	}

	reading = m.classify(reading)
	m.apply(ctx, reading)
	return reading
}

// classify applies the configured battery thresholds on top of the feed's own
// status. A NotDetected reading carries no meaningful battery level.
func (m *Monitor) classify(r Reading) Reading {
	if r.Status == StatusNotDetected || (r.Status == "" && r.BatteryLevel == 0) {
		r.Status = StatusNotDetected
		r.BatteryLevel = 0
		return r
	}
	// Thresholds only apply when the feed reported a battery level at all.
	if r.BatteryLevel > 0 {
		if r.BatteryLevel <= m.cfg.CriticalBatteryThreshold {
			r.Status = StatusCritical
		} else if r.BatteryLevel <= m.cfg.LowBatteryThreshold {
			r.Status = StatusLowBattery
		}
	}
	if r.Status == "" {
		r.Status = StatusOnline
	}
	return r
}

// apply installs the new reading and, when the status changed, flips safe mode
// under the lock, logs the event, fires one-time alerts and notifies
// subscribers.
func (m *Monitor) apply(ctx context.Context, r Reading) {
	m.mu.Lock()
	from := m.current.Status
	m.current = r
	if from == r.Status {
		m.mu.Unlock()
		return
	}
	m.safeMode = r.Status == StatusLowBattery || r.Status == StatusCritical
	tr := Transition{From: from, To: r.Status, Reading: r, SafeMode: m.safeMode}
	subs := make([]Subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	m.logTransition(ctx, tr)
	m.alertTransition(tr)

	for _, fn := range subs {
		fn(tr)
	}
}

func (m *Monitor) logTransition(ctx context.Context, tr Transition) {
	if m.events == nil {
		return
	}
	events := []model.PowerEvent{{
		TerminalID:       m.cfg.TerminalID,
		EventType:        "status_change_" + string(tr.To),
		Status:           string(tr.To),
		BatteryLevel:     tr.Reading.BatteryLevel,
		EstimatedRuntime: tr.Reading.EstimatedRuntime,
		Voltage:          tr.Reading.Voltage,
		UPSModel:         tr.Reading.Model,
	}}

	wasSafe := tr.From == StatusLowBattery || tr.From == StatusCritical
	if tr.SafeMode && !wasSafe {
		events = append(events, model.PowerEvent{
			TerminalID:   m.cfg.TerminalID,
			EventType:    "safe_mode_activated",
			Status:       string(tr.To),
			BatteryLevel: tr.Reading.BatteryLevel,
			Notes:        "safe mode activated to prevent data loss",
		})
	} else if !tr.SafeMode && wasSafe {
		events = append(events, model.PowerEvent{
			TerminalID:   m.cfg.TerminalID,
			EventType:    "safe_mode_deactivated",
			Status:       string(tr.To),
			BatteryLevel: tr.Reading.BatteryLevel,
			Notes:        "safe mode deactivated - power restored",
		})
	}

	for _, ev := range events {
		if err := m.events.Append(ctx, ev); err != nil {
			log.Printf("power: failed to log event %s: %v", ev.EventType, err)
		}
	}
}

func (m *Monitor) alertTransition(tr Transition) {
	if m.alerter == nil {
		return
	}
	// Alerts are one-time because apply only reaches here on a status change.
	if tr.To == StatusCritical {
		m.alerter.Alert("battery_critical",
			fmt.Sprintf("UPS battery critical (%d%%), terminal %s entering safe mode", tr.Reading.BatteryLevel, m.cfg.TerminalID))
		return
	}
	if tr.To == StatusOnline && (tr.From == StatusLowBattery || tr.From == StatusCritical) {
		m.alerter.Alert("power_restored",
			fmt.Sprintf("Power restored on terminal %s", m.cfg.TerminalID))
	}
}

// StartMonitoring begins periodic polling. Calling it while already monitoring
// is a no-op.
func (m *Monitor) StartMonitoring() {
	m.mu.Lock()
	if m.monitoring {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.monitoring = true
	m.cancel = cancel
	m.mu.Unlock()

	log.Printf("power: monitoring started for terminal %s", m.cfg.TerminalID)
	go m.run(ctx)
}

// StopMonitoring cancels the polling loop. Safe to call multiple times.
func (m *Monitor) StopMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.monitoring {
		return
	}
	m.cancel()
	m.cancel = nil
	m.monitoring = false
	log.Println("power: monitoring stopped")
}

func (m *Monitor) run(ctx context.Context) {
	m.RefreshStatus(ctx)

	timer := time.NewTimer(m.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			m.RefreshStatus(ctx)
			timer.Reset(m.cfg.Interval)
		}
	}
}
