// Package online implements the carrier/online tracker (C3): it watches a
// DCD level, records the online duration, and (when configured) flips
// hardware flow control on the line's carrier transitions.
package online

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// FlowControl is the subset of the serial port interface the tracker needs
// to toggle hardware flow control; satisfied by *serial.Port.
type FlowControl interface {
	SetHardwareFlowControl(on bool) error
}

// Offline is the sentinel duration reported by Seconds() while not online,
// mirroring the original online < 0 convention.
const Offline = -1 * time.Second

// Tracker holds the online/offline state machine described in SPEC_FULL.md
// §4.5 and §3 (OnlineState).
type Tracker struct {
	dcdSupported  bool
	dcdDrivesFlow bool
	logConnects   bool
	flow          FlowControl
	log           *logrus.Entry

	start   time.Time
	online  bool
	elapsed time.Duration
}

// New builds a tracker. dcdSupported is true when the session can
// meaningfully observe carrier-detect (always true for socket endpoints,
// or true for a Device when the modem is configured to assert DCD).
func New(dcdSupported, dcdDrivesFlow, logConnects bool, flow FlowControl, log *logrus.Entry) *Tracker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{
		dcdSupported:  dcdSupported,
		dcdDrivesFlow: dcdDrivesFlow,
		logConnects:   logConnects,
		flow:          flow,
		log:           log,
	}
}

// Tick advances the tracker by one time sample, given the current DCD
// level (ignored when dcdSupported is false — callers treat that case as
// "always online", matching bogus_dcd in the original for non-DCD lines).
func (t *Tracker) Tick(now time.Time, dcdHigh bool) {
	online := !t.dcdSupported || dcdHigh
	switch {
	case online && !t.online:
		t.transitionOnline(now)
	case !online && t.online:
		t.transitionOffline(now)
	case online && t.online:
		t.elapsed = now.Sub(t.start)
	}
}

func (t *Tracker) transitionOnline(now time.Time) {
	t.online = true
	t.start = now
	t.elapsed = 0
	if t.dcdDrivesFlow && t.flow != nil {
		if err := t.flow.SetHardwareFlowControl(true); err != nil {
			t.log.WithError(err).Warn("online: failed to enable hardware flow control")
		}
	}
}

func (t *Tracker) transitionOffline(now time.Time) {
	duration := t.elapsed
	t.online = false
	t.elapsed = 0

	if t.dcdDrivesFlow && t.flow != nil {
		if err := t.flow.SetHardwareFlowControl(false); err != nil {
			t.log.WithError(err).Warn("online: failed to disable hardware flow control")
		}
	}
	if t.logConnects {
		h := int(duration.Hours())
		m := int(duration.Minutes()) % 60
		s := int(duration.Seconds()) % 60
		t.log.Infof("Gone offline (%d:%02d:%02d)", h, m, s)
	}
}

// Online reports whether the tracker currently considers the line online.
func (t *Tracker) Online() bool {
	return t.online
}

// Seconds returns the current online duration, or Offline if not online.
func (t *Tracker) Seconds() time.Duration {
	if !t.online {
		return Offline
	}
	return t.elapsed
}

// StatusText renders the "%t" status-line directive: "Offline" or
// "Online H:MM".
func (t *Tracker) StatusText(dcdWordingUppercase bool) string {
	if !t.online {
		if dcdWordingUppercase {
			return "OFFLINE"
		}
		return "Offline"
	}
	h := int(t.elapsed.Hours())
	m := int(t.elapsed.Minutes()) % 60
	label := "Online"
	if dcdWordingUppercase {
		label = "ONLINE"
	}
	return fmt.Sprintf("%s %d:%02d", label, h, m)
}
