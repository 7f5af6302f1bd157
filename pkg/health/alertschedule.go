package health

import (
	"time"

	"github.com/cuemby/fleetops/pkg/types"
)

// minConsecutiveFailures is the number of consecutive unhealthy probes
// required before a node enters the progressive-alert schedule at
// all (spec §4.5's "consecutive_failures >= 3", the teacher's original
// max_consecutive_failures default of 3).
const minConsecutiveFailures = 3

// requiredGapHours encodes the progressive-alert escalation as a pure
// function of how many alarms have already fired for the current
// unhealthy episode (spec §9: "Encode the escalation as a pure
// function alarm_count -> required_gap_hours so it is testable in
// isolation"). alarmCount is the count *before* the alarm about to be
// sent, i.e. 0 for the first alarm.
func requiredGapHours(alarmCount int) int {
	switch {
	case alarmCount == 0:
		return 0 // immediate
	case alarmCount == 1:
		return 6
	case alarmCount == 2:
		return 12
	case alarmCount == 3:
		return 24
	default:
		return 48
	}
}

// ShouldSendAlarm reports whether enough time has elapsed since the
// last alarm to send the next one, given state.AlarmCount and
// state.LastAlarmAt (zero AlarmCount / zero LastAlarmAt means no
// alarm has ever been sent for this episode).
func ShouldSendAlarm(state types.ProgressiveAlertState, now time.Time) bool {
	if state.AlarmCount == 0 {
		return true
	}
	gap := time.Duration(requiredGapHours(state.AlarmCount)) * time.Hour
	return now.Sub(state.LastAlarmAt) >= gap
}
