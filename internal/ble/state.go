package ble

import "fmt"

// State is the lifecycle position of an Operation. Values are part of the
// published record and must not be renumbered.
type State uint16

const (
	StateIdle         State = 0
	StateStart        State = 1
	StateReadDone     State = 7
	StateWriteDone    State = 8
	StateWaitNotify   State = 9
	StateWaitIndicate State = 10
	StateNotified     State = 11
)

// Failure states are all based on 0x100.
const (
	StateFailed                  State = 0x100
	StateFailedCantNotifyOrIndic State = 0x101
	StateFailedCantRead          State = 0x102
	StateFailedCantWrite         State = 0x103
	StateFailedNoService         State = 0x104
	StateFailedNoRWChar          State = 0x105
	StateFailedNoNotifyChar      State = 0x106
	StateFailedNotifyTimeout     State = 0x107
	StateFailedRead              State = 0x108
	StateFailedWrite             State = 0x109
	StateFailedConnect           State = 0x10A
	StateFailedNotify            State = 0x10B
	StateFailedIndicate          State = 0x10C
	StateFailedNoDevice          State = 0x10D
	StateFailedNoReadWrite       State = 0x110
	StateFailedCancel            State = 0x111
)

var stateNames = map[State]string{
	StateIdle:                    "IDLE",
	StateStart:                   "START",
	StateReadDone:                "READDONE",
	StateWriteDone:               "WRITEDONE",
	StateWaitNotify:              "WAITNOTIFY",
	StateWaitIndicate:            "WAITINDICATE",
	StateNotified:                "NOTIFIED",
	StateFailed:                  "FAILED",
	StateFailedCantNotifyOrIndic: "FAILED_CANTNOTIFYORINDICATE",
	StateFailedCantRead:          "FAILED_CANTREAD",
	StateFailedCantWrite:         "FAILED_CANTWRITE",
	StateFailedNoService:         "FAILED_NOSERVICE",
	StateFailedNoRWChar:          "FAILED_NO_RW_CHAR",
	StateFailedNoNotifyChar:      "FAILED_NONOTIFYCHAR",
	StateFailedNotifyTimeout:     "FAILED_NOTIFYTIMEOUT",
	StateFailedRead:              "FAILED_READ",
	StateFailedWrite:             "FAILED_WRITE",
	StateFailedConnect:           "FAILED_CONNECT",
	StateFailedNotify:            "FAILED_NOTIFY",
	StateFailedIndicate:          "FAILED_INDICATE",
	StateFailedNoDevice:          "FAILED_NODEVICE",
	StateFailedNoReadWrite:       "FAILED_NOREADWRITE",
	StateFailedCancel:            "FAILED_CANCEL",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	if s.IsFailure() {
		return fmt.Sprintf("FAILED(0x%X)", uint16(s))
	}
	return fmt.Sprintf("STATE(%d)", uint16(s))
}

// IsFailure reports whether s is one of the 0x100+ failure states.
func (s State) IsFailure() bool { return s >= StateFailed }

// IsTerminal reports whether an operation may finish in state s.
func (s State) IsTerminal() bool {
	switch s {
	case StateReadDone, StateWriteDone, StateNotified:
		return true
	}
	return s.IsFailure()
}

// canAdvance reports whether the state machine may move from s to next.
// Progress is strictly forward; failure states and NOTIFIED are final.
func (s State) canAdvance(next State) bool {
	if s.IsFailure() || s == StateNotified {
		return false
	}
	return next > s
}
