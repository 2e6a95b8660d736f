package probe

import "fmt"

// State is a step in the lifecycle of one scan-all attempt:
//
//	Idle -> TxnOpen -> Scanning -> Committing  -> Done
//	   \                        \-> RollingBack -> Failed
//	    \-> Failed (transaction could not be opened)
//
// Committing can also end in Failed when the commit itself fails.
type State int

const (
	StateIdle State = iota
	StateTxnOpen
	StateScanning
	StateCommitting
	StateRollingBack
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StateTxnOpen:     "txn_open",
	StateScanning:    "scanning",
	StateCommitting:  "committing",
	StateRollingBack: "rolling_back",
	StateDone:        "done",
	StateFailed:      "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// transitions lists every legal edge. Commit is only reachable from
// Scanning, so a failed or cancelled read can never commit.
var transitions = map[State][]State{
	StateIdle:        {StateTxnOpen, StateFailed},
	StateTxnOpen:     {StateScanning},
	StateScanning:    {StateCommitting, StateRollingBack},
	StateCommitting:  {StateDone, StateFailed},
	StateRollingBack: {StateFailed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
