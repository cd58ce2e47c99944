package policy

import "github.com/klyr/wafcore/internal/config"

type Action string

const (
	ActionAllow      Action = "allow"
	ActionBlock      Action = "block"
	ActionShadow     Action = "shadow"
	ActionFailOpen   Action = "fail_open"
	ActionFailClosed Action = "fail_closed"
)

// DecideMatch returns the action for a request with a signature match and
// whether the request must be stopped.
func DecideMatch(mode string) (Action, bool) {
	if mode == config.ModeShadow {
		return ActionShadow, false
	}
	return ActionBlock, true
}

// DecideUnavailable resolves a request the engine could not inspect,
// either because no database is loaded or because it is shutting down.
func DecideUnavailable(failMode string) (Action, bool) {
	if failMode == config.FailClosed {
		return ActionFailClosed, true
	}
	return ActionFailOpen, false
}
