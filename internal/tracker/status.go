package tracker

// DeriveStatus decides the record status for an issue whose tracker only
// knows open/closed. The previous record status is part of the input:
// without it a closed record would flap back and forth on every pass.
//
// The transitions with an existing record are:
//
//	prev closed, no closed date  -> default open state (issue reopened)
//	prev open,   closed date     -> first closed state (issue closed)
//	prev closed, closed date     -> keep prev
//	prev open,   no closed date  -> keep prev
//
// Without an existing record the closed date alone decides. Issues that
// do carry a discrete tracker state bypass this entirely.
func DeriveStatus(state, prevStatus string, hasClosedDate bool, f *Fields) string {
	if state != "" {
		return state
	}

	if prevStatus != "" {
		prevClosed := f.IsClosedState(prevStatus)
		switch {
		case prevClosed && !hasClosedDate:
			return f.DefaultOpenState
		case !prevClosed && hasClosedDate:
			return f.ClosedStates[0]
		default:
			return prevStatus
		}
	}

	if hasClosedDate {
		return f.ClosedStates[0]
	}
	return f.DefaultOpenState
}
