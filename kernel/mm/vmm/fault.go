package vmm

// FaultCode describes the error code the MMU reports with a page fault.
type FaultCode uint32

const (
	// FaultPresent is set when the fault was a protection violation on a
	// present page and clear when the page was not present.
	FaultPresent FaultCode = 1 << iota

	// FaultWrite is set when the faulting access was a write.
	FaultWrite

	// FaultUser is set when the fault happened in user-mode.
	FaultUser
)

// Reason returns a human readable description of the fault.
func (c FaultCode) Reason() string {
	var reason string
	switch c &^ FaultUser {
	case 0:
		reason = "read from non-present page"
	case FaultPresent:
		reason = "page protection violation (read)"
	case FaultWrite:
		reason = "write to non-present page"
	case FaultPresent | FaultWrite:
		reason = "page protection violation (write)"
	default:
		reason = "unknown"
	}

	if c&FaultUser != 0 {
		reason += " in user-mode"
	}
	return reason
}
