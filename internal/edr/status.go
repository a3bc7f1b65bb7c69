package edr

// Status is the normalized lifecycle state of a RemoteAction.
type Status int

const (
	// StatusUnknown is a vendor status string with no mapping. Pollers treat
	// it as a protocol error.
	StatusUnknown Status = iota
	StatusQueued
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusCanceled
	StatusRejected
)

var statusNames = map[Status]string{
	StatusUnknown:   "Unknown",
	StatusQueued:    "Queued",
	StatusRunning:   "Running",
	StatusSucceeded: "Succeeded",
	StatusFailed:    "Failed",
	StatusCanceled:  "Canceled",
	StatusRejected:  "Rejected",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusRejected:
		return true
	}
	return false
}

// StatusMap translates a vendor vocabulary into normalized statuses.
type StatusMap map[string]Status

// Parse returns StatusUnknown for strings outside the vocabulary.
func (m StatusMap) Parse(raw string) Status {
	if s, ok := m[raw]; ok {
		return s
	}
	return StatusUnknown
}
