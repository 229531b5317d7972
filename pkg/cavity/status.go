package cavity

import "fmt"

// Status is the activation state of a cavity.
type Status string

const (
	Nominal              Status = "nominal"
	RephasedInProgress   Status = "rephased (in progress)"
	RephasedOK           Status = "rephased (ok)"
	Failed               Status = "failed"
	CompensateInProgress Status = "compensate (in progress)"
	CompensateOK         Status = "compensate (ok)"
	CompensateNotOK      Status = "compensate (not ok)"
)

var allStatus = []Status{
	Nominal, RephasedInProgress, RephasedOK, Failed,
	CompensateInProgress, CompensateOK, CompensateNotOK,
}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatus {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("cavity: unknown status %q", s)
}

// IsRetunable reports whether a cavity in this status can still be picked
// as a failed or compensating cavity by a new fault.
func (s Status) IsRetunable() bool {
	switch s {
	case Nominal, RephasedInProgress, RephasedOK:
		return true
	}
	return false
}

// IsCompensating is true for every compensate (...) status.
func (s Status) IsCompensating() bool {
	return s == CompensateInProgress || s == CompensateOK || s == CompensateNotOK
}
