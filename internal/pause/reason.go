package pause

import "strings"

// Reason is one independent cause for the application to be paused.
// Reasons are bit flags so a set of them fits in a Reason value.
type Reason uint8

const (
	ProcessBlacklisted Reason = 1 << iota
	OperationInProgress
	InactiveMode
	CardVisible
	CardLoading
)

// AllReasons lists every reason in declaration order.
var AllReasons = []Reason{
	ProcessBlacklisted,
	OperationInProgress,
	InactiveMode,
	CardVisible,
	CardLoading,
}

var reasonNames = map[Reason]string{
	ProcessBlacklisted:  "ProcessBlacklisted",
	OperationInProgress: "OperationInProgress",
	InactiveMode:        "InactiveMode",
	CardVisible:         "CardVisible",
	CardLoading:         "CardLoading",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	var parts []string
	for _, single := range AllReasons {
		if r&single != 0 {
			parts = append(parts, reasonNames[single])
		}
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, "|")
}

// Has reports whether r contains flag.
func (r Reason) Has(flag Reason) bool {
	return r&flag == flag
}

// ParseReason resolves a reason by name, ignoring case.
func ParseReason(name string) (Reason, bool) {
	for r, n := range reasonNames {
		if strings.EqualFold(n, name) {
			return r, true
		}
	}
	return 0, false
}

func (r Reason) valid() bool {
	_, ok := reasonNames[r]
	return ok
}
