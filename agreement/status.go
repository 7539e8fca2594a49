package agreement

// Status is the agreement lifecycle state. The two-phase completion write is
// modeled as pending -> submitting -> signed so the completion trigger fires
// on entry into the terminal state, after the artifact reference exists.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSubmitting Status = "submitting"
	StatusSigned     Status = "signed"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusSubmitting},
	StatusSubmitting: {StatusSubmitting, StatusSigned},
	StatusSigned:     {},
}

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// ValidTransition reports whether moving from one state to the next is
// allowed. Re-entering submitting is permitted so a vendor can retry after a
// transient artifact failure; signed is terminal.
func ValidTransition(from, to Status) bool {
	if from == to && from != StatusSigned {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
