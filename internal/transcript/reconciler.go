// Package transcript reconciles interim and final speech-recognition segments
// into an ordered stream of render instructions.
package transcript

// Role is the speaker of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// RoleFor maps the local-participant test to a role.
func RoleFor(isUser bool) Role {
	if isUser {
		return RoleUser
	}
	return RoleAgent
}

// Kind says what the view must do with an Instruction.
type Kind int

const (
	// KindCompleted renders a new, already-final message.
	KindCompleted Kind = iota
	// KindPending renders a new interim message, or replaces the text of the
	// interim message with the same ID.
	KindPending
	// KindFinalize applies the final text to a pending message and marks it
	// complete.
	KindFinalize
)

func (k Kind) String() string {
	switch k {
	case KindCompleted:
		return "completed"
	case KindPending:
		return "pending"
	case KindFinalize:
		return "finalize"
	}
	return "unknown"
}

// Instruction is a side-effect-free description of one transcript UI update.
type Instruction struct {
	Kind Kind
	ID   string
	Role Role
	Text string
}

// Segment is the reconciler's view of one in-flight utterance.
type Segment struct {
	ID    string
	Text  string
	Role  Role
	Final bool
}

// Reconciler tracks utterances that have produced interim text but no final
// text yet. Entries never expire; Reset clears them on session teardown.
// Not safe for concurrent use.
type Reconciler struct {
	pending map[string]*Segment
}

// NewReconciler returns an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{pending: make(map[string]*Segment)}
}

// Observe applies one segment update and returns the instruction for it.
func (r *Reconciler) Observe(id, text string, isFinal, isUser bool) Instruction {
	if seg, ok := r.pending[id]; ok {
		seg.Text = text
		if !isFinal {
			return Instruction{Kind: KindPending, ID: id, Role: seg.Role, Text: text}
		}
		seg.Final = true
		delete(r.pending, id)
		return Instruction{Kind: KindFinalize, ID: id, Role: seg.Role, Text: text}
	}

	role := RoleFor(isUser)
	if isFinal {
		return Instruction{Kind: KindCompleted, ID: id, Role: role, Text: text}
	}
	r.pending[id] = &Segment{ID: id, Text: text, Role: role}
	return Instruction{Kind: KindPending, ID: id, Role: role, Text: text}
}

// Pending returns a copy of the pending segment for id.
func (r *Reconciler) Pending(id string) (Segment, bool) {
	seg, ok := r.pending[id]
	if !ok {
		return Segment{}, false
	}
	return *seg, true
}

// Len reports how many utterances are awaiting their final text.
func (r *Reconciler) Len() int {
	return len(r.pending)
}

// Reset drops every pending entry.
func (r *Reconciler) Reset() {
	clear(r.pending)
}
