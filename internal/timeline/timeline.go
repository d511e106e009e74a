// Package timeline maintains the per-email workflow timelines shown in the
// dashboard's workflow modals.
package timeline

// Step statuses use a fixed vocabulary so the dashboard can style them
// without parsing details text.
const (
	StepEmailArrived  = "New email arrived"
	StepSecurityAlert = "SECURITY ALERT"
	StepAnalyzing     = "Analyzing intent"
	StepTicketCreated = "Created ADO ticket"
	StepTicketUpdated = "Updated work item"
	StepReplySent     = "Sent reply to user"
	StepAdminRequest  = "Admin request"
	StepAdminResponse = "Response"
	StepError         = "Error"
)

// Step is one human-readable line in an email's workflow narrative.
// Immutable once appended; slice order is causal event order.
type Step struct {
	Status  string `json:"status"`
	Details string `json:"details"`
}

// Entry is the reconstructed step-by-step narrative of one email's
// automated handling. At most one entry exists per email id.
type Entry struct {
	EmailID       string `json:"email_id"`
	Steps         []Step `json:"steps"`
	Visible       bool   `json:"visible"`
	FlaggedUnsafe bool   `json:"flagged_unsafe"`

	// seen holds per-event idempotency keys so redelivered frames don't
	// duplicate steps. Keys live and die with the entry, which is what
	// makes dismissal terminal.
	seen map[string]struct{}
}

// Aggregate maps email ids to timeline entries, preserving creation order.
// It is not goroutine safe; the engine serializes access.
type Aggregate struct {
	entries map[string]*Entry
	order   []string
}

func NewAggregate() *Aggregate {
	return &Aggregate{entries: make(map[string]*Entry)}
}

// Start creates the entry for an email and appends its first step. If the
// entry already exists nothing changes: arrival events are deduplicated at
// entry creation.
func (a *Aggregate) Start(emailID string, first Step) bool {
	if _, ok := a.entries[emailID]; ok {
		return false
	}
	a.entries[emailID] = &Entry{
		EmailID: emailID,
		Steps:   []Step{first},
		Visible: true,
		seen:    make(map[string]struct{}),
	}
	a.order = append(a.order, emailID)
	return true
}

// Insert adds a synthetic entry with pre-built steps, used for
// admin-initiated requests. An existing entry with the same id is replaced.
func (a *Aggregate) Insert(id string, steps []Step) {
	if _, ok := a.entries[id]; !ok {
		a.order = append(a.order, id)
	}
	a.entries[id] = &Entry{
		EmailID: id,
		Steps:   append([]Step(nil), steps...),
		Visible: true,
		seen:    make(map[string]struct{}),
	}
}

// Has reports whether an entry exists for the email.
func (a *Aggregate) Has(emailID string) bool {
	_, ok := a.entries[emailID]
	return ok
}

// Append adds a step to an existing entry. Returns false when no entry
// exists, which callers treat as a silent drop.
func (a *Aggregate) Append(emailID string, s Step) bool {
	e, ok := a.entries[emailID]
	if !ok {
		return false
	}
	e.Steps = append(e.Steps, s)
	return true
}

// AppendOnce adds a step only if the idempotency key has not been recorded
// on this entry. Returns false when the entry is missing or the key was
// already seen.
func (a *Aggregate) AppendOnce(emailID, key string, s Step) bool {
	e, ok := a.entries[emailID]
	if !ok {
		return false
	}
	if _, dup := e.seen[key]; dup {
		return false
	}
	e.seen[key] = struct{}{}
	e.Steps = append(e.Steps, s)
	return true
}

// Flag marks an entry's email as unsafe.
func (a *Aggregate) Flag(emailID string) bool {
	e, ok := a.entries[emailID]
	if !ok {
		return false
	}
	e.FlaggedUnsafe = true
	return true
}

// Dismiss removes the entry entirely. There is no undismiss; a later
// arrival event for the same email starts a fresh, empty-history entry.
func (a *Aggregate) Dismiss(emailID string) bool {
	if _, ok := a.entries[emailID]; !ok {
		return false
	}
	delete(a.entries, emailID)
	for i, id := range a.order {
		if id == emailID {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of one entry.
func (a *Aggregate) Get(emailID string) (Entry, bool) {
	e, ok := a.entries[emailID]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Snapshot returns copies of all entries in creation order.
func (a *Aggregate) Snapshot() []Entry {
	out := make([]Entry, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.entries[id].clone())
	}
	return out
}

// Len returns the number of live entries.
func (a *Aggregate) Len() int { return len(a.entries) }

func (e *Entry) clone() Entry {
	return Entry{
		EmailID:       e.EmailID,
		Steps:         append([]Step(nil), e.Steps...),
		Visible:       e.Visible,
		FlaggedUnsafe: e.FlaggedUnsafe,
	}
}
