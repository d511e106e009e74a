package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/triagedeck-io/triagedeck/internal/timeline"
)

// ticketIDPattern extracts the first run of digits in an admin request,
// which identifies the target ticket.
var ticketIDPattern = regexp.MustCompile(`[0-9]+`)

// SubmitAdminRequest sends a free-text admin request to the backend and
// records the exchange as a synthetic timeline entry. When the text carries
// no ticket id, the entry holds a single Error step and no call is made.
// Returns the id of the created entry.
func (e *Engine) SubmitAdminRequest(ctx context.Context, text string) string {
	id := fmt.Sprintf("admin-request-%d", e.now().UnixNano())

	digits := ticketIDPattern.FindString(text)
	if digits == "" {
		e.insertAdminEntry(id, []timeline.Step{{
			Status:  timeline.StepError,
			Details: "No ticket ID found in request",
		}})
		return id
	}
	if e.backend == nil {
		e.insertAdminEntry(id, []timeline.Step{{
			Status:  timeline.StepError,
			Details: "No backend configured",
		}})
		return id
	}

	ticketID, err := strconv.Atoi(digits)
	if err != nil {
		// A digit run too long for int; treat like a missing id.
		e.insertAdminEntry(id, []timeline.Step{{
			Status:  timeline.StepError,
			Details: fmt.Sprintf("Invalid ticket ID %q", digits),
		}})
		return id
	}

	// The call runs outside the lock; only the result insertion mutates
	// state.
	response, err := e.backend.SendRequest(ctx, ticketID, text)
	if err != nil {
		e.logger.Warn("admin request failed", "ticket_id", ticketID, "error", err)
		e.insertAdminEntry(id, []timeline.Step{
			{Status: timeline.StepAdminRequest, Details: text},
			{Status: timeline.StepError, Details: err.Error()},
		})
		return id
	}

	e.insertAdminEntry(id, []timeline.Step{
		{Status: timeline.StepAdminRequest, Details: text},
		{Status: timeline.StepAdminResponse, Details: response},
	})
	return id
}

func (e *Engine) insertAdminEntry(id string, steps []timeline.Step) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timelines.Insert(id, steps)
}
