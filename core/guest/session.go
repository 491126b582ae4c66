package guest

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

const (
	// DefaultPromptAfter is how long a guest works before being asked to create an account.
	DefaultPromptAfter = 10 * time.Minute

	promptMinTextLen  = 50
	promptMinElements = 3
)

// CanvasData is the whiteboard scene as saved by the editor. Only the element count is inspected.
type CanvasData struct {
	Elements []json.RawMessage `json:"elements"`
	AppState json.RawMessage   `json:"appState,omitempty"`
	Files    json.RawMessage   `json:"files,omitempty"`
}

// WorkData is the last saved editor payload of a guest.
type WorkData struct {
	CanvasData  *CanvasData `json:"canvasData,omitempty"`
	TextContent string      `json:"textContent,omitempty"`
	Notes       string      `json:"notes,omitempty"`
}

// ElementCount returns the number of drawn elements.
func (w WorkData) ElementCount() int {
	if w.CanvasData == nil {
		return 0
	}
	return len(w.CanvasData.Elements)
}

// IsEmpty reports whether there is nothing worth keeping: no text, no notes, no drawn element.
func (w WorkData) IsEmpty() bool {
	return w.ElementCount() == 0 && w.TextContent == "" && w.Notes == ""
}

// WorkUpdate is one save from the editor. Nil fields keep the saved value; set fields replace it, even when empty.
type WorkUpdate struct {
	CanvasData  *CanvasData `json:"canvasData,omitempty"`
	TextContent *string     `json:"textContent,omitempty"`
	Notes       *string     `json:"notes,omitempty"`
}

// IsZero reports whether upd carries no field at all.
func (upd WorkUpdate) IsZero() bool {
	return upd.CanvasData == nil && upd.TextContent == nil && upd.Notes == nil
}

// apply returns w with the fields carried by upd.
func (w WorkData) apply(upd WorkUpdate) WorkData {
	if upd.CanvasData != nil {
		w.CanvasData = upd.CanvasData
	}
	if upd.TextContent != nil {
		w.TextContent = *upd.TextContent
	}
	if upd.Notes != nil {
		w.Notes = *upd.Notes
	}
	return w
}

// Session is an unauthenticated, client-local attempt at a single assignment.
// AssignmentCode never changes once set; only WorkData & LastActivity are updated.
type Session struct {
	ID             string    `json:"id"`
	AssignmentID   string    `json:"assignmentId"`
	AssignmentCode string    `json:"assignmentCode"`
	StartedAt      time.Time `json:"startedAt"`
	LastActivity   time.Time `json:"lastActivity"`
	WorkData       *WorkData `json:"workData,omitempty"`
	TempName       string    `json:"tempName,omitempty"`
}

// ShouldPromptAccountCreation reports whether the guest has invested enough to be offered an account:
// more than promptAfter since StartedAt, more than 50 characters of text or more than 3 drawn elements.
func (s Session) ShouldPromptAccountCreation(now time.Time, promptAfter time.Duration) bool {
	if now.Sub(s.StartedAt) > promptAfter {
		return true
	}
	if s.WorkData == nil {
		return false
	}
	return utf8.RuneCountInString(s.WorkData.TextContent) > promptMinTextLen ||
		s.WorkData.ElementCount() > promptMinElements
}

// Data returns the part of the session sent to the account conversion endpoint.
func (s Session) Data() SessionData {
	return SessionData{
		AssignmentID:   s.AssignmentID,
		AssignmentCode: s.AssignmentCode,
		WorkData:       s.WorkData,
		TempName:       s.TempName,
		StartedAt:      s.StartedAt,
	}
}
