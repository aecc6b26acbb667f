package model

import "time"

// ApprovalStatus is the state of an approval request.
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s ApprovalStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ApprovalRequest links an employee, a manager and an event snapshot.
type ApprovalRequest struct {
	ID         string `json:"id"`
	EmployeeID UserID `json:"employee_id"`
	ManagerID  UserID `json:"manager_id"`
	// Seq numbers requests per employee, starting at 0; it addresses the
	// request in approve/reject callbacks.
	Seq       int            `json:"seq"`
	Event     Event          `json:"event"`
	Status    ApprovalStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
	DecidedBy *UserID        `json:"decided_by,omitempty"`
}

// Button is one inline keyboard button: either a callback payload or a URL.
type Button struct {
	Text    string `json:"text"`
	Payload string `json:"payload,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Keyboard is a transport-neutral inline keyboard, row by row.
type Keyboard [][]Button

// Notification is an outbound chat message.
type Notification struct {
	Text     string   `json:"text"`
	Keyboard Keyboard `json:"keyboard_spec,omitempty"`
}

// PendingNotification is a manager notification deferred to the next
// work-hour window.
type PendingNotification struct {
	ID string `json:"id,omitempty"`
	Notification
	CreatedAt time.Time `json:"created_at"`
}
