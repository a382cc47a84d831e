package utskick

import (
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/utskick/utskick/tools"
)

// Status of a queued message. A message starts out pending and ends up either
// sent or failed, both of which are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// MaxAttempts is the number of failed delivery attempts a message gets before
// it is parked as failed.
const MaxAttempts = 3

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
)

// QueuedMessage is the unit of work in the queue store. Everything but status,
// attempts and last_attempt is immutable once enqueued.
type QueuedMessage struct {
	Id          string     `json:"id" db:"message_id"`
	CampaignId  string     `json:"campaign_id,omitempty" db:"campaign_id"`
	To          string     `json:"to" db:"to_email"`
	Subject     string     `json:"subject" db:"subject"`
	Body        string     `json:"body" db:"body"`
	Status      Status     `json:"status" db:"status"`
	Attempts    int        `json:"attempts" db:"attempts"`
	LastAttempt *time.Time `json:"last_attempt,omitempty" db:"last_attempt"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// NewMessage creates a pending message with a fresh id and a normalized
// recipient address.
func NewMessage(to, subject, body string) QueuedMessage {
	return QueuedMessage{
		Id:        uuid.New().String(),
		To:        tools.NormalizeEmail(to),
		Subject:   subject,
		Body:      body,
		Status:    StatusPending,
		Attempts:  0,
		CreatedAt: time.Now().In(time.UTC),
	}
}

func (m QueuedMessage) Validate() error {
	if _, err := mail.ParseAddress(m.To); err != nil {
		return fmt.Errorf("recipient %q is not a valid email address: %w", m.To, ErrInvalidArgument)
	}
	if len(m.Subject) == 0 {
		return fmt.Errorf("a subject must be provided: %w", ErrInvalidArgument)
	}
	if len(m.Body) == 0 {
		return fmt.Errorf("content of the email must be provided: %w", ErrInvalidArgument)
	}
	return nil
}

// Outcome of one delivery attempt.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
)

// Transition is the single place where delivery state advances. Terminal
// states are fixed points, a successful attempt does not count towards the
// attempt limit.
func Transition(status Status, attempts int, outcome Outcome) (Status, int) {
	if status != StatusPending {
		return status, attempts
	}
	if outcome == OutcomeDelivered {
		return StatusSent, attempts
	}
	attempts++
	if attempts >= MaxAttempts {
		return StatusFailed, attempts
	}
	return StatusPending, attempts
}

// TargetGroup selects which source collections a bulk campaign fans out to.
type TargetGroup string

const (
	GroupAll              TargetGroup = "all"
	GroupUsers            TargetGroup = "users"
	GroupEventRegistrants TargetGroup = "event_registrants"
)

func (g TargetGroup) Valid() bool {
	switch g {
	case GroupAll, GroupUsers, GroupEventRegistrants:
		return true
	}
	return false
}

// Campaign is an administrator bulk announcement. One body is rendered from it
// and reused for every resolved recipient.
type Campaign struct {
	Subject     string      `json:"subject"`
	Message     string      `json:"message"`
	ImageUrl    string      `json:"imageUrl,omitempty"`
	Link        string      `json:"link,omitempty"`
	LinkText    string      `json:"linkText,omitempty"`
	TargetGroup TargetGroup `json:"targetGroup"`
}

// StatusCount is one row of the aggregate delivery stats.
type StatusCount struct {
	Status Status `json:"status" db:"status"`
	Count  int    `json:"count" db:"count"`
}
