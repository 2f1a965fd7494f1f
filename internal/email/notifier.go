package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"tangled.org/arabica.social/arbiter/internal/moderation"
)

// AddressBook resolves a user id to an email address.
type AddressBook interface {
	EmailOf(userID string) (string, bool)
}

type sender interface {
	Enabled() bool
	Send(to, subject, body string) error
}

// Notifier emails moderation notices to the affected user.
// Users without an address on file are skipped.
type Notifier struct {
	sender sender
	book   AddressBook
}

var _ moderation.Notifier = (*Notifier)(nil)

// NewNotifier creates a notifier that sends through s to addresses from book.
func NewNotifier(s *Sender, book AddressBook) *Notifier {
	return &Notifier{sender: s, book: book}
}

// Notify sends the notice for n.
func (e *Notifier) Notify(_ context.Context, n moderation.Notification) error {
	if !e.sender.Enabled() {
		return nil
	}
	to, ok := e.book.EmailOf(n.RecipientID)
	if !ok {
		log.Debug().Str("recipient", n.RecipientID).Msg("email: no address on file, skipping")
		return nil
	}
	subject, body := Compose(n)
	if err := e.sender.Send(to, subject, body); err != nil {
		return fmt.Errorf("email %s: %w", n.Kind, err)
	}
	return nil
}

var actionDescriptions = map[moderation.ActionKind]string{
	moderation.ActionContentRemoved:     "Some of your content was removed",
	moderation.ActionContentApproved:    "Your content was reviewed and approved",
	moderation.ActionUserWarned:         "You have received a warning",
	moderation.ActionUserSuspended:      "Your account has been suspended",
	moderation.ActionUserBanned:         "Your account has been banned",
	moderation.ActionRestrictionApplied: "A restriction was placed on your account",
}

// Compose renders the subject and plain text body of a notice.
func Compose(n moderation.Notification) (subject, body string) {
	var b strings.Builder

	switch n.Kind {
	case moderation.NotificationActionTaken:
		subject = actionDescriptions[n.ActionKind]
		if subject == "" {
			subject = "A moderation action was taken on your account"
		}
		b.WriteString(subject + ".\n\n")
		fmt.Fprintf(&b, "Reason: %s\n", n.Reason)
		if n.DurationDays != nil {
			days := "days"
			if *n.DurationDays == 1 {
				days = "day"
			}
			fmt.Fprintf(&b, "Duration: %d %s\n", *n.DurationDays, days)
		}
		fmt.Fprintf(&b, "Reviewed by: %s\n", n.ActorName)

	case moderation.NotificationActionReversed:
		subject = "A moderation action has been reversed"
		b.WriteString("A previous moderation action on your account has been reversed.\n\n")
		fmt.Fprintf(&b, "Reason: %s\n", n.Reason)
		fmt.Fprintf(&b, "Reviewed by: %s\n", n.ActorName)

	case moderation.NotificationRestrictionExpired:
		subject = "A restriction on your account has ended"
		b.WriteString("A restriction on your account has expired and is no longer in effect.\n")

	default:
		subject = "Moderation notice"
		fmt.Fprintf(&b, "Reason: %s\n", n.Reason)
	}

	fmt.Fprintf(&b, "\nReference: %s\n", n.ActionID)
	return subject, b.String()
}
