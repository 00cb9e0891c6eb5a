package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/P-KIALA/E-Results-20-sub000/internal/directory"
	"github.com/P-KIALA/E-Results-20-sub000/pkg/logging"
)

// FailureNotice describes a send that the provider reported as failed.
type FailureNotice struct {
	SendLogID   string
	SenderID    string
	DoctorName  string
	DoctorPhone string
	PatientName string
	Error       string
}

// FailureNotifier e-mails the sender of a result that could not be delivered.
// A nil notifier is a no-op.
type FailureNotifier struct {
	sender EmailSender
	users  directory.Lookup
	logger *logging.Logger
}

func NewFailureNotifier(sender EmailSender, users directory.Lookup, logger *logging.Logger) *FailureNotifier {
	if sender == nil || users == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FailureNotifier{sender: sender, users: users, logger: logger}
}

// NotifyFailed looks up the sender's address and sends a short plain-text
// notice. Senders without an e-mail address are skipped.
func (n *FailureNotifier) NotifyFailed(ctx context.Context, notice FailureNotice) error {
	if n == nil || notice.SenderID == "" {
		return nil
	}
	users, err := n.users.UsersByIDs(ctx, []string{notice.SenderID})
	if err != nil {
		return fmt.Errorf("notify: lookup sender: %w", err)
	}
	user, ok := users[notice.SenderID]
	if !ok || strings.TrimSpace(user.Email) == "" {
		n.logger.Debug("failure notice skipped, sender has no email", "sender_id", notice.SenderID)
		return nil
	}

	recipient := notice.DoctorName
	if recipient == "" {
		recipient = notice.DoctorPhone
	}
	var body strings.Builder
	fmt.Fprintf(&body, "The results you sent to %s could not be delivered over WhatsApp.\n", recipient)
	if notice.PatientName != "" {
		fmt.Fprintf(&body, "Patient: %s\n", notice.PatientName)
	}
	if notice.Error != "" {
		fmt.Fprintf(&body, "Provider error: %s\n", notice.Error)
	}
	fmt.Fprintf(&body, "Reference: %s\n", notice.SendLogID)

	return n.sender.Send(ctx, EmailMessage{
		To:      user.Email,
		Subject: "WhatsApp delivery failed",
		Body:    body.String(),
	})
}
