package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pro-subscriber/internal/errors"
	"github.com/pro-subscriber/internal/logging"
	"github.com/pro-subscriber/internal/metrics"
	"github.com/pro-subscriber/internal/types"
)

// Message is the body of a direct message
type Message struct {
	RecipientFID int64  `json:"recipientFid"`
	Message      string `json:"message"`
}

// MessageSender delivers one direct message under an idempotency key
type MessageSender interface {
	Send(ctx context.Context, msg Message, idempotencyKey string) error
}

// ProfileSource resolves display names for gift messages
type ProfileSource interface {
	Profile(ctx context.Context, fid types.FID) (*types.Profile, error)
}

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	OperatorFID types.FID
	// SendTimeout bounds each delivery attempt; zero means no bound
	SendTimeout time.Duration
	// Profiles is optional
	Profiles ProfileSource
}

// Dispatcher sends success messages to the purchase participants and error reports to the operator
type Dispatcher struct {
	sender   MessageSender
	record   *Record
	operator types.FID
	timeout  time.Duration
	profiles ProfileSource
	newKey   func() string
}

// NewDispatcher creates a dispatcher that owns record for the session
func NewDispatcher(sender MessageSender, record *Record, cfg DispatcherConfig) *Dispatcher {
	if record == nil {
		record = NewRecord()
	}
	return &Dispatcher{
		sender:   sender,
		record:   record,
		operator: cfg.OperatorFID,
		timeout:  cfg.SendTimeout,
		profiles: cfg.Profiles,
		newKey:   func() string { return uuid.NewString() },
	}
}

// NotifySuccess tells the payer about the purchase and, for a gift, tells the beneficiary too
func (d *Dispatcher) NotifySuccess(ctx context.Context, payer, beneficiary types.FID, isGift bool) {
	if !isGift {
		d.send(ctx, "success", Message{
			RecipientFID: int64(payer),
			Message:      "You subscribed to Farcaster Pro. Enjoy your new features!",
		})
		return
	}

	d.send(ctx, "success", Message{
		RecipientFID: int64(payer),
		Message:      fmt.Sprintf("You gifted Farcaster Pro to %s. Thanks for sharing!", d.displayName(ctx, beneficiary)),
	})
	d.send(ctx, "gift", Message{
		RecipientFID: int64(beneficiary),
		Message:      fmt.Sprintf("You were gifted Farcaster Pro by %s!", d.displayName(ctx, payer)),
	})
}

// NotifyError reports an error to the operator at most once per (category, message) in this session.
// It returns false when the report was suppressed as a duplicate.
func (d *Dispatcher) NotifyError(ctx context.Context, category, message string) bool {
	if !d.record.Claim(category, message) {
		metrics.NotificationsDeduplicated.WithLabelValues(category).Inc()
		logging.FromContext(ctx).WithField("category", category).Debug("Duplicate error notification suppressed")
		return false
	}

	d.send(ctx, "error", Message{
		RecipientFID: int64(d.operator),
		Message:      fmt.Sprintf("[%s] %s", category, Normalize(message)),
	})
	return true
}

// Record returns the session record owned by this dispatcher
func (d *Dispatcher) Record() *Record {
	return d.record
}

// send delivers one message with a fresh idempotency key; failures are logged and swallowed
func (d *Dispatcher) send(ctx context.Context, kind string, msg Message) {
	key := d.newKey()
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"kind":           kind,
		"recipientFid":   msg.RecipientFID,
		"idempotencyKey": key,
	})

	sendCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := d.sender.Send(sendCtx, msg, key); err != nil {
		failure := errors.NewNotificationDeliveryFailedError(msg.RecipientFID, err)
		logger.WithError(failure).Warn("Notification delivery failed")
		metrics.NotificationsSent.WithLabelValues(kind, "failed").Inc()
		return
	}

	metrics.NotificationsSent.WithLabelValues(kind, "sent").Inc()
	logger.Info("Notification sent")
}

func (d *Dispatcher) displayName(ctx context.Context, fid types.FID) string {
	if d.profiles != nil {
		profile, err := d.profiles.Profile(ctx, fid)
		if err == nil && profile.Username != "" {
			return "@" + profile.Username
		}
		if err != nil {
			logging.FromContext(ctx).WithError(err).WithField("fid", int64(fid)).Debug("Profile lookup failed")
		}
	}
	return fmt.Sprintf("FID %d", fid)
}
