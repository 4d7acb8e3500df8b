// Package notification delivers triggered-rule messages: a dispatcher
// applies rate limiting and renders the message, a Redis-list queue
// decouples evaluation from delivery, and a worker drains the queue into
// per-transport channels with retry and dead-lettering.
package notification

import (
	"context"
	"time"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

// sendTimeout bounds one delivery attempt to one target.
const sendTimeout = 10 * time.Second

// Channel is one notification transport. Send delivers the task's
// message to a single target and returns an error on failure; the worker
// treats any nil return as a successful delivery.
type Channel interface {
	Type() models.TargetType
	Send(ctx context.Context, target models.NotifyTarget, task *models.NotificationTask) error
}
