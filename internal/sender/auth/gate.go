// Package auth decides when a request must be re-sent after authenticating
// and asks the bound user to put its credentials on a request.
package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/httpsender/internal/sender/message"
)

// Gate applies the authentication rules of a send. It holds no per-request
// state and may be shared.
type Gate struct {
	logger *zap.Logger
}

// NewGate creates a gate. logger may be nil.
func NewGate(logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{logger: logger.Named("auth")}
}

// NeedsRetry reports whether ex must be sent again after forcing the user
// to authenticate. Requests without a user, requests of an authentication
// flow and image requests never are.
func (g *Gate) NeedsRetry(rc *message.RequestContext, ex *message.Exchange, user message.User) bool {
	if user == nil {
		return false
	}
	if rc.Initiator.IsAuthentication() {
		return false
	}
	if ex.Request.IsImage() {
		return false
	}
	return !user.IsAuthenticated(ex)
}

// AttachCredentials lets user mutate the request before it is sent. On the
// first attempt a polling request only gets session material and other
// authentication requests are left alone. A forced attempt makes the user
// authenticate again first.
func (g *Gate) AttachCredentials(ctx context.Context, rc *message.RequestContext, ex *message.Exchange, user message.User, forced bool) error {
	if user == nil {
		return nil
	}

	if forced {
		g.logger.Debug("Forcing re-authentication", zap.Object("exchange", ex))
		if err := user.QueueForcedAuthentication(ctx, ex); err != nil {
			return fmt.Errorf("force authentication: %w", err)
		}
		if err := user.ReconcileUser(ctx, ex); err != nil {
			return fmt.Errorf("reconcile user: %w", err)
		}
		return nil
	}

	switch rc.Initiator {
	case message.InitiatorAuthenticationPoll:
		if err := user.ReconcileSession(ctx, ex); err != nil {
			return fmt.Errorf("reconcile session: %w", err)
		}
	case message.InitiatorAuthentication:
	default:
		if err := user.ReconcileUser(ctx, ex); err != nil {
			return fmt.Errorf("reconcile user: %w", err)
		}
	}
	return nil
}
