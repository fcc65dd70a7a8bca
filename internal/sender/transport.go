package sender

import (
	"context"

	"github.com/GriffinCanCode/httpsender/internal/sender/body"
	"github.com/GriffinCanCode/httpsender/internal/sender/message"
)

// Transport performs the actual HTTP exchanges.
type Transport interface {
	// NewRound prepares the state shared by every hop of one logical send.
	NewRound(rc *message.RequestContext, cfg *RequestConfig) Round
}

// Round sends the hops of one logical send.
type Round interface {
	// Send transmits the request of ex and fills ex.Response, handing the
	// body to sink. The response of ex is replaced, not merged.
	Send(ctx context.Context, ex *message.Exchange, sink body.Sink) error
}

// Finalizer runs once after the last hop, before the final response is
// broadcast. It may adjust the caller's exchange.
type Finalizer func(ctx context.Context, rc *message.RequestContext, round Round, ex *message.Exchange)
