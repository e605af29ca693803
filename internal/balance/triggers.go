package balance

import (
	"context"
	"errors"

	"github.com/kompanio/timebank/internal/ledger"
	"github.com/kompanio/timebank/internal/trigger"
)

const (
	PaymentLegPattern = "accounts/{accountId}/payments/{paymentId}"
	FlowLegPattern    = "accounts/{accountId}/flows/{flowId}"
)

// Register wires the engine to payment and flow leg changes.
func (e *Engine) Register(d *trigger.Dispatcher) {
	d.On(PaymentLegPattern, e.onPaymentLeg)
	d.On(FlowLegPattern, e.onFlowLeg)
}

func (e *Engine) onPaymentLeg(ctx context.Context, ev trigger.Event) error {
	var leg, prev ledger.PaymentLeg
	hasLeg, err := ev.Decode(&leg)
	if err != nil {
		return err
	}
	hasPrev, err := ev.DecodePrevious(&prev)
	if err != nil {
		return err
	}
	err = e.PostPaymentLeg(ctx, ev.Params["accountId"], ev.Params["paymentId"], optional(hasLeg, &leg), optional(hasPrev, &prev))
	return ignoreMissing(err)
}

func (e *Engine) onFlowLeg(ctx context.Context, ev trigger.Event) error {
	var leg, prev ledger.FlowLeg
	hasLeg, err := ev.Decode(&leg)
	if err != nil {
		return err
	}
	hasPrev, err := ev.DecodePrevious(&prev)
	if err != nil {
		return err
	}
	err = e.ApplyFlowLeg(ctx, ev.Params["accountId"], ev.Params["flowId"], optional(hasLeg, &leg), optional(hasPrev, &prev))
	return ignoreMissing(err)
}

func optional[T any](ok bool, v *T) *T {
	if !ok {
		return nil
	}
	return v
}

// A missing account is already logged by update and is not worth a retry.
func ignoreMissing(err error) error {
	if errors.Is(err, ErrAccountNotFound) {
		return nil
	}
	return err
}
