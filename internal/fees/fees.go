// Package fees derives the deposit / protocol-fee / broker-fee split applied
// to the gross amount at stream creation, with bounds checking on both rates.
//
// Fee multiplications round down (floor), so the fees can never sum past the
// gross amount while the rates stay within bounds. The invariant is still
// checked: a violation is an internal defect, not a user error, and is
// surfaced through a dedicated sentinel so callers can never confuse the two.
package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vestflow/stream-engine/internal/model"
)

var (
	// ErrFeeTooHigh is returned when the protocol or broker fee rate exceeds
	// the maximum fee rate.
	ErrFeeTooHigh = errors.New("fees: fee rate exceeds maximum")

	// ErrDepositAmountZero is returned when the fees consume the entire gross
	// amount, leaving a degenerate stream with nothing to unlock.
	ErrDepositAmountZero = errors.New("fees: net deposit amount is zero")

	// ErrFeeInvariantViolated signals an internal-consistency fault: the
	// computed fees reached or exceeded the gross amount despite both rates
	// passing the bound check. This is a defect, never user input — handlers
	// map it to 500 and must never swallow it.
	ErrFeeInvariantViolated = errors.New("fees: computed fees reach or exceed gross amount")
)

// Split derives the creation-time fee split from a gross amount. A zero gross
// amount yields all-zero amounts without error; otherwise both rates must be
// at most maxRate, and the net deposit must be positive.
//
// protocolFee = floor(total * protocolRate), brokerFee = floor(total *
// brokerRate), deposit = total - protocolFee - brokerFee.
func Split(total, protocolRate, brokerRate, maxRate decimal.Decimal) (model.CreateAmounts, error) {
	if total.IsZero() {
		return model.CreateAmounts{
			Deposit:     decimal.Zero,
			ProtocolFee: decimal.Zero,
			BrokerFee:   decimal.Zero,
		}, nil
	}

	if protocolRate.GreaterThan(maxRate) {
		return model.CreateAmounts{}, fmt.Errorf("%w: protocol rate %s > max %s",
			ErrFeeTooHigh, protocolRate, maxRate)
	}
	if brokerRate.GreaterThan(maxRate) {
		return model.CreateAmounts{}, fmt.Errorf("%w: broker rate %s > max %s",
			ErrFeeTooHigh, brokerRate, maxRate)
	}

	protocolFee := total.Mul(protocolRate).Floor()
	brokerFee := total.Mul(brokerRate).Floor()

	// Holds by construction for bounded rates; a failure here means the
	// arithmetic itself is broken.
	if !total.GreaterThan(protocolFee.Add(brokerFee)) {
		return model.CreateAmounts{}, fmt.Errorf("%w: total %s, protocol %s, broker %s",
			ErrFeeInvariantViolated, total, protocolFee, brokerFee)
	}

	deposit := total.Sub(protocolFee).Sub(brokerFee)
	if deposit.IsZero() {
		return model.CreateAmounts{}, ErrDepositAmountZero
	}

	return model.CreateAmounts{
		Deposit:     deposit,
		ProtocolFee: protocolFee,
		BrokerFee:   brokerFee,
	}, nil
}
