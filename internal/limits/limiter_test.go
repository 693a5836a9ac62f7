package limits

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

const (
	dai  = "eip155:1/erc20:0x6b175474e89094c44da98b954eedeac495271d0f"
	usdc = "eip155:1/erc20:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
)

func TestCheckLimit_WithinLimits(t *testing.T) {
	l := NewDepositLimiter(d(1000), d(5000))

	err := l.CheckLimit(dai, d(500), map[string]decimal.Decimal{dai: d(400)})
	if err != nil {
		t.Errorf("deposit within limits should pass, got %v", err)
	}
}

func TestCheckLimit_ExactlyAtPerAssetLimit(t *testing.T) {
	l := NewDepositLimiter(d(1000), d(5000))

	err := l.CheckLimit(dai, d(600), map[string]decimal.Decimal{dai: d(400)})
	if err != nil {
		t.Errorf("deposit exactly at the limit should pass, got %v", err)
	}
}

func TestCheckLimit_PerAssetExceeded(t *testing.T) {
	l := NewDepositLimiter(d(1000), d(5000))

	err := l.CheckLimit(dai, d(601), map[string]decimal.Decimal{dai: d(400)})
	if err != ErrPerAssetLimitExceeded {
		t.Errorf("expected ErrPerAssetLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_TotalExceededAcrossAssets(t *testing.T) {
	l := NewDepositLimiter(d(3000), d(5000))

	existing := map[string]decimal.Decimal{
		dai:  d(2000),
		usdc: d(2500),
	}
	// 2000 + 500 in DAI is fine per-asset but 5000 total is already reached.
	err := l.CheckLimit(dai, d(501), existing)
	if err != ErrTotalLimitExceeded {
		t.Errorf("expected ErrTotalLimitExceeded, got %v", err)
	}

	// Exactly at the aggregate limit passes.
	if err := l.CheckLimit(dai, d(500), existing); err != nil {
		t.Errorf("deposit exactly at the aggregate limit should pass, got %v", err)
	}
}

func TestCheckLimit_NoExistingDeposits(t *testing.T) {
	l := NewDepositLimiter(d(1000), d(5000))

	if err := l.CheckLimit(dai, d(1000), nil); err != nil {
		t.Errorf("first deposit at per-asset limit should pass, got %v", err)
	}
	if err := l.CheckLimit(dai, d(1001), nil); err != ErrPerAssetLimitExceeded {
		t.Errorf("expected ErrPerAssetLimitExceeded, got %v", err)
	}
}
