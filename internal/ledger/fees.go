package ledger

import (
	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"github.com/robertarktes/group-seat-bookings/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// SplitFee divides total minor units into the platform fee and the owner's
// share. The fee is truncated to whole minor units so the owner keeps any
// fractional remainder and the two parts always add up to total.
func SplitFee(total int64, pct decimal.Decimal) (fee, ownerShare int64, err error) {
	if total < 0 {
		return 0, 0, errors.Wrap(domain.ErrInvalidInput, "total must not be negative")
	}
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return 0, 0, errors.Wrapf(domain.ErrInvalidInput, "fee percentage %s out of range", pct)
	}
	fee = decimal.NewFromInt(total).Mul(pct).Div(hundred).Truncate(0).IntPart()
	return fee, total - fee, nil
}
