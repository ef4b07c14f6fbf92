package enums

import "fmt"

// TransactionType classifies a credit ledger entry.
type TransactionType string

const (
	TransactionPurchase         TransactionType = "purchase"
	TransactionBonus            TransactionType = "bonus"
	TransactionGeneration       TransactionType = "generation"
	TransactionAdminGrant       TransactionType = "admin_grant"
	TransactionCouponRedemption TransactionType = "coupon_redemption"
	TransactionRefund           TransactionType = "refund"
)

var validTransactionTypes = []TransactionType{
	TransactionPurchase,
	TransactionBonus,
	TransactionGeneration,
	TransactionAdminGrant,
	TransactionCouponRedemption,
	TransactionRefund,
}

// String returns the literal string for the type.
func (t TransactionType) String() string {
	return string(t)
}

// IsValid reports whether the type is known.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsCredit reports whether entries of this type increase the balance.
func (t TransactionType) IsCredit() bool {
	return t.IsValid() && t != TransactionGeneration
}

// ParseTransactionType converts raw input into a TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}
