package credits

import "github.com/shopspring/decimal"

// FormatCredits renders a balance in smallest units as dollars, e.g. 750 -> "$7.50".
func FormatCredits(amount int64) string {
	value := decimal.NewFromInt(amount).Shift(-2)
	if value.IsNegative() {
		return "-$" + value.Abs().StringFixed(2)
	}
	return "$" + value.StringFixed(2)
}
