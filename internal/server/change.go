package server

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Coin nominals in cents, largest first.
var coins = []struct {
	name  string
	cents int
}{
	{"quarters", 25},
	{"dimes", 10},
	{"nickels", 5},
	{"pennies", 1},
}

// ChangeResult is the make-change response body.
type ChangeResult struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// maxAmount keeps the cents conversion far inside int range.
const maxAmount = 1e12

// makeChange breaks a dollar amount into the fewest coins. Amounts are
// converted to integer cents first so 0.29 does not lose a penny to float
// arithmetic.
func makeChange(amount string) ChangeResult {
	value, err := strconv.ParseFloat(strings.TrimSpace(amount), 64)
	if err != nil || value < 0 || value > maxAmount || math.IsInf(value, 0) || math.IsNaN(value) {
		return ChangeResult{
			Error: fmt.Sprintf("There was a problem converting the amount submitted. %q is not a valid amount", amount),
		}
	}

	remaining := int(math.Round(value * 100))
	message := "We can make change for"
	for _, coin := range coins {
		count := remaining / coin.cents
		remaining -= count * coin.cents
		message = fmt.Sprintf("%s %d %s", message, count, coin.name)
	}

	return ChangeResult{Message: message}
}
