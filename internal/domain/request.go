package domain

import "fmt"

// Live channel account limits.
const (
	MinAccountsToMonitor     = 2
	MaxAccountsToMonitor     = 15
	DefaultAccountsToMonitor = 15
)

// ValidateMaxAccounts checks a max_accounts_to_monitor value.
func ValidateMaxAccounts(n int) error {
	if n < MinAccountsToMonitor || n > MaxAccountsToMonitor {
		return fmt.Errorf("%w: max_accounts_to_monitor must be in [%d, %d], got %d",
			ErrValidation, MinAccountsToMonitor, MaxAccountsToMonitor, n)
	}
	return nil
}
