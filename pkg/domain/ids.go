// Package domain holds domain primitives shared across modules.
package domain

import (
	"fmt"
	"strings"
)

// AccountID identifies a ledger account. It is opaque to the engine; the
// wallet layer decides what an account string means.
type AccountID string

// ParseAccountID validates and returns an AccountID.
func ParseAccountID(s string) (AccountID, error) {
	if s == "" {
		return "", fmt.Errorf("account id is required")
	}
	if len(s) > 128 {
		return "", fmt.Errorf("account id exceeds 128 characters")
	}
	if strings.HasPrefix(s, "$") {
		return "", fmt.Errorf("account id namespace %q is reserved", "$")
	}
	return AccountID(s), nil
}

func (a AccountID) String() string {
	return string(a)
}

// IsNil returns true if the account ID is empty.
func (a AccountID) IsNil() bool {
	return a == ""
}

// EntityID keys raw values and decay checkpoints in the entry store.
// Accounts map one-to-one; the aggregate supply uses a reserved sentinel.
type EntityID string

// SupplyID is the entry-store key for the aggregate supply. ParseAccountID
// rejects the "$" prefix, so no account can alias it.
const SupplyID EntityID = "$supply"

// EntityOf returns the entry-store key for an account.
func EntityOf(a AccountID) EntityID {
	return EntityID(a)
}

func (e EntityID) String() string {
	return string(e)
}
