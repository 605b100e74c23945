package repository

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOrderArchived is returned by exchange clients when an order has been
// permanently archived upstream and will never be queryable again. The
// tracker translates it to a local delete.
var ErrOrderArchived = errors.New("order archived upstream")

// SymbolError is an upstream failure naming specific symbols, e.g. a
// delisted pair poisoning a bulk fetch. The ticker loop marks the named
// symbols inactive instead of retrying them forever.
type SymbolError struct {
	Symbols []string
	Err     error
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("upstream error for [%s]: %v", strings.Join(e.Symbols, ","), e.Err)
}

func (e *SymbolError) Unwrap() error { return e.Err }

// AsSymbolError extracts a SymbolError from an error chain.
func AsSymbolError(err error) (*SymbolError, bool) {
	var se *SymbolError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
