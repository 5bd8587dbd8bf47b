package service

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to the API layer. Operations wrap these so
// callers can classify failures with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrApply        = errors.New("apply failed")
	ErrProcessCrash = errors.New("obfuscator process crashed")
	ErrAuth         = errors.New("authentication failed")
)

var (
	ErrAddressSpaceExhausted = fmt.Errorf("%w: no free address in subnet", ErrConflict)
	ErrSubnetTooSmall        = fmt.Errorf("%w: subnet too small for current peers", ErrConflict)
)
