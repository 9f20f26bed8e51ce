package intents

import (
	"errors"
	"fmt"
)

// ErrInvalidIntent is the single error surfaced for any rejected intent unless
// the verifier runs with a strict taxonomy. Strict errors wrap it, so
// errors.Is(err, ErrInvalidIntent) holds in both modes.
var ErrInvalidIntent = errors.New("intents: invalid intent")

var (
	ErrMalformedIntent = fmt.Errorf("%w: malformed", ErrInvalidIntent)
	ErrIntentExpired   = fmt.Errorf("%w: expired", ErrInvalidIntent)
	ErrDomainMismatch  = fmt.Errorf("%w: domain mismatch", ErrInvalidIntent)
	ErrBadSignature    = fmt.Errorf("%w: signature does not match signer", ErrInvalidIntent)
	ErrIntentConsumed  = fmt.Errorf("%w: already consumed", ErrInvalidIntent)
)
