package gate

import (
	"fmt"
)

// Kind classifies a validation failure. The centralized error responder maps
// kinds to transport specific representations.
type Kind string

const (
	KindMissingCredential      Kind = "MissingCredential"
	KindUntrustedIssuer        Kind = "UntrustedIssuer"
	KindInvalidSignature       Kind = "InvalidSignature"
	KindTokenExpired           Kind = "TokenExpired"
	KindTokenNotYetValid       Kind = "TokenNotYetValid"
	KindAudienceMismatch       Kind = "AudienceMismatch"
	KindKeyNotFound            Kind = "KeyNotFound"
	KindFetchFailed            Kind = "FetchFailed"
	KindInternalValidatorFault Kind = "InternalValidatorFault"
)

// marker for interface implementation
var _ error = (*Error)(nil)

// Error is the failure side of a validation Result. It is handed verbatim to
// the pipeline's error handler.
type Error struct {
	Kind    Kind   `json:"kind"`
	Detail  string `json:"detail"`
	DocsURL string `json:"docsUrl,omitempty"`
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is reports a match when the target is an *Error of the same kind, allowing
// errors.Is(err, gate.ErrKind(gate.KindTokenExpired)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// ErrKind returns a comparison target for errors.Is.
func ErrKind(kind Kind) error {
	return &Error{Kind: kind}
}
