package gate

import "fmt"

// Payload is the validator specific data carried by a successful Result.
type Payload map[string]any

// Result is the tagged outcome of a validator invocation: exactly one of
// Payload (success) or Err (failure) is meaningful. A Result with a nil Err is
// a success.
type Result struct {
	Payload Payload
	Err     *Error
}

// Ok returns a successful result carrying the given payload.
func Ok(payload Payload) Result {
	if payload == nil {
		payload = Payload{}
	}
	return Result{Payload: payload}
}

// Fail returns a failed result of the given kind.
func Fail(kind Kind, detail string) Result {
	return Result{Err: &Error{Kind: kind, Detail: detail}}
}

// Failf returns a failed result with a formatted detail message.
func Failf(kind Kind, format string, args ...any) Result {
	return Fail(kind, fmt.Sprintf(format, args...))
}

// OK reports whether the result is a success.
func (r Result) OK() bool {
	return r.Err == nil
}

// WithDocs sets the documentation link on a failure that does not already
// carry one. Successful results are returned unchanged.
func (r Result) WithDocs(url string) Result {
	if r.Err == nil || r.Err.DocsURL != "" || url == "" {
		return r
	}

	e := *r.Err
	e.DocsURL = url
	r.Err = &e

	return r
}
