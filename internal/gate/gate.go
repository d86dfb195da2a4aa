package gate

import (
	"context"
	"fmt"
	"maps"
	"net/http"

	"github.com/jamestelfer/bearer-gate/internal/audit"
	"github.com/rs/zerolog"
)

// OptionDocsURL is the static option naming a documentation link that is
// attached to failures that do not supply their own.
const OptionDocsURL = "docsURL"

// Invocation is what a validator is given for a single request: a private
// copy of the static options supplied when the gate was configured, plus the
// handles for the current request.
type Invocation struct {
	Options  map[string]any
	Request  *http.Request
	Pipeline *Pipeline
}

// String returns the named static option as a string, or "" if it is absent
// or not a string.
func (inv Invocation) String(name string) string {
	s, _ := inv.Options[name].(string)
	return s
}

// Validator performs a single domain check for a request. Implementations may
// block on network I/O and must be safe for concurrent use.
type Validator interface {
	Validate(ctx context.Context, inv Invocation) Result
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, inv Invocation) Result

func (f ValidatorFunc) Validate(ctx context.Context, inv Invocation) Result {
	return f(ctx, inv)
}

type config struct {
	errorHandler ErrorHandler
}

// Option configures the gate middleware.
type Option func(*config)

// WithErrorHandler sets the centralized handler called when a validator
// fails. The default is DefaultErrorHandler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *config) {
		c.errorHandler = h
	}
}

// Middleware returns HTTP middleware that invokes the validator for each
// request. On success the result is attached to the request pipeline under
// name and the next handler is called. On failure the pipeline is left
// untouched, the error handler is called and the chain halts.
//
// A panic raised by the validator is recovered and reported as an
// InternalValidatorFault. The middleware keeps no state between requests.
func Middleware(name string, v Validator, options map[string]any, opts ...Option) func(http.Handler) http.Handler {
	cfg := config{
		errorHandler: DefaultErrorHandler,
	}
	for _, o := range opts {
		o(&cfg)
	}

	docsURL, _ := options[OptionDocsURL].(string)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, pipeline := Context(r.Context())
			r = r.WithContext(ctx)

			inv := Invocation{
				Options:  maps.Clone(options),
				Request:  r,
				Pipeline: pipeline,
			}
			if inv.Options == nil {
				inv.Options = map[string]any{}
			}

			spanCtx, span := startValidation(ctx, name)
			result := invoke(spanCtx, name, v, inv).WithDocs(docsURL)
			endValidation(spanCtx, span, name, result)

			entry := audit.Log(ctx)

			if !result.OK() {
				zerolog.Ctx(ctx).Debug().
					Str("gate", name).
					Str("kind", string(result.Err.Kind)).
					Str("detail", result.Err.Detail).
					Msg("validation failed")

				entry.Error = fmt.Sprintf("gate %s: %v", name, result.Err)

				cfg.errorHandler(w, r, result.Err)
				return
			}

			pipeline.SetResult(name, result)
			entry.Validations = append(entry.Validations, name)

			next.ServeHTTP(w, r)
		})
	}
}

// invoke calls the validator, converting a panic into a failed result so
// that no fault escapes the gate.
func invoke(ctx context.Context, name string, v Validator, inv Invocation) (result Result) {
	defer func() {
		if p := recover(); p != nil {
			zerolog.Ctx(ctx).Error().
				Str("gate", name).
				Interface("panic", p).
				Msg("validator panicked")

			result = Failf(KindInternalValidatorFault, "validator %s failed unexpectedly: %v", name, p)
		}
	}()

	if v == nil {
		return Failf(KindInternalValidatorFault, "no validator configured for %s", name)
	}

	result = v.Validate(ctx, inv)
	if result.Err == nil && result.Payload == nil {
		result.Payload = Payload{}
	}

	return result
}
