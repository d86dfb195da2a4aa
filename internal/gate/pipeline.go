package gate

import (
	"context"
)

// marker for context key
type key struct{}

var (
	// pipelineKey is the key used to store the pipeline in the request context.
	pipelineKey = key{}
)

// Well known pipeline property names.
const (
	// PropertyWhitelist holds the caller supplied trust list.
	PropertyWhitelist = "whitelist"
)

// Pipeline is the request scoped bag shared by the stages of one request.
// Upstream stages place inputs (such as the whitelist) and gates place named
// validation results. It is owned by a single in-flight request and is not
// safe for concurrent use.
type Pipeline struct {
	properties map[string]any
	results    map[string]Result
}

// Set stores an input property for later stages.
func (p *Pipeline) Set(name string, value any) {
	if p.properties == nil {
		p.properties = map[string]any{}
	}
	p.properties[name] = value
}

// Get returns a property previously placed by an upstream stage.
func (p *Pipeline) Get(name string) (any, bool) {
	v, ok := p.properties[name]
	return v, ok
}

// SetResult attaches a successful validation result under the given name.
func (p *Pipeline) SetResult(name string, r Result) {
	if p.results == nil {
		p.results = map[string]Result{}
	}
	p.results[name] = r
}

// Result returns the validation result attached under the given name.
func (p *Pipeline) Result(name string) (Result, bool) {
	r, ok := p.results[name]
	return r, ok
}

// Payload returns the payload of the named result, or nil if no such result
// was attached.
func (p *Pipeline) Payload(name string) Payload {
	r, ok := p.results[name]
	if !ok {
		return nil
	}
	return r.Payload
}

// Property returns the typed property value stored under name. The second
// return is false if the property is absent or has a different type.
func Property[T any](p *Pipeline, name string) (T, bool) {
	v, ok := p.Get(name)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Get the pipeline for the current request. This is safe to use even if the
// context does not carry one, though values written to the returned pipeline
// will be lost in that case.
func FromContext(ctx context.Context) *Pipeline {
	_, p := Context(ctx)
	return p
}

// Context returns the Pipeline for the current request, creating one if it
// does not exist. The returned context must be kept for later stages to
// observe the same pipeline.
func Context(ctx context.Context) (context.Context, *Pipeline) {
	p, ok := ctx.Value(pipelineKey).(*Pipeline)
	if !ok {
		p = &Pipeline{}

		ctx = context.WithValue(ctx, pipelineKey, p)
	}

	return ctx, p
}
