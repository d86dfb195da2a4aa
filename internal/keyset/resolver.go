package keyset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/maypok86/otter"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL          = 5 * time.Minute
	DefaultFetchTimeout = 10 * time.Second
	DefaultCapacity     = 1_000

	// maxDocumentBytes limits the size of a key set document read from the
	// network.
	maxDocumentBytes = 1 << 20
)

var (
	// ErrFetchFailed is returned when the key set cannot be retrieved or
	// decoded.
	ErrFetchFailed = errors.New("key set fetch failed")

	// ErrKeyNotFound is returned when the key set does not contain the
	// requested key identifier.
	ErrKeyNotFound = errors.New("key not found in key set")
)

// KeyNotFoundError reports a key identifier absent from a key set. Refetched
// is true when a previously cached set was refetched during the failed
// resolution, meaning a further refresh is unlikely to help.
type KeyNotFoundError struct {
	Location  string
	KeyID     string
	Refetched bool
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("%v: kid %q at %s", ErrKeyNotFound, e.KeyID, e.Location)
}

func (e *KeyNotFoundError) Is(target error) bool {
	return target == ErrKeyNotFound
}

const instrumentationName = "github.com/jamestelfer/bearer-gate/internal/keyset"

var (
	tracer = otel.Tracer(instrumentationName)

	fetches metric.Int64Counter
)

func init() {
	var err error

	fetches, err = otel.Meter(instrumentationName).Int64Counter(
		"keyset.fetches",
		metric.WithDescription("Key set documents fetched, by outcome."),
	)
	if err != nil {
		otel.Handle(err)
	}
}

// KeySet is the cached, verification ready form of a key set document. A
// KeySet is never modified after it is stored: a refresh replaces it.
type KeySet struct {
	URL       string
	Keys      map[string]jose.JSONWebKey
	FetchedAt time.Time
}

// Key is a public verification key resolved from a key set. Cached is true
// when the key was served from a previously fetched set rather than from a
// fetch made for this resolution.
type Key struct {
	jose.JSONWebKey
	Cached bool
}

// Resolver fetches and caches key sets by location. It is safe for concurrent
// use; concurrent refreshes of the same location share a single fetch.
type Resolver struct {
	cache        otter.Cache[string, *KeySet]
	flight       singleflight.Group
	client       *http.Client
	fetchTimeout time.Duration
}

type options struct {
	ttl          time.Duration
	fetchTimeout time.Duration
	capacity     int
	client       *http.Client
}

// Option configures a Resolver.
type Option func(*options)

// WithTTL sets how long a fetched key set is served before it is refetched.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithFetchTimeout bounds each key set fetch. A timeout is reported as a fetch
// failure.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(o *options) { o.fetchTimeout = timeout }
}

// WithCapacity sets the maximum number of key set locations cached.
func WithCapacity(capacity int) Option {
	return func(o *options) { o.capacity = capacity }
}

// WithHTTPClient sets the client used for fetches. The default is
// http.DefaultClient, which the service configures with telemetry.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.client = client }
}

// New creates a resolver with an empty cache.
func New(opts ...Option) (*Resolver, error) {
	o := options{
		ttl:          DefaultTTL,
		fetchTimeout: DefaultFetchTimeout,
		capacity:     DefaultCapacity,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.fetchTimeout <= 0 {
		return nil, fmt.Errorf("fetch timeout must be positive, got %s", o.fetchTimeout)
	}

	cache, err := otter.
		MustBuilder[string, *KeySet](o.capacity).
		WithTTL(o.ttl).
		Build()
	if err != nil {
		return nil, fmt.Errorf("key set cache configuration failed: %w", err)
	}

	client := o.client
	if client == nil {
		client = http.DefaultClient
	}

	return &Resolver{
		cache:        cache,
		client:       client,
		fetchTimeout: o.fetchTimeout,
	}, nil
}

// Resolve returns the key identified by kid from the key set published at
// location. A cached set is used when it holds the key; otherwise the set is
// refetched once. A *KeyNotFoundError (matching ErrKeyNotFound) is returned
// if the key is still absent after the refresh, and ErrFetchFailed if the set
// could not be retrieved.
func (r *Resolver) Resolve(ctx context.Context, location, kid string) (Key, error) {
	observed, ok := r.cache.Get(location)
	if ok {
		if k, found := observed.Keys[kid]; found {
			return Key{JSONWebKey: k, Cached: true}, nil
		}
	} else {
		observed = nil
	}

	set, err := r.refresh(ctx, location, observed)
	if err != nil {
		return Key{}, err
	}

	k, found := set.Keys[kid]
	if !found {
		return Key{}, &KeyNotFoundError{
			Location:  location,
			KeyID:     kid,
			Refetched: observed != nil,
		}
	}

	return Key{JSONWebKey: k}, nil
}

// Invalidate discards the cached key set for location so that the next
// resolution fetches it again.
func (r *Resolver) Invalidate(location string) {
	r.cache.Delete(location)
}

// Close releases the resources held by the cache.
func (r *Resolver) Close() {
	r.cache.Close()
}

// refresh fetches the key set for location, sharing the fetch with any
// concurrent callers. The observed set is what the caller found in the cache
// (nil for a miss): if the cache now holds something else, another caller has
// already refreshed it and no fetch is made.
func (r *Resolver) refresh(ctx context.Context, location string, observed *KeySet) (*KeySet, error) {
	ch := r.flight.DoChan(location, func() (any, error) {
		if current, ok := r.cache.Get(location); ok && current != observed {
			return current, nil
		}

		set, err := r.fetch(ctx, location)
		if err != nil {
			return nil, err
		}

		r.cache.Set(location, set)

		return set, nil
	})

	// a caller may stop waiting, but the shared fetch carries on for others
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for %s: %w", ErrFetchFailed, location, ctx.Err())
	}
}

func (r *Resolver) fetch(ctx context.Context, location string) (set *KeySet, err error) {
	// detach from the requesting context: other requests may be waiting on
	// this fetch
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "keyset.fetch")
	span.SetAttributes(attribute.String("url.full", location))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, "key set fetch failed")
		} else {
			span.SetAttributes(attribute.Int("keyset.keys", len(set.Keys)))
		}
		span.End()

		if fetches != nil {
			fetches.Add(ctx, 1, metric.WithAttributes(attribute.String("keyset.outcome", outcome)))
		}
	}()

	u, err := url.Parse(location)
	if err != nil || !u.IsAbs() || (u.Scheme != "https" && u.Scheme != "http") {
		return nil, fmt.Errorf("%w: invalid key set location %q", ErrFetchFailed, location)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer func() {
		// drain to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetchFailed, location, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrFetchFailed, location, err)
	}

	keys, err := Parse(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFetchFailed, location, err)
	}

	zerolog.Ctx(ctx).Info().
		Str("url", location).
		Int("keys", len(keys)).
		Msg("key set fetched")

	return &KeySet{
		URL:       location,
		Keys:      keys,
		FetchedAt: time.Now(),
	}, nil
}

// Parse converts a JSON key set document into verification keys indexed by
// key identifier. Keys that cannot be used to verify signatures (no kid, an
// encryption use, symmetric or malformed keys) are skipped rather than failing
// the whole set. Private keys are reduced to their public half.
func Parse(ctx context.Context, document []byte) (map[string]jose.JSONWebKey, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(document, &doc); err != nil {
		return nil, fmt.Errorf("malformed key set document: %w", err)
	}

	keys := make(map[string]jose.JSONWebKey, len(doc.Keys))

	for i, raw := range doc.Keys {
		var k jose.JSONWebKey
		if err := k.UnmarshalJSON(raw); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Int("index", i).Msg("skipping unreadable key")
			continue
		}

		if k.KeyID == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}

		pub := k.Public()
		if !pub.Valid() {
			continue
		}

		if _, dup := keys[k.KeyID]; dup {
			continue
		}

		keys[k.KeyID] = pub
	}

	return keys, nil
}
