package metrics

import (
	"context"
	"time"

	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
)

// Observer provides observability hooks for shield operations.
// It fans each event out to a collector, a tracer and a logger.
type Observer struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
}

// ObserverConfig configures an observer. Nil members fall back to the globals.
type ObserverConfig struct {
	Collector *Collector
	Tracer    Tracer
	Logger    *Logger
}

// NewObserver creates a new observer.
func NewObserver(cfg ObserverConfig) *Observer {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}
	return &Observer{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger:    cfg.Logger,
	}
}

// Collector returns the observer's collector.
func (o *Observer) Collector() *Collector {
	return o.collector
}

// Logger returns the observer's logger for custom logging.
func (o *Observer) Logger() *Logger {
	return o.logger
}

// OnKeystream records a keystream generation of n bytes.
func (o *Observer) OnKeystream(ctx context.Context, n int) (context.Context, func(error)) {
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanKeystream, WithSpanAttributes(SpanAttributes{Bytes: n}))
	return ctx, func(err error) {
		if err == nil {
			o.collector.RecordKeystream(n)
		}
		endSpan(err)
	}
}

// OnPermutation records a permutation of size pixels under the named purity.
func (o *Observer) OnPermutation(ctx context.Context, purity string, size int) (context.Context, func(error)) {
	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanPermutation, WithSpanAttributes(SpanAttributes{
		Purity: purity,
		Pixels: size,
	}))

	return ctx, func(err error) {
		d := time.Since(start)
		if err != nil {
			o.logger.Error("permutation failed", Fields{"purity": purity, "size": size}, ErrFields(err))
		} else {
			o.collector.RecordPermutation(purity, d)
			o.logger.Debug("permutation generated", Fields{
				"purity":   purity,
				"size":     size,
				"duration": d.String(),
			})
		}
		endSpan(err)
	}
}

// OnEncrypt records a buffer encryption.
func (o *Observer) OnEncrypt(ctx context.Context, attrs SpanAttributes) (context.Context, func(error)) {
	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanEncrypt, WithSpanAttributes(attrs))

	return ctx, func(err error) {
		d := time.Since(start)
		if err != nil {
			o.collector.RecordEncryptError()
			o.logger.Error("encrypt failed", ErrFields(err))
		} else {
			o.collector.RecordEncrypt(attrs.Bytes, d)
			o.logger.Info("image encrypted", Fields{
				"pixels":   attrs.Pixels,
				"mode":     attrs.ChannelMode,
				"purity":   attrs.Purity,
				"duration": d.String(),
			})
		}
		endSpan(err)
	}
}

// OnDecrypt records a buffer decryption.
func (o *Observer) OnDecrypt(ctx context.Context, attrs SpanAttributes) (context.Context, func(error)) {
	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanDecrypt, WithSpanAttributes(attrs))

	return ctx, func(err error) {
		d := time.Since(start)
		if err != nil {
			o.collector.RecordDecryptError()
			o.logger.Error("decrypt failed", ErrFields(err))
		} else {
			o.collector.RecordDecrypt(attrs.Bytes, d)
			o.logger.Info("image decrypted", Fields{
				"pixels":   attrs.Pixels,
				"mode":     attrs.ChannelMode,
				"duration": d.String(),
			})
		}
		endSpan(err)
	}
}

// OnDeriveKey records a password key derivation.
func (o *Observer) OnDeriveKey(ctx context.Context, iterations int) (context.Context, func(error)) {
	start := time.Now()
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanDeriveKey, WithAttributes(map[string]interface{}{
		"kdf.iterations": iterations,
	}))
	return ctx, func(err error) {
		if err == nil {
			o.collector.RecordKDFLatency(time.Since(start))
		}
		endSpan(err)
	}
}

// OnWrap records a key blob being sealed.
func (o *Observer) OnWrap(ctx context.Context, attrs SpanAttributes) (context.Context, func(error)) {
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanWrap, WithSpanAttributes(attrs))
	return ctx, func(err error) {
		if err != nil {
			o.logger.Error("key blob wrap failed", ErrFields(err))
		} else {
			o.collector.RecordWrap()
			o.logger.Debug("key blob wrapped", Fields{
				"bytes":     attrs.Bytes,
				"purity":    attrs.Purity,
				"encrypted": attrs.Encrypted,
			})
		}
		endSpan(err)
	}
}

// OnUnwrap records a key blob being verified and opened. Integrity and
// credential failures are counted separately from other errors.
func (o *Observer) OnUnwrap(ctx context.Context, attrs SpanAttributes) (context.Context, func(error)) {
	ctx, endSpan := o.tracer.StartSpan(ctx, SpanUnwrap, WithSpanAttributes(attrs))
	return ctx, func(err error) {
		switch qerrors.KindOf(err) {
		case qerrors.KindUnknown:
			if err == nil {
				o.collector.RecordUnwrap()
			} else {
				o.logger.Error("key blob unwrap failed", ErrFields(err))
			}
		case qerrors.KindIntegrityViolation:
			o.collector.RecordIntegrityFailure()
			o.logger.Warn("key blob failed integrity check", Fields{"blob_id": attrs.BlobID}, ErrFields(err))
		case qerrors.KindMissingCredential:
			o.collector.RecordCredentialFailure()
			o.logger.Warn("encrypted key blob opened without password", Fields{"blob_id": attrs.BlobID})
		default:
			o.logger.Error("key blob unwrap failed", ErrFields(err))
		}
		endSpan(err)
	}
}

// OnStore records a blob store operation under the given span name.
func (o *Observer) OnStore(ctx context.Context, span, id string) (context.Context, func(error)) {
	ctx, endSpan := o.tracer.StartSpan(ctx, span, WithSpanAttributes(SpanAttributes{BlobID: id}))
	return ctx, func(err error) {
		if err != nil && !qerrors.Is(err, qerrors.ErrNotFound) {
			o.logger.Error("blob store operation failed", Fields{"span": span, "blob_id": id}, ErrFields(err))
		}
		endSpan(err)
	}
}

// OnFallback records that the circuit source was replaced by the fallback backend.
func (o *Observer) OnFallback(reason error) {
	o.collector.RecordFallback()
	o.logger.Warn("circuit randomness unavailable, using fallback source", ErrFields(reason))
}

// --- Event Types ---

// EventType represents a type of shield event for logging.
type EventType string

const (
	EventKeysGenerated EventType = "keys.generated"
	EventEncrypted     EventType = "image.encrypted"
	EventDecrypted     EventType = "image.decrypted"
	EventBlobWrapped   EventType = "blob.wrapped"
	EventBlobUnwrapped EventType = "blob.unwrapped"
	EventFallback      EventType = "qrand.fallback"
	EventIntegrity     EventType = "security.integrity_violation"
	EventError         EventType = "error"
)

// Event represents a structured shield event, as emitted by the CLI in JSON mode.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	BlobID    string                 `json:"blob_id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(typ EventType, fields Fields) Event {
	ev := Event{Type: typ, Timestamp: time.Now().UTC()}
	if len(fields) > 0 {
		ev.Fields = fields
	}
	return ev
}
