package telemetry

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/srg/rcdrive/internal/protocol"
	"github.com/srg/rcdrive/internal/ringchan"
)

// Sink receives validated samples. Implementations render them; the router
// never inspects what they do.
type Sink interface {
	OnDistance(d Distance, p Proximity)
	OnMotor(m Motor)
	OnBattery(b Battery)
	OnTemperature(t Temperature)
	OnStatus(s Status)
}

// DropObserver is told about every discarded payload.
type DropObserver interface {
	ObserveTelemetryDrop(reason string)
	ObserveTelemetrySample(key string)
}

// Drop reasons reported to the DropObserver.
const (
	DropDecode     = "decode"
	DropUnknownKey = "unknown_key"
	DropValidation = "validation"
)

// Router decodes inbound payloads and dispatches them by key.
type Router struct {
	sink     Sink
	observer DropObserver
	samples  *ringchan.RingChannel[Sample]
	logger   *logrus.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithObserver reports dropped and accepted samples.
func WithObserver(o DropObserver) RouterOption {
	return func(r *Router) { r.observer = o }
}

// WithSampleChannel publishes every accepted sample to rc as well.
func WithSampleChannel(rc *ringchan.RingChannel[Sample]) RouterOption {
	return func(r *Router) { r.samples = rc }
}

// NewRouter creates a Router dispatching to sink, which may be nil.
func NewRouter(sink Sink, logger *logrus.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Router{sink: sink, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleRaw decodes every frame in data and dispatches it. Payloads that do
// not decode are logged and dropped.
func (r *Router) HandleRaw(data []byte) {
	frames := protocol.DecodeAll(data)
	if len(frames) == 0 {
		r.logger.WithField("payload", string(data)).Debug("Dropping undecodable telemetry payload")
		r.observeDrop(DropDecode)
		return
	}
	for _, f := range frames {
		r.HandleFrame(f)
	}
}

// HandleFrame validates and dispatches a single frame. It returns the accepted
// sample, or nil when the frame was dropped.
func (r *Router) HandleFrame(f protocol.Frame) Sample {
	sample, err := ParseSample(f)
	if err != nil {
		reason := DropValidation
		if errors.Is(err, ErrUnknownKey) {
			reason = DropUnknownKey
		}
		r.logger.WithFields(logrus.Fields{
			"key":    f.Key,
			"value":  f.Value,
			"reason": reason,
		}).Debug("Dropping telemetry frame")
		r.observeDrop(reason)
		return nil
	}

	r.dispatch(sample)
	if r.observer != nil {
		r.observer.ObserveTelemetrySample(sample.Key())
	}
	if r.samples != nil {
		r.samples.Send(sample)
	}
	return sample
}

func (r *Router) dispatch(s Sample) {
	if r.sink != nil {
		Dispatch(r.sink, s)
	}
}

// Dispatch hands s to the matching Sink method. Consumers draining a sample
// channel use it to render outside the transport callback.
func Dispatch(sink Sink, s Sample) {
	switch v := s.(type) {
	case Distance:
		sink.OnDistance(v, ClassifyProximity(v.CM))
	case Motor:
		sink.OnMotor(v)
	case Battery:
		sink.OnBattery(v)
	case Temperature:
		sink.OnTemperature(v)
	case Status:
		sink.OnStatus(v)
	}
}

func (r *Router) observeDrop(reason string) {
	if r.observer != nil {
		r.observer.ObserveTelemetryDrop(reason)
	}
}
