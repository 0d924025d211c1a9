package bridge

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cliffcho242/hiremebahamas-realtime/internal/event"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/metrics"
)

// Bridge publishes locally originated envelopes to the bus and feeds
// remotely originated envelopes into local delivery. The origin filter plus
// the dispatcher's dual-path (deliver local-direct, then publish for remote
// processes only) prevents both republish loops and double delivery to
// same-process sessions.
//
// A nil bus runs the bridge in single-process mode: Publish is a no-op and
// no subscriber loop starts. Local delivery is unaffected.
type Bridge struct {
	bus       Bus
	processID string
	log       zerolog.Logger

	// Broker outages degrade silently; this bounds the warn log to roughly
	// one line per ten seconds of sustained failure.
	warnLimit *rate.Limiter

	sub Subscription
}

func New(bus Bus, processID string, log zerolog.Logger) *Bridge {
	return &Bridge{
		bus:       bus,
		processID: processID,
		log:       log.With().Str("component", "bridge").Logger(),
		warnLimit: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// ProcessID returns this process's identity on the bus.
func (b *Bridge) ProcessID() string { return b.processID }

// Publish sends an envelope to the bus so other processes can deliver it to
// their local sessions. Failures never propagate: cross-process delivery is
// simply lost for the outage duration while local-direct delivery proceeds.
func (b *Bridge) Publish(env event.Envelope) {
	if b.bus == nil {
		return
	}

	data, err := env.Encode()
	if err != nil {
		metrics.BridgeErrors.WithLabelValues("encode").Inc()
		b.log.Error().Err(err).Str("target", env.Target).Msg("failed to encode envelope")
		return
	}

	if err := b.bus.Publish(event.RoomSubject(env.Target), data); err != nil {
		metrics.BridgeErrors.WithLabelValues("publish").Inc()
		if b.warnLimit.Allow() {
			b.log.Warn().Err(err).
				Str("target", env.Target).
				Msg("bus publish failed, degrading to local-only delivery")
		}
		return
	}
	metrics.BridgePublished.Inc()
}

// Start subscribes to the room namespace and routes every remotely
// originated envelope through deliver. Envelopes this process published are
// filtered out by origin.
func (b *Bridge) Start(deliver func(event.Envelope)) error {
	if b.bus == nil {
		return nil
	}

	sub, err := b.bus.Subscribe(event.SubjectWildcard, func(subject string, data []byte) {
		env, err := event.DecodeEnvelope(data)
		if err != nil {
			metrics.EventsDropped.WithLabelValues("malformed_envelope").Inc()
			b.log.Debug().Err(err).Str("subject", subject).Msg("dropped malformed envelope")
			return
		}
		if env.Origin == b.processID {
			return
		}
		metrics.BridgeReceived.Inc()
		deliver(env)
	})
	if err != nil {
		metrics.BridgeErrors.WithLabelValues("subscribe").Inc()
		return err
	}

	b.sub = sub
	return nil
}

// Stop tears down the subscriber loop.
func (b *Bridge) Stop() {
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			b.log.Debug().Err(err).Msg("unsubscribe failed")
		}
		b.sub = nil
	}
}
