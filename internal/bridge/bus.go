// Package bridge reconciles each process's local-only session visibility
// into cluster-wide delivery: events dispatched on one process are published
// to a shared bus and delivered by every other process to its own local
// sessions.
package bridge

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/cliffcho242/hiremebahamas-realtime/internal/metrics"
)

// Bus is the cross-process message channel. The production implementation is
// NATS; tests join several bridges through an in-memory bus to simulate a
// multi-process cluster.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(subject string, data []byte)) (Subscription, error)
	Close()
}

// Subscription is a live bus subscription.
type Subscription interface {
	Unsubscribe() error
}

type natsBus struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NewNATSBus connects to the broadcast bus with bounded timeouts so a broker
// outage can never stall the local delivery path, and reconnect handlers
// that keep the connection-state metric honest.
func NewNATSBus(url string, log zerolog.Logger) (Bus, error) {
	busLog := log.With().Str("component", "bus").Logger()

	conn, err := nats.Connect(url,
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			metrics.BridgeConnected.Set(0)
			busLog.Warn().Err(err).Msg("bus disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			metrics.BridgeConnected.Set(1)
			busLog.Info().Str("url", c.ConnectedUrl()).Msg("bus reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			busLog.Warn().Err(err).Msg("bus async error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to bus: %w", err)
	}

	metrics.BridgeConnected.Set(1)
	busLog.Info().Str("url", url).Msg("connected to bus")
	return &natsBus{conn: conn, log: busLog}, nil
}

func (b *natsBus) Publish(subject string, data []byte) error {
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (b *natsBus) Subscribe(subject string, handler func(string, []byte)) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

func (b *natsBus) Close() {
	b.conn.Close()
	metrics.BridgeConnected.Set(0)
}
