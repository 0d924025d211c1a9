// Command realtime runs the HireMeBahamas realtime gateway: the process that
// holds client WebSocket connections and fans domain events out to them
// across every replica.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/cliffcho242/hiremebahamas-realtime/internal/auth"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/bridge"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/config"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/dispatch"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/event"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/logging"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/metrics"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/session"
	"github.com/cliffcho242/hiremebahamas-realtime/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}

	reg := session.NewRegistry()
	rooms := session.NewRooms(reg)

	// The presence notifier closes over the dispatcher, which itself needs
	// the hub; wire the callback through a variable set below.
	var dispatcher *dispatch.Dispatcher
	presence := session.NewPresence(cfg.PresenceDebounce, reg.UserSessionCount,
		func(userID string, online bool) {
			status := "offline"
			if online {
				status = "online"
			}
			metrics.PresenceTransitions.WithLabelValues(status).Inc()
			dispatcher.Dispatch(event.FollowersRoom(userID), event.KindUserStatus, map[string]any{
				"user_id": userID,
				"status":  status,
			})
		})

	hub := session.NewHub(reg, rooms, presence, log)

	var bus bridge.Bus
	if cfg.NATSURL != "" {
		bus, err = bridge.NewNATSBus(cfg.NATSURL, log)
		if err != nil {
			// Cross-process fanout degrades to local-only; the process still
			// serves its own sessions.
			log.Error().Err(err).Str("url", cfg.NATSURL).
				Msg("bus unavailable at startup, running local-only")
			bus = nil
		}
	} else {
		log.Warn().Msg("no NATS_URL configured, running single-process mode")
	}

	br := bridge.New(bus, cfg.ProcessID, log)
	dispatcher = dispatch.New(hub, br, log)
	if err := br.Start(func(env event.Envelope) { dispatcher.DeliverLocal(env) }); err != nil {
		log.Fatal().Err(err).Msg("failed to start broadcast bridge")
	}

	gate := auth.NewGate(auth.NewJWTVerifier(cfg.JWTSecret), cfg.AuthTimeout)
	server := transport.NewServer(cfg, log, gate, hub, dispatcher)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := session.NewHeartbeatMonitor(cfg.HeartbeatInterval, cfg.HeartbeatTimeout(), reg, hub, log)
	go monitor.Run(ctx)

	if err := server.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start transport")
	}

	log.Info().
		Str("process_id", cfg.ProcessID).
		Str("addr", cfg.Addr).
		Dur("heartbeat_interval", cfg.HeartbeatInterval).
		Dur("presence_debounce", cfg.PresenceDebounce).
		Msg("realtime gateway started")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	presence.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("transport shutdown error")
	}

	br.Stop()
	if bus != nil {
		bus.Close()
	}
	log.Info().Msg("shutdown complete")
}
