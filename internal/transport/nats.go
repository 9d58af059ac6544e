/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transport connects the client to the control broker. Commands
// arrive on a per-client subject; status and now-playing events flow back
// on their own subjects.
package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/commands"
	"github.com/friendsincode/heimdall_signage/internal/config"
	"github.com/friendsincode/heimdall_signage/internal/events"
)

// Transport owns the broker connection.
type Transport struct {
	cfg     *config.Config
	conn    *nats.Conn
	handler *commands.Handler
	bus     *events.Bus
	logger  zerolog.Logger

	// publishFn defaults to the broker connection; swappable in tests
	publishFn func(subject string, data []byte) error
}

// Connect dials the broker. The connection retries forever; a signage
// client should keep playing through broker outages and rejoin when it
// can.
func Connect(cfg *config.Config, handler *commands.Handler, bus *events.Bus, logger zerolog.Logger) (*Transport, error) {
	log := logger.With().Str("component", "transport").Logger()

	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("heimdall-"+cfg.ClientID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("broker connection lost")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("broker connection restored")
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Transport{
		cfg:       cfg,
		conn:      conn,
		handler:   handler,
		bus:       bus,
		logger:    log,
		publishFn: conn.Publish,
	}, nil
}

// Run subscribes for commands, forwards bus events to the broker, and
// blocks until the context ends. An offline status is published on the way
// out.
func (t *Transport) Run(ctx context.Context) error {
	sub, err := t.conn.Subscribe(t.cfg.SubjectCmd(), func(msg *nats.Msg) {
		data, mirror := t.dispatch(ctx, msg.Data)
		if msg.Reply != "" {
			_ = msg.Respond(data)
		}
		if mirror {
			t.publish(t.cfg.SubjectStatus(), data)
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	t.publishStatus(events.Payload{"event": "status", "online": true, "client_id": t.cfg.ClientID})

	statusCh := t.bus.Subscribe(events.EventStatus)
	errCh := t.bus.Subscribe(events.EventError)
	activatedCh := t.bus.Subscribe(events.EventScheduleActivated)
	tvOnCh := t.bus.Subscribe(events.EventScheduleTVOn)
	tvOffCh := t.bus.Subscribe(events.EventScheduleTVOff)
	startCh := t.bus.Subscribe(events.EventPlaybackStart)
	endCh := t.bus.Subscribe(events.EventPlaybackEnd)
	defer func() {
		t.bus.Unsubscribe(events.EventStatus, statusCh)
		t.bus.Unsubscribe(events.EventError, errCh)
		t.bus.Unsubscribe(events.EventScheduleActivated, activatedCh)
		t.bus.Unsubscribe(events.EventScheduleTVOn, tvOnCh)
		t.bus.Unsubscribe(events.EventScheduleTVOff, tvOffCh)
		t.bus.Unsubscribe(events.EventPlaybackStart, startCh)
		t.bus.Unsubscribe(events.EventPlaybackEnd, endCh)
	}()

	for {
		select {
		case <-ctx.Done():
			t.publishStatus(events.Payload{"event": "status", "online": false, "client_id": t.cfg.ClientID})
			t.conn.Flush()
			t.conn.Close()
			return nil
		case p := <-statusCh:
			t.publishStatus(p)
		case p := <-errCh:
			t.publishStatus(p)
		case p := <-activatedCh:
			t.publishStatus(p)
		case p := <-tvOnCh:
			t.publishStatus(p)
		case p := <-tvOffCh:
			t.publishStatus(p)
		case p := <-startCh:
			t.publish(t.cfg.SubjectNowPlaying(), t.encode(p))
		case p := <-endCh:
			t.publish(t.cfg.SubjectNowPlaying(), t.encode(p))
		}
	}
}

// dispatch runs one command and reports whether the response belongs on
// the status subject. Rejections go back on the reply only: the error
// event the handler publishes already reaches the status subject, and
// mirroring the failure payload too would report each rejection twice.
func (t *Transport) dispatch(ctx context.Context, raw []byte) (data []byte, mirror bool) {
	resp := t.handler.Handle(ctx, raw)
	return t.encode(resp), resp["ok"] == true
}

func (t *Transport) publishStatus(p events.Payload) {
	t.publish(t.cfg.SubjectStatus(), t.encode(p))
}

func (t *Transport) publish(subject string, data []byte) {
	if data == nil {
		return
	}
	if err := t.publishFn(subject, data); err != nil {
		t.logger.Warn().Err(err).Str("subject", subject).Msg("publish failed")
	}
}

func (t *Transport) encode(p events.Payload) []byte {
	data, err := json.Marshal(p)
	if err != nil {
		t.logger.Warn().Err(err).Msg("payload not encodable")
		return nil
	}
	return data
}
