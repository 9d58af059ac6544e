/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics for the playback engine.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/friendsincode/heimdall_signage/internal/engine"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

var (
	playbackAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_playback_attempts_total",
		Help: "Playback attempts started, by item kind.",
	}, []string{"kind"})

	itemsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_items_finished_total",
		Help: "Finished playback attempts, by item kind and outcome.",
	}, []string{"kind", "outcome"})

	modeGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "heimdall_mode",
		Help: "Current playback mode, one-hot over idle/loop/direct.",
	}, []string{"mode"})

	scheduledActivations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heimdall_scheduled_activations_total",
		Help: "Scheduled playlist activations fired.",
	})

	commandErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heimdall_command_errors_total",
		Help: "Control commands rejected.",
	})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler { return promhttp.Handler() }

// SetMode records the playback mode as a one-hot gauge.
func SetMode(mode engine.Mode) {
	for _, m := range []engine.Mode{engine.ModeIdle, engine.ModeLoop, engine.ModeDirect} {
		v := 0.0
		if m == mode {
			v = 1.0
		}
		modeGauge.WithLabelValues(string(m)).Set(v)
	}
}

// RunCollector feeds the counters from bus events until the context ends.
func RunCollector(ctx context.Context, bus *events.Bus) {
	starts := bus.Subscribe(events.EventPlaybackStart)
	ends := bus.Subscribe(events.EventPlaybackEnd)
	activations := bus.Subscribe(events.EventScheduleActivated)
	errs := bus.Subscribe(events.EventError)
	status := bus.Subscribe(events.EventStatus)
	defer func() {
		bus.Unsubscribe(events.EventPlaybackStart, starts)
		bus.Unsubscribe(events.EventPlaybackEnd, ends)
		bus.Unsubscribe(events.EventScheduleActivated, activations)
		bus.Unsubscribe(events.EventError, errs)
		bus.Unsubscribe(events.EventStatus, status)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-starts:
			if item, ok := p["item"].(models.PlaybackItem); ok {
				playbackAttempts.WithLabelValues(string(item.Kind)).Inc()
			}
		case p := <-ends:
			item, ok := p["item"].(models.PlaybackItem)
			if !ok {
				continue
			}
			outcome, _ := p["outcome"].(string)
			itemsFinished.WithLabelValues(string(item.Kind), outcome).Inc()
		case <-activations:
			scheduledActivations.Inc()
		case <-errs:
			commandErrors.Inc()
		case p := <-status:
			if state, ok := p["state"].(engine.State); ok {
				SetMode(state.Mode)
			}
		}
	}
}
