// Package webhook accepts playback notifications from media servers.
package webhook

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/Pouzor/servarr-hub/internal/logging"
	"github.com/Pouzor/servarr-hub/internal/metrics"
	"github.com/Pouzor/servarr-hub/internal/playback"
	"github.com/Pouzor/servarr-hub/internal/sessions"
)

// EventHandler applies a normalized event to session state.
type EventHandler interface {
	Handle(ctx context.Context, ev playback.PlaybackEvent) (sessions.Result, error)
}

type response struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Event     string `json:"event"`
	Outcome   string `json:"outcome,omitempty"`
}

// Playback handles POST /webhook/playback. ?source= forces a payload shape
// (generic, emby, jellyfin); by default the shape is detected.
func Playback(h EventHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		var ctx context.Context = c
		if id := logging.RequestID(c); id != "" {
			ctx = logging.WithRequestID(ctx, id)
		}
		log := logging.Default().WithContext(ctx)

		hint := playback.ParseHint(c.Query("source"))
		ev, err := playback.NormalizeJSON(c.Body(), hint)
		if err != nil {
			return rejected(c, log, err)
		}

		res, err := h.Handle(ctx, ev)
		if err != nil {
			log.Error("webhook: handling event failed", "event", ev.RawEvent, "media_id", ev.MediaID,
				"user_id", ev.UserID, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to process event"})
		}

		out := response{Status: "success", Event: ev.RawEvent, Outcome: string(res.Outcome)}
		if res.Outcome == sessions.OutcomeNoActiveSession {
			out.Status = string(sessions.OutcomeNoActiveSession)
			out.Outcome = ""
		}
		if res.Session != nil {
			out.SessionID = res.Session.ID
		}
		return c.JSON(out)
	}
}

func rejected(c fiber.Ctx, log logging.Logger, err error) error {
	var ne *playback.NormalizationError
	if !errors.As(err, &ne) {
		log.Error("webhook: normalize failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to process event"})
	}
	metrics.WebhookRejected.WithLabelValues(string(ne.Kind)).Inc()

	switch ne.Kind {
	case playback.UnsupportedEvent:
		log.Debug("webhook: ignoring event", "event", ne.Event)
		return c.JSON(response{Status: "ignored", Event: ne.Event})
	case playback.MissingField:
		log.Warn("webhook: rejected payload", "reason", ne.Kind, "field", ne.Field)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ne.Error(), "reason": ne.Kind, "field": ne.Field})
	default:
		log.Warn("webhook: rejected payload", "reason", ne.Kind)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ne.Error(), "reason": ne.Kind})
	}
}
