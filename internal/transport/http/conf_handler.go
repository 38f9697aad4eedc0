package http

import (
	"context"
	"errors"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiregate/internal/conference"
	"github.com/vovakirdan/wiregate/internal/core"
	"github.com/vovakirdan/wiregate/internal/proto"
)

// ConfHandler serves conference monitor connections.
type ConfHandler struct {
	registry *conference.Registry
	log      *zerolog.Logger
}

// NewConfHandler builds the conference websocket handler.
func NewConfHandler(registry *conference.Registry, logger *zerolog.Logger) *ConfHandler {
	return &ConfHandler{registry: registry, log: logger}
}

// Handle serves one monitor connection.
// GET /conf
func (h *ConfHandler) Handle(c *gin.Context) {
	conn, err := acceptWS(c)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	mon := conference.NewMonitor(uuid.NewString(), identityFrom(c))
	log := h.log.With().Str("monitor_id", mon.ID).Str("user", mon.Identity.Name).Logger()
	log.Info().Bool("staff", mon.Identity.IsStaff).Msg("monitor connection opened")
	defer h.registry.Detach(mon)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- guard(&log, func() error { return h.readLoop(ctx, conn, mon, &log) })
	}()
	go func() {
		errCh <- guard(&log, func() error { return h.writeLoop(ctx, conn, mon, &log) })
	}()

	err = <-errCh
	cancel()
	<-errCh

	closeConn(conn, err, &log)
	log.Info().Msg("monitor connection closed")
}

func (h *ConfHandler) readLoop(ctx context.Context, conn *websocket.Conn, mon *conference.Monitor, log *zerolog.Logger) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		req, err := inboundToControl(inbound)
		if errors.Is(err, errUnknownType) {
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: &proto.Error{Code: core.ErrCodeBadRequest, Msg: err.Error()},
			}); writeErr != nil {
				return writeErr
			}
			continue
		}
		if err != nil {
			log.Warn().Err(err).Msg("dropping monitor after malformed message")
			return err
		}

		switch req.kind {
		case proto.InboundTypeMonitorStart:
			if err := h.registry.Start(mon, req.conf); err != nil {
				log.Debug().Err(err).Msg("monitor start rejected")
			}
		case proto.InboundTypeMonitorStop:
			h.registry.Stop(mon, req.conf)
		default:
			// Moderation failures are not reported back to the client.
			if err := h.registry.Control(ctx, mon, req.action, req.conf, req.id); err != nil {
				log.Debug().Err(err).Str("action", req.action).Str("conference", req.conf).Int("member", req.id).Msg("moderation ignored")
			}
		}
	}
}

func (h *ConfHandler) writeLoop(ctx context.Context, conn *websocket.Conn, mon *conference.Monitor, log *zerolog.Logger) error {
	for {
		select {
		case ev := <-mon.Events:
			if err := wsjson.Write(ctx, conn, outboundFromConference(ev)); err != nil {
				log.Error().Err(err).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
