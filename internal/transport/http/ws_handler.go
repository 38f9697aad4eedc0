package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiregate/internal/core"
	"github.com/vovakirdan/wiregate/internal/proto"
	"github.com/vovakirdan/wiregate/internal/ratelimit"
)

var errEvicted = errors.New("connection replaced")

// ChatHandler upgrades HTTP connections and bridges them to core.Client.
type ChatHandler struct {
	hub     *core.Hub
	limiter *ratelimit.Limiter
	log     *zerolog.Logger
}

// NewChatHandler builds the chat websocket handler. limiter may be nil.
func NewChatHandler(hub *core.Hub, limiter *ratelimit.Limiter, logger *zerolog.Logger) *ChatHandler {
	return &ChatHandler{hub: hub, limiter: limiter, log: logger}
}

// Handle serves one chat connection.
// GET /chat
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := acceptWS(c)
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	client := core.NewClient(uuid.NewString(), identityFrom(c), c.ClientIP())
	log := h.log.With().Str("client_id", client.ID).Str("user", client.Name()).Logger()
	log.Info().Str("remote", client.Addr).Msg("chat connection opened")

	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- guard(&log, func() error { return h.readLoop(ctx, conn, client, &log) })
	}()
	go func() {
		errCh <- guard(&log, func() error { return h.writeLoop(ctx, conn, client, &log) })
	}()

	err = <-errCh
	cancel()
	<-errCh

	closeConn(conn, err, &log)
	log.Info().Msg("chat connection closed")
}

func (h *ChatHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, log *zerolog.Logger) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		cmd, err := inboundToCommand(inbound)
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
			log.Warn().Err(err).Msg("dropping client after malformed message")
			return err
		}

		submit := func() { client.Submit(cmd) }
		switch cmd.Kind {
		case core.CommandJoinRoom, core.CommandSendRoomMessage:
			if h.limiter != nil {
				h.limiter.Throttle(client.Addr, submit)
				continue
			}
		}
		submit()
	}
}

// writeLoop stops once the hub tears the client down, after flushing what
// the hub queued before that.
func (h *ChatHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, log *zerolog.Logger) error {
	write := func(ev *core.Event) error {
		if err := wsjson.Write(ctx, conn, outboundFromEvent(ev)); err != nil {
			log.Error().Err(err).Msg("write ws event")
			return err
		}
		return nil
	}
	for {
		select {
		case ev := <-client.Events:
			if err := write(ev); err != nil {
				return err
			}
		case <-client.Done():
			for {
				select {
				case ev := <-client.Events:
					if err := write(ev); err != nil {
						return err
					}
				default:
					return errEvicted
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// guard turns a panic in a connection goroutine into an error so only that
// connection is dropped.
// acceptWS upgrades the request on gin's underlying writer. gin refuses to
// hijack once the 101 header has gone out through its own wrapper.
func acceptWS(c *gin.Context) (*websocket.Conn, error) {
	var w http.ResponseWriter = c.Writer
	if u, ok := w.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = u.Unwrap()
	}
	return websocket.Accept(w, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
}

func guard(log *zerolog.Logger, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Msg("connection handler failed")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn()
}

func closeConn(conn *websocket.Conn, err error, log *zerolog.Logger) {
	status := websocket.StatusNormalClosure
	reason := "closing"
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
	case errors.Is(err, errEvicted):
		reason = err.Error()
	case errors.Is(err, errMalformed):
		status = websocket.StatusPolicyViolation
		reason = "malformed message"
	default:
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		default:
			status = websocket.StatusInternalError
			reason = "internal error"
			log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}
	conn.Close(status, reason)
}
