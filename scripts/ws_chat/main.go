package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wiregate/internal/proto"
)

// incoming mirrors proto.Outbound with the data left raw.
type incoming struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/chat", "WebSocket address")
	session := flag.String("session", "", "sessionid cookie value (anonymous when empty)")
	token := flag.String("token", "", "bearer token")
	room := flag.String("room", "general", "room to join")
	flag.Parse()

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	header := http.Header{}
	if *session != "" {
		header.Set("Cookie", "sessionid="+*session)
	}
	if *token != "" {
		header.Set("Authorization", "Bearer "+*token)
	}

	conn, _, err := websocket.Dial(ctx, *addr, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, conn, proto.InboundTypeJoin, proto.RoomData{Room: *room}); err != nil {
		return err
	}

	fmt.Printf("Connected to %s, joining %s\n", *addr, *room)
	fmt.Println("Type messages and press Enter to send. /me <text> emotes, /kick <user> kicks, /leave leaves. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, *room)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	in := proto.Inbound{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		in.Data = raw
	}
	if err := wsjson.Write(ctx, conn, in); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var out incoming
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}
		if out.Type == proto.OutboundTypeError && out.Error != nil {
			fmt.Printf("error %s: %s\n", out.Error.Code, out.Error.Msg)
			continue
		}
		printEvent(out)
	}
}

func printEvent(out incoming) {
	switch out.Event {
	case proto.EventMsg:
		var evt proto.EventMsgData
		if err := json.Unmarshal(out.Data, &evt); err != nil {
			log.Printf("unmarshal msg: %v", err)
			return
		}
		if evt.Emote {
			fmt.Printf("[%s] * %s %s\n", evt.Room, evt.User.Name, evt.Text)
		} else {
			fmt.Printf("[%s] %s: %s\n", evt.Room, evt.User.Name, evt.Text)
		}
	case proto.EventJoinAck:
		var evt proto.EventJoinAckData
		if err := json.Unmarshal(out.Data, &evt); err != nil {
			log.Printf("unmarshal join_ack: %v", err)
			return
		}
		names := make([]string, 0, len(evt.Users))
		for name := range evt.Users {
			names = append(names, name)
		}
		fmt.Printf("[%s] joined as %s, present: %s\n", evt.Room, evt.User.Name, strings.Join(names, ", "))
	case proto.EventJoin, proto.EventLeave:
		var evt proto.EventPresenceData
		if err := json.Unmarshal(out.Data, &evt); err != nil {
			log.Printf("unmarshal %s: %v", out.Event, err)
			return
		}
		verb := "joined"
		if out.Event == proto.EventLeave {
			verb = "left"
		}
		fmt.Printf("[%s] %s %s\n", evt.Room, evt.User.Name, verb)
	case proto.EventKicked:
		var evt proto.EventKickedData
		if err := json.Unmarshal(out.Data, &evt); err != nil {
			log.Printf("unmarshal kicked: %v", err)
			return
		}
		fmt.Printf("[%s] kicked by %s\n", evt.Room, evt.By)
	default:
		fmt.Printf("event=%s data=%s\n", out.Event, out.Data)
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, room string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			var err error
			switch {
			case text == "/leave":
				err = send(ctx, conn, proto.InboundTypeLeave, proto.RoomData{Room: room})
			case text == "/ping":
				err = send(ctx, conn, proto.InboundTypePing, nil)
			case strings.HasPrefix(text, "/kick "):
				err = send(ctx, conn, proto.InboundTypeKick, proto.KickData{Room: room, User: strings.TrimPrefix(text, "/kick ")})
			case strings.HasPrefix(text, "/me "):
				err = send(ctx, conn, proto.InboundTypeMsg, proto.MsgData{Room: room, Text: strings.TrimPrefix(text, "/me "), Emote: true})
			default:
				err = send(ctx, conn, proto.InboundTypeMsg, proto.MsgData{Room: room, Text: text})
			}
			if err != nil {
				log.Printf("%v", err)
				return
			}
		}
	}
}
