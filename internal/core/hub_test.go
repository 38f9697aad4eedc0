package core

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestHubJoinBroadcastAndLeave(t *testing.T) {
	hub := startHub(t)

	alice := newUser("a", "alice", false)
	bob := newUser("b", "bob", false)

	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	ack := mustEvent(t, alice.Events, EventJoinAck)
	if ack.Room != "general" || ack.User.Name != "alice" || len(ack.Users) != 1 {
		t.Fatalf("unexpected join ack: %+v", ack)
	}

	bob.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	ack = mustEvent(t, bob.Events, EventJoinAck)
	if _, ok := ack.Users["alice"]; !ok || len(ack.Users) != 2 {
		t.Fatalf("join ack should carry the member snapshot: %+v", ack.Users)
	}

	// Alice sees Bob join; Bob does not see his own join.
	joinEv := mustEvent(t, alice.Events, EventUserJoined)
	if joinEv.User.Name != "bob" || joinEv.Room != "general" {
		t.Fatalf("unexpected join event: %+v", joinEv)
	}
	mustNoEvent(t, bob.Events, EventUserJoined)

	alice.Commands <- &Command{
		Kind:    CommandSendRoomMessage,
		Room:    "general",
		Message: Message{Text: "hi", Emote: true},
	}

	// Everyone, sender included, gets the message.
	for _, c := range []*Client{alice, bob} {
		msgEv := mustEvent(t, c.Events, EventRoomMessage)
		if msgEv.Message.Text != "hi" || msgEv.Message.Room != "general" || msgEv.Message.From.Name != "alice" || !msgEv.Message.Emote {
			t.Fatalf("unexpected message event: %+v", msgEv)
		}
	}

	alice.Commands <- &Command{Kind: CommandLeaveRoom, Room: "general"}
	mustEvent(t, alice.Events, EventLeaveAck)
	leftEv := mustEvent(t, bob.Events, EventUserLeft)
	if leftEv.User.Name != "alice" || leftEv.Room != "general" {
		t.Fatalf("unexpected leave event: %+v", leftEv)
	}
	mustNoEvent(t, alice.Events, EventUserLeft)
}

func TestHubAnonymousScenario(t *testing.T) {
	hub := startHub(t)

	first := newUser("c1", "anon1", false)
	second := newUser("c2", "anon2", false)
	hub.RegisterClient(first)
	hub.RegisterClient(second)

	first.Commands <- &Command{Kind: CommandJoinRoom, Room: "pub"}
	ack := mustEvent(t, first.Events, EventJoinAck)
	if ack.Room != "pub" || ack.User.Name != "anon1" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if _, ok := ack.Users["anon1"]; !ok {
		t.Fatalf("snapshot missing self: %+v", ack.Users)
	}

	second.Commands <- &Command{Kind: CommandJoinRoom, Room: "pub"}
	joined := mustEvent(t, first.Events, EventUserJoined)
	if joined.User.Name != "anon2" {
		t.Fatalf("expected anon2 join, got %+v", joined)
	}
}

func TestHubDoubleJoinProducesError(t *testing.T) {
	hub := startHub(t)

	alice := newUser("a", "alice", false)
	hub.RegisterClient(alice)

	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeAlreadyJoined {
		t.Fatalf("expected already_joined error, got %+v", ev)
	}
}

func TestHubRejectsBadRoomNames(t *testing.T) {
	hub := startHub(t)

	alice := newUser("a", "alice", false)
	hub.RegisterClient(alice)

	for _, name := range []string{"", "1abc", "has space", strings.Repeat("x", MaxRoomNameLen+1)} {
		alice.Commands <- &Command{Kind: CommandJoinRoom, Room: name}
		ev := mustEvent(t, alice.Events, EventError)
		if ev.Error.Code != ErrCodeBadRoomName {
			t.Fatalf("room %q: expected bad_room_name, got %+v", name, ev.Error)
		}
	}
	mustNoEvent(t, alice.Events, EventJoinAck)
}

func TestHubSendWithoutJoinProducesError(t *testing.T) {
	hub := startHub(t)

	alice := newUser("a", "alice", false)
	hub.RegisterClient(alice)

	alice.Commands <- &Command{
		Kind:    CommandSendRoomMessage,
		Room:    "general",
		Message: Message{Text: "hi"},
	}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeNotInRoom {
		t.Fatalf("expected not_in_room error, got %+v", ev)
	}
}

func TestHubMessageLengthLimits(t *testing.T) {
	hub := startHub(t)

	alice := newUser("a", "alice", false)
	hub.RegisterClient(alice)
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	mustEvent(t, alice.Events, EventJoinAck)

	alice.Commands <- &Command{Kind: CommandSendRoomMessage, Room: "general", Message: Message{Text: ""}}
	if ev := mustEvent(t, alice.Events, EventError); ev.Error.Code != ErrCodeBadRequest {
		t.Fatalf("expected bad_request, got %+v", ev.Error)
	}

	alice.Commands <- &Command{Kind: CommandSendRoomMessage, Room: "general", Message: Message{Text: strings.Repeat("é", MaxMessageLen+1)}}
	if ev := mustEvent(t, alice.Events, EventError); ev.Error.Code != ErrCodeTextTooLong {
		t.Fatalf("expected text_too_long, got %+v", ev.Error)
	}

	// Exactly at the limit, counted in characters rather than bytes.
	alice.Commands <- &Command{Kind: CommandSendRoomMessage, Room: "general", Message: Message{Text: strings.Repeat("é", MaxMessageLen)}}
	mustEvent(t, alice.Events, EventRoomMessage)
}

func TestHubLeaveUnknownRoomError(t *testing.T) {
	hub := startHub(t)

	alice := newUser("a", "alice", false)
	hub.RegisterClient(alice)

	alice.Commands <- &Command{Kind: CommandLeaveRoom, Room: "ghost"}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeNotInRoom {
		t.Fatalf("expected not_in_room error, got %+v", ev)
	}
}

func TestHubSecondConnectionEvictsFirst(t *testing.T) {
	hub := startHub(t)

	first := newUser("a1", "alice", false)
	bob := newUser("b", "bob", false)
	hub.RegisterClient(first)
	hub.RegisterClient(bob)

	first.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	mustEvent(t, first.Events, EventJoinAck)
	bob.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	mustEvent(t, bob.Events, EventJoinAck)

	second := newUser("a2", "alice", false)
	hub.RegisterClient(second)

	mustEvent(t, first.Events, EventDisconnected)
	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("evicted client was not closed")
	}
	left := mustEvent(t, bob.Events, EventUserLeft)
	if left.User.Name != "alice" {
		t.Fatalf("unexpected leave: %+v", left)
	}

	// The new connection can join the same room under the same name.
	second.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	ack := mustEvent(t, second.Events, EventJoinAck)
	if len(ack.Users) != 2 {
		t.Fatalf("unexpected snapshot: %+v", ack.Users)
	}

	// Late teardown of the evicted connection must not unregister the new one.
	hub.UnregisterClient(first)
	hub.Publish(Notification{Type: "ows.ping", Dest: "alice"})
	mustEvent(t, second.Events, EventNotification)

	if first.Submit(&Command{Kind: CommandPing}) {
		t.Fatal("submit on a torn down client should fail")
	}
}

func TestHubKick(t *testing.T) {
	hub := startHub(t)

	mod := newUser("m", "mod", true)
	alice := newUser("a", "alice", false)
	bob := newUser("b", "bob", false)
	for _, c := range []*Client{mod, alice, bob} {
		hub.RegisterClient(c)
		c.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
		mustEvent(t, c.Events, EventJoinAck)
	}

	// Non-staff kick is a silent no-op.
	alice.Commands <- &Command{Kind: CommandKick, Room: "general", Target: "bob"}
	mustNoEvent(t, bob.Events, EventKicked)

	// Unknown target and wrong room are no-ops too.
	mod.Commands <- &Command{Kind: CommandKick, Room: "general", Target: "nobody"}
	mod.Commands <- &Command{Kind: CommandKick, Room: "other", Target: "bob"}
	mustNoEvent(t, bob.Events, EventKicked)

	mod.Commands <- &Command{Kind: CommandKick, Room: "general", Target: "bob"}
	kicked := mustEvent(t, bob.Events, EventKicked)
	if kicked.Room != "general" || kicked.By != "mod" {
		t.Fatalf("unexpected kicked event: %+v", kicked)
	}
	mustEvent(t, bob.Events, EventLeaveAck)
	left := mustEvent(t, alice.Events, EventUserLeft)
	if left.User.Name != "bob" {
		t.Fatalf("unexpected leave: %+v", left)
	}

	rooms, err := hub.Rooms(context.Background())
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if len(rooms) != 1 || len(rooms[0].Members) != 2 {
		t.Fatalf("unexpected rooms: %+v", rooms)
	}
}

func TestHubDisconnectKeepsEmptyRooms(t *testing.T) {
	hub := startHub(t)

	alice := newUser("a", "alice", false)
	hub.RegisterClient(alice)
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	mustEvent(t, alice.Events, EventJoinAck)

	hub.UnregisterClient(alice)
	mustEvent(t, alice.Events, EventDisconnected)
	hub.UnregisterClient(alice)

	rooms, err := hub.Rooms(context.Background())
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].Name != "general" || len(rooms[0].Members) != 0 {
		t.Fatalf("expected the empty room to be retained, got %+v", rooms)
	}
}

func TestHubPingPong(t *testing.T) {
	hub := startHub(t)

	alice := newUser("a", "alice", false)
	hub.RegisterClient(alice)
	alice.Commands <- &Command{Kind: CommandPing}
	mustEvent(t, alice.Events, EventPong)
}

func TestHubPublishRoutesByDestination(t *testing.T) {
	hub := startHub(t)

	alice := newUser("a", "alice", false)
	bob := newUser("b", "bob", false)
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	payload := json.RawMessage(`{"text":"you have mail"}`)
	if err := hub.Publish(Notification{Type: "ows.notify", Dest: "alice", Payload: payload}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev := mustEvent(t, alice.Events, EventNotification)
	if ev.Notification.Type != "ows.notify" || string(ev.Notification.Payload) != string(payload) {
		t.Fatalf("unexpected notification: %+v", ev.Notification)
	}
	mustNoEvent(t, bob.Events, EventNotification)

	if err := hub.Publish(Notification{Type: "ows.broadcast", Dest: BroadcastChannel}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	mustEvent(t, alice.Events, EventNotification)
	mustEvent(t, bob.Events, EventNotification)
}

func TestHubRecoversFromHandlerPanic(t *testing.T) {
	hub := startHub(t)

	alice := newUser("a", "alice", false)
	bob := newUser("b", "bob", false)
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	// A client whose room set was lost cannot be handled; the hub must drop it and carry on.
	alice.rooms = nil
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	select {
	case <-alice.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("faulty client was not disconnected")
	}

	bob.Commands <- &Command{Kind: CommandPing}
	mustEvent(t, bob.Events, EventPong)
}
