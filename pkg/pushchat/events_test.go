// Copyright 2024-2026 Aiku AI

package pushchat

import (
	"errors"
	"testing"
)

func TestEventBus_RegistrationOrder(t *testing.T) {
	var bus EventBus
	var order []int
	bus.OnConnected(func() { order = append(order, 1) })
	bus.OnConnected(func() { order = append(order, 2) })
	bus.OnConnected(func() { order = append(order, 3) })

	bus.emitConnected()
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("listeners ran out of order: %v", order)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	var bus EventBus
	var calls []string
	unsubA := bus.OnError(func(err error) { calls = append(calls, "a:"+err.Error()) })
	bus.OnError(func(err error) { calls = append(calls, "b:"+err.Error()) })

	bus.emitError(errors.New("one"))
	unsubA()
	unsubA()
	bus.emitError(errors.New("two"))

	want := []string{"a:one", "b:one", "b:two"}
	if len(calls) != len(want) {
		t.Fatalf("calls: got %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d: got %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestEventBus_UnsubscribeDuringEmit(t *testing.T) {
	var bus EventBus
	var unsub Unsubscribe
	secondCalls := 0
	unsub = bus.OnDropped(func() { unsub() })
	bus.OnDropped(func() { secondCalls++ })

	bus.emitDropped()
	bus.emitDropped()
	if secondCalls != 2 {
		t.Errorf("second listener calls: got %d, want 2", secondCalls)
	}
}

func TestEventBus_SubscribeDuringEmit(t *testing.T) {
	var bus EventBus
	added := 0
	bus.OnReady(func() {
		bus.OnReady(func() { added++ })
	})

	bus.emitReady()
	if added != 0 {
		t.Errorf("listener added during emit must not see that emit, got %d calls", added)
	}
	bus.emitReady()
	if added != 1 {
		t.Errorf("added listener calls: got %d, want 1", added)
	}
}

func TestEventBus_PayloadsByKind(t *testing.T) {
	var bus EventBus
	var gotMsg *Message
	var gotPrev *MessageSnapshot
	var gotID string
	bus.OnMessage(func(msg *Message) { gotMsg = msg })
	bus.OnMessageUpdate(func(msg *Message, prev *MessageSnapshot) { gotPrev = prev })
	bus.OnMessageDelete(func(id string, prev *MessageSnapshot) { gotID = id })

	msg := &Message{ID: "m1", Content: "hi"}
	bus.emitMessage(msg)
	bus.emitMessageUpdate(msg, msg.Snapshot())
	bus.emitMessageDelete("m1", nil)

	if gotMsg != msg {
		t.Error("message listener did not receive the message")
	}
	if gotPrev == nil || gotPrev.Content != "hi" {
		t.Errorf("update listener snapshot: %+v", gotPrev)
	}
	if gotID != "m1" {
		t.Errorf("delete listener id: got %q", gotID)
	}
}

func TestEventBus_NoListeners(t *testing.T) {
	var bus EventBus
	bus.emitReady()
	bus.emitError(errors.New("x"))
	bus.emitMessageDelete("m1", nil)
}
