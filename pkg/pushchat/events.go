// Copyright 2024-2026 Aiku AI

package pushchat

import (
	"sync"
)

// Unsubscribe removes a listener. Calling it more than once is a no-op.
type Unsubscribe func()

// listeners is an ordered set of handlers for one event kind.
type listeners[F any] struct {
	mu      sync.RWMutex
	nextID  uint64
	entries []listenerEntry[F]
}

type listenerEntry[F any] struct {
	id uint64
	fn F
}

func (l *listeners[F]) add(fn F) Unsubscribe {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, listenerEntry[F]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			for i, entry := range l.entries {
				if entry.id == id {
					l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
					return
				}
			}
		})
	}
}

// each calls call for every listener registered at the time of the call,
// in registration order, without holding the lock.
func (l *listeners[F]) each(call func(F)) {
	l.mu.RLock()
	snapshot := make([]F, len(l.entries))
	for i, entry := range l.entries {
		snapshot[i] = entry.fn
	}
	l.mu.RUnlock()
	for _, fn := range snapshot {
		call(fn)
	}
}

// EventBus is the typed listener surface of a client. Listeners run on the
// goroutine that produced the event; push events are delivered from the
// socket read goroutine in frame order, so a slow listener delays the
// frames behind it.
type EventBus struct {
	ready         listeners[func()]
	errors        listeners[func(error)]
	connected     listeners[func()]
	dropped       listeners[func()]
	message       listeners[func(*Message)]
	messageUpdate listeners[func(*Message, *MessageSnapshot)]
	messageDelete listeners[func(string, *MessageSnapshot)]
}

// OnReady registers fn for the first successful authentication of the
// client. It fires at most once per client.
func (b *EventBus) OnReady(fn func()) Unsubscribe { return b.ready.add(fn) }

// OnError registers fn for background failures.
func (b *EventBus) OnError(fn func(error)) Unsubscribe { return b.errors.add(fn) }

// OnConnected registers fn for every successful socket authentication.
func (b *EventBus) OnConnected(fn func()) Unsubscribe { return b.connected.add(fn) }

// OnDropped registers fn for every close of the active socket.
func (b *EventBus) OnDropped(fn func()) Unsubscribe { return b.dropped.add(fn) }

func (b *EventBus) OnMessage(fn func(*Message)) Unsubscribe { return b.message.add(fn) }

// OnMessageUpdate registers fn for edits. The snapshot is nil when the
// previous version was not observed in this session.
func (b *EventBus) OnMessageUpdate(fn func(msg *Message, previous *MessageSnapshot)) Unsubscribe {
	return b.messageUpdate.add(fn)
}

// OnMessageDelete registers fn for deletions. The snapshot is nil when the
// message was not observed in this session.
func (b *EventBus) OnMessageDelete(fn func(id string, previous *MessageSnapshot)) Unsubscribe {
	return b.messageDelete.add(fn)
}

func (b *EventBus) emitReady()     { b.ready.each(func(fn func()) { fn() }) }
func (b *EventBus) emitConnected() { b.connected.each(func(fn func()) { fn() }) }
func (b *EventBus) emitDropped()   { b.dropped.each(func(fn func()) { fn() }) }

func (b *EventBus) emitError(err error) {
	b.errors.each(func(fn func(error)) { fn(err) })
}

func (b *EventBus) emitMessage(msg *Message) {
	b.message.each(func(fn func(*Message)) { fn(msg) })
}

func (b *EventBus) emitMessageUpdate(msg *Message, previous *MessageSnapshot) {
	b.messageUpdate.each(func(fn func(*Message, *MessageSnapshot)) { fn(msg, previous) })
}

func (b *EventBus) emitMessageDelete(id string, previous *MessageSnapshot) {
	b.messageDelete.each(func(fn func(string, *MessageSnapshot)) { fn(id, previous) })
}
