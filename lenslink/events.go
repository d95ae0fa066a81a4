package lenslink

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// EventType identifies a category of event delivered to application handlers.
// Stream events carry real-time data from the cloud; system events report
// session lifecycle transitions.
type EventType string

// Stream event types.
const (
	EventTranscription  EventType = "transcription"
	EventTranslation    EventType = "translation"
	EventHeadPosition   EventType = "head_position"
	EventButtonPress    EventType = "button_press"
	EventPhoneNotify    EventType = "phone_notification"
	EventAudioChunk     EventType = "audio_chunk"
	EventLocationUpdate EventType = "location_update"
	EventCalendarEvent  EventType = "calendar_event"
	EventBatteryUpdate  EventType = "glasses_battery_update"
)

// System event types.
const (
	EventConnected          EventType = "connected"
	EventDisconnected       EventType = "disconnected"
	EventError              EventType = "error"
	EventSettingsUpdate     EventType = "settings_update"
	EventReconnectExhausted EventType = "reconnect_exhausted"
)

// IsSystemEvent reports whether the event type is a lifecycle notification
// rather than a data stream.
func IsSystemEvent(eventType EventType) bool {
	switch eventType {
	case EventConnected, EventDisconnected, EventError, EventSettingsUpdate, EventReconnectExhausted:
		return true
	}
	return false
}

func isStreamEvent(eventType EventType) bool {
	switch eventType {
	case EventTranscription, EventTranslation, EventHeadPosition, EventButtonPress,
		EventPhoneNotify, EventAudioChunk, EventLocationUpdate, EventCalendarEvent,
		EventBatteryUpdate:
		return true
	}
	return false
}

// Handler consumes an event payload. Handlers may panic; the bus isolates
// each handler so siblings still run.
type Handler func(payload interface{})

type handlerEntry struct {
	token   uint64
	handler Handler
}

// EventBus routes events to registered handlers by event type. Handler
// invocation follows registration order. The first handler registered for a
// stream event type triggers the bus's subscribe hook so the owning session
// can announce interest to the peer.
type EventBus struct {
	lock             sync.Mutex
	nextToken        uint64
	handlers         map[EventType][]handlerEntry
	onFirstSubscribe func(eventType EventType)
	logger           *zap.Logger
}

func newEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		logger:   logger,
	}
}

// AddHandler registers a handler for the event type and returns a removal
// func. Removing the last handler for a stream type does not withdraw the
// subscription from the peer.
func (bus *EventBus) AddHandler(eventType EventType, handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	bus.lock.Lock()
	bus.nextToken++
	token := bus.nextToken
	existing := bus.handlers[eventType]
	first := len(existing) == 0
	bus.handlers[eventType] = append(existing, handlerEntry{token: token, handler: handler})
	hook := bus.onFirstSubscribe
	bus.lock.Unlock()

	if first && isStreamEvent(eventType) && hook != nil {
		hook(eventType)
	}

	return func() {
		bus.lock.Lock()
		defer bus.lock.Unlock()
		entries := bus.handlers[eventType]
		for i, entry := range entries {
			if entry.token == token {
				bus.handlers[eventType] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers the payload to every handler currently registered for the
// event type. A failing handler never prevents siblings from running; each
// failure is logged and re-raised as an error event, except when the failing
// event type is itself the error event.
func (bus *EventBus) Emit(eventType EventType, payload interface{}) {
	defer func() {
		if recovered := recover(); recovered != nil {
			bus.logger.Error("event dispatch failed",
				zap.String("event", string(eventType)),
				zap.Any("panic", recovered))
			if eventType != EventError {
				bus.Emit(EventError, NewError(UnknownError, fmt.Sprintf("dispatching %s: %v", eventType, recovered)))
			}
		}
	}()

	bus.lock.Lock()
	entries := bus.handlers[eventType]
	snapshot := make([]handlerEntry, len(entries))
	copy(snapshot, entries)
	bus.lock.Unlock()

	for _, entry := range snapshot {
		bus.invoke(eventType, entry.handler, payload)
	}
}

func (bus *EventBus) invoke(eventType EventType, handler Handler, payload interface{}) {
	defer func() {
		if recovered := recover(); recovered != nil {
			bus.logger.Error("event handler failed",
				zap.String("event", string(eventType)),
				zap.Any("panic", recovered))
			if eventType != EventError {
				bus.Emit(EventError, NewError(MessageHandlerError, fmt.Sprintf("handler for %s: %v", eventType, recovered)))
			}
		}
	}()

	handler(payload)
}

// OnSettingChange invokes the callback with (value, previous) whenever the
// named setting's observed value changes. It listens on both the connected
// and settings_update events so late-arriving initial settings still produce
// the first transition; the first observation passes a nil previous value.
func (bus *EventBus) OnSettingChange(key string, callback func(value, previous interface{})) func() {
	var lock sync.Mutex
	var previous interface{}
	seen := false

	observe := func(payload interface{}) {
		settings, ok := payload.([]Setting)
		if !ok {
			return
		}
		value, present := settingValue(settings, key)
		if !present {
			return
		}

		lock.Lock()
		changed := !seen || !settingValuesEqual(previous, value)
		old := previous
		previous = value
		seen = true
		lock.Unlock()

		if changed {
			callback(value, old)
		}
	}

	removeConnected := bus.AddHandler(EventConnected, observe)
	removeUpdate := bus.AddHandler(EventSettingsUpdate, observe)

	return func() {
		removeConnected()
		removeUpdate()
	}
}

func settingValuesEqual(a, b interface{}) bool {
	return reflect.DeepEqual(a, b)
}

func addTypedHandler[T any](bus *EventBus, eventType EventType, callback func(T)) func() {
	return bus.AddHandler(eventType, func(payload interface{}) {
		if value, ok := payload.(T); ok {
			callback(value)
		}
	})
}
