package lenslink

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType discriminates the wire message union. Inbound stream payloads
// may also arrive tagged directly with their stream event type.
type MessageType string

// Outbound message types.
const (
	MessageTypeConnectionInit     MessageType = "CONNECTION_INIT"
	MessageTypeSubscriptionUpdate MessageType = "SUBSCRIPTION_UPDATE"
	MessageTypeDisplayEvent       MessageType = "DISPLAY_EVENT"
)

// Inbound message types.
const (
	MessageTypeConnectionAck   MessageType = "CONNECTION_ACK"
	MessageTypeConnectionError MessageType = "CONNECTION_ERROR"
	MessageTypeAppStopped      MessageType = "APP_STOPPED"
	MessageTypeSettingsUpdate  MessageType = "SETTINGS_UPDATE"
	MessageTypeDataStream      MessageType = "DATA_STREAM"
)

const defaultAudioSampleRate = 16000

// Outbound is a message the session can transmit. Every outbound message
// carries a timestamp; Send stamps one at transmission time when absent.
type Outbound interface {
	MessageType() MessageType
	timestamp() time.Time
	stamp(t time.Time)
}

type envelope struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp,omitzero"`
}

// MessageType returns the discriminator tag of the message.
func (e *envelope) MessageType() MessageType { return e.Type }

func (e *envelope) timestamp() time.Time { return e.Timestamp }

func (e *envelope) stamp(t time.Time) { e.Timestamp = t }

// ConnectionInit authenticates the session right after the channel opens.
type ConnectionInit struct {
	envelope
	SessionID   string `json:"sessionId"`
	PackageName string `json:"packageName"`
	APIKey      string `json:"apiKey"`
}

func newConnectionInit(sessionID, packageName, apiKey string) *ConnectionInit {
	return &ConnectionInit{
		envelope:    envelope{Type: MessageTypeConnectionInit},
		SessionID:   sessionID,
		PackageName: packageName,
		APIKey:      apiKey,
	}
}

// SubscriptionUpdate replaces the peer's view of the desired stream types.
type SubscriptionUpdate struct {
	envelope
	PackageName   string      `json:"packageName"`
	SessionID     string      `json:"sessionId"`
	Subscriptions []EventType `json:"subscriptions"`
}

func newSubscriptionUpdate(packageName, sessionID string, subscriptions []EventType) *SubscriptionUpdate {
	return &SubscriptionUpdate{
		envelope:      envelope{Type: MessageTypeSubscriptionUpdate},
		PackageName:   packageName,
		SessionID:     sessionID,
		Subscriptions: subscriptions,
	}
}

// Layout describes what a display command renders.
type Layout struct {
	LayoutType string `json:"layoutType"`
	Title      string `json:"title,omitempty"`
	Text       string `json:"text,omitempty"`
}

// Layout types accepted by the cloud renderer.
const (
	LayoutTextWall      = "text_wall"
	LayoutReferenceCard = "reference_card"
)

// DisplayEvent pushes a layout to the glasses display.
type DisplayEvent struct {
	envelope
	PackageName string `json:"packageName"`
	SessionID   string `json:"sessionId"`
	View        string `json:"view,omitempty"`
	Layout      Layout `json:"layout"`
	DurationMs  int    `json:"durationMs,omitempty"`
}

// Transcription is a speech-to-text stream payload. Sanitization guarantees
// Text is always present as a string.
type Transcription struct {
	Text      string    `json:"text"`
	IsFinal   bool      `json:"isFinal"`
	Language  string    `json:"language,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Translation is a translated-transcription stream payload.
type Translation struct {
	Text           string    `json:"text"`
	SourceLanguage string    `json:"sourceLanguage,omitempty"`
	TargetLanguage string    `json:"targetLanguage,omitempty"`
	IsFinal        bool      `json:"isFinal"`
	Timestamp      time.Time `json:"timestamp,omitzero"`
}

// HeadPosition reports head orientation, "up" or "down".
type HeadPosition struct {
	Position  string    `json:"position"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// ButtonPress reports a hardware button event.
type ButtonPress struct {
	ButtonID  string    `json:"buttonId"`
	PressType string    `json:"pressType"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// PhoneNotification mirrors a notification from the paired phone.
type PhoneNotification struct {
	App       string    `json:"app,omitempty"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// AudioChunk carries raw audio samples. Chunks framed as out-of-band binary
// frames get the default sample rate.
type AudioChunk struct {
	Data       []byte    `json:"data,omitempty"`
	SampleRate int       `json:"sampleRate"`
	Timestamp  time.Time `json:"timestamp,omitzero"`
}

// LocationUpdate reports device coordinates.
type LocationUpdate struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// CalendarEvent reports an upcoming calendar entry.
type CalendarEvent struct {
	Title     string    `json:"title,omitempty"`
	StartTime string    `json:"dtStart,omitempty"`
	EndTime   string    `json:"dtEnd,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// BatteryUpdate reports the glasses battery state.
type BatteryUpdate struct {
	Level     int       `json:"level"`
	Charging  bool      `json:"charging"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// handleBinaryFrame wraps an out-of-band binary frame as an audio chunk.
// Empty frames are dropped; delivery is gated on an active audio
// subscription.
func (session *Session) handleBinaryFrame(data []byte) {
	if len(data) == 0 {
		return
	}
	if !session.subs.contains(EventAudioChunk) {
		return
	}
	session.bus.Emit(EventAudioChunk, AudioChunk{
		Data:       data,
		SampleRate: defaultAudioSampleRate,
		Timestamp:  time.Now().UTC(),
	})
}

// handleTextFrame classifies a JSON frame and dispatches it. Nothing on this
// path may propagate a failure to the read loop; malformed input degrades to
// an error event.
func (session *Session) handleTextFrame(data []byte) {
	if len(data) == 0 {
		session.bus.Emit(EventError, NewError(ProtocolError, "empty message frame"))
		return
	}

	var probe struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		session.bus.Emit(EventError, NewError(ProtocolError, fmt.Sprintf("malformed message: %v", err)))
		return
	}
	if probe.Type == "" {
		session.bus.Emit(EventError, NewError(ProtocolError, "message carries no type field"))
		return
	}

	switch probe.Type {
	case MessageTypeConnectionAck:
		session.handleConnectionAck(data)
	case MessageTypeConnectionError:
		session.handleConnectionError(data)
	case MessageType(EventAudioChunk):
		session.dispatchStream(EventAudioChunk, data)
	case MessageTypeDataStream:
		session.handleDataStream(data)
	case MessageTypeSettingsUpdate:
		session.handleSettingsUpdate(data)
	case MessageTypeAppStopped:
		session.handleAppStopped(data)
	default:
		if streamType := EventType(probe.Type); isStreamEvent(streamType) {
			session.dispatchStream(streamType, data)
			return
		}
		session.bus.Emit(EventError, NewError(ProtocolError, fmt.Sprintf("unrecognized message type %q", probe.Type)))
	}
}

func (session *Session) handleConnectionAck(data []byte) {
	var ack struct {
		Settings []Setting  `json:"settings"`
		Config   *AppConfig `json:"config"`
	}
	_ = json.Unmarshal(data, &ack)

	settings := ack.Settings
	if settings == nil {
		settings = []Setting{}
	}

	session.lock.Lock()
	if ack.Config != nil && validateAppConfig(ack.Config) == nil {
		session.appConfig = ack.Config
	}
	if len(settings) == 0 && session.appConfig != nil {
		settings = session.appConfig.DefaultSettings()
	}
	session.settings = settings
	session.state = StateOpen
	ackCh := session.ackCh
	session.ackCh = nil
	session.lock.Unlock()

	session.bus.Emit(EventConnected, cloneSettings(settings))
	session.pushSubscriptions()

	if session.subs.settingsDrivenEnabled() && len(settings) > 0 {
		session.subs.recompute(settings)
		session.pushSubscriptions()
	}

	if ackCh != nil {
		select {
		case ackCh <- cloneSettings(settings):
		default:
		}
	}
}

func (session *Session) handleConnectionError(data []byte) {
	var connErr struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &connErr)
	if connErr.Message == "" {
		connErr.Message = "Unknown connection error"
	}
	session.bus.Emit(EventError, NewError(ConnectionError, connErr.Message))
}

func (session *Session) handleDataStream(data []byte) {
	var stream struct {
		StreamType string          `json:"streamType"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &stream); err != nil {
		session.bus.Emit(EventError, NewError(ProtocolError, fmt.Sprintf("malformed data stream: %v", err)))
		return
	}
	session.dispatchStream(EventType(stream.StreamType), stream.Data)
}

// dispatchStream sanitizes and emits a stream payload when its stream type
// is actively subscribed.
func (session *Session) dispatchStream(streamType EventType, raw []byte) {
	if !session.subs.contains(streamType) {
		return
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	session.bus.Emit(streamType, sanitizeStreamPayload(streamType, raw))
}

func (session *Session) handleSettingsUpdate(data []byte) {
	var update struct {
		Settings []Setting `json:"settings"`
	}
	_ = json.Unmarshal(data, &update)

	settings := update.Settings
	if settings == nil {
		settings = []Setting{}
	}

	session.lock.Lock()
	previous := session.settings
	session.settings = settings
	session.lock.Unlock()

	session.bus.Emit(EventSettingsUpdate, cloneSettings(settings))

	if session.subs.triggersChanged(previous, settings) {
		session.subs.recompute(settings)
		session.pushSubscriptions()
	}
}

func (session *Session) handleAppStopped(data []byte) {
	var stopped struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(data, &stopped)
	session.bus.Emit(EventDisconnected, stopReasonText(stopped.Reason))
}

func stopReasonText(code string) string {
	switch code {
	case "user_disabled":
		return "User disabled the app"
	case "system_stop":
		return "App stopped by the system"
	case "error":
		return "App stopped due to an error"
	case "":
		code = "unknown"
	}
	return "App stopped: " + code
}

// sanitizeStreamPayload applies defensive defaulting so every emitted
// payload satisfies its stream type's minimum shape. A failure inside a
// sanitizer degrades to the type's empty payload instead of propagating.
func sanitizeStreamPayload(streamType EventType, raw []byte) (payload interface{}) {
	defer func() {
		if recover() != nil {
			payload = emptyStreamPayload(streamType)
		}
	}()

	now := time.Now().UTC()

	switch streamType {
	case EventTranscription:
		var data Transcription
		if err := json.Unmarshal(raw, &data); err != nil || !hasStringField(raw, "text") {
			return Transcription{Text: "", IsFinal: true, Timestamp: now}
		}
		if data.Timestamp.IsZero() {
			data.Timestamp = now
		}
		return data

	case EventTranslation:
		var data Translation
		if err := json.Unmarshal(raw, &data); err != nil || !hasStringField(raw, "text") {
			return Translation{Text: "", IsFinal: true, Timestamp: now}
		}
		if data.Timestamp.IsZero() {
			data.Timestamp = now
		}
		return data

	case EventHeadPosition:
		var data HeadPosition
		if err := json.Unmarshal(raw, &data); err != nil || !hasStringField(raw, "position") {
			return HeadPosition{Position: "up", Timestamp: now}
		}
		if data.Timestamp.IsZero() {
			data.Timestamp = now
		}
		return data

	case EventButtonPress:
		var data ButtonPress
		if err := json.Unmarshal(raw, &data); err != nil {
			return ButtonPress{ButtonID: "unknown", PressType: "short", Timestamp: now}
		}
		if !hasStringField(raw, "buttonId") {
			data.ButtonID = "unknown"
		}
		if !hasStringField(raw, "pressType") {
			data.PressType = "short"
		}
		if data.Timestamp.IsZero() {
			data.Timestamp = now
		}
		return data

	case EventAudioChunk:
		var data AudioChunk
		if err := json.Unmarshal(raw, &data); err != nil {
			return AudioChunk{SampleRate: defaultAudioSampleRate, Timestamp: now}
		}
		if data.SampleRate == 0 {
			data.SampleRate = defaultAudioSampleRate
		}
		if data.Timestamp.IsZero() {
			data.Timestamp = now
		}
		return data

	case EventPhoneNotify:
		var data PhoneNotification
		if err := json.Unmarshal(raw, &data); err != nil {
			return PhoneNotification{Timestamp: now}
		}
		if data.Timestamp.IsZero() {
			data.Timestamp = now
		}
		return data

	case EventLocationUpdate:
		var data LocationUpdate
		if err := json.Unmarshal(raw, &data); err != nil {
			return LocationUpdate{Timestamp: now}
		}
		if data.Timestamp.IsZero() {
			data.Timestamp = now
		}
		return data

	case EventCalendarEvent:
		var data CalendarEvent
		if err := json.Unmarshal(raw, &data); err != nil {
			return CalendarEvent{Timestamp: now}
		}
		if data.Timestamp.IsZero() {
			data.Timestamp = now
		}
		return data

	case EventBatteryUpdate:
		var data BatteryUpdate
		if err := json.Unmarshal(raw, &data); err != nil {
			return BatteryUpdate{Timestamp: now}
		}
		if data.Timestamp.IsZero() {
			data.Timestamp = now
		}
		return data
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return map[string]interface{}{}
	}
	return generic
}

func emptyStreamPayload(streamType EventType) interface{} {
	switch streamType {
	case EventTranscription:
		return Transcription{}
	case EventTranslation:
		return Translation{}
	case EventHeadPosition:
		return HeadPosition{}
	case EventButtonPress:
		return ButtonPress{}
	case EventAudioChunk:
		return AudioChunk{}
	case EventPhoneNotify:
		return PhoneNotification{}
	case EventLocationUpdate:
		return LocationUpdate{}
	case EventCalendarEvent:
		return CalendarEvent{}
	case EventBatteryUpdate:
		return BatteryUpdate{}
	}
	return map[string]interface{}{}
}

func hasStringField(raw []byte, key string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	value, ok := fields[key]
	return ok && len(value) > 0 && value[0] == '"'
}
