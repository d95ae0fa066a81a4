package lenslink

import (
	"strings"
	"testing"
	"time"
)

func newOfflineSession() *Session {
	return NewSession(SessionConfig{
		PackageName: "com.example.app",
		APIKey:      "k",
		EndpointURL: "wss://cloud.example.test",
	})
}

func collectErrors(session *Session) *[]error {
	var errs []error
	session.OnError(func(err error) { errs = append(errs, err) })
	return &errs
}

func TestClassifierRejectsMalformedFrames(t *testing.T) {
	session := newOfflineSession()
	errs := collectErrors(session)

	session.handleTextFrame(nil)
	session.handleTextFrame([]byte("{not json"))
	session.handleTextFrame([]byte(`"just a string"`))
	session.handleTextFrame([]byte(`{"payload":1}`))

	if len(*errs) != 4 {
		t.Fatalf("expected 4 error events, got %d: %v", len(*errs), *errs)
	}
	for _, err := range *errs {
		if !strings.Contains(err.Error(), "ProtocolError") {
			t.Fatalf("malformed frame surfaced as %v", err)
		}
	}
}

func TestClassifierUnrecognizedType(t *testing.T) {
	session := newOfflineSession()
	errs := collectErrors(session)

	session.handleTextFrame([]byte(`{"type":"TELEPORT"}`))

	if len(*errs) != 1 || !strings.Contains((*errs)[0].Error(), "TELEPORT") {
		t.Fatalf("unrecognized type not named in error: %v", *errs)
	}
}

func TestConnectionAckAdoptsSettings(t *testing.T) {
	session := newOfflineSession()

	var connected [][]Setting
	session.OnConnected(func(settings []Setting) { connected = append(connected, settings) })

	session.handleTextFrame([]byte(`{"type":"CONNECTION_ACK","settings":[{"key":"vol","value":5}]}`))

	if session.State() != StateOpen {
		t.Fatalf("ack did not open the session: %s", session.State())
	}
	if len(connected) != 1 || len(connected[0]) != 1 || connected[0][0].Key != "vol" {
		t.Fatalf("unexpected connected payload: %+v", connected)
	}
	if value, ok := session.GetSetting("vol"); !ok || value != float64(5) {
		t.Fatalf("settings not adopted: %v (present=%v)", value, ok)
	}
}

func TestConnectionAckDerivesDefaultsFromConfig(t *testing.T) {
	session := NewSession(SessionConfig{
		PackageName: "com.example.app",
		APIKey:      "k",
		EndpointURL: "wss://cloud.example.test",
		AppConfig: &AppConfig{
			Name: "Captions",
			Settings: []Setting{
				{Type: SettingGroup, Title: "Display"},
				{Key: "line_width", Type: SettingSlider, DefaultValue: 30},
				{Key: "language", Type: SettingText, DefaultValue: "en"},
			},
		},
	})

	session.handleTextFrame([]byte(`{"type":"CONNECTION_ACK"}`))

	settings := session.GetSettings()
	if len(settings) != 2 {
		t.Fatalf("expected 2 derived settings, got %+v", settings)
	}
	if value, _ := session.GetSetting("line_width"); value != 30 {
		t.Fatalf("default not derived: %v", value)
	}
}

func TestConnectionAckAdoptsCarriedConfig(t *testing.T) {
	session := newOfflineSession()

	session.handleTextFrame([]byte(`{"type":"CONNECTION_ACK","config":{"name":"Captions","settings":[{"key":"language","type":"text","defaultValue":"en"}]}}`))

	if value, ok := session.GetSetting("language"); !ok || value != "en" {
		t.Fatalf("carried config defaults not adopted: %v (present=%v)", value, ok)
	}
}

func TestConnectionErrorDefaultsMessage(t *testing.T) {
	session := newOfflineSession()
	errs := collectErrors(session)

	session.handleTextFrame([]byte(`{"type":"CONNECTION_ERROR"}`))
	session.handleTextFrame([]byte(`{"type":"CONNECTION_ERROR","message":"key revoked"}`))

	if len(*errs) != 2 {
		t.Fatalf("expected 2 error events, got %d", len(*errs))
	}
	if !strings.Contains((*errs)[0].Error(), "Unknown connection error") {
		t.Fatalf("missing default message: %v", (*errs)[0])
	}
	if !strings.Contains((*errs)[1].Error(), "key revoked") {
		t.Fatalf("carried message lost: %v", (*errs)[1])
	}
}

func TestDataStreamGatedOnSubscription(t *testing.T) {
	session := newOfflineSession()

	var positions []HeadPosition
	session.OnHeadPosition(func(data HeadPosition) { positions = append(positions, data) })
	// head_position is now subscribed via the first-handler hook; button
	// presses are not.
	var presses []ButtonPress
	session.bus.AddHandler(EventButtonPress, func(payload interface{}) {
		presses = append(presses, payload.(ButtonPress))
	})

	session.handleTextFrame([]byte(`{"type":"DATA_STREAM","streamType":"head_position","data":{}}`))
	session.handleTextFrame([]byte(`{"type":"DATA_STREAM","streamType":"button_press","data":{"buttonId":"main"}}`))

	if len(positions) != 1 {
		t.Fatalf("subscribed stream not delivered: %+v", positions)
	}
	if positions[0].Position != "up" || positions[0].Timestamp.IsZero() {
		t.Fatalf("head position not sanitized: %+v", positions[0])
	}
	if len(presses) != 0 {
		t.Fatalf("unsubscribed stream delivered: %+v", presses)
	}
}

func TestDirectStreamTaggedMessage(t *testing.T) {
	session := newOfflineSession()

	var transcripts []Transcription
	session.OnTranscription(func(data Transcription) { transcripts = append(transcripts, data) })

	session.handleTextFrame([]byte(`{"type":"transcription","text":"hello","isFinal":true}`))

	if len(transcripts) != 1 || transcripts[0].Text != "hello" || !transcripts[0].IsFinal {
		t.Fatalf("direct stream message not delivered: %+v", transcripts)
	}
}

func TestSettingsUpdateRecomputesSubscriptions(t *testing.T) {
	session := newOfflineSession()

	computeCalls := 0
	session.EnableSettingsSubscriptions([]string{"mode"}, func(settings []Setting) []EventType {
		computeCalls++
		return []EventType{EventAudioChunk}
	})

	var snapshots [][]Setting
	session.OnSettingsUpdate(func(settings []Setting) { snapshots = append(snapshots, settings) })

	session.handleTextFrame([]byte(`{"type":"SETTINGS_UPDATE","settings":[{"key":"mode","value":"audio"}]}`))
	if computeCalls != 1 {
		t.Fatalf("watched key appearance did not recompute (calls=%d)", computeCalls)
	}

	// Same value again: settings_update still fires, no recompute.
	session.handleTextFrame([]byte(`{"type":"SETTINGS_UPDATE","settings":[{"key":"mode","value":"audio"}]}`))
	if computeCalls != 1 {
		t.Fatalf("unchanged trigger recomputed (calls=%d)", computeCalls)
	}
	if len(snapshots) != 2 {
		t.Fatalf("settings_update events: got %d want 2", len(snapshots))
	}

	session.handleTextFrame([]byte(`{"type":"SETTINGS_UPDATE","settings":[{"key":"mode","value":"text"}]}`))
	if computeCalls != 2 {
		t.Fatalf("changed trigger did not recompute (calls=%d)", computeCalls)
	}
}

func TestAppStoppedReasons(t *testing.T) {
	session := newOfflineSession()

	var reasons []string
	session.OnDisconnected(func(reason string) { reasons = append(reasons, reason) })

	session.handleTextFrame([]byte(`{"type":"APP_STOPPED","reason":"user_disabled"}`))
	session.handleTextFrame([]byte(`{"type":"APP_STOPPED"}`))

	if len(reasons) != 2 {
		t.Fatalf("expected 2 disconnect events, got %v", reasons)
	}
	if reasons[0] != "User disabled the app" {
		t.Fatalf("unexpected reason text: %q", reasons[0])
	}
	if reasons[1] != "App stopped: unknown" {
		t.Fatalf("missing default reason: %q", reasons[1])
	}
}

func TestBinaryFrameBecomesAudioChunk(t *testing.T) {
	session := newOfflineSession()

	var chunks []AudioChunk
	session.OnAudioChunk(func(chunk AudioChunk) { chunks = append(chunks, chunk) })

	session.handleBinaryFrame(nil)
	session.handleBinaryFrame([]byte{0x01, 0x02, 0x03})

	if len(chunks) != 1 {
		t.Fatalf("expected one audio chunk, got %d", len(chunks))
	}
	if chunks[0].SampleRate != defaultAudioSampleRate || len(chunks[0].Data) != 3 {
		t.Fatalf("chunk not defaulted: %+v", chunks[0])
	}
}

func TestBinaryFrameRequiresSubscription(t *testing.T) {
	session := newOfflineSession()

	emitted := false
	session.bus.AddHandler(EventAudioChunk, func(interface{}) { emitted = true })
	// AddHandler on the bus directly does subscribe via the hook; clear it
	// again to simulate an unsubscribed stream.
	session.subs.clear()

	session.handleBinaryFrame([]byte{0x01})

	if emitted {
		t.Fatalf("audio chunk delivered without subscription")
	}
}

func TestSanitizeTranscription(t *testing.T) {
	payload := sanitizeStreamPayload(EventTranscription, []byte(`{"isFinal":false}`))
	data, ok := payload.(Transcription)
	if !ok {
		t.Fatalf("unexpected payload type %T", payload)
	}
	if data.Text != "" || !data.IsFinal {
		t.Fatalf("missing text not replaced with safe final record: %+v", data)
	}

	payload = sanitizeStreamPayload(EventTranscription, []byte(`{"text":"ok","isFinal":false}`))
	data = payload.(Transcription)
	if data.Text != "ok" || data.IsFinal {
		t.Fatalf("valid transcription mangled: %+v", data)
	}

	// Non-string text counts as missing.
	payload = sanitizeStreamPayload(EventTranscription, []byte(`{"text":42}`))
	data = payload.(Transcription)
	if data.Text != "" || !data.IsFinal {
		t.Fatalf("numeric text not sanitized: %+v", data)
	}
}

func TestSanitizeButtonPress(t *testing.T) {
	payload := sanitizeStreamPayload(EventButtonPress, []byte(`{}`))
	data, ok := payload.(ButtonPress)
	if !ok {
		t.Fatalf("unexpected payload type %T", payload)
	}
	if data.ButtonID != "unknown" || data.PressType != "short" {
		t.Fatalf("button press defaults missing: %+v", data)
	}

	payload = sanitizeStreamPayload(EventButtonPress, []byte(`{"buttonId":"main"}`))
	data = payload.(ButtonPress)
	if data.ButtonID != "main" || data.PressType != "short" {
		t.Fatalf("partial button press mishandled: %+v", data)
	}
}

func TestSanitizeAudioChunkDefaultsRate(t *testing.T) {
	payload := sanitizeStreamPayload(EventAudioChunk, []byte(`{}`))
	data, ok := payload.(AudioChunk)
	if !ok {
		t.Fatalf("unexpected payload type %T", payload)
	}
	if data.SampleRate != defaultAudioSampleRate {
		t.Fatalf("sample rate not defaulted: %+v", data)
	}
}

func TestSanitizeUnknownStreamPassesThrough(t *testing.T) {
	payload := sanitizeStreamPayload(EventType("custom_stream"), []byte(`{"a":1}`))
	generic, ok := payload.(map[string]interface{})
	if !ok || generic["a"] != float64(1) {
		t.Fatalf("unknown stream payload mangled: %+v", payload)
	}

	payload = sanitizeStreamPayload(EventType("custom_stream"), []byte(`not json`))
	if generic, ok := payload.(map[string]interface{}); !ok || len(generic) != 0 {
		t.Fatalf("broken unknown payload did not degrade to empty object: %+v", payload)
	}
}

func TestSanitizeStampsTimestamps(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second)
	payload := sanitizeStreamPayload(EventHeadPosition, []byte(`{"position":"down"}`))
	data := payload.(HeadPosition)
	if data.Position != "down" {
		t.Fatalf("valid position mangled: %+v", data)
	}
	if data.Timestamp.Before(before) {
		t.Fatalf("timestamp not stamped: %+v", data)
	}
}
