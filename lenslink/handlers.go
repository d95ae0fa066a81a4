package lenslink

// Typed registration helpers. Each wraps EventBus.AddHandler with the
// payload type the stream emits; the returned func removes the handler.
// Registering the first handler for a stream type subscribes the session to
// that stream.

// OnTranscription registers a handler for transcription events.
func (session *Session) OnTranscription(callback func(Transcription)) func() {
	return addTypedHandler(session.bus, EventTranscription, callback)
}

// OnTranslation registers a handler for translation events.
func (session *Session) OnTranslation(callback func(Translation)) func() {
	return addTypedHandler(session.bus, EventTranslation, callback)
}

// OnHeadPosition registers a handler for head position events.
func (session *Session) OnHeadPosition(callback func(HeadPosition)) func() {
	return addTypedHandler(session.bus, EventHeadPosition, callback)
}

// OnButtonPress registers a handler for hardware button events.
func (session *Session) OnButtonPress(callback func(ButtonPress)) func() {
	return addTypedHandler(session.bus, EventButtonPress, callback)
}

// OnPhoneNotification registers a handler for mirrored phone notifications.
func (session *Session) OnPhoneNotification(callback func(PhoneNotification)) func() {
	return addTypedHandler(session.bus, EventPhoneNotify, callback)
}

// OnAudioChunk registers a handler for audio chunk events.
func (session *Session) OnAudioChunk(callback func(AudioChunk)) func() {
	return addTypedHandler(session.bus, EventAudioChunk, callback)
}

// OnLocationUpdate registers a handler for location events.
func (session *Session) OnLocationUpdate(callback func(LocationUpdate)) func() {
	return addTypedHandler(session.bus, EventLocationUpdate, callback)
}

// OnCalendarEvent registers a handler for calendar events.
func (session *Session) OnCalendarEvent(callback func(CalendarEvent)) func() {
	return addTypedHandler(session.bus, EventCalendarEvent, callback)
}

// OnBatteryUpdate registers a handler for glasses battery events.
func (session *Session) OnBatteryUpdate(callback func(BatteryUpdate)) func() {
	return addTypedHandler(session.bus, EventBatteryUpdate, callback)
}

// OnConnected registers a handler invoked with the settings snapshot once
// the cloud acknowledges the connection.
func (session *Session) OnConnected(callback func(settings []Setting)) func() {
	return addTypedHandler(session.bus, EventConnected, callback)
}

// OnDisconnected registers a handler invoked with a human-readable reason
// when the session loses its channel or the app is stopped.
func (session *Session) OnDisconnected(callback func(reason string)) func() {
	return addTypedHandler(session.bus, EventDisconnected, callback)
}

// OnError registers a handler for error events.
func (session *Session) OnError(callback func(err error)) func() {
	return addTypedHandler(session.bus, EventError, callback)
}

// OnSettingsUpdate registers a handler invoked with each new settings
// snapshot.
func (session *Session) OnSettingsUpdate(callback func(settings []Setting)) func() {
	return addTypedHandler(session.bus, EventSettingsUpdate, callback)
}

// OnReconnectExhausted registers a handler invoked once the reconnect
// attempt budget is spent.
func (session *Session) OnReconnectExhausted(callback func(attempts uint32)) func() {
	return addTypedHandler(session.bus, EventReconnectExhausted, callback)
}

// OnSettingChange invokes the callback when the named setting's observed
// value changes; see EventBus.OnSettingChange.
func (session *Session) OnSettingChange(key string, callback func(value, previous interface{})) func() {
	return session.bus.OnSettingChange(key, callback)
}

// ShowTextWall displays a block of text on the glasses.
func (session *Session) ShowTextWall(text string) error {
	return session.sendDisplayEvent(Layout{LayoutType: LayoutTextWall, Text: text}, 0)
}

// ShowReferenceCard displays a titled card on the glasses.
func (session *Session) ShowReferenceCard(title, text string) error {
	return session.sendDisplayEvent(Layout{LayoutType: LayoutReferenceCard, Title: title, Text: text}, 0)
}

func (session *Session) sendDisplayEvent(layout Layout, durationMs int) error {
	session.lock.Lock()
	sessionID := session.sessionID
	session.lock.Unlock()

	return session.Send(&DisplayEvent{
		envelope:    envelope{Type: MessageTypeDisplayEvent},
		PackageName: session.config.PackageName,
		SessionID:   sessionID,
		Layout:      layout,
		DurationMs:  durationMs,
	})
}
