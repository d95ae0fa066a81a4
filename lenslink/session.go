package lenslink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SessionState names the connection lifecycle state. The names appear in
// send errors so callers can see which non-open state rejected them.
type SessionState string

// Session lifecycle states.
const (
	StateIdle         SessionState = "IDLE"
	StateConnecting   SessionState = "CONNECTING"
	StateOpen         SessionState = "OPEN"
	StateClosing      SessionState = "CLOSING"
	StateDisconnected SessionState = "DISCONNECTED"
	StateReconnecting SessionState = "RECONNECTING"
	StateClosed       SessionState = "CLOSED"
)

// Default lifecycle tunables.
const (
	DefaultConnectTimeout       = 5 * time.Second
	DefaultReconnectDelay       = time.Second
	DefaultMaxReconnectAttempts = 5
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// PackageName identifies the app to the cloud.
	PackageName string
	// APIKey authenticates the app.
	APIKey string
	// EndpointURL is the channel endpoint. http(s) schemes are normalized
	// to ws(s).
	EndpointURL string
	// AppConfig optionally seeds default settings when the cloud
	// acknowledges without a settings snapshot.
	AppConfig *AppConfig

	AutoReconnect        bool
	MaxReconnectAttempts uint32
	ReconnectDelay       time.Duration
	ConnectTimeout       time.Duration

	Logger *zap.Logger
}

// Session manages a single logical connection to the cloud: the channel
// handle, the connect/reconnect lifecycle, outbound sends, and dispatch of
// inbound messages to registered event handlers. A session owns at most one
// channel handle at a time; connecting again first closes any prior handle.
type Session struct {
	config SessionConfig
	logger *zap.Logger
	bus    *EventBus
	subs   *subscriptionTracker

	lock              sync.Mutex
	writeLock         sync.Mutex
	state             SessionState
	conn              *websocket.Conn
	sessionID         string
	settings          []Setting
	appConfig         *AppConfig
	ackCh             chan []Setting
	reconnectAttempts uint32
	reconnectCancel   context.CancelFunc
	delayStrategy     ReconnectDelayStrategy
}

// NewSession returns a new Session for the given configuration.
func NewSession(config SessionConfig) *Session {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	if config.MaxReconnectAttempts == 0 {
		config.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	session := &Session{
		config:        config,
		logger:        logger,
		bus:           newEventBus(logger),
		subs:          newSubscriptionTracker(),
		state:         StateIdle,
		appConfig:     config.AppConfig,
		delayStrategy: NewExponentialDelayStrategy(config.ReconnectDelay, 30*time.Second, 2),
	}
	session.bus.onFirstSubscribe = session.subscribeStream
	return session
}

// Events exposes the session's event bus for handler registration.
func (session *Session) Events() *EventBus { return session.bus }

// State returns the current lifecycle state.
func (session *Session) State() SessionState {
	session.lock.Lock()
	defer session.lock.Unlock()
	return session.state
}

// SessionID returns the externally assigned session identifier, empty when
// disconnected.
func (session *Session) SessionID() string {
	session.lock.Lock()
	defer session.lock.Unlock()
	return session.sessionID
}

// GetSettings returns the current settings snapshot.
func (session *Session) GetSettings() []Setting {
	session.lock.Lock()
	defer session.lock.Unlock()
	return cloneSettings(session.settings)
}

// GetSetting returns the value of a setting by key.
func (session *Session) GetSetting(key string) (interface{}, bool) {
	session.lock.Lock()
	defer session.lock.Unlock()
	return settingValue(session.settings, key)
}

// Subscriptions returns the active stream types in stable order.
func (session *Session) Subscriptions() []EventType { return session.subs.list() }

// Subscribe marks a stream type wanted and, when the channel is open,
// pushes the full subscription list to the peer.
func (session *Session) Subscribe(eventType EventType) {
	if session.subs.add(eventType) {
		session.pushSubscriptions()
	}
}

// EnableSettingsSubscriptions switches the subscription set to
// settings-driven mode: whenever one of the watched keys changes value, the
// whole set is recomputed from the settings snapshot via computeFn and
// pushed to the peer.
func (session *Session) EnableSettingsSubscriptions(watchedKeys []string, computeFn func(settings []Setting) []EventType) {
	session.subs.enableSettingsDriven(watchedKeys, computeFn)
}

func (session *Session) subscribeStream(eventType EventType) {
	if session.subs.add(eventType) {
		session.pushSubscriptions()
	}
}

// Connect dials the configured endpoint, authenticates with a
// CONNECTION_INIT message, and waits for the cloud's acknowledgement. The
// handshake races a connect timeout; whichever finishes first decides the
// outcome and the loser is discarded.
func (session *Session) Connect(ctx context.Context, sessionID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if session.config.EndpointURL == "" {
		return NewError(InvalidURIError, "no channel endpoint URL configured")
	}

	endpoint, err := normalizeEndpoint(session.config.EndpointURL)
	if err != nil {
		return err
	}

	session.lock.Lock()
	if session.conn != nil {
		_ = session.conn.Close()
		session.conn = nil
	}
	session.state = StateConnecting
	session.sessionID = sessionID
	session.lock.Unlock()

	conn, _, dialErr := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if dialErr != nil {
		session.setState(StateDisconnected)
		connectErr := NewError(ConnectionRefusedError, dialErr)
		session.bus.Emit(EventError, connectErr)
		return connectErr
	}

	ackCh := make(chan []Setting, 1)
	session.lock.Lock()
	session.conn = conn
	session.ackCh = ackCh
	session.lock.Unlock()

	go session.readLoop(conn)

	init := newConnectionInit(sessionID, session.config.PackageName, session.config.APIKey)
	if err := session.writeMessage(conn, init); err != nil {
		session.teardownAttempt(conn)
		connectErr := NewError(ConnectionError, fmt.Sprintf("sending connection init: %v", err))
		session.bus.Emit(EventError, connectErr)
		return connectErr
	}

	timer := time.NewTimer(session.config.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-ackCh:
		session.lock.Lock()
		session.reconnectAttempts = 0
		session.lock.Unlock()
		session.delayStrategy.Reset()
		session.logger.Info("session connected",
			zap.String("sessionId", sessionID),
			zap.String("package", session.config.PackageName))
		return nil

	case <-timer.C:
		session.teardownAttempt(conn)
		timeoutErr := NewError(TimedOutError,
			fmt.Sprintf("connection not acknowledged within %s", session.config.ConnectTimeout))
		session.bus.Emit(EventError, timeoutErr)
		return timeoutErr

	case <-ctx.Done():
		session.teardownAttempt(conn)
		return NewError(DisconnectedError, fmt.Sprintf("connect cancelled: %v", ctx.Err()))
	}
}

// teardownAttempt discards a connect attempt that lost its race: the ack
// channel is detached so a late acknowledgement has no effect.
func (session *Session) teardownAttempt(conn *websocket.Conn) {
	session.lock.Lock()
	session.ackCh = nil
	if session.conn == conn {
		session.conn = nil
		session.state = StateDisconnected
	}
	session.lock.Unlock()
	_ = conn.Close()
}

// Send validates, stamps, serializes, and transmits an outbound message.
// Every failure is returned to the caller and also mirrored as an error
// event so passive observers see it.
func (session *Session) Send(message Outbound) error {
	fail := func(err error) error {
		session.bus.Emit(EventError, err)
		return err
	}

	session.lock.Lock()
	conn := session.conn
	state := session.state
	session.lock.Unlock()

	if conn == nil {
		return fail(NewError(DisconnectedError, "no active channel"))
	}
	if state != StateOpen {
		return fail(NewError(ConnectionError, fmt.Sprintf("channel is %s, not OPEN", state)))
	}
	if message == nil || isNilPointer(message) {
		return fail(NewError(ValidationError, "message is not an object"))
	}
	if message.MessageType() == "" {
		return fail(NewError(ValidationError, "message carries no type field"))
	}

	if err := session.writeMessage(conn, message); err != nil {
		return fail(NewError(ConnectionError, fmt.Sprintf("sending %s: %v", message.MessageType(), err)))
	}
	return nil
}

func (session *Session) writeMessage(conn *websocket.Conn, message Outbound) error {
	if message.timestamp().IsZero() {
		message.stamp(time.Now().UTC())
	}
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", message.MessageType(), err)
	}

	session.writeLock.Lock()
	defer session.writeLock.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// pushSubscriptions sends the full current subscription list to the peer.
// No-op while the channel is not open.
func (session *Session) pushSubscriptions() {
	session.lock.Lock()
	conn := session.conn
	open := session.state == StateOpen && conn != nil
	sessionID := session.sessionID
	session.lock.Unlock()

	if !open {
		return
	}

	update := newSubscriptionUpdate(session.config.PackageName, sessionID, session.subs.list())
	if err := session.writeMessage(conn, update); err != nil {
		session.bus.Emit(EventError, NewError(ConnectionError, fmt.Sprintf("pushing subscriptions: %v", err)))
	}
}

// Disconnect closes the channel and clears session state. It cancels any
// pending reconnect so a stray attempt cannot fire afterwards. Idempotent.
func (session *Session) Disconnect() error {
	session.lock.Lock()
	cancel := session.reconnectCancel
	session.reconnectCancel = nil
	conn := session.conn
	session.conn = nil
	session.ackCh = nil
	session.sessionID = ""
	session.reconnectAttempts = 0
	session.state = StateClosing
	session.lock.Unlock()

	if cancel != nil {
		cancel()
	}
	session.subs.clear()

	var closeErr error
	if conn != nil {
		closeErr = conn.Close()
	}

	session.setState(StateClosed)
	if closeErr != nil {
		return NewError(ConnectionError, closeErr)
	}
	return nil
}

func (session *Session) setState(state SessionState) {
	session.lock.Lock()
	session.state = state
	session.lock.Unlock()
}

// readLoop drains the channel until it closes. Frame kind comes from the
// transport opcode: binary frames are audio, text frames are JSON messages.
func (session *Session) readLoop(conn *websocket.Conn) {
	for {
		frameKind, data, err := conn.ReadMessage()
		if err != nil {
			session.handleConnectionClosed(conn, err)
			return
		}
		switch frameKind {
		case websocket.BinaryMessage:
			session.handleBinaryFrame(data)
		case websocket.TextMessage:
			session.handleTextFrame(data)
		}
	}
}

func (session *Session) handleConnectionClosed(conn *websocket.Conn, err error) {
	session.lock.Lock()
	if session.conn != conn {
		// A newer connect already replaced this handle.
		session.lock.Unlock()
		return
	}
	deliberate := session.state == StateClosing || session.state == StateClosed
	session.conn = nil
	session.ackCh = nil
	if !deliberate {
		session.state = StateDisconnected
	}
	sessionID := session.sessionID
	session.lock.Unlock()

	_ = conn.Close()
	if deliberate {
		return
	}

	session.logger.Warn("channel closed",
		zap.String("sessionId", sessionID),
		zap.Error(err))
	session.bus.Emit(EventDisconnected, fmt.Sprintf("Connection closed: %v", err))
	session.handleReconnection(sessionID)
}

// handleReconnection retries the connection with exponential backoff until
// it succeeds or the attempt budget is spent. No-op when auto-reconnect is
// disabled or no session id is set. Disconnect cancels a pending attempt
// through the session's reconnect context.
func (session *Session) handleReconnection(sessionID string) {
	if !session.config.AutoReconnect || sessionID == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	session.lock.Lock()
	if session.reconnectCancel != nil {
		// A reconnect loop is already running.
		session.lock.Unlock()
		cancel()
		return
	}
	session.reconnectCancel = cancel
	session.state = StateReconnecting
	session.lock.Unlock()

	go func() {
		defer func() {
			session.lock.Lock()
			if session.reconnectCancel != nil {
				session.reconnectCancel = nil
			}
			session.lock.Unlock()
			cancel()
		}()

		for {
			if ctx.Err() != nil {
				return
			}

			session.lock.Lock()
			attempt := session.reconnectAttempts
			session.reconnectAttempts++
			session.lock.Unlock()

			if attempt >= session.config.MaxReconnectAttempts {
				session.logger.Warn("reconnect attempts exhausted",
					zap.String("sessionId", sessionID),
					zap.Uint32("attempts", attempt))
				session.setState(StateClosed)
				session.bus.Emit(EventReconnectExhausted, attempt)
				return
			}

			delay := session.delayStrategy.DelayFor(attempt)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			err := session.Connect(ctx, sessionID)
			if err == nil {
				return
			}
			session.bus.Emit(EventError, NewError(ConnectionError, fmt.Sprintf("reconnect attempt %d failed: %v", attempt+1, err)))
		}
	}()
}

func normalizeEndpoint(endpoint string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", NewError(InvalidURIError, err)
	}
	switch parsed.Scheme {
	case "ws", "wss":
	case "http":
		parsed.Scheme = "ws"
	case "https", "":
		parsed.Scheme = "wss"
	default:
		return "", NewError(InvalidURIError, fmt.Sprintf("unsupported scheme %q", parsed.Scheme))
	}
	if parsed.Host == "" {
		return "", NewError(InvalidURIError, "endpoint URL has no host")
	}
	return parsed.String(), nil
}

func isNilPointer(value interface{}) bool {
	rv := reflect.ValueOf(value)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}
