package mqtt311

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// Client is an MQTT 3.1.1 client.
type Client struct {
	conn    net.Conn
	options *clientOptions
	log     Logger
	metrics *ClientMetrics

	// Multi-server support
	serverIndex uint32 // Atomic counter for round-robin server selection

	// Connection lifecycle
	state *stateMachine

	// Session state
	session     Session
	packetIDMgr *PacketIDManager
	qos1Tracker *QoS1Tracker
	qos2Tracker *QoS2Tracker

	// Subscription routing
	router *Router

	// Delivery tokens for in-flight QoS 1/2 publishes
	tokens   map[uint16]*DeliveryToken
	tokensMu sync.Mutex

	// Pending subscribe/unsubscribe operations awaiting ACK
	pendingSubscribes   map[uint16]*pendingSubscribe
	pendingUnsubscribes map[uint16]*pendingUnsubscribe
	pendingOpsMu        sync.Mutex

	closed       atomic.Bool
	reconnecting atomic.Bool

	// Lifecycle control
	parentCtx     context.Context // User's context for lifecycle management
	ctx           context.Context
	cancel        context.CancelFunc
	done          chan struct{}
	readDone      chan struct{}
	reconnectStop chan struct{} // Used to cancel reconnection attempts
	reconnectMu   sync.Mutex    // Protects reconnectStop
	writeMu       sync.Mutex
	lastPacket    atomic.Int64 // Unix nano timestamp for thread-safe access

	// Cause recorded before closing the connection so the read loop can
	// report the real reason instead of a bare socket error
	lostMu    sync.Mutex
	lostCause error
}

type pendingSubscribe struct {
	filters []string

	// ack carries the SUBACK return codes to a blocked caller and is
	// closed without a send on connection loss. A nil ack means no
	// caller is waiting and the codes are applied by the read loop.
	ack chan []byte
}

type pendingUnsubscribe struct {
	filters []string
	ack     chan struct{}
}

// Dial connects to an MQTT broker and returns a client.
// Use WithServers() or WithServerResolver() to configure server addresses.
func Dial(opts ...Option) (*Client, error) {
	return DialContext(context.Background(), opts...)
}

// DialContext connects to an MQTT broker with a context.
// The context controls the client's lifecycle - when canceled, the client will close.
// Use WithServers() or WithServerResolver() to configure server addresses.
func DialContext(ctx context.Context, opts ...Option) (*Client, error) {
	options := applyOptions(opts...)

	// Validate that servers are configured
	if len(options.servers) == 0 && options.serverResolver == nil {
		return nil, errors.New("no servers configured: use WithServers() or WithServerResolver()")
	}

	if options.willTopic != "" && options.willQoS > QoS2 {
		return nil, ErrInvalidQoS
	}

	c := &Client{
		options:             options,
		log:                 options.logger,
		metrics:             NewClientMetrics(options.metrics),
		parentCtx:           ctx, // Store parent context for lifecycle management
		state:               newStateMachine(),
		router:              NewRouter(),
		tokens:              make(map[uint16]*DeliveryToken),
		pendingSubscribes:   make(map[uint16]*pendingSubscribe),
		pendingUnsubscribes: make(map[uint16]*pendingUnsubscribe),
		packetIDMgr:         NewPacketIDManager(),
		qos1Tracker:         NewQoS1Tracker(options.retryPolicy),
		qos2Tracker:         NewQoS2Tracker(options.retryPolicy),
		done:                make(chan struct{}),
	}

	// Generate client ID if not provided
	if options.clientID == "" {
		if !options.cleanSession {
			return nil, ErrClientIDRequired
		}
		options.clientID = generateClientID()
	}
	c.session = options.sessionFactory(options.clientID)

	// A persistent session may carry unresolved deliveries from a
	// previous run
	if !options.cleanSession {
		c.rehydrateFromSession()
	}

	// Connect with timeout
	connectCtx, connectCancel := context.WithTimeout(ctx, options.connectTimeout)
	defer connectCancel()

	sessionPresent, err := c.connect(connectCtx)
	if err != nil {
		return nil, err
	}
	if sessionPresent {
		c.resendInflightMessages()
	} else if !options.cleanSession {
		// The broker has no session for us: restored state can never
		// resolve
		c.resetInflightState()
	}

	// Watch parent context for cancellation to support graceful shutdown
	go c.watchParentContext()

	return c, nil
}

// watchParentContext monitors the parent context and closes the client when canceled.
func (c *Client) watchParentContext() {
	if c.parentCtx == nil {
		return
	}

	select {
	case <-c.parentCtx.Done():
		c.Close()
	case <-c.done:
	}
}

// readConnack reads the CONNACK response to a CONNECT packet.
func (c *Client) readConnack() (*ConnackPacket, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.options.connectTimeout))
	pkt, _, err := ReadPacket(c.conn, c.options.maxPacketSize)
	c.conn.SetReadDeadline(time.Time{})
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrConnectTimeout
		}
		return nil, fmt.Errorf("failed to read CONNACK: %w", err)
	}

	connack, ok := pkt.(*ConnackPacket)
	if !ok {
		return nil, fmt.Errorf("%w: expected CONNACK, got %s", ErrProtocolError, pkt.Type())
	}

	if connack.ReturnCode != ConnackAccepted {
		return nil, NewConnectRejectedError(connack.ReturnCode)
	}

	// A clean session must never be resumed
	if c.options.cleanSession && connack.SessionPresent {
		return nil, fmt.Errorf("%w: session present on clean session connect", ErrProtocolError)
	}

	return connack, nil
}

// connect establishes the network connection and performs the MQTT handshake.
// Returns (sessionPresent, error) where sessionPresent indicates if the server
// resumed an existing session.
func (c *Client) connect(ctx context.Context) (bool, error) {
	if err := c.state.Transition(StateConnecting); err != nil {
		return false, err
	}

	// Cancel any existing goroutines from previous connection
	if c.cancel != nil {
		c.cancel()
		select {
		case <-c.readDone:
		case <-time.After(time.Second):
		}
	}

	// Create new context and channels for this connection
	// Derive from parent context to respect user's lifecycle control
	parentCtx := c.parentCtx
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	c.ctx, c.cancel = context.WithCancel(parentCtx)
	c.readDone = make(chan struct{})

	fail := func(err error) (bool, error) {
		c.cancel()
		if c.reconnecting.Load() {
			c.state.TransitionFrom(StateConnecting, StateReconnecting)
		} else {
			c.state.TransitionFrom(StateConnecting, StateDisconnected)
		}
		return false, err
	}

	// Get server address for this connection attempt
	serverAddr, err := c.nextServer(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to get server: %w", err))
	}

	conn, err := c.dial(ctx, serverAddr)
	if err != nil {
		return fail(err)
	}
	c.conn = conn

	// Build CONNECT packet
	connectPkt := &ConnectPacket{
		ClientID:     c.options.clientID,
		CleanSession: c.options.cleanSession,
		KeepAlive:    c.options.keepAlive,
		Username:     c.options.username,
		Password:     c.options.password,
	}

	// Set Will message if configured
	if c.options.willTopic != "" {
		connectPkt.WillFlag = true
		connectPkt.WillTopic = c.options.willTopic
		connectPkt.WillPayload = c.options.willPayload
		connectPkt.WillRetain = c.options.willRetain
		connectPkt.WillQoS = c.options.willQoS
	}

	// Send CONNECT
	if err := c.writePacket(connectPkt); err != nil {
		c.conn.Close()
		return fail(fmt.Errorf("failed to send CONNECT: %w", err))
	}

	connack, err := c.readConnack()
	if err != nil {
		c.conn.Close()
		return fail(err)
	}

	if err := c.state.Transition(StateConnected); err != nil {
		c.conn.Close()
		return fail(err)
	}
	c.lastPacket.Store(time.Now().UnixNano())

	c.metrics.ConnectionOpened()
	c.log.Info("connected", LogFields{
		LogFieldClientID:   c.options.clientID,
		LogFieldRemoteAddr: conn.RemoteAddr().String(),
		"session_present":  connack.SessionPresent,
	})

	// Start background goroutines
	go c.readLoop()
	go c.keepAliveLoop()
	go c.qosRetryLoop()

	// Emit connected event
	c.emit(NewConnectedEvent(connack.SessionPresent))

	return connack.SessionPresent, nil
}

// nextServer returns the next server address to try using round-robin selection.
// It calls the resolver if configured, then falls back to static servers.
func (c *Client) nextServer(ctx context.Context) (string, error) {
	var servers []string

	// Try resolver first if configured
	if c.options.serverResolver != nil {
		resolvedServers, err := c.options.serverResolver(ctx)
		if err == nil && len(resolvedServers) > 0 {
			servers = resolvedServers
		}
		// If resolver fails, fall through to static servers
	}

	// Use static servers if no resolved servers
	if len(servers) == 0 {
		servers = c.options.servers
	}

	if len(servers) == 0 {
		return "", errors.New("no servers available")
	}

	// Round-robin selection using atomic increment
	index := atomic.AddUint32(&c.serverIndex, 1) - 1
	selectedIndex := index % uint32(len(servers))

	return servers[selectedIndex], nil
}

// dial creates the network connection to the specified address.
func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "tcp", "mqtt":
			host = net.JoinHostPort(u.Hostname(), "1883")
		case "ssl", "tls", "mqtts":
			host = net.JoinHostPort(u.Hostname(), "8883")
		case "ws":
			host = net.JoinHostPort(u.Hostname(), "80")
		case "wss":
			host = net.JoinHostPort(u.Hostname(), "443")
		case "quic":
			host = net.JoinHostPort(u.Hostname(), "8883")
		}
	}

	var proxyDialer *ProxyDialer
	if c.options.proxy != nil {
		proxyDialer, err = NewProxyDialer(c.options.proxy.URL, c.options.proxy.Username, c.options.proxy.Password)
		if err != nil {
			return nil, err
		}
	}

	var conn net.Conn

	switch u.Scheme {
	case "tcp", "mqtt":
		dialer := &TCPDialer{Timeout: c.options.connectTimeout, Proxy: proxyDialer}
		conn, err = dialer.Dial(ctx, host)
	case "ssl", "tls", "mqtts":
		tlsConfig := c.options.tlsConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		dialer := &TLSDialer{Config: tlsConfig, Timeout: c.options.connectTimeout, Proxy: proxyDialer}
		conn, err = dialer.Dial(ctx, host)
	case "ws", "wss":
		wsDialer := NewWSDialer()
		if c.options.tlsConfig != nil && wsDialer.Dialer != nil {
			wsDialer.Dialer.TLSClientConfig = c.options.tlsConfig
		}
		var wsConn Conn
		wsConn, err = wsDialer.Dial(ctx, addr)
		if wsConn != nil {
			conn = wsConn
		}
	case "unix":
		// Unix socket: unix:///path/to/socket
		socketPath := u.Path
		if socketPath == "" {
			socketPath = u.Host + u.Path
		}
		dialer := &UnixDialer{Timeout: c.options.connectTimeout}
		var unixConn Conn
		unixConn, err = dialer.Dial(ctx, socketPath)
		if unixConn != nil {
			conn = unixConn
		}
	case "quic":
		quicDialer := NewQUICDialer(c.options.tlsConfig)
		var quicConn Conn
		quicConn, err = quicDialer.Dial(ctx, host)
		if quicConn != nil {
			conn = quicConn
		}
	default:
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	return conn, nil
}

// Close disconnects from the broker and releases resources. A DISCONNECT
// packet is sent so the broker discards the Will message.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	c.cancelReconnect()

	if c.cancel != nil {
		c.cancel()
	}

	if c.state.Is(StateConnected) {
		c.state.Transition(StateDisconnecting)
		c.writePacket(&DisconnectPacket{})
	}

	if c.conn != nil {
		c.conn.Close()
	}

	// Wait for readLoop to finish
	if c.readDone != nil {
		select {
		case <-c.readDone:
		case <-time.After(time.Second):
		}
	}

	c.state.TransitionFrom(StateDisconnecting, StateDisconnected)
	c.failPendingOperations(ErrClientClosed)
	c.failAllTokens(ErrClientClosed)
	c.metrics.ConnectionClosed()

	close(c.done)

	c.emit(ErrDisconnected)

	return nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.state.Is(StateConnected) && !c.closed.Load()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return c.state.Current()
}

// ClientID returns the client identifier.
func (c *Client) ClientID() string {
	return c.options.clientID
}

// Publish sends a message to the broker. For QoS 1 and 2 the returned
// token resolves when the delivery handshake completes; for QoS 0 it is
// already resolved. The context bounds only the send itself (including
// any rate-limiter wait), not the acknowledgment; use the token for
// that.
func (c *Client) Publish(ctx context.Context, msg *Message) (*DeliveryToken, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if !c.state.Is(StateConnected) {
		return nil, ErrNotConnected
	}

	if msg.QoS > QoS2 {
		return nil, ErrInvalidQoS
	}
	if err := ValidateTopicName(msg.Topic); err != nil {
		return nil, err
	}

	if c.options.publishLimiter != nil {
		if err := c.options.publishLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	pkt := &PublishPacket{}
	pkt.FromMessage(msg)

	if msg.QoS == QoS0 {
		if err := c.writePacket(pkt); err != nil {
			return nil, err
		}
		c.metrics.MessagePublished(QoS0)
		return completedToken(nil), nil
	}

	packetID, err := c.packetIDMgr.Allocate()
	if err != nil {
		return nil, err
	}
	pkt.ID = packetID

	token := newDeliveryToken(packetID)
	qos := msg.QoS
	token.cancelFn = func() {
		c.dropToken(packetID)
		switch qos {
		case QoS1:
			c.qos1Tracker.Remove(packetID)
			c.session.RemoveQoS1(packetID)
		case QoS2:
			c.qos2Tracker.Remove(packetID)
			c.session.RemoveQoS2(packetID)
		}
		_ = c.packetIDMgr.Release(packetID)
		c.metrics.InflightRemoved()
	}
	c.tokensMu.Lock()
	c.tokens[packetID] = token
	c.tokensMu.Unlock()

	// Track for acknowledgment
	switch msg.QoS {
	case QoS1:
		c.qos1Tracker.Track(packetID, msg)
		if d, ok := c.qos1Tracker.Get(packetID); ok {
			c.session.StoreQoS1(d)
		}
	case QoS2:
		c.qos2Tracker.TrackSend(packetID, msg)
		if d, ok := c.qos2Tracker.Get(packetID); ok {
			c.session.StoreQoS2(d)
		}
	}

	if err := c.writePacket(pkt); err != nil {
		c.dropToken(packetID)
		switch msg.QoS {
		case QoS1:
			c.qos1Tracker.Remove(packetID)
			c.session.RemoveQoS1(packetID)
		case QoS2:
			c.qos2Tracker.Remove(packetID)
			c.session.RemoveQoS2(packetID)
		}
		_ = c.packetIDMgr.Release(packetID)
		return nil, err
	}

	c.metrics.MessagePublished(msg.QoS)
	c.metrics.InflightAdded()
	return token, nil
}

// Subscribe subscribes to a topic filter and blocks until the broker
// grants it. Returns the granted QoS, which may be lower than requested.
func (c *Client) Subscribe(ctx context.Context, filter string, qos byte, handler MessageHandler) (byte, error) {
	codes, err := c.SubscribeMultiple(ctx, []Subscription{{TopicFilter: filter, QoS: qos}}, handler)
	if err != nil {
		return 0, err
	}
	return codes[0], nil
}

// SubscribeMultiple subscribes to multiple topic filters with a single
// handler and blocks until SUBACK. Returns the granted QoS per filter in
// order; a filter the broker rejected yields SubackFailure and an error.
func (c *Client) SubscribeMultiple(ctx context.Context, subs []Subscription, handler MessageHandler) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}
	if !c.state.Is(StateConnected) {
		return nil, ErrNotConnected
	}
	if len(subs) == 0 {
		return nil, ErrInvalidTopic
	}

	if c.options.maxSubscriptions > 0 &&
		c.router.Count()+len(subs) > c.options.maxSubscriptions {
		return nil, ErrTooManySubscriptions
	}

	filters := make([]string, 0, len(subs))
	for _, sub := range subs {
		if sub.TopicFilter == "" {
			return nil, ErrInvalidTopic
		}
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return nil, err
		}
		if sub.QoS > QoS2 {
			return nil, ErrInvalidQoS
		}
		filters = append(filters, sub.TopicFilter)
	}

	packetID, err := c.packetIDMgr.Allocate()
	if err != nil {
		return nil, err
	}

	pkt := &SubscribePacket{
		ID:            packetID,
		Subscriptions: subs,
	}

	// Register routes BEFORE sending so no message arriving between the
	// SUBSCRIBE and the SUBACK is dropped
	for _, sub := range subs {
		if _, err := c.router.Add(sub.TopicFilter, sub.QoS, handler); err != nil {
			for _, added := range subs {
				c.router.Remove(added.TopicFilter)
			}
			_ = c.packetIDMgr.Release(packetID)
			return nil, err
		}
	}

	pending := &pendingSubscribe{
		filters: filters,
		ack:     make(chan []byte, 1),
	}
	c.pendingOpsMu.Lock()
	c.pendingSubscribes[packetID] = pending
	c.pendingOpsMu.Unlock()

	cleanup := func() {
		c.pendingOpsMu.Lock()
		delete(c.pendingSubscribes, packetID)
		c.pendingOpsMu.Unlock()
		for _, sub := range subs {
			c.router.Remove(sub.TopicFilter)
		}
		_ = c.packetIDMgr.Release(packetID)
	}

	if err := c.writePacket(pkt); err != nil {
		cleanup()
		return nil, err
	}

	// Block until SUBACK
	timer := time.NewTimer(c.options.connectTimeout)
	defer timer.Stop()

	var codes []byte
	select {
	case codes = <-pending.ack:
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-c.ctx.Done():
		cleanup()
		return nil, ErrNotConnected
	case <-timer.C:
		cleanup()
		return nil, fmt.Errorf("%w: no SUBACK", ErrSubscribeFailed)
	}

	if codes == nil {
		// Connection lost while waiting
		for _, sub := range subs {
			c.router.Remove(sub.TopicFilter)
		}
		return nil, NewConnectionLostError(nil)
	}

	var subErr error
	for i, code := range codes {
		filter := filters[i]
		if code == SubackFailure {
			c.router.Remove(filter)
			subErr = NewSubscribeError(filter)
			continue
		}
		c.router.SetGranted(filter, code)
		c.session.AddSubscription(Subscription{TopicFilter: filter, QoS: code})
		c.metrics.SubscriptionAdded()
	}

	return codes, subErr
}

// Unsubscribe removes subscriptions and blocks until the broker
// acknowledges with UNSUBACK.
func (c *Client) Unsubscribe(ctx context.Context, filters ...string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.state.Is(StateConnected) {
		return ErrNotConnected
	}
	if len(filters) == 0 {
		return ErrInvalidTopic
	}

	for _, filter := range filters {
		if filter == "" {
			return ErrInvalidTopic
		}
		if err := ValidateTopicFilter(filter); err != nil {
			return err
		}
	}

	packetID, err := c.packetIDMgr.Allocate()
	if err != nil {
		return err
	}

	pkt := &UnsubscribePacket{
		ID:           packetID,
		TopicFilters: filters,
	}

	pending := &pendingUnsubscribe{
		filters: filters,
		ack:     make(chan struct{}),
	}
	c.pendingOpsMu.Lock()
	c.pendingUnsubscribes[packetID] = pending
	c.pendingOpsMu.Unlock()

	cleanup := func() {
		c.pendingOpsMu.Lock()
		delete(c.pendingUnsubscribes, packetID)
		c.pendingOpsMu.Unlock()
		_ = c.packetIDMgr.Release(packetID)
	}

	if err := c.writePacket(pkt); err != nil {
		cleanup()
		return err
	}

	timer := time.NewTimer(c.options.connectTimeout)
	defer timer.Stop()

	select {
	case <-pending.ack:
	case <-ctx.Done():
		cleanup()
		return ctx.Err()
	case <-c.ctx.Done():
		cleanup()
		return ErrNotConnected
	case <-timer.C:
		cleanup()
		return fmt.Errorf("%w: no UNSUBACK", ErrUnsubscribeFailed)
	}

	// Routes stay active until the broker confirms
	for _, filter := range filters {
		if c.router.Remove(filter) {
			c.metrics.SubscriptionRemoved()
		}
		c.session.RemoveSubscription(filter)
	}

	return nil
}

// writePacket writes a packet to the connection with proper locking.
func (c *Client) writePacket(pkt Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	if c.options.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.options.writeTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	n, err := WritePacket(c.conn, pkt, c.options.maxPacketSize)
	if err != nil {
		return err
	}

	c.metrics.PacketSent(pkt.Type())
	c.metrics.BytesSent(n)
	c.lastPacket.Store(time.Now().UnixNano())
	return nil
}

// emit sends an event to the event handler.
func (c *Client) emit(event error) {
	if c.options.onEvent != nil {
		c.options.onEvent(c, event)
	}
}

func (c *Client) setLostCause(err error) {
	c.lostMu.Lock()
	if c.lostCause == nil {
		c.lostCause = err
	}
	c.lostMu.Unlock()
}

func (c *Client) takeLostCause() error {
	c.lostMu.Lock()
	defer c.lostMu.Unlock()
	err := c.lostCause
	c.lostCause = nil
	return err
}

// readLoop reads packets from the connection.
func (c *Client) readLoop() {
	defer close(c.readDone)

	grace := c.keepAliveGracePeriod()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if grace > 0 {
			c.conn.SetReadDeadline(time.Now().Add(grace))
		}

		pkt, n, err := ReadPacket(c.conn, c.options.maxPacketSize)
		if err != nil {
			if c.closed.Load() {
				return
			}

			cause := err
			if recorded := c.takeLostCause(); recorded != nil {
				cause = recorded
			} else {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					// The broker went silent past the keep-alive grace
					cause = ErrKeepAliveTimeout
				}
			}

			c.teardown(cause)
			return
		}

		c.metrics.PacketReceived(pkt.Type())
		c.metrics.BytesReceived(n)
		c.lastPacket.Store(time.Now().UnixNano())
		c.handlePacket(pkt)
	}
}

// keepAliveGracePeriod returns how long the connection may stay silent
// before it is considered dead. Zero disables the check.
func (c *Client) keepAliveGracePeriod() time.Duration {
	if c.options.keepAlive == 0 {
		return 0
	}
	interval := time.Duration(c.options.keepAlive) * time.Second
	return time.Duration(float64(interval) * c.options.keepAliveGrace)
}

// teardown handles an unexpected connection loss: stops the connection
// goroutines, surfaces the cause, and starts reconnection if enabled.
func (c *Client) teardown(cause error) {
	if c.options.autoReconnect && !c.closed.Load() {
		c.state.TransitionFrom(StateConnected, StateReconnecting)
	} else {
		c.state.TransitionFrom(StateConnected, StateDisconnected)
	}

	// Stop keepAliveLoop and qosRetryLoop
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.failPendingOperations(nil)

	c.metrics.ConnectionClosed()
	c.log.Warn("connection lost", LogFields{
		LogFieldClientID: c.options.clientID,
		LogFieldError:    cause,
	})
	c.emit(NewConnectionLostError(cause))

	if c.options.autoReconnect && !c.closed.Load() {
		go c.reconnectLoop()
	}
}

// handlePacket processes an incoming packet.
func (c *Client) handlePacket(pkt Packet) {
	switch p := pkt.(type) {
	case *PublishPacket:
		c.handlePublish(p)
	case *PubackPacket:
		c.handlePuback(p)
	case *PubrecPacket:
		c.handlePubrec(p)
	case *PubrelPacket:
		c.handlePubrel(p)
	case *PubcompPacket:
		c.handlePubcomp(p)
	case *SubackPacket:
		c.handleSuback(p)
	case *UnsubackPacket:
		c.handleUnsuback(p)
	case *PingrespPacket:
		// Keep-alive response received
	default:
		// The server must not send CONNECT, SUBSCRIBE, UNSUBSCRIBE,
		// PINGREQ, or DISCONNECT to a client
		c.log.Warn("unexpected packet from server", LogFields{
			LogFieldPacketType: pkt.Type().String(),
		})
		c.setLostCause(fmt.Errorf("%w: unexpected %s from server", ErrProtocolError, pkt.Type()))
		c.conn.Close()
	}
}

// handlePublish processes an incoming PUBLISH packet.
func (c *Client) handlePublish(pkt *PublishPacket) {
	msg := pkt.ToMessage()

	switch pkt.QoS {
	case QoS0:
		c.dispatch(msg)

	case QoS1:
		// MQTT 3.1.1 orders receiver actions: deliver to the
		// application, then PUBACK
		c.dispatch(msg)
		c.writePacket(&PubackPacket{ID: pkt.ID})

	case QoS2:
		// A DUP retransmit of an identifier already past PUBREC must not
		// reach the application again
		_, isRetransmit := c.qos2Tracker.Get(pkt.ID)
		if !isRetransmit {
			c.qos2Tracker.TrackReceive(pkt.ID, msg)
		}

		c.writePacket(&PubrecPacket{ID: pkt.ID})

		if !isRetransmit {
			c.qos2Tracker.SendPubrec(pkt.ID)
		}
		// Delivery is deferred until PUBREL arrives
	}
}

// dispatch routes a message to matching subscription handlers. A handler
// panic is isolated and surfaced through the event channel instead of
// crashing the read loop.
func (c *Client) dispatch(msg *Message) {
	c.metrics.MessageReceived(msg.QoS)
	for _, herr := range c.router.Dispatch(msg) {
		c.log.Error("handler panic", LogFields{
			LogFieldTopic: herr.Topic,
			"filter":      herr.Filter,
			"panic":       herr.Recovered,
		})
		c.emit(herr)
	}
}

// handlePuback processes a PUBACK packet.
func (c *Client) handlePuback(pkt *PubackPacket) {
	d, ok := c.qos1Tracker.Acknowledge(pkt.ID)
	if !ok {
		return
	}
	c.session.RemoveQoS1(pkt.ID)
	_ = c.packetIDMgr.Release(pkt.ID)
	c.metrics.DeliveryLatency(time.Since(d.SentAt))
	c.completeToken(pkt.ID, nil)
}

// handlePubrec processes a PUBREC packet.
func (c *Client) handlePubrec(pkt *PubrecPacket) {
	if _, ok := c.qos2Tracker.HandlePubrec(pkt.ID); ok {
		c.writePacket(&PubrelPacket{ID: pkt.ID})
	}
}

// handlePubrel processes a PUBREL packet.
func (c *Client) handlePubrel(pkt *PubrelPacket) {
	d, shouldAck := c.qos2Tracker.HandlePubrel(pkt.ID)
	if !shouldAck {
		return
	}

	c.writePacket(&PubcompPacket{ID: pkt.ID})

	// Deliver exactly once, after the handshake releases the identifier
	if d != nil && d.Message != nil {
		c.dispatch(d.Message)
	}
}

// handlePubcomp processes a PUBCOMP packet.
func (c *Client) handlePubcomp(pkt *PubcompPacket) {
	d, ok := c.qos2Tracker.HandlePubcomp(pkt.ID)
	if !ok {
		return
	}
	c.session.RemoveQoS2(pkt.ID)
	_ = c.packetIDMgr.Release(pkt.ID)
	c.metrics.DeliveryLatency(time.Since(d.SentAt))
	c.completeToken(pkt.ID, nil)
}

// handleSuback processes a SUBACK packet.
func (c *Client) handleSuback(pkt *SubackPacket) {
	c.pendingOpsMu.Lock()
	pending, ok := c.pendingSubscribes[pkt.ID]
	delete(c.pendingSubscribes, pkt.ID)
	c.pendingOpsMu.Unlock()

	if !ok {
		return
	}

	_ = c.packetIDMgr.Release(pkt.ID)

	// Return code count must match the subscription count
	if len(pkt.ReturnCodes) != len(pending.filters) {
		if pending.ack != nil {
			close(pending.ack)
		}
		c.setLostCause(fmt.Errorf("%w: SUBACK return code count mismatch", ErrProtocolError))
		c.conn.Close()
		return
	}

	if pending.ack == nil {
		c.applySubackCodes(pending.filters, pkt.ReturnCodes)
		return
	}
	pending.ack <- pkt.ReturnCodes
}

// applySubackCodes records broker grants for filters whose SUBACK no
// caller is waiting on, such as re-subscribes after a reconnect. A
// rejected filter loses its route and surfaces through the event
// handler.
func (c *Client) applySubackCodes(filters []string, codes []byte) {
	for i, code := range codes {
		filter := filters[i]
		if code == SubackFailure {
			if c.router.Remove(filter) {
				c.metrics.SubscriptionRemoved()
			}
			c.session.RemoveSubscription(filter)
			c.emit(NewSubscribeError(filter))
			continue
		}
		c.router.SetGranted(filter, code)
		c.session.AddSubscription(Subscription{TopicFilter: filter, QoS: code})
	}
}

// handleUnsuback processes an UNSUBACK packet.
func (c *Client) handleUnsuback(pkt *UnsubackPacket) {
	c.pendingOpsMu.Lock()
	pending, ok := c.pendingUnsubscribes[pkt.ID]
	delete(c.pendingUnsubscribes, pkt.ID)
	c.pendingOpsMu.Unlock()

	if !ok {
		return
	}

	_ = c.packetIDMgr.Release(pkt.ID)
	close(pending.ack)
}

// keepAliveLoop sends PINGREQ packets to keep the connection alive.
func (c *Client) keepAliveLoop() {
	if c.options.keepAlive == 0 {
		return
	}

	interval := time.Duration(c.options.keepAlive) * time.Second / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.state.Is(StateConnected) {
				continue
			}

			lastPacketTime := time.Unix(0, c.lastPacket.Load())
			if time.Since(lastPacketTime) >= interval {
				if err := c.writePacket(&PingreqPacket{}); err != nil {
					c.log.Warn("ping failed", LogFields{LogFieldError: err})
				}
			}
		}
	}
}

// qosRetryLoop handles retransmission of unacknowledged QoS 1/2 messages.
func (c *Client) qosRetryLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.state.Is(StateConnected) {
				continue
			}

			// Retry QoS 1 messages with DUP flag
			for _, d := range c.qos1Tracker.PendingRetries() {
				pub := &PublishPacket{}
				pub.FromMessage(d.Message)
				pub.ID = d.ID
				pub.QoS = QoS1
				pub.DUP = true
				c.writePacket(pub)
				c.metrics.DeliveryRetried()
			}

			// Retry QoS 2 messages according to handshake state
			for _, d := range c.qos2Tracker.PendingRetries() {
				switch d.State {
				case QoS2AwaitingPubrec:
					pub := &PublishPacket{}
					pub.FromMessage(d.Message)
					pub.ID = d.ID
					pub.QoS = QoS2
					pub.DUP = true
					c.writePacket(pub)
				case QoS2AwaitingPubcomp:
					c.writePacket(&PubrelPacket{ID: d.ID})
				}
				c.metrics.DeliveryRetried()
			}

			c.reapAbandoned()
			c.qos2Tracker.CleanupCompleted()
		}
	}
}

// reapAbandoned fails deliveries that exhausted their retry budget.
func (c *Client) reapAbandoned() {
	for _, d := range c.qos1Tracker.TakeAbandoned() {
		c.abandonDelivery(d.ID, d.Message.Topic, d.RetryCount)
		c.session.RemoveQoS1(d.ID)
	}
	for _, d := range c.qos2Tracker.TakeAbandoned() {
		topic := ""
		if d.Message != nil {
			topic = d.Message.Topic
		}
		c.abandonDelivery(d.ID, topic, d.RetryCount)
		c.session.RemoveQoS2(d.ID)
	}
}

func (c *Client) abandonDelivery(packetID uint16, topic string, retries int) {
	_ = c.packetIDMgr.Release(packetID)
	c.metrics.DeliveryAbandoned()
	err := NewDeliveryAbandonedError(topic, packetID, retries)
	c.completeToken(packetID, err)
	c.log.Warn("delivery abandoned", LogFields{
		LogFieldPacketID: packetID,
		LogFieldTopic:    topic,
		"retries":        retries,
	})
	c.emit(err)
}

func (c *Client) completeToken(packetID uint16, err error) {
	c.tokensMu.Lock()
	token, ok := c.tokens[packetID]
	delete(c.tokens, packetID)
	c.tokensMu.Unlock()
	if ok {
		c.metrics.InflightRemoved()
		token.complete(err)
	}
}

func (c *Client) dropToken(packetID uint16) {
	c.tokensMu.Lock()
	delete(c.tokens, packetID)
	c.tokensMu.Unlock()
}

func (c *Client) failAllTokens(err error) {
	c.tokensMu.Lock()
	tokens := c.tokens
	c.tokens = make(map[uint16]*DeliveryToken)
	c.tokensMu.Unlock()

	for _, token := range tokens {
		token.complete(err)
	}
}

// failPendingOperations unblocks Subscribe/Unsubscribe callers whose ACK
// will never arrive and releases their packet IDs. A nil err closes the
// ack channels so waiters observe a connection loss.
func (c *Client) failPendingOperations(_ error) {
	c.pendingOpsMu.Lock()
	for packetID, pending := range c.pendingSubscribes {
		_ = c.packetIDMgr.Release(packetID)
		if pending.ack != nil {
			close(pending.ack)
		}
	}
	for packetID := range c.pendingUnsubscribes {
		_ = c.packetIDMgr.Release(packetID)
		// Leave the channel open so the caller times out instead of
		// mistaking the loss for a confirmed unsubscribe
	}
	c.pendingSubscribes = make(map[uint16]*pendingSubscribe)
	c.pendingUnsubscribes = make(map[uint16]*pendingUnsubscribe)
	c.pendingOpsMu.Unlock()
}

// generateClientID generates a random client ID.
func generateClientID() string {
	return fmt.Sprintf("mqtt311-%d", time.Now().UnixNano())
}

// rehydrateFromSession loads unresolved deliveries recorded by a
// persistent Session into the live trackers and reserves their packet
// identifiers, so a resumed session can replay them.
func (c *Client) rehydrateFromSession() {
	for _, d := range c.session.PendingQoS1() {
		if c.packetIDMgr.Reserve(d.ID) {
			c.qos1Tracker.Restore(d)
		}
	}
	for _, d := range c.session.PendingQoS2() {
		if c.packetIDMgr.Reserve(d.ID) {
			c.qos2Tracker.Restore(d)
		}
	}
}

// resendInflightMessages replays unresolved QoS 1/2 deliveries after a
// reconnect that resumed the session. Retransmitted PUBLISH packets
// carry the DUP flag.
func (c *Client) resendInflightMessages() {
	for _, d := range c.qos1Tracker.All() {
		pub := &PublishPacket{}
		pub.FromMessage(d.Message)
		pub.ID = d.ID
		pub.QoS = QoS1
		pub.DUP = true
		c.writePacket(pub)
	}

	for _, d := range c.qos2Tracker.All() {
		if !d.IsSender {
			continue
		}
		switch d.State {
		case QoS2AwaitingPubrec:
			pub := &PublishPacket{}
			pub.FromMessage(d.Message)
			pub.ID = d.ID
			pub.QoS = QoS2
			pub.DUP = true
			c.writePacket(pub)
		case QoS2AwaitingPubcomp:
			c.writePacket(&PubrelPacket{ID: d.ID})
		}
	}
}

// restoreSubscriptions re-subscribes to all stored subscriptions after a
// reconnect where the broker did not resume the session.
func (c *Client) restoreSubscriptions() {
	subs := c.router.Subscriptions()
	if len(subs) == 0 {
		return
	}

	// No caller blocks on these: the read loop applies the grants when
	// each SUBACK arrives, and a rejection surfaces through the event
	// handler
	for _, sub := range subs {
		packetID, err := c.packetIDMgr.Allocate()
		if err != nil {
			continue
		}

		pkt := &SubscribePacket{
			ID:            packetID,
			Subscriptions: []Subscription{sub},
		}

		c.pendingOpsMu.Lock()
		c.pendingSubscribes[packetID] = &pendingSubscribe{
			filters: []string{sub.TopicFilter},
		}
		c.pendingOpsMu.Unlock()

		if err := c.writePacket(pkt); err != nil {
			c.pendingOpsMu.Lock()
			delete(c.pendingSubscribes, packetID)
			c.pendingOpsMu.Unlock()
			_ = c.packetIDMgr.Release(packetID)
		}
	}
}

// resetInflightState clears all inflight state when the broker has no
// session for us on reconnect. Outstanding tokens fail because their
// deliveries can no longer complete.
func (c *Client) resetInflightState() {
	c.failAllTokens(NewConnectionLostError(nil))
	for _, d := range c.qos1Tracker.All() {
		_ = c.packetIDMgr.Release(d.ID)
	}
	for _, d := range c.qos2Tracker.All() {
		_ = c.packetIDMgr.Release(d.ID)
	}
	// Reset in place: the new connection's read and retry loops already
	// hold the tracker pointers
	c.qos1Tracker.Reset()
	c.qos2Tracker.Reset()
	c.session.Clear()
}

func (c *Client) cancelReconnect() {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()
	if c.reconnectStop != nil {
		select {
		case <-c.reconnectStop:
		default:
			close(c.reconnectStop)
		}
	}
}

func (c *Client) reconnectLoop() {
	if !c.options.autoReconnect || c.closed.Load() {
		return
	}

	if !c.reconnecting.CompareAndSwap(false, true) {
		return // Already reconnecting
	}
	defer c.reconnecting.Store(false)

	c.reconnectMu.Lock()
	c.reconnectStop = make(chan struct{})
	stopCh := c.reconnectStop
	c.reconnectMu.Unlock()

	cancelReconnect := func() {
		c.cancelReconnect()
	}

	giveUp := func() {
		c.state.TransitionFrom(StateReconnecting, StateDisconnected)
	}

	attempt := 0
	backoff := c.options.reconnectBackoff

	for {
		if c.closed.Load() {
			giveUp()
			return
		}

		attempt++
		c.metrics.ReconnectAttempt()
		if c.options.maxReconnects > 0 && attempt > c.options.maxReconnects {
			giveUp()
			c.emit(ErrReconnectFailed)
			return
		}

		c.log.Info("reconnecting", LogFields{
			"attempt":  attempt,
			"backoff":  backoff.String(),
			"max":      c.options.maxReconnects,
		})
		c.emit(NewReconnectEvent(attempt, c.options.maxReconnects, backoff, cancelReconnect))

		// Wait for backoff duration, checking for close or cancel
		timer := time.NewTimer(backoff)
		select {
		case <-c.done:
			timer.Stop()
			giveUp()
			return
		case <-stopCh:
			timer.Stop()
			giveUp()
			return
		case <-timer.C:
		}

		connectCtx, connectCancel := context.WithTimeout(context.Background(), c.options.connectTimeout)
		sessionPresent, err := c.connect(connectCtx)
		connectCancel()

		if err == nil {
			if sessionPresent {
				// The broker kept our session: replay unresolved
				// deliveries, subscriptions are still in place
				c.resendInflightMessages()
			} else {
				c.resetInflightState()
				c.restoreSubscriptions()
			}
			return
		}

		// Calculate next backoff duration
		if c.options.backoffStrategy != nil {
			backoff = c.options.backoffStrategy(attempt, backoff, err)
		} else {
			// Default: exponential backoff (double)
			backoff *= 2
		}
		if backoff > c.options.maxBackoff {
			backoff = c.options.maxBackoff
		}
	}
}
