// Package mqtt311 provides an MQTT 3.1.1 client core.
//
// This package implements the MQTT Version 3.1.1 OASIS Standard:
// https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// # Features
//
//   - All 14 MQTT 3.1.1 control packet types
//   - QoS 0, 1, 2 message flows with per-delivery retry backoff
//   - Topic matching with wildcard support (+, #)
//   - Transport: TCP, TLS, WebSocket, WSS, QUIC, Unix sockets
//   - Automatic reconnection with session replay
//
// # Packet Types
//
// The package provides structs for all MQTT 3.1.1 control packets:
//
//   - ConnectPacket, ConnackPacket: Connection establishment
//   - PublishPacket, PubackPacket, PubrecPacket, PubrelPacket, PubcompPacket: Message delivery
//   - SubscribePacket, SubackPacket: Topic subscription
//   - UnsubscribePacket, UnsubackPacket: Topic unsubscription
//   - PingreqPacket, PingrespPacket: Keep-alive
//   - DisconnectPacket: Connection termination
//
// Use ReadPacket and WritePacket to read/write packets from/to connections:
//
//	// Read a packet
//	pkt, n, err := mqtt311.ReadPacket(conn, maxPacketSize)
//
//	// Write a packet
//	n, err := mqtt311.WritePacket(conn, packet, maxPacketSize)
//
// For buffer-oriented I/O, Decode consumes a complete packet from the
// front of a byte slice and reports ErrNeedMoreData when the buffer
// holds only a prefix:
//
//	pkt, n, err := mqtt311.Decode(buf, maxPacketSize)
//	if errors.Is(err, mqtt311.ErrNeedMoreData) {
//	    // read more bytes and retry
//	}
//
// # Client
//
// Use the high-level Client API for connecting to MQTT brokers:
//
//	client, err := mqtt311.Dial(
//	    mqtt311.WithServers("tcp://localhost:1883"),
//	    mqtt311.WithClientID("my-client"),
//	    mqtt311.WithKeepAlive(60),
//	)
//	defer client.Close()
//
// TLS connections:
//
//	client, err := mqtt311.Dial(
//	    mqtt311.WithServers("tls://localhost:8883"),
//	    mqtt311.WithTLS(&tls.Config{}),
//	)
//
// WebSocket connections:
//
//	client, err := mqtt311.Dial(
//	    mqtt311.WithServers("ws://localhost:8080/mqtt"),
//	)
//
// # Publishing
//
// Publish returns a DeliveryToken. For QoS 0 the token is already
// resolved; for QoS 1 and 2 it resolves when the acknowledgment
// handshake completes or the retry budget is exhausted:
//
//	token, err := client.Publish(ctx, &mqtt311.Message{
//	    Topic:   "sensors/temperature",
//	    Payload: []byte("21.5"),
//	    QoS:     1,
//	})
//	if err := token.Wait(ctx); err != nil {
//	    // delivery failed or was abandoned
//	}
//
// # Subscribing
//
// Subscribe blocks until the broker responds with SUBACK and returns
// the granted QoS, which may be lower than requested:
//
//	granted, err := client.Subscribe(ctx, "sensors/+/temperature", 1,
//	    func(msg *mqtt311.Message) {
//	        fmt.Println(msg.Topic, string(msg.Payload))
//	    })
//
// # Session State
//
// Session state can be managed using the Session and SessionStore
// interfaces. A reference implementation is provided with MemorySession
// and MemorySessionStore. A store-backed factory lets a client with
// CleanSession false resume unresolved deliveries recorded by a
// previous client instance:
//
//	store := mqtt311.NewMemorySessionStore()
//	client, err := mqtt311.Dial(
//	    mqtt311.WithServers("tcp://broker:1883"),
//	    mqtt311.WithClientID("meter-7"),
//	    mqtt311.WithCleanSession(false),
//	    mqtt311.WithClientSessionFactory(mqtt311.StoredSessionFactory(store)),
//	)
//
// # QoS State Machines
//
// For QoS 1 and 2 message flows, use the provided trackers:
//
//	// QoS 1 tracking
//	tracker := mqtt311.NewQoS1Tracker(mqtt311.DefaultRetryPolicy())
//	tracker.Track(packetID, message)
//	tracker.Acknowledge(packetID)
//
//	// QoS 2 tracking
//	tracker := mqtt311.NewQoS2Tracker(mqtt311.DefaultRetryPolicy())
//	tracker.TrackSend(packetID, message)
//	tracker.HandlePubrec(packetID)
//	tracker.HandlePubcomp(packetID)
//
// # Topic Matching
//
// Topic validation and matching support MQTT wildcards:
//
//	// Validate topic names and filters
//	err := mqtt311.ValidateTopicName("sensors/temperature")
//	err = mqtt311.ValidateTopicFilter("sensors/+/status")
//
//	// Match topics against filters
//	matched := mqtt311.TopicMatch("sensors/#", "sensors/room1/temp")
//
// # Events
//
// Connection lifecycle is observable through an event handler. Events
// are errors; extract details with errors.Is and errors.As:
//
//	client, err := mqtt311.Dial(
//	    mqtt311.WithServers("tcp://localhost:1883"),
//	    mqtt311.WithAutoReconnect(true),
//	    mqtt311.OnEvent(func(c *mqtt311.Client, event error) {
//	        var lost *mqtt311.ConnectionLostError
//	        if errors.As(event, &lost) {
//	            log.Println("connection lost:", lost.Cause)
//	        }
//	    }),
//	)
//
// # Logging
//
// Implement the Logger interface for structured logging, or use the
// provided logrus adapter:
//
//	logger := mqtt311.NewLogrusLogger(logrus.StandardLogger())
//	client, err := mqtt311.Dial(
//	    mqtt311.WithServers("tcp://localhost:1883"),
//	    mqtt311.WithLogger(logger),
//	)
package mqtt311
