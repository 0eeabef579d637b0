package net

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"

	"github.com/Jimmyu2foru18/Blockchain-Gossip-Network/src/gossip"
)

const (
	// udpBufSize is the fixed receive buffer for datagrams. Oversized
	// datagrams are truncated, not reassembled.
	udpBufSize = 4096

	// sendQueueSize bounds the outbound queue.
	sendQueueSize = 1024
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
)

// jsonHandle drives the wire codec. Messages travel as UTF-8 JSON, one object
// per TCP line or UDP datagram. MapType makes untyped JSON objects decode as
// map[string]interface{}, matching the type Message.Payload declares and the
// form encoding/json produces elsewhere.
var jsonHandle = newJSONHandle()

func newJSONHandle() *codec.JsonHandle {
	h := new(codec.JsonHandle)
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return h
}

// Handler is invoked for every successfully deframed inbound message, from
// whichever goroutine received it. Handlers must tolerate concurrent
// invocation.
type Handler func(m *gossip.Message, fromPeer string)

type sendTask struct {
	network string // "tcp" or "udp"
	target  string // tcp peer id or udp host:port
	message *gossip.Message
}

// Transport provides reliable per-peer byte streams over TCP plus best-effort
// datagrams over UDP, with a single FIFO outbound queue.
type Transport struct {
	host string
	port int

	tcpListener net.Listener
	udpConn     *net.UDPConn

	connLock sync.Mutex
	conns    map[string]net.Conn

	handlerLock sync.RWMutex
	handlers    []Handler

	sendCh chan sendTask

	dialTimeout time.Duration

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
	wg           sync.WaitGroup

	logger *logrus.Entry
}

// NewTransport creates a stopped transport bound to nothing yet.
func NewTransport(host string, port int, dialTimeout time.Duration, logger *logrus.Entry) *Transport {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Transport{
		host:        host,
		port:        port,
		conns:       make(map[string]net.Conn),
		sendCh:      make(chan sendTask, sendQueueSize),
		dialTimeout: dialTimeout,
		shutdownCh:  make(chan struct{}),
		logger:      logger.WithField("component", "transport"),
	}
}

// LocalAddr returns the host:port the transport binds.
func (t *Transport) LocalAddr() string {
	return fmt.Sprintf("%s:%d", t.host, t.port)
}

// Start binds the TCP listener and the UDP socket and launches the accept
// loop, the UDP receive loop and the send-queue worker. If either bind fails
// the transport unwinds and stays stopped.
func (t *Transport) Start() error {
	addr := t.LocalAddr()

	tcpListener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		tcpListener.Close()
		return err
	}

	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		tcpListener.Close()
		return err
	}

	t.tcpListener = tcpListener
	t.udpConn = udpConn

	t.wg.Add(3)
	go t.acceptLoop()
	go t.udpLoop()
	go t.sendLoop()

	t.logger.WithField("addr", addr).Info("Transport started")

	return nil
}

// Stop flips the shutdown flag, force-closes the sockets to unblock any
// still-blocking receive call, and waits for the loops.
func (t *Transport) Stop() {
	t.shutdownLock.Lock()
	if t.shutdown {
		t.shutdownLock.Unlock()
		return
	}
	t.shutdown = true
	close(t.shutdownCh)
	t.shutdownLock.Unlock()

	if t.tcpListener != nil {
		t.tcpListener.Close()
	}
	if t.udpConn != nil {
		t.udpConn.Close()
	}

	t.connLock.Lock()
	for id, conn := range t.conns {
		conn.Close()
		delete(t.conns, id)
	}
	t.connLock.Unlock()

	t.wg.Wait()

	t.logger.Info("Transport stopped")
}

// IsShutdown reports whether Stop has been called.
func (t *Transport) IsShutdown() bool {
	select {
	case <-t.shutdownCh:
		return true
	default:
		return false
	}
}

// RegisterHandler adds a callback for inbound messages.
func (t *Transport) RegisterHandler(h Handler) {
	t.handlerLock.Lock()
	defer t.handlerLock.Unlock()

	t.handlers = append(t.handlers, h)
}

// Connect opens a TCP connection to a peer and registers it under the id
// "host:port". Connecting to an already-connected peer is a no-op success.
func (t *Transport) Connect(host string, port int) error {
	if t.IsShutdown() {
		return ErrTransportShutdown
	}

	peerID := fmt.Sprintf("%s:%d", host, port)

	t.connLock.Lock()
	if _, ok := t.conns[peerID]; ok {
		t.connLock.Unlock()
		return nil
	}
	t.connLock.Unlock()

	conn, err := net.DialTimeout("tcp", peerID, t.dialTimeout)
	if err != nil {
		return err
	}

	t.connLock.Lock()
	t.conns[peerID] = conn
	t.connLock.Unlock()

	t.wg.Add(1)
	go t.handleConn(conn, peerID)

	t.logger.WithField("peer", peerID).Debug("Connected")

	return nil
}

// Disconnect closes and removes a connection. Returns false for unknown ids.
func (t *Transport) Disconnect(peerID string) bool {
	t.connLock.Lock()
	defer t.connLock.Unlock()

	conn, ok := t.conns[peerID]
	if !ok {
		return false
	}

	conn.Close()
	delete(t.conns, peerID)

	t.logger.WithField("peer", peerID).Debug("Disconnected")

	return true
}

// IsConnected reports whether a TCP connection to peerID exists.
func (t *Transport) IsConnected(peerID string) bool {
	t.connLock.Lock()
	defer t.connLock.Unlock()

	_, ok := t.conns[peerID]
	return ok
}

// ConnectedPeers returns the ids of all live TCP connections.
func (t *Transport) ConnectedPeers() []string {
	t.connLock.Lock()
	defer t.connLock.Unlock()

	ids := make([]string, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}

	return ids
}

// Send enqueues a message for a single TCP peer. Delivery is asynchronous and
// unacknowledged; a write failure drops the message and disconnects the peer.
func (t *Transport) Send(peerID string, m *gossip.Message) bool {
	return t.enqueue(sendTask{network: "tcp", target: peerID, message: m})
}

// SendUDP enqueues a single-datagram message for the given address.
func (t *Transport) SendUDP(addr string, m *gossip.Message) bool {
	return t.enqueue(sendTask{network: "udp", target: addr, message: m})
}

// Broadcast enqueues a message for every connected TCP peer not excluded.
func (t *Transport) Broadcast(m *gossip.Message, exclude map[string]bool) {
	for _, peerID := range t.ConnectedPeers() {
		if exclude[peerID] {
			continue
		}
		t.Send(peerID, m)
	}
}

func (t *Transport) enqueue(task sendTask) bool {
	if t.IsShutdown() {
		return false
	}

	select {
	case t.sendCh <- task:
		return true
	default:
		t.logger.WithField("peer", task.target).Warn("Send queue full, dropping message")
		return false
	}
}

// acceptLoop handles incoming TCP connections, one goroutine per connection.
func (t *Transport) acceptLoop() {
	defer t.wg.Done()

	for {
		conn, err := t.tcpListener.Accept()
		if err != nil {
			if t.IsShutdown() {
				return
			}
			t.logger.WithError(err).Error("Failed to accept connection")
			continue
		}

		peerID := conn.RemoteAddr().String()

		t.connLock.Lock()
		t.conns[peerID] = conn
		t.connLock.Unlock()

		t.logger.WithField("from", peerID).Debug("Accepted connection")

		t.wg.Add(1)
		go t.handleConn(conn, peerID)
	}
}

// handleConn reads newline-delimited JSON messages from one TCP connection
// for its lifespan. A malformed line drops that message only; a read error
// tears the connection down.
func (t *Transport) handleConn(conn net.Conn, peerID string) {
	defer t.wg.Done()
	defer t.teardownConn(conn, peerID)

	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !t.IsShutdown() {
				t.logger.WithFields(logrus.Fields{
					"peer":  peerID,
					"error": err,
				}).Debug("Connection closed")
			}
			return
		}

		m := new(gossip.Message)
		if err := codec.NewDecoderBytes(line, jsonHandle).Decode(m); err != nil {
			t.logger.WithFields(logrus.Fields{
				"peer":  peerID,
				"error": err,
			}).Warn("Dropping malformed message")
			continue
		}

		t.deliver(m, peerID)
	}
}

func (t *Transport) teardownConn(conn net.Conn, peerID string) {
	conn.Close()

	t.connLock.Lock()
	delete(t.conns, peerID)
	t.connLock.Unlock()
}

// udpLoop receives one message per datagram. Datagrams larger than the
// receive buffer arrive truncated and fail to decode; they are dropped like
// any other malformed payload.
func (t *Transport) udpLoop() {
	defer t.wg.Done()

	buf := make([]byte, udpBufSize)

	for {
		n, addr, err := t.udpConn.ReadFromUDP(buf)
		if err != nil {
			if t.IsShutdown() {
				return
			}
			t.logger.WithError(err).Error("UDP receive failed")
			continue
		}

		m := new(gossip.Message)
		if err := codec.NewDecoderBytes(buf[:n], jsonHandle).Decode(m); err != nil {
			t.logger.WithFields(logrus.Fields{
				"from":  addr.String(),
				"error": err,
			}).Warn("Dropping malformed datagram")
			continue
		}

		t.deliver(m, addr.String())
	}
}

func (t *Transport) deliver(m *gossip.Message, fromPeer string) {
	t.handlerLock.RLock()
	handlers := t.handlers
	t.handlerLock.RUnlock()

	for _, h := range handlers {
		h(m, fromPeer)
	}
}

// sendLoop is the single queue worker. Submissions are delivered in FIFO
// program order across all destinations.
func (t *Transport) sendLoop() {
	defer t.wg.Done()

	for {
		select {
		case task := <-t.sendCh:
			t.write(task)
		case <-t.shutdownCh:
			return
		}
	}
}

func (t *Transport) write(task sendTask) {
	var buf bytes.Buffer
	if err := codec.NewEncoder(&buf, jsonHandle).Encode(task.message); err != nil {
		t.logger.WithError(err).Error("Failed to encode message")
		return
	}
	buf.WriteByte('\n')

	switch task.network {
	case "tcp":
		t.connLock.Lock()
		conn, ok := t.conns[task.target]
		t.connLock.Unlock()

		if !ok {
			return
		}

		if _, err := conn.Write(buf.Bytes()); err != nil {
			t.logger.WithFields(logrus.Fields{
				"peer":  task.target,
				"error": err,
			}).Debug("Write failed, disconnecting peer")
			t.Disconnect(task.target)
		}

	case "udp":
		addr, err := net.ResolveUDPAddr("udp", task.target)
		if err != nil {
			t.logger.WithError(err).Warn("Bad UDP target")
			return
		}

		if _, err := t.udpConn.WriteToUDP(buf.Bytes(), addr); err != nil {
			t.logger.WithFields(logrus.Fields{
				"addr":  task.target,
				"error": err,
			}).Debug("UDP write failed")
		}
	}
}

// Stats returns a snapshot of the transport's state.
func (t *Transport) Stats() map[string]interface{} {
	t.connLock.Lock()
	conns := len(t.conns)
	t.connLock.Unlock()

	return map[string]interface{}{
		"tcp_connections": conns,
		"send_queue_size": len(t.sendCh),
		"running":         !t.IsShutdown(),
	}
}
