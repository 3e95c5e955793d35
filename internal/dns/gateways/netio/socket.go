// Package netio owns the UDP sockets. Each socket runs one reader goroutine
// that copies datagrams onto a bounded channel for the event loop; writes go
// straight to the socket and never block on the loop.
package netio

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/nanodns/nanodns/internal/dns/common/log"
	"github.com/nanodns/nanodns/internal/dns/gateways/wire"
)

// Datagram is one received packet with its source address.
type Datagram struct {
	Data []byte
	Addr net.Addr
}

// UDPSocket wraps a bound UDP socket with a channel-based receive path.
type UDPSocket struct {
	addr      string
	queueSize int
	logger    log.Logger

	conn *net.UDPConn
	out  chan Datagram

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewUDPSocket prepares a socket for addr ("host:port", empty host binds all
// interfaces). queueSize bounds the receive channel.
func NewUDPSocket(addr string, queueSize int, logger log.Logger) *UDPSocket {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &UDPSocket{
		addr:      addr,
		queueSize: queueSize,
		logger:    logger,
		out:       make(chan Datagram, queueSize),
		stopCh:    make(chan struct{}),
	}
}

// Start binds the socket and launches the reader goroutine. The reader exits
// when ctx is cancelled or Stop is called.
func (s *UDPSocket) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("socket %s already running", s.addr)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", s.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.addr, err)
	}

	s.conn = conn
	s.running = true
	s.logger.Info(map[string]any{"address": conn.LocalAddr().String()}, "udp socket listening")

	go s.readLoop(ctx)
	return nil
}

// Stop closes the socket, which also ends the reader goroutine.
func (s *UDPSocket) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	close(s.stopCh)
	err := s.conn.Close()
	s.running = false
	s.logger.Info(map[string]any{"address": s.addr}, "udp socket closed")
	return err
}

// Datagrams returns the receive channel. It is never closed; the loop must
// select on its own shutdown signal as well.
func (s *UDPSocket) Datagrams() <-chan Datagram {
	return s.out
}

// Send writes one datagram to addr.
func (s *UDPSocket) Send(data []byte, addr net.Addr) error {
	_, err := s.conn.WriteTo(data, addr)
	return err
}

// LocalAddr returns the bound address, nil before Start.
func (s *UDPSocket) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// readLoop copies packets onto the bounded channel. When the channel is
// full the packet is dropped: backpressure on a UDP service means shedding,
// and the client will retry.
func (s *UDPSocket) readLoop(ctx context.Context) {
	buffer := make([]byte, wire.MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		n, addr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			default:
			}
			s.logger.Warn(map[string]any{"address": s.addr, "error": err.Error()}, "udp read error")
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])

		select {
		case s.out <- Datagram{Data: data, Addr: addr}:
		default:
			s.logger.Warn(map[string]any{"address": s.addr, "from": addr.String()}, "receive queue full, dropping datagram")
		}
	}
}
