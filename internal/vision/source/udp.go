package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/Gift01-source/Camera/internal/vision"
)

// maxDatagram bounds one receive; a UDP payload cannot exceed 64 KiB.
const maxDatagram = 65535

// UDPConfig configures the datagram listener.
type UDPConfig struct {
	Address     string        // listen address, e.g. ":5600"
	RcvBuf      int           // socket receive buffer; 0 keeps the OS default
	ReadTimeout time.Duration // per-read deadline used to poll ctx; default 100ms
}

// UDPSource receives MJPEG frames as UDP datagrams, one complete JPEG
// image per packet. Packets that do not start with a JPEG marker or
// fail header decoding are counted and skipped, never surfaced as
// frame errors.
type UDPSource struct {
	cfg  UDPConfig
	conn *net.UDPConn
	buf  []byte

	closed  atomic.Bool
	packets atomic.Uint64
	bad     atomic.Uint64
	bytes   atomic.Uint64
}

// UDPStats are cumulative receive counters.
type UDPStats struct {
	Packets    uint64 `json:"packets"`
	BadPackets uint64 `json:"bad_packets"`
	Bytes      uint64 `json:"bytes"`
}

// NewUDPSource binds the listen socket. The returned source is ready
// for Next immediately; datagrams arriving before the first read queue
// in the socket buffer.
func NewUDPSource(cfg UDPConfig) (*UDPSource, error) {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("resolving udp address %q: %w", cfg.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %q: %w", cfg.Address, err)
	}
	if cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(cfg.RcvBuf); err != nil {
			vision.Opsf("source: could not set udp receive buffer to %d: %v", cfg.RcvBuf, err)
		}
	}
	vision.Opsf("source: udp listener on %s", conn.LocalAddr())
	return &UDPSource{
		cfg:  cfg,
		conn: conn,
		buf:  make([]byte, maxDatagram),
	}, nil
}

// LocalAddr returns the bound address, useful when listening on :0.
func (s *UDPSource) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Next blocks until a valid JPEG datagram arrives, ctx ends, or the
// source is closed. The frame timestamp is the receive time.
func (s *UDPSource) Next(ctx context.Context) (*vision.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.closed.Load() {
			return nil, io.EOF
		}

		// Short deadline so ctx cancellation is noticed between reads.
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return nil, fmt.Errorf("setting read deadline: %w", err)
		}
		n, _, err := s.conn.ReadFromUDP(s.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				if s.closed.Load() {
					return nil, io.EOF
				}
				return nil, vision.ErrSourceUnavailable
			}
			return nil, fmt.Errorf("udp read: %w", err)
		}

		s.packets.Add(1)
		s.bytes.Add(uint64(n))
		frame, ok := s.decode(s.buf[:n])
		if !ok {
			continue
		}
		return frame, nil
	}
}

// decode validates one datagram as a JPEG frame. The payload is copied
// out of the receive buffer because the frame outlives the next read.
func (s *UDPSource) decode(pkt []byte) (*vision.Frame, bool) {
	if len(pkt) < 4 || pkt[0] != 0xff || pkt[1] != 0xd8 {
		s.dropBad("missing jpeg marker")
		return nil, false
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(pkt))
	if err != nil {
		s.dropBad(err.Error())
		return nil, false
	}
	data := make([]byte, len(pkt))
	copy(data, pkt)
	return &vision.Frame{
		Timestamp: time.Now(),
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    vision.FormatJPEG,
		Data:      data,
	}, true
}

func (s *UDPSource) dropBad(reason string) {
	n := s.bad.Add(1)
	if n == 1 || n%100 == 0 {
		vision.Diagf("source: dropped %d malformed datagrams (last: %s)", n, reason)
	}
}

// Stats returns receive counters.
func (s *UDPSource) Stats() UDPStats {
	return UDPStats{
		Packets:    s.packets.Load(),
		BadPackets: s.bad.Load(),
		Bytes:      s.bytes.Load(),
	}
}

// Close shuts the socket. A blocked Next returns io.EOF.
func (s *UDPSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}
