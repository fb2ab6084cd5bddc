package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"janim-toolbox/internal/wire"

	"pkt.systems/pslog"
)

const maxDatagramSize = 64 * 1024

// Sender delivers one message to one destination. Delivery is best-effort:
// a nil error only means the datagram was handed to the network.
type Sender interface {
	Send(ctx context.Context, dst netip.AddrPort, msg *wire.Message) error
}

// Handler receives each valid datagram read by Serve.
type Handler func(msg *wire.Message, from netip.AddrPort)

// UDP is a single connectionless socket used both for discovery broadcasts
// and for commands to the bound endpoint.
type UDP struct {
	conn   *net.UDPConn
	logger pslog.Logger
}

// Listen binds a UDP socket on addr (e.g. "0.0.0.0:0") with broadcast enabled.
func Listen(ctx context.Context, addr string, logger pslog.Logger) (*UDP, error) {
	if logger == nil {
		logger = pslog.Ctx(ctx)
	}
	lc := net.ListenConfig{Control: enableBroadcast}
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("listen udp %s: unexpected conn type %T", addr, pc)
	}
	u := &UDP{conn: conn, logger: logger}
	u.logger.Debug("udp socket bound", "addr", u.LocalAddr().String())
	return u, nil
}

// LocalAddr returns the bound socket address.
func (u *UDP) LocalAddr() netip.AddrPort {
	return u.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Send encodes msg and writes it as one datagram.
func (u *UDP) Send(ctx context.Context, dst netip.AddrPort, msg *wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		u.conn.SetWriteDeadline(deadline)
		defer u.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := u.conn.WriteToUDPAddrPort(data, dst); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Type, dst, err)
	}
	u.logger.Debug("udp send", "type", msg.Type, "to", dst.String(), "bytes", len(data))
	return nil
}

// Serve reads datagrams until ctx is done or the socket is closed. Invalid
// datagrams are logged and dropped.
func (u *UDP) Serve(ctx context.Context, handle Handler) error {
	stop := context.AfterFunc(ctx, func() {
		u.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := u.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("udp read: %w", err)
		}
		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())

		msg, err := DecodeDatagram(buf[:n])
		if err != nil {
			u.logger.Debug("udp datagram dropped", "from", from.String(), "err", err)
			continue
		}
		handle(msg, from)
	}
}

// DecodeDatagram copies and validates one inbound datagram.
func DecodeDatagram(data []byte) (*wire.Message, error) {
	raw := make([]byte, len(data))
	copy(raw, data)
	return wire.DecodeRemoteMessage(raw)
}

// Close releases the socket and unblocks Serve.
func (u *UDP) Close() error {
	return u.conn.Close()
}
