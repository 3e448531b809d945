package hub

import (
	"errors"
	"io"
	"net"
	"sync"

	"corral/internal/wire"
)

// peerConn is one accepted TCP connection.  The link field is nil until the
// peer's introduction request has been accepted, after which the connection
// is bound to its node's link.  The link field is assigned and read on the
// event loop only; frame reads run on the connection's own goroutine.
type peerConn struct {
	d         *Daemon
	conn      net.Conn
	link      *nodeLink
	closeOnce sync.Once
}

func newPeerConn(d *Daemon, conn net.Conn) *peerConn {
	return &peerConn{d: d, conn: conn}
}

func (pc *peerConn) remoteAddr() string {
	return pc.conn.RemoteAddr().String()
}

func (pc *peerConn) close() {
	pc.closeOnce.Do(func() {
		pc.conn.Close()
	})
}

// writeFrame sends one frame.  A write failure closes the connection; the
// reader goroutine then observes the close and posts the disconnect.
func (pc *peerConn) writeFrame(f *wire.Frame) error {
	if err := wire.WriteFrame(pc.conn, f); err != nil {
		pc.d.logger.Error().
			Err(err).
			Str("remote", pc.remoteAddr()).
			Msg("Frame write failed, closing connection")
		pc.close()
		return err
	}
	return nil
}

// readLoop reads frames until the connection dies and posts each one onto
// the event loop.  Runs on its own goroutine.
func (pc *peerConn) readLoop() {
	defer pc.d.wg.Done()
	defer pc.close()

	for {
		f, err := wire.ReadFrame(pc.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				pc.d.logger.Debug().
					Err(err).
					Str("remote", pc.remoteAddr()).
					Msg("Connection read failed")
			}
			pc.d.post(func() { pc.d.handleDisconnect(pc) })
			return
		}

		pc.d.post(func() { pc.d.handleFrame(pc, f) })
	}
}
