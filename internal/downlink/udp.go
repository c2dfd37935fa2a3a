// Package downlink transmits the scheduler's prepared messages to the
// spacecraft bus address over UDP.
package downlink

import (
	"fmt"
	"net"
	"sync"

	"github.com/iotpi-space/pi-sat/internal/table"
	logx "github.com/iotpi-space/pi-sat/pkg/logx"
)

// UDP sends message frames as single datagrams. A per-APID sequence counter
// is stamped into each frame so downstream consumers can detect gaps.
type UDP struct {
	log  logx.Logger
	conn net.Conn

	mu  sync.Mutex
	seq map[uint16]uint16
}

func Dial(addr string, log logx.Logger) (*UDP, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("downlink: dial %s: %w", addr, err)
	}
	log.Info("downlink connected", logx.String("addr", addr))
	return &UDP{log: log, conn: conn, seq: map[uint16]uint16{}}, nil
}

// Transmit stamps the next sequence count for the message's APID and sends
// the frame. Any send error is returned to the caller; the scheduler treats
// it as a per-activity dispatch failure.
func (u *UDP) Transmit(m table.Message) error {
	u.mu.Lock()
	seq := u.seq[m.APID()]
	u.seq[m.APID()] = seq + 1
	u.mu.Unlock()

	frame := m.Frame(seq)
	n, err := u.conn.Write(frame)
	if err != nil {
		return fmt.Errorf("downlink: transmit apid 0x%X: %w", m.APID(), err)
	}
	if n != len(frame) {
		return fmt.Errorf("downlink: short write apid 0x%X: %d of %d bytes", m.APID(), n, len(frame))
	}
	return nil
}

func (u *UDP) Close() error {
	return u.conn.Close()
}
