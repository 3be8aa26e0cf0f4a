// Package monitor streams control loop snapshots to a ground station
// over UDP so flights can be observed without attaching a debugger.
package monitor

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var maxFrameSize = int(unsafe.Sizeof(Header{}) + unsafe.Sizeof(Frame{}))

const forwardInterval = 100 * time.Millisecond

type UDPForwarder struct {
	conn    net.Conn
	fwdChan chan *Frame
}

func NewUDPForwarder(server string, port int) (*UDPForwarder, error) {
	writeBufSize := maxFrameSize * 2

	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d", server, port))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to dial monitor %s:%d", server, port)
	}
	udpConn := conn.(*net.UDPConn)
	if err = udpConn.SetWriteBuffer(writeBufSize); err != nil {
		return nil, errors.Wrapf(err, "unable to set OS write buffer to %v", writeBufSize)
	}

	return &UDPForwarder{
		conn:    conn,
		fwdChan: make(chan *Frame, 1),
	}, nil
}

func (udp *UDPForwarder) Close() error {
	return udp.conn.Close()
}

// Forward queues a frame for sending. The frame is copied so the caller
// can keep mutating its own value; if the queue is full the frame is
// dropped in favor of a more recent one.
func (udp *UDPForwarder) Forward(f Frame) {
	frameCopy := f
	select {
	case udp.fwdChan <- &frameCopy:
	default:
		// if channel is full, skip
	}
}

func (udp *UDPForwarder) Start(ctx context.Context) error {
	limiter := time.Tick(forwardInterval)
	for {
		<-limiter
		select {
		case f := <-udp.fwdChan:
			if err := udp.forward(f); err != nil {
				log.Error("unable to forward snapshot to monitor ", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (udp *UDPForwarder) forward(f *Frame) error {
	buf := bytes.NewBuffer([]byte{})
	hdr := Header{
		Type: TypeSnapshot,
	}
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return errors.Wrap(err, "unable to write udp packet header")
	}
	if err := binary.Write(buf, binary.LittleEndian, f); err != nil {
		return errors.Wrap(err, "unable to write snapshot udp packet")
	}
	return binary.Write(udp.conn, binary.LittleEndian, buf.Bytes())
}
