//go:build linux

package utils

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// SocketCANWriter transmits frames on a SocketCAN interface
type SocketCANWriter struct {
	conn net.Conn
	tx   *socketcan.Transmitter
}

func NewSocketCANWriter(ctx context.Context, iface string) (*SocketCANWriter, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return &SocketCANWriter{
		conn: conn,
		tx:   socketcan.NewTransmitter(conn),
	}, nil
}

func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	return w.tx.TransmitFrame(ctx, frame)
}

func (w *SocketCANWriter) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// SocketCANReader receives frames from a SocketCAN interface. A single pump
// goroutine drives the blocking receiver until the socket is closed.
type SocketCANReader struct {
	conn    net.Conn
	frames  chan can.Frame
	done    chan struct{}
	closing chan struct{}
	once    sync.Once

	mu  sync.Mutex
	err error
}

func NewSocketCANReader(ctx context.Context, iface string) (*SocketCANReader, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}

	r := &SocketCANReader{
		conn:    conn,
		frames:  make(chan can.Frame, 64),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go r.pump(socketcan.NewReceiver(conn))
	return r, nil
}

func (r *SocketCANReader) pump(recv *socketcan.Receiver) {
	defer close(r.done)

	err := ErrReaderClosed
loop:
	for recv.Receive() {
		if recv.HasErrorFrame() {
			continue
		}
		select {
		case r.frames <- recv.Frame():
		case <-r.closing:
			break loop
		}
	}
	if recvErr := recv.Err(); recvErr != nil {
		err = fmt.Errorf("%w: %v", ErrReaderClosed, recvErr)
	}

	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// ReadFrame blocks until a frame arrives, the reader fails or ctx is done
func (r *SocketCANReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case frame := <-r.frames:
		return frame, nil
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return can.Frame{}, r.err
	}
}

func (r *SocketCANReader) Close() error {
	r.once.Do(func() { close(r.closing) })
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
