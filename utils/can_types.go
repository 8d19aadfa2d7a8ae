package utils

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.einride.tech/can"
)

// ErrReaderClosed is returned by readers whose socket has been closed or
// failed. A reader never yields frames after returning it.
var ErrReaderClosed = errors.New("can reader closed")

// CANReader defines the interface for reading CAN frames
type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

// CANWriter defines the interface for transmitting CAN frames
type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

// Frame directions as seen from the controller
const (
	DirectionRX = "rx"
	DirectionTX = "tx"
)

type SignalDef struct {
	Name       string
	StartBit   int
	BitLength  int
	Signed     bool
	Factor     float64
	Offset     float64
	Min        float64
	Max        float64
	Default    float64
	Unit       string
	Comment    string
	Endianness string // only "little" supported
}

type FrameDef struct {
	ID        uint32
	Name      string
	DLC       int
	Direction string
	CycleMS   int
	Signals   []SignalDef
}

// Signal looks up a signal of the frame by name
func (fd *FrameDef) Signal(name string) (*SignalDef, error) {
	for i := range fd.Signals {
		if fd.Signals[i].Name == name {
			return &fd.Signals[i], nil
		}
	}
	return nil, fmt.Errorf("frame %s has no signal %q", fd.Name, name)
}

// Expect checks that the frame flows in the given direction and carries the given signals
func (fd *FrameDef) Expect(direction string, signals ...string) error {
	if fd.Direction != "" && fd.Direction != direction {
		return fmt.Errorf("frame %s is %s, want %s", fd.Name, fd.Direction, direction)
	}
	for _, s := range signals {
		if _, err := fd.Signal(s); err != nil {
			return err
		}
	}
	return nil
}

type CANMap struct {
	ByID   map[uint32]*FrameDef
	ByName map[string]*FrameDef
}

func (m *CANMap) FrameNames() []string {
	out := make([]string, 0, len(m.ByName))
	for k := range m.ByName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
