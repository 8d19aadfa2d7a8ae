package utils

import (
	"fmt"
	"math"

	"go.einride.tech/can"
)

// encode converts a physical value into the signal's raw field. Values
// outside [Min, Max] or the field width are clamped.
func (s *SignalDef) encode(v float64) (uint64, error) {
	if math.IsNaN(v) {
		return 0, fmt.Errorf("signal %s: NaN value", s.Name)
	}
	v = math.Max(s.Min, math.Min(v, s.Max))
	raw := clampRaw(int64(math.Round((v-s.Offset)/s.Factor)), s.BitLength, s.Signed)
	return truncate(raw, s.BitLength), nil
}

// decode extracts the signal from p as a physical value
func (s *SignalDef) decode(p payload) float64 {
	raw := signExtend(p.field(s.StartBit, s.BitLength), s.BitLength, s.Signed)
	return float64(raw)*s.Factor + s.Offset
}

// EncodeFrame packs physical signal values into a payload. Signals absent
// from values take their default.
func (m *CANMap) EncodeFrame(frameName string, values map[string]float64) ([]byte, uint32, error) {
	fd, err := m.FrameByName(frameName)
	if err != nil {
		return nil, 0, err
	}
	if fd.DLC <= 0 || fd.DLC > 8 {
		return nil, 0, fmt.Errorf("frame %s has invalid DLC %d", fd.Name, fd.DLC)
	}

	var p payload
	for i := range fd.Signals {
		s := &fd.Signals[i]
		v, ok := values[s.Name]
		if !ok {
			v = s.Default
		}
		raw, err := s.encode(v)
		if err != nil {
			return nil, 0, fmt.Errorf("frame %s: %w", fd.Name, err)
		}
		p = p.withField(s.StartBit, s.BitLength, raw)
	}
	return p.bytes(fd.DLC), fd.ID, nil
}

// EncodeEinrideFrame produces an einride can.Frame ready to transmit
func (m *CANMap) EncodeEinrideFrame(frameName string, values map[string]float64) (can.Frame, error) {
	data, id, err := m.EncodeFrame(frameName, values)
	if err != nil {
		return can.Frame{}, err
	}

	f := can.Frame{ID: id, Length: uint8(len(data))}
	copy(f.Data[:], data)
	if err := f.Validate(); err != nil {
		return can.Frame{}, fmt.Errorf("frame %s: %w", frameName, err)
	}
	return f, nil
}

// DecodeFrame unpacks every signal of the frame into physical values
func (m *CANMap) DecodeFrame(frameID uint32, data []byte) (map[string]float64, error) {
	fd, err := m.FrameByID(frameID)
	if err != nil {
		return nil, err
	}
	if len(data) < fd.DLC {
		return nil, fmt.Errorf("frame 0x%X expects DLC %d, got %d", frameID, fd.DLC, len(data))
	}

	p := payloadFromBytes(data, fd.DLC)
	out := make(map[string]float64, len(fd.Signals))
	for i := range fd.Signals {
		out[fd.Signals[i].Name] = fd.Signals[i].decode(p)
	}
	return out, nil
}

// DecodeEinrideFrame decodes a received frame. Remote and extended frames
// are rejected since the map only describes standard data frames.
func (m *CANMap) DecodeEinrideFrame(f can.Frame) (map[string]float64, error) {
	if f.IsRemote || f.IsExtended {
		return nil, fmt.Errorf("frame 0x%X: unsupported remote/extended frame", f.ID)
	}
	return m.DecodeFrame(f.ID, f.Data[:f.Length])
}
