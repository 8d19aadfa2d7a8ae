package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

var canMapColumns = []string{
	"direction", "frame_id", "frame_name", "cycle_ms", "dlc",
	"signal_name", "start_bit", "bit_length", "endianness",
	"signed", "factor", "offset", "min", "max", "default", "unit", "comment",
}

func LoadCANMap(csvPath string) (*CANMap, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := ParseCANMap(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", csvPath, err)
	}
	return m, nil
}

// ParseCANMap reads a CAN map in CSV form, one row per signal
func ParseCANMap(in io.Reader) (*CANMap, error) {
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true
	r.Comment = '#'

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, k := range canMapColumns {
		if _, ok := idx[k]; !ok {
			return nil, fmt.Errorf("can map missing required column: %q", k)
		}
	}

	m := &CANMap{
		ByID:   map[uint32]*FrameDef{},
		ByName: map[string]*FrameDef{},
	}

	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		row := canMapRow{rec: rec, idx: idx}
		if err := m.addRow(&row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}

	for _, fd := range m.ByID {
		sort.Slice(fd.Signals, func(i, j int) bool { return fd.Signals[i].StartBit < fd.Signals[j].StartBit })
	}

	return m, nil
}

func (m *CANMap) addRow(row *canMapRow) error {
	frameID := row.hexOrDecUint32("frame_id")
	frameName := row.str("frame_name")
	direction := strings.ToLower(row.str("direction"))
	cycleMS := row.int("cycle_ms")
	dlc := row.int("dlc")

	sig := SignalDef{
		Name:       row.str("signal_name"),
		StartBit:   row.int("start_bit"),
		BitLength:  row.int("bit_length"),
		Endianness: row.str("endianness"),
		Signed:     row.bool("signed"),
		Factor:     row.float("factor"),
		Offset:     row.float("offset"),
		Min:        row.float("min"),
		Max:        row.float("max"),
		Default:    row.float("default"),
		Unit:       row.str("unit"),
		Comment:    row.str("comment"),
	}
	if row.err != nil {
		return row.err
	}

	if sig.Endianness != "" && sig.Endianness != "little" {
		return fmt.Errorf("frame %s signal %s: unsupported endianness %q (only little supported)",
			frameName, sig.Name, sig.Endianness)
	}
	if sig.BitLength <= 0 || sig.BitLength > 64 {
		return fmt.Errorf("frame %s signal %s: invalid bit_length %d", frameName, sig.Name, sig.BitLength)
	}
	if sig.Factor == 0 {
		return fmt.Errorf("frame %s signal %s: factor must be non-zero", frameName, sig.Name)
	}
	if dlc <= 0 || dlc > 8 {
		return fmt.Errorf("frame %s (0x%X): invalid dlc %d", frameName, frameID, dlc)
	}
	if sig.StartBit < 0 || sig.StartBit+sig.BitLength > dlc*8 {
		return fmt.Errorf("frame %s signal %s: bits [%d,%d) outside %d-byte payload",
			frameName, sig.Name, sig.StartBit, sig.StartBit+sig.BitLength, dlc)
	}

	fd, ok := m.ByID[frameID]
	if !ok {
		fd = &FrameDef{
			ID:        frameID,
			Name:      frameName,
			DLC:       dlc,
			Direction: direction,
			CycleMS:   cycleMS,
			Signals:   []SignalDef{},
		}
		m.ByID[frameID] = fd
		m.ByName[frameName] = fd
	}

	if fd.DLC != dlc {
		return fmt.Errorf("frame %s (0x%X) has inconsistent DLC (%d vs %d)", frameName, frameID, fd.DLC, dlc)
	}

	fd.Signals = append(fd.Signals, sig)
	return nil
}

func (m *CANMap) FrameByName(name string) (*FrameDef, error) {
	fd, ok := m.ByName[name]
	if !ok {
		return nil, fmt.Errorf("unknown frame %q (available: %v)", name, m.FrameNames())
	}
	return fd, nil
}

func (m *CANMap) FrameByID(id uint32) (*FrameDef, error) {
	fd, ok := m.ByID[id]
	if !ok {
		return nil, fmt.Errorf("unknown frame id 0x%X", id)
	}
	return fd, nil
}

// canMapRow parses cells of one record, keeping the first error
type canMapRow struct {
	rec []string
	idx map[string]int
	err error
}

func (r *canMapRow) str(col string) string {
	i := r.idx[col]
	if i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *canMapRow) fail(col string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s %q: %w", col, r.str(col), err)
	}
}

func (r *canMapRow) int(col string) int {
	v, err := strconv.Atoi(r.str(col))
	if err != nil {
		r.fail(col, err)
	}
	return v
}

func (r *canMapRow) float(col string) float64 {
	s := r.str(col)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail(col, err)
	}
	return v
}

func (r *canMapRow) bool(col string) bool {
	ss := strings.ToLower(r.str(col))
	return ss == "true" || ss == "1" || ss == "yes"
}

func (r *canMapRow) hexOrDecUint32(col string) uint32 {
	ss := r.str(col)
	base := 10
	if strings.HasPrefix(ss, "0x") || strings.HasPrefix(ss, "0X") {
		base = 16
		ss = ss[2:]
	}
	u, err := strconv.ParseUint(ss, base, 32)
	if err != nil {
		r.fail(col, err)
	}
	return uint32(u)
}
