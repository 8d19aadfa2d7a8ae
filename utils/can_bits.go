package utils

// payload is the data field of a classic CAN frame, byte 0 in the low bits
type payload uint64

func payloadFromBytes(data []byte, dlc int) payload {
	var p payload
	for i := 0; i < dlc && i < len(data) && i < 8; i++ {
		p |= payload(data[i]) << (8 * i)
	}
	return p
}

func (p payload) bytes(dlc int) []byte {
	out := make([]byte, dlc)
	for i := range out {
		out[i] = byte(p >> (8 * i))
	}
	return out
}

func bitMask(bitLen int) uint64 {
	if bitLen >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bitLen) - 1
}

// field extracts bitLen bits starting at startBit
func (p payload) field(startBit, bitLen int) uint64 {
	if bitLen <= 0 || bitLen > 64 {
		return 0
	}
	return (uint64(p) >> startBit) & bitMask(bitLen)
}

// withField returns p with bits [startBit, startBit+bitLen) replaced by value
func (p payload) withField(startBit, bitLen int, value uint64) payload {
	if bitLen <= 0 || bitLen > 64 {
		return p
	}
	mask := bitMask(bitLen)
	cleared := uint64(p) &^ (mask << startBit)
	return payload(cleared | (value&mask)<<startBit)
}

// signExtend interprets the low bitLen bits of u as two's complement when signed
func signExtend(u uint64, bitLen int, signed bool) int64 {
	if !signed || bitLen >= 64 {
		return int64(u)
	}
	if u&(uint64(1)<<(bitLen-1)) == 0 {
		return int64(u)
	}
	return int64(u | ^bitMask(bitLen))
}

func truncate(raw int64, bitLen int) uint64 {
	return uint64(raw) & bitMask(bitLen)
}

// clampRaw limits a raw value to what fits in bitLen bits
func clampRaw(raw int64, bitLen int, signed bool) int64 {
	if bitLen <= 0 || bitLen > 63 {
		return raw
	}
	lo, hi := int64(0), int64(bitMask(bitLen))
	if signed {
		lo = -int64(1) << (bitLen - 1)
		hi = int64(1)<<(bitLen-1) - 1
	}
	switch {
	case raw < lo:
		return lo
	case raw > hi:
		return hi
	}
	return raw
}
