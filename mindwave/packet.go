package mindwave

import (
	"bufio"
	"encoding/binary"

	"github.com/pkg/errors"
)

// ThinkGear serial stream framing.
const (
	syncByte   = 0xAA
	excodeByte = 0x55

	codePoorSignal = 0x02
	codeAttention  = 0x04
	codeMeditation = 0x05
	codeRawValue   = 0x80
	codeBandPower  = 0x83

	// payloads longer than this are not valid ThinkGear frames
	maxPayloadLen = 169

	bandPowerLen = 24
	rawValueLen  = 2
)

var (
	errBadChecksum = errors.New("checksum mismatch")
	errBadLength   = errors.New("payload length out of range")
)

// recoverable reports whether a frame error only requires resynchronizing
// on the next sync marker rather than reopening the port.
func recoverable(err error) bool {
	return err == errBadChecksum || err == errBadLength
}

// readFrame scans the stream for two consecutive sync bytes, then reads a
// length-prefixed payload followed by a one-byte checksum. The checksum is
// the bitwise complement of the payload sum, truncated to 8 bits.
func readFrame(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != syncByte {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == syncByte {
			break
		}
	}

	plen, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if int(plen) > maxPayloadLen {
		return nil, errBadLength
	}

	payload := make([]byte, plen)
	if _, err := readFull(r, payload); err != nil {
		return nil, err
	}

	checksum, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	var sum byte
	for _, b := range payload {
		sum += b
	}
	if ^sum != checksum {
		return nil, errBadChecksum
	}
	return payload, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// parsePayload walks the (code, value) entries of a verified payload and
// applies each decoded field to the sample store. A truncated entry ends
// the frame; fields decoded before the truncation are kept.
func (h *Headset) parsePayload(payload []byte) {
	i := 0
	for i < len(payload) {
		// extension marker bytes carry no value for this headset
		for i < len(payload) && payload[i] == excodeByte {
			i++
		}
		if i >= len(payload) {
			return
		}
		code := payload[i]
		i++

		switch code {
		case codePoorSignal:
			if i >= len(payload) {
				return
			}
			v := payload[i]
			i++
			h.update(func(s *Sample) { s.SignalQuality = v })

		case codeAttention:
			if i >= len(payload) {
				return
			}
			v := payload[i]
			i++
			h.update(func(s *Sample) { s.Attention = v })

		case codeMeditation:
			if i >= len(payload) {
				return
			}
			v := payload[i]
			i++
			h.update(func(s *Sample) { s.Meditation = v })

		case codeRawValue:
			if i+rawValueLen > len(payload) {
				return
			}
			v := int16(binary.BigEndian.Uint16(payload[i : i+rawValueLen]))
			i += rawValueLen
			h.update(func(s *Sample) { s.RawValue = v })

		case codeBandPower:
			if i+bandPowerLen > len(payload) {
				return
			}
			var bands [8]uint32
			for j := range bands {
				off := i + j*3
				bands[j] = uint32(payload[off])<<16 |
					uint32(payload[off+1])<<8 |
					uint32(payload[off+2])
			}
			i += bandPowerLen
			h.update(func(s *Sample) {
				s.Delta = bands[0]
				s.Theta = bands[1]
				s.LowAlpha = bands[2]
				s.HighAlpha = bands[3]
				s.Alpha = (bands[2] + bands[3]) / 2
				s.LowBeta = bands[4]
				s.HighBeta = bands[5]
				s.LowGamma = bands[6]
				s.MidGamma = bands[7]
			})

		default:
			if code >= 0x80 {
				// unknown multi-byte value, length-prefixed
				if i >= len(payload) {
					return
				}
				i += 1 + int(payload[i])
			} else {
				// unknown single-byte value
				i++
			}
		}
	}
}
