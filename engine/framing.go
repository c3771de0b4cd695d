package engine

import (
	"bufio"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/c360/devlink/errors"
)

const (
	// DefaultMaxSegmentSize bounds a stream frame.
	DefaultMaxSegmentSize = 2 * 1024 * 1024
	// SSHMaxSegmentSize bounds a frame read from an SSH channel.
	SSHMaxSegmentSize = 1024 * 1024
	// MaxDatagramSize is the largest UDP payload.
	MaxDatagramSize = 64 * 1024

	rawReadSize = 20 * 1024
)

// Mode selects a framing algorithm.
type Mode int

const (
	ModeDelimited Mode = iota
	ModeLengthDelimited
	ModeRaw
	ModeDatagram
)

func (m Mode) String() string {
	switch m {
	case ModeDelimited:
		return "delimited"
	case ModeLengthDelimited:
		return "length-delimited"
	case ModeRaw:
		return "raw"
	case ModeDatagram:
		return "datagram"
	default:
		return "unknown"
	}
}

// DecoderConfig configures a FrameDecoder.
type DecoderConfig struct {
	Mode           Mode
	Delimiters     string
	StartFlag      byte
	StopFlag       byte
	HasStopFlag    bool
	MaxSegmentSize int

	// OnOverflow makes a delimiter overflow recoverable: the buffer is
	// discarded, OnOverflow receives the error and decoding continues.
	// When nil an overflow ends decoding with ErrFrameOverflow.
	OnOverflow func(err error)
}

// FrameDecoder turns a byte stream into frames.
type FrameDecoder struct {
	cfg DecoderConfig
}

// NewFrameDecoder returns a decoder for cfg.
func NewFrameDecoder(cfg DecoderConfig) *FrameDecoder {
	if cfg.MaxSegmentSize <= 0 {
		cfg.MaxSegmentSize = DefaultMaxSegmentSize
	}
	return &FrameDecoder{cfg: cfg}
}

// Decode reads r until it fails or reaches EOF, calling emit for each frame
// in arrival order. A clean EOF returns nil.
func (d *FrameDecoder) Decode(r io.Reader, emit func(frame string)) error {
	switch d.cfg.Mode {
	case ModeLengthDelimited:
		return d.decodeLengthDelimited(bufio.NewReaderSize(r, 1024), emit)
	case ModeRaw:
		return d.decodeRaw(r, emit)
	case ModeDatagram:
		return d.decodeDatagrams(r, emit)
	default:
		return d.decodeDelimited(bufio.NewReaderSize(r, 1024), emit)
	}
}

func (d *FrameDecoder) decodeDelimited(br *bufio.Reader, emit func(string)) error {
	buf := make([]byte, 0, 256)

	for {
		c, err := br.ReadByte()
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				// peer closed: flush what is outstanding
				if frame := trimFrame(buf); len(frame) > 0 {
					emit(string(frame))
				}
				return nil
			}
			return err
		}

		if strings.IndexByte(d.cfg.Delimiters, c) >= 0 {
			if frame := trimFrame(buf); len(frame) > 0 {
				emit(string(frame))
			}
			buf = buf[:0]
			continue
		}

		if len(buf) >= d.cfg.MaxSegmentSize {
			overflow := fmt.Errorf("%w: at least %d KB arrived before any delimiter",
				errors.ErrFrameOverflow, len(buf)/1024)
			if d.cfg.OnOverflow == nil {
				return overflow
			}
			d.cfg.OnOverflow(overflow)
			buf = buf[:0]
		}

		buf = append(buf, c)
	}
}

func (d *FrameDecoder) decodeLengthDelimited(br *bufio.Reader, emit func(string)) error {
	for {
		c, err := br.ReadByte()
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				// a partial packet is dropped
				return nil
			}
			return err
		}

		// discard until synchronised on the start flag
		if c != d.cfg.StartFlag {
			continue
		}

		var header [2]byte
		if _, err := io.ReadFull(br, header[:]); err != nil {
			return unexpectedEOF(err)
		}

		// the length counts its own two bytes but not the flags
		length := int(binary.BigEndian.Uint16(header[:]))
		if length >= d.cfg.MaxSegmentSize {
			return fmt.Errorf("%w: %d bytes", errors.ErrPacketTooLarge, length)
		}

		body := length - 2
		if body < 0 {
			body = 0
		}

		frame := make([]byte, 3+body, 4+body)
		frame[0] = c
		copy(frame[1:3], header[:])
		if _, err := io.ReadFull(br, frame[3:]); err != nil {
			return unexpectedEOF(err)
		}

		if d.cfg.HasStopFlag {
			stop, err := br.ReadByte()
			if err != nil {
				return unexpectedEOF(err)
			}
			if stop != d.cfg.StopFlag {
				return errors.ErrStopFlagMismatch
			}
			frame = append(frame, stop)
		}

		emit(string(frame))
	}
}

func (d *FrameDecoder) decodeRaw(r io.Reader, emit func(string)) error {
	buf := make([]byte, rawReadSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			emit(string(buf[:n]))
		}
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (d *FrameDecoder) decodeDatagrams(r io.Reader, emit func(string)) error {
	buf := make([]byte, MaxDatagramSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			emit(DecodeDatagram(buf[:n]))
		}
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func unexpectedEOF(err error) error {
	if stderrors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// trimFrame strips leading and trailing bytes <= ' '.
func trimFrame(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && b[start] <= ' ' {
		start++
	}
	for end > start && b[end-1] <= ' ' {
		end--
	}
	return b[start:end]
}

// DecodeDatagram converts a packet payload to a frame. Text is decoded as
// UTF-8. A payload containing any byte below 0x09 is treated as binary and
// every byte becomes its own code point, so no value is lost.
func DecodeDatagram(p []byte) string {
	for _, b := range p {
		if b < 0x09 {
			return bytesToCodePoints(p)
		}
	}
	return strings.ToValidUTF8(string(p), string(utf8.RuneError))
}

// EncodeDatagram is the inverse of DecodeDatagram: a frame whose code points
// all fit in one byte is sent byte-for-byte, anything else as UTF-8.
func EncodeDatagram(s string) []byte {
	if !utf8.ValidString(s) {
		return []byte(s)
	}

	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xff {
			return []byte(s)
		}
		out = append(out, byte(r))
	}
	return out
}

func bytesToCodePoints(p []byte) string {
	runes := make([]rune, len(p))
	for i, b := range p {
		runes[i] = rune(b)
	}
	return string(runes)
}
