// Line framing for the command channel
//
// G-code senders stream newline-terminated text. A handful of bytes
// act immediately, outside the line protocol: feedhold, cycle start,
// status request and reset must work even while the sender is blocked
// waiting for responses. The reader peels those out of the stream
// before they ever join a line.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package serial

import (
	"errors"
	"io"
)

// MaxLine is the longest accepted input line, excluding the
// terminator. Longer lines are discarded through the next newline.
const MaxLine = 254

// Immediate bytes intercepted ahead of line framing.
const (
	ByteFeedhold   = '!'
	ByteCycleStart = '~'
	ByteStatus     = '?'
	ByteReset      = 0x18 // ctrl-x
)

// ErrLineTooLong is returned once for each oversized line; the
// overflow is discarded so framing recovers at the next newline.
var ErrLineTooLong = errors.New("serial: line exceeds 254 bytes")

func isImmediate(b byte) bool {
	switch b {
	case ByteFeedhold, ByteCycleStart, ByteStatus, ByteReset:
		return true
	}
	return false
}

// LineReader frames a byte stream into lines and immediate commands.
type LineReader struct {
	src io.Reader

	// OnCommand receives immediate bytes as they arrive. Nil drops
	// them.
	OnCommand func(b byte)

	buf      [512]byte
	pending  []byte // unconsumed raw bytes
	line     []byte
	overflow bool
}

func NewLineReader(src io.Reader) *LineReader {
	return &LineReader{
		src:  src,
		line: make([]byte, 0, MaxLine),
	}
}

// ReadLine returns the next complete line, without its terminator.
// Immediate command bytes encountered on the way fire OnCommand
// before the line completes. io.EOF propagates once the source is
// exhausted and no full line remains.
func (r *LineReader) ReadLine() (string, error) {
	for {
		for len(r.pending) > 0 {
			b := r.pending[0]
			r.pending = r.pending[1:]

			if isImmediate(b) {
				if r.OnCommand != nil {
					r.OnCommand(b)
				}
				continue
			}

			switch b {
			case '\n':
				if r.overflow {
					r.overflow = false
					r.line = r.line[:0]
					return "", ErrLineTooLong
				}
				line := string(r.line)
				r.line = r.line[:0]
				return line, nil
			case '\r':
				// bare CR is treated as line noise
			default:
				if r.overflow {
					continue
				}
				if len(r.line) >= MaxLine {
					r.overflow = true
					continue
				}
				r.line = append(r.line, b)
			}
		}

		n, err := r.src.Read(r.buf[:])
		if n > 0 {
			r.pending = r.buf[:n]
			continue
		}
		if err != nil {
			return "", err
		}
	}
}
