// Byte-wise G-code line tokenizer
//
// Splits a line into letter/number words without regexp or per-word
// allocations. Comments, the block-delete prefix and program
// delimiters are resolved here; word semantics live in the
// interpreter.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"strconv"
	"strings"

	"tinyg-go-migration/pkg/errors"
)

// MaxLineLength is the longest accepted input line in bytes,
// excluding the terminator.
const MaxLineLength = 254

// Word is one letter/value pair from a G-code line.
type Word struct {
	Letter byte
	Value  float64
}

// Line is a tokenized G-code line.
type Line struct {
	Words   []Word
	N       int
	HasN    bool
	Message string // text of a (MSG,...) comment, if any
	Deleted bool   // block-delete prefix consumed the line
	Delim   bool   // the line was a % program delimiter
	Raw     string
}

// Empty reports whether the line carries no words.
func (l *Line) Empty() bool {
	return len(l.Words) == 0 && !l.HasN
}

func (l *Line) reset(raw string) {
	l.Words = l.Words[:0]
	l.N = 0
	l.HasN = false
	l.Message = ""
	l.Deleted = false
	l.Delim = false
	l.Raw = raw
}

// recognized word letters
const wordLetters = "GMNFSTPLXYZABCIJKR"

func isWordLetter(c byte) bool {
	return strings.IndexByte(wordLetters, c) >= 0
}

// Parser tokenizes one line at a time. The returned Line is a scratch
// buffer owned by the parser and is overwritten on the next call.
type Parser struct {
	// BlockDelete makes a leading slash skip the whole line.
	BlockDelete bool

	scratch Line
}

// NewParser returns a parser with block-delete honored.
func NewParser() *Parser {
	return &Parser{BlockDelete: true}
}

// ParseLine tokenizes a single line. CR/LF terminators are stripped
// first; the 254-byte limit applies to what remains.
func (p *Parser) ParseLine(raw string) (*Line, error) {
	ln := strings.TrimRight(raw, "\r\n")
	if len(ln) > MaxLineLength {
		return nil, errors.LineTooLongError(len(ln), MaxLineLength)
	}

	l := &p.scratch
	l.reset(ln)

	i := 0
	skipSpace := func() {
		for i < len(ln) && (ln[i] == ' ' || ln[i] == '\t') {
			i++
		}
	}

	skipSpace()
	if i >= len(ln) {
		return l, nil
	}
	if ln[i] == '%' {
		l.Delim = true
		return l, nil
	}
	if ln[i] == '/' {
		if p.BlockDelete {
			l.Deleted = true
			return l, nil
		}
		i++
	}

	for i < len(ln) {
		skipSpace()
		if i >= len(ln) {
			break
		}
		c := ln[i]

		if c == ';' {
			break
		}
		if c == '(' {
			end := strings.IndexByte(ln[i:], ')')
			if end < 0 {
				return nil, errors.New(errors.CodeUnsupportedStatement,
					"unterminated comment")
			}
			body := ln[i+1 : i+end]
			if len(body) >= 4 && strings.EqualFold(body[:4], "MSG,") {
				l.Message = strings.TrimSpace(body[4:])
			}
			i += end + 1
			continue
		}

		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if !isWordLetter(c) {
			return nil, errors.Newf(errors.CodeExpectedCommandLetter,
				"unexpected character %q", ln[i])
		}
		i++
		skipSpace()

		v, text, err := p.scanNumber(ln, &i)
		if err != nil {
			return nil, errors.BadNumberError(c, text)
		}

		if c == 'N' && !l.HasN {
			if v < 0 || v != float64(int(v)) {
				return nil, errors.BadNumberError('N', text)
			}
			l.N = int(v)
			l.HasN = true
			continue
		}
		l.Words = append(l.Words, Word{Letter: c, Value: v})
	}
	return l, nil
}

// scanNumber consumes a signed decimal number at *pos. Exponent
// notation is not part of the language, so only sign, digits and one
// dot are accepted.
func (p *Parser) scanNumber(ln string, pos *int) (float64, string, error) {
	start := *pos
	i := start
	if i < len(ln) && (ln[i] == '+' || ln[i] == '-') {
		i++
	}
	digits := 0
	dot := false
	for i < len(ln) {
		c := ln[i]
		if c >= '0' && c <= '9' {
			digits++
			i++
			continue
		}
		if c == '.' && !dot {
			dot = true
			i++
			continue
		}
		break
	}
	text := ln[start:i]
	*pos = i
	if digits == 0 {
		return 0, text, errors.New(errors.CodeBadNumberFormat, "no digits")
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, text, err
	}
	return v, text, nil
}
