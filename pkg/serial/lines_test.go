// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package serial

import (
	"io"
	"strings"
	"testing"
)

func TestReadLines(t *testing.T) {
	r := NewLineReader(strings.NewReader("G0 X10\nG1 Y5 F600\n"))

	line, err := r.ReadLine()
	if err != nil || line != "G0 X10" {
		t.Fatalf("line 1 = %q, %v", line, err)
	}
	line, err = r.ReadLine()
	if err != nil || line != "G1 Y5 F600" {
		t.Fatalf("line 2 = %q, %v", line, err)
	}
	if _, err = r.ReadLine(); err != io.EOF {
		t.Fatalf("err = %v, want EOF", err)
	}
}

func TestCRLFTerminator(t *testing.T) {
	r := NewLineReader(strings.NewReader("G0 X1\r\nG0 X2\r\n"))
	line, err := r.ReadLine()
	if err != nil || line != "G0 X1" {
		t.Fatalf("line = %q, %v", line, err)
	}
}

func TestImmediateBytesBypassFraming(t *testing.T) {
	var cmds []byte
	r := NewLineReader(strings.NewReader("G1 X1!0 F60~0\n"))
	r.OnCommand = func(b byte) { cmds = append(cmds, b) }

	line, err := r.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	// command bytes vanish from the line text
	if line != "G1 X10 F600" {
		t.Errorf("line = %q, want command bytes removed", line)
	}
	if string(cmds) != "!~" {
		t.Errorf("commands = %q, want \"!~\"", cmds)
	}
}

func TestResetByteMidStream(t *testing.T) {
	var cmds []byte
	r := NewLineReader(strings.NewReader("G0 X1\n\x18G0 X2\n"))
	r.OnCommand = func(b byte) { cmds = append(cmds, b) }

	if _, err := r.ReadLine(); err != nil {
		t.Fatal(err)
	}
	line, err := r.ReadLine()
	if err != nil || line != "G0 X2" {
		t.Fatalf("line = %q, %v", line, err)
	}
	if len(cmds) != 1 || cmds[0] != ByteReset {
		t.Errorf("commands = %v, want [0x18]", cmds)
	}
}

func TestOversizedLineDiscarded(t *testing.T) {
	long := strings.Repeat("X", 300)
	r := NewLineReader(strings.NewReader(long + "\nG0 X1\n"))

	if _, err := r.ReadLine(); err != ErrLineTooLong {
		t.Fatalf("err = %v, want ErrLineTooLong", err)
	}
	// framing recovers on the next line
	line, err := r.ReadLine()
	if err != nil || line != "G0 X1" {
		t.Fatalf("line = %q, %v", line, err)
	}
}

func TestEmptyLines(t *testing.T) {
	r := NewLineReader(strings.NewReader("\n\nG0 X1\n"))
	for i := 0; i < 2; i++ {
		line, err := r.ReadLine()
		if err != nil || line != "" {
			t.Fatalf("blank line %d = %q, %v", i, line, err)
		}
	}
	line, _ := r.ReadLine()
	if line != "G0 X1" {
		t.Errorf("line = %q", line)
	}
}
