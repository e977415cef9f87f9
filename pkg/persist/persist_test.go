// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package persist

import (
	"os"
	"path/filepath"
	"testing"

	"tinyg-go-migration/pkg/config"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.yaml")
	s := NewStore(path)

	var work [6][config.NumAxes]float64
	var g92 [config.NumAxes]float64
	work[0][0] = 10.5
	work[0][2] = -3.25
	work[4][1] = 99
	g92[0] = -1.5

	s.SaveOffsets(work, g92)

	gotWork, gotG92, ok, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("Load reported no file")
	}
	if gotWork != work {
		t.Errorf("work offsets = %v, want %v", gotWork, work)
	}
	if gotG92 != g92 {
		t.Errorf("g92 offsets = %v, want %v", gotG92, g92)
	}
}

func TestLoadMissingFile(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent.yaml"))
	work, g92, ok, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("ok = true for a missing file")
	}
	var zeroWork [6][config.NumAxes]float64
	var zeroG92 [config.NumAxes]float64
	if work != zeroWork || g92 != zeroG92 {
		t.Error("missing file returned nonzero offsets")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.yaml")
	if err := os.WriteFile(path, []byte("{not yaml: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := NewStore(path).Load(); err == nil {
		t.Fatal("corrupt file loaded without error")
	}
}

func TestLoadUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.yaml")
	if err := os.WriteFile(path, []byte("format: 99\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, _, ok, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("unknown format accepted")
	}
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.yaml")
	s := NewStore(path)

	var work [6][config.NumAxes]float64
	var g92 [config.NumAxes]float64
	work[1][0] = 5
	s.SaveOffsets(work, g92)
	work[1][0] = 7
	s.SaveOffsets(work, g92)

	gotWork, _, ok, err := s.Load()
	if err != nil || !ok {
		t.Fatalf("Load: %v ok=%v", err, ok)
	}
	if gotWork[1][0] != 7 {
		t.Errorf("G55 X = %v, want 7", gotWork[1][0])
	}
	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want just the offsets file", len(entries))
	}
}
