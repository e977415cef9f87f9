// Offset persistence
//
// Work coordinate offsets (G10 L2) and the G92 axis offsets survive a
// restart: the canonical machine notifies the store on every change
// and the file is reloaded at startup. Writes go through a temp file
// and rename so a crash mid-write leaves the previous file intact.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package persist

import (
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"tinyg-go-migration/pkg/config"
	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/log"
)

// fileFormat is bumped when the on-disk layout changes.
const fileFormat = 1

type offsetsFile struct {
	Format int                  `yaml:"format"`
	Work   map[string][]float64 `yaml:"work_offsets"`
	G92    []float64            `yaml:"g92_offsets"`
}

var coordKeys = [6]string{"g54", "g55", "g56", "g57", "g58", "g59"}

// Store reads and writes the machine offsets file.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *log.Logger
}

func NewStore(path string) *Store {
	return &Store{path: path, logger: log.New("persist")}
}

// Load reads the offsets file. A missing file is not an error; zero
// offsets and ok=false come back so first boot starts clean.
func (s *Store) Load() (work [6][config.NumAxes]float64, g92 [config.NumAxes]float64, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, rerr := os.ReadFile(s.path)
	if rerr != nil {
		if os.IsNotExist(rerr) {
			return work, g92, false, nil
		}
		return work, g92, false, errors.SystemError("read offsets: " + rerr.Error())
	}

	var f offsetsFile
	if uerr := yaml.Unmarshal(data, &f); uerr != nil {
		return work, g92, false, errors.SystemError("parse offsets: " + uerr.Error())
	}
	if f.Format != fileFormat {
		s.logger.WithField("format", f.Format).Warn("unknown offsets file format, ignoring")
		return work, g92, false, nil
	}

	for n, key := range coordKeys {
		copyAxes(work[n][:], f.Work[key])
	}
	copyAxes(g92[:], f.G92)
	return work, g92, true, nil
}

// SaveOffsets writes the offset tables. It satisfies the canonical
// machine's store interface and is called on G10 L2 and G92 changes.
func (s *Store) SaveOffsets(work [6][config.NumAxes]float64, g92 [config.NumAxes]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := offsetsFile{
		Format: fileFormat,
		Work:   make(map[string][]float64, len(coordKeys)),
		G92:    append([]float64(nil), g92[:]...),
	}
	for n, key := range coordKeys {
		f.Work[key] = append([]float64(nil), work[n][:]...)
	}

	data, merr := yaml.Marshal(&f)
	if merr != nil {
		s.logger.WithError(merr).Error("marshal offsets")
		return
	}
	if werr := s.writeAtomic(data); werr != nil {
		s.logger.WithError(werr).Error("write offsets")
	}
}

// writeAtomic writes data to a sibling temp file and renames it over
// the target. Called locked.
func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

func copyAxes(dst []float64, src []float64) {
	for i := 0; i < len(dst) && i < len(src); i++ {
		dst[i] = src[i]
	}
}
