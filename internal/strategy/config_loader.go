package strategy

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// SignalsFile is the YAML layout of a static signal file:
//
//	profiles:
//	  balanced:
//	    - {symbol: AAPL, side: buy, entry: 190, stop: 186, target: 198, confidence: 0.7}
//	default:
//	  - {symbol: SPY, side: buy, entry: 500, confidence: 0.6}
type SignalsFile struct {
	Profiles map[string][]Candidate `yaml:"profiles"`
	Default  []Candidate            `yaml:"default"`
}

// LoadSignalsFile reads a signal file from disk.
func LoadSignalsFile(path string) (*SignalsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file SignalsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse signals file %s: %w", path, err)
	}
	return &file, nil
}

// FileSource serves candidates from a YAML file, re-reading it when it changes.
type FileSource struct {
	path    string
	mu      sync.Mutex
	modTime time.Time
	file    *SignalsFile
	now     func() time.Time
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, now: time.Now}
}

func (s *FileSource) Produce(ctx context.Context, profile string, universe []string) ([]Candidate, error) {
	file, err := s.current()
	if err != nil {
		return nil, err
	}
	list, ok := file.Profiles[profile]
	if !ok {
		list = file.Default
	}
	keep := inUniverse(universe)
	now := s.now().UTC()
	out := make([]Candidate, 0, len(list))
	for _, c := range list {
		c.Normalize()
		if c.Symbol == "" || !keep(c.Symbol) {
			continue
		}
		if c.At.IsZero() {
			c.At = now
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *FileSource) current() (*SignalsFile, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil && info.ModTime().Equal(s.modTime) {
		return s.file, nil
	}
	file, err := LoadSignalsFile(s.path)
	if err != nil {
		return nil, err
	}
	s.file, s.modTime = file, info.ModTime()
	return file, nil
}
