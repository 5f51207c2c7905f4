package risk

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"voltra/internal/logger"
)

// Matrix 持有外部预计算的相关性矩阵,按 yaml 文件加载并支持热更新。
//
// 文件格式:
//
//	correlations:
//	  BTCUSDT:
//	    ETHUSDT: 0.82
//	    SOLUSDT: 0.65
type Matrix struct {
	mu    sync.RWMutex
	pairs map[string]map[string]float64
	path  string
}

type matrixFile struct {
	Correlations map[string]map[string]float64 `yaml:"correlations"`
}

// NewMatrix returns an empty matrix; every lookup reads zero until a file
// is loaded.
func NewMatrix() *Matrix {
	return &Matrix{pairs: make(map[string]map[string]float64)}
}

// LoadFile replaces the matrix contents from a yaml file.
func (m *Matrix) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read correlation matrix: %w", err)
	}
	var f matrixFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse correlation matrix %s: %w", path, err)
	}
	pairs := make(map[string]map[string]float64, len(f.Correlations))
	n := 0
	for a, row := range f.Correlations {
		ua := strings.ToUpper(a)
		for b, v := range row {
			if v < -1 || v > 1 {
				return fmt.Errorf("correlation %s/%s out of range: %.4f", a, b, v)
			}
			ub := strings.ToUpper(b)
			if pairs[ua] == nil {
				pairs[ua] = make(map[string]float64)
			}
			pairs[ua][ub] = v
			n++
		}
	}
	m.mu.Lock()
	m.pairs = pairs
	m.path = path
	m.mu.Unlock()
	logger.Infof("correlation matrix loaded from %s, %d pairs", path, n)
	return nil
}

// Correlation is symmetric; unknown pairs and self pairs read as expected.
func (m *Matrix) Correlation(a, b string) float64 {
	ua, ub := strings.ToUpper(a), strings.ToUpper(b)
	if ua == ub {
		return 1
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if row, ok := m.pairs[ua]; ok {
		if v, ok := row[ub]; ok {
			return v
		}
	}
	if row, ok := m.pairs[ub]; ok {
		if v, ok := row[ua]; ok {
			return v
		}
	}
	return 0
}

// Set records one pair. Used by tests and manual overrides.
func (m *Matrix) Set(a, b string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ua, ub := strings.ToUpper(a), strings.ToUpper(b)
	if m.pairs[ua] == nil {
		m.pairs[ua] = make(map[string]float64)
	}
	m.pairs[ua][ub] = v
}

// Watch reloads the matrix whenever the loaded file changes. Blocks until
// the context is done; a reload failure keeps the previous matrix.
func (m *Matrix) Watch(ctx context.Context) error {
	m.mu.RLock()
	path := m.path
	m.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("watch: no matrix file loaded")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch correlation matrix: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := m.LoadFile(path); err != nil {
				logger.Warnf("correlation matrix reload failed: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("correlation matrix watcher: %v", err)
		}
	}
}
