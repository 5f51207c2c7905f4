package risk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrixLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "correlations.yaml")

	t.Run("valid file", func(t *testing.T) {
		body := `correlations:
  btcusdt:
    ethusdt: 0.82
    solusdt: 0.65
`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		m := NewMatrix()
		require.NoError(t, m.LoadFile(path))
		assert.InDelta(t, 0.82, m.Correlation("BTCUSDT", "ETHUSDT"), 1e-9)
		assert.InDelta(t, 0.65, m.Correlation("SOLUSDT", "BTCUSDT"), 1e-9)
	})

	t.Run("out of range rejected", func(t *testing.T) {
		body := `correlations:
  btcusdt:
    ethusdt: 1.5
`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		m := NewMatrix()
		require.Error(t, m.LoadFile(path))
	})

	t.Run("missing file", func(t *testing.T) {
		m := NewMatrix()
		require.Error(t, m.LoadFile(filepath.Join(dir, "nope.yaml")))
	})
}
