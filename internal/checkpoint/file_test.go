package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/harvester/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileIsFreshRun(t *testing.T) {
	cp := NewFile(filepath.Join(t.TempDir(), "news_sentiment_checkpoint.txt"))

	pos, err := cp.Load()
	assert.NoError(t, err)
	assert.Nil(t, pos)
}

func TestSaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "intraday_checkpoint.txt")
	cp := NewFile(path)

	require.NoError(t, cp.Save(domain.Position{Entity: "A", Year: 2016, Month: 1}))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "A,2016,1\n", string(content))

	// Overwrite, not append
	require.NoError(t, cp.Save(domain.Position{Entity: "B", Year: 2016, Month: 2}))

	pos, err := cp.Load()
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, domain.Position{Entity: "B", Year: 2016, Month: 2}, *pos)

	require.NoError(t, cp.Clear())
	assert.NoFileExists(t, path)

	// Clearing twice is fine
	assert.NoError(t, cp.Clear())
}

func TestSave_WholeHistoryPosition(t *testing.T) {
	cp := NewFile(filepath.Join(t.TempDir(), "overview_checkpoint.txt"))

	require.NoError(t, cp.Save(domain.Position{Entity: "MSFT"}))

	pos, err := cp.Load()
	require.NoError(t, err)
	assert.Equal(t, "MSFT", pos.Entity)
	assert.False(t, pos.HasPeriod())
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	cp := NewFile(filepath.Join(dir, "cp.txt"))

	for i := 1; i <= 3; i++ {
		require.NoError(t, cp.Save(domain.Position{Entity: "A", Year: 2016, Month: i}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "cp.txt", entries[0].Name())
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.txt")
	require.NoError(t, os.WriteFile(path, []byte("A,20"), 0644))

	_, err := NewFile(path).Load()
	assert.True(t, errors.Is(err, ErrCorrupt))
}
