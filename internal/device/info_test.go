package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInfo(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "SysInfo")
	content := "BoardHwName: iPod Q\nModelNumStr: MA446\nCapacity: 80000000000\npszSerialNumber: ABC123\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	info := ReadInfo(path)
	assert.True(t, info.Recognized)
	assert.Equal(t, "MA446", info.Model)
	assert.Equal(t, int64(80_000_000_000), info.CapacityBytes)
}

func TestReadInfo_MissingFile(t *testing.T) {
	t.Parallel()

	info := ReadInfo(filepath.Join(t.TempDir(), "SysInfo"))
	assert.False(t, info.Recognized)
	assert.Empty(t, info.Model)
}

func TestReadInfo_NoModel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "SysInfo")
	require.NoError(t, os.WriteFile(path, []byte("Capacity: 1000\n"), 0o644))

	info := ReadInfo(path)
	assert.False(t, info.Recognized)
	assert.Equal(t, int64(1000), info.CapacityBytes)
}
