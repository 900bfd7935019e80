package cmd

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute はコマンドを実行し、標準出力の内容を返す
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() {
		os.Stdout = oldStdout
		driverOverride = ""
		configPath = ""
	}()

	rootCmd.SetArgs(args)
	execErr := rootCmd.Execute()

	w.Close()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out), execErr
}

func TestCaptureWithMockDriver(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "capture", "--driver", "mock", "-n", "3",
		"--pixel-format", "MJPG", "--width", "640", "--height", "480", "-o", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "/dev/video0")
	assert.Contains(t, out, "MJPG 640x480@30")

	files, err := filepath.Glob(filepath.Join(dir, "frame-*.jpg"))
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestCaptureUnsupportedResolution(t *testing.T) {
	_, err := execute(t, "capture", "--driver", "mock", "-n", "1",
		"--pixel-format", "YUYV", "--width", "1280", "--height", "720", "--output=")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UnsupportedResolution")
}

func TestProbeWithMockDriver(t *testing.T) {
	out, err := execute(t, "probe", "--driver", "mock", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"MJPG"`)
	assert.Contains(t, out, `"YUYV"`)
}

func TestDevicesWithMockDriver(t *testing.T) {
	out, err := execute(t, "devices", "--driver", "mock", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"device": "/dev/video0"`)
	assert.Contains(t, out, `"available": true`)
}

func TestConfigShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camstream.yaml")
	require.NoError(t, os.WriteFile(path, []byte("camera:\n  driver: mock\nmqtt:\n  password: secret\n"), 0o600))

	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "driver: mock")
	assert.NotContains(t, out, "secret")
}
