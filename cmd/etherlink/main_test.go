package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-etherlink/internal/errs"
)

func TestParseArgsDefaults(t *testing.T) {
	conf, err := parseArgs(nil, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "/dev/uio0", conf.Device.UIOPath)
	assert.EqualValues(t, 4096, conf.Device.H2TT2HMemSize)
	assert.Equal(t, "0.0.0.0", conf.Server.IP)
	assert.False(t, conf.Device.Simulate)
}

func TestParseArgsFlags(t *testing.T) {
	conf, err := parseArgs([]string{
		"-u", "/dev/uio3",
		"-s", "0x4000",
		"-m", "0x2000",
		"-p", "30000",
		"--mgmt-port", "-1",
		"-i", "127.0.0.1",
		"--loopback",
		"--log-level", "debug",
	}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "/dev/uio3", conf.Device.UIOPath)
	assert.EqualValues(t, 0x4000, conf.Device.StartAddress)
	assert.EqualValues(t, 0x2000, conf.Device.H2TT2HMemSize)
	assert.Equal(t, 30000, conf.Server.Port)
	assert.Equal(t, -1, conf.Server.MgmtPort)
	assert.Equal(t, "127.0.0.1:30000", conf.ListenAddr())
	assert.Equal(t, "", conf.MgmtListenAddr())
	assert.True(t, conf.Server.Loopback)
	assert.Equal(t, "debug", conf.Log.Level)
}

func TestParseArgsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etherlink.yaml")
	yaml := "device:\n  uio-driver-path: /dev/uio7\n  start-address: 0x100\nserver:\n  port: 40000\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	conf, err := parseArgs([]string{"-c", path, "--port", "40001"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "/dev/uio7", conf.Device.UIOPath, "file value kept")
	assert.EqualValues(t, 0x100, conf.Device.StartAddress)
	assert.Equal(t, 40001, conf.Server.Port, "explicit flag wins over the file")
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--bogus"}},
		{"bad number", []string{"-m", "lots"}},
		{"oversized region", []string{"-m", "0x20000"}},
		{"unaligned region", []string{"-m", "100"}},
		{"stray argument", []string{"extra"}},
		{"missing config file", []string{"-c", "/nonexistent/etherlink.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseArgs(tt.args, &bytes.Buffer{})
			assert.Error(t, err)
			assert.False(t, errors.Is(err, errExit))
		})
	}
}

func TestParseArgsConfigErrorCode(t *testing.T) {
	_, err := parseArgs([]string{"-m", "0x20000"}, &bytes.Buffer{})
	assert.True(t, errors.Is(err, errs.ErrConfig), "got %v", err)
}

func TestParseArgsHelpAndVersion(t *testing.T) {
	var out bytes.Buffer
	_, err := parseArgs([]string{"--help"}, &out)
	assert.True(t, errors.Is(err, errExit))
	assert.Contains(t, out.String(), "--uio-driver-path")
	assert.Contains(t, out.String(), "--h2t-t2h-mem-size")

	out.Reset()
	_, err = parseArgs([]string{"-v"}, &out)
	assert.True(t, errors.Is(err, errExit))
	assert.True(t, strings.HasPrefix(out.String(), "etherlink "))
}

func TestRunSimulated(t *testing.T) {
	conf, err := parseArgs([]string{"--simulate", "-i", "127.0.0.1", "--log-level", "error"}, &bytes.Buffer{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, run(ctx, conf, &out))
	assert.Contains(t, out.String(), "Listening on 127.0.0.1:")
	assert.Contains(t, out.String(), "Management on 127.0.0.1:")
}
