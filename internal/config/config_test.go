// SPDX-License-Identifier: BSD-2-Clause

package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nosip.ini")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "[general]\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultRTPPortMin, cfg.RTPPortMin)
	require.Equal(t, DefaultRTPPortMax, cfg.RTPPortMax)
	require.False(t, cfg.EventsEnabled)
}

func TestLoadPortRange(t *testing.T) {
	path := writeConfig(t, "[general]\nrtp_port_range=20000-21000\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 20000, cfg.RTPPortMin)
	require.Equal(t, 21000, cfg.RTPPortMax)
}

func TestLoadPortRangeInvertedSwaps(t *testing.T) {
	path := writeConfig(t, "[general]\nrtp_port_range=21000-20000\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 20000, cfg.RTPPortMin)
	require.Equal(t, 21000, cfg.RTPPortMax)
}

func TestLoadPortRangeMaxZero(t *testing.T) {
	path := writeConfig(t, "[general]\nrtp_port_range=5000-0\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.RTPPortMin)
	require.Equal(t, 65535, cfg.RTPPortMax)
}

func TestLoadLocalIPLiteral(t *testing.T) {
	path := writeConfig(t, "[general]\nlocal_ip=203.0.113.5\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, net.IPv4(203, 0, 113, 5).Equal(cfg.LocalIP))
}

func TestLoadEventsEnabled(t *testing.T) {
	path := writeConfig(t, "[general]\nevents=true\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.EventsEnabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	require.Error(t, err)
}
