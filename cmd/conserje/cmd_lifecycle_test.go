package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/conserje/internal/webhook"
)

func TestHealthURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8080/health", healthURL(":8080"))
	assert.Equal(t, "http://127.0.0.1:9000/health", healthURL("0.0.0.0:9000"))
	assert.Equal(t, "http://10.0.0.5:8080/health", healthURL("10.0.0.5:8080"))
	assert.Equal(t, "", healthURL(""))
}

func TestDaemonPID(t *testing.T) {
	cfg := testConfig(t)

	_, err := daemonPID(cfg)
	assert.ErrorIs(t, err, errNotRunning)

	path := filepath.Join(cfg.DataDir, pidFileName)
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))
	pid, err := daemonPID(cfg)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	_, err = daemonPID(cfg)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, errNotRunning)
}

func TestProbeHealth(t *testing.T) {
	srv := httptest.NewServer(webhook.NewServer(nil, nil, nil))
	defer srv.Close()

	h, err := probeHealth(context.Background(), srv.URL+"/health")
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Nil(t, h.Lanes)

	down := httptest.NewServer(http.NotFoundHandler())
	defer down.Close()
	_, err = probeHealth(context.Background(), down.URL+"/health")
	assert.Error(t, err)
}
