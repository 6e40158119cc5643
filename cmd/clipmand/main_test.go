package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azzuriel/clipman/internal/clipboard"
	"github.com/azzuriel/clipman/internal/config"
	"github.com/azzuriel/clipman/internal/ipc"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	sockDir, err := os.MkdirTemp("", "clipmand")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(sockDir) })

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.SocketPath = filepath.Join(sockDir, "s.sock")
	cfg.PollInterval = 10 * time.Millisecond
	cfg.AcceptTimeout = 50 * time.Millisecond
	cfg.JanitorInterval = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

func send(socket string, req string) (ipc.Response, error) {
	var resp ipc.Response
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return resp, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(req)); err != nil {
		return resp, err
	}
	err = json.NewDecoder(conn).Decode(&resp)
	return resp, err
}

func call(t *testing.T, socket string, req string) ipc.Response {
	t.Helper()
	resp, err := send(socket, req)
	require.NoError(t, err)
	return resp
}

func list(socket string) ([]map[string]interface{}, error) {
	resp, err := send(socket, `{"cmd":"list"}`)
	if err != nil {
		return nil, err
	}
	if resp.Status != ipc.StatusOK {
		return nil, fmt.Errorf("list failed: %s", resp.Error)
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, err
	}
	var items []map[string]interface{}
	err = json.Unmarshal(raw, &items)
	return items, err
}

func listed(t *testing.T, socket string) []map[string]interface{} {
	t.Helper()
	items, err := list(socket)
	require.NoError(t, err)
	return items
}

func countIs(socket string, n int) func() bool {
	return func() bool {
		items, err := list(socket)
		return err == nil && len(items) == n
	}
}

func TestDaemon_CaptureAndPaste(t *testing.T) {
	cfg := testConfig(t)
	clip := clipboard.NewMemory()

	d, err := newDaemon(cfg, clip)
	require.NoError(t, err)
	require.NoError(t, d.start(context.Background()))
	t.Cleanup(d.stop)

	assert.Equal(t, "pong", call(t, cfg.SocketPath, `{"cmd":"ping"}`).Message)

	clip.SetText("first   \nsecond\n\n")
	require.Eventually(t, countIs(cfg.SocketPath, 1), 2*time.Second, 10*time.Millisecond)

	clip.SetText("another")
	require.Eventually(t, countIs(cfg.SocketPath, 2), 2*time.Second, 10*time.Millisecond)

	items := listed(t, cfg.SocketPath)
	assert.Equal(t, "another", items[0]["preview"])
	first := items[1]["uuid"].(string)

	resp := call(t, cfg.SocketPath, `{"cmd":"paste","args":{"uuid":"`+first+`"}}`)
	require.Equal(t, ipc.StatusOK, resp.Status, resp.Error)
	assert.Equal(t, "first\nsecond", clip.Text())

	// the pasted text is not captured again as a new item
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, listed(t, cfg.SocketPath), 2)
}

func TestDaemon_StopRemovesSocket(t *testing.T) {
	cfg := testConfig(t)

	d, err := newDaemon(cfg, clipboard.NewMemory())
	require.NoError(t, err)
	require.NoError(t, d.start(context.Background()))

	_, err = os.Stat(cfg.SocketPath)
	require.NoError(t, err)

	d.stop()
	_, err = os.Stat(cfg.SocketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestDaemon_Gateway(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTPAddr = "127.0.0.1:0"

	d, err := newDaemon(cfg, clipboard.NewMemory())
	require.NoError(t, err)
	require.NoError(t, d.start(context.Background()))
	t.Cleanup(d.stop)

	resp, err := http.Get("http://" + d.gateway.Addr() + "/api/items")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDaemon_GatewayRejectsPublicAddress(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTPAddr = "0.0.0.0:0"

	d, err := newDaemon(cfg, clipboard.NewMemory())
	require.NoError(t, err)
	err = d.start(context.Background())
	d.stop()
	assert.Error(t, err)
}

func TestRun_Help(t *testing.T) {
	assert.NoError(t, run([]string{"--help"}))
}
