package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionsCommand(t *testing.T) {
	var out bytes.Buffer
	a := newApp()
	a.Writer = &out

	require.NoError(t, a.Run([]string{"callbackd", "subscriptions"}))

	var got struct {
		Subscriptions []struct {
			PubsubName string
			Topic      string
		} `json:"subscriptions"`
		Methods  []string `json:"methods"`
		Bindings []string `json:"bindings"`
		Jobs     []string `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got.Subscriptions, 2)
	assert.Equal(t, "orders", got.Subscriptions[0].Topic)
	assert.Equal(t, []string{"echo", "greet"}, got.Methods)
	assert.Equal(t, []string{"cron"}, got.Bindings)
	assert.Equal(t, []string{"cleanup"}, got.Jobs)
}

func TestServerCommand_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callbackd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  protocol: smtp\n"), 0o600))

	err := newApp().Run([]string{"callbackd", "server", "--config_file", path})

	assert.ErrorContains(t, err, "unknown protocol")
}
