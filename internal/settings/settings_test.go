package settings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/rcdrive/internal/history"
	"github.com/srg/rcdrive/internal/store"
	"github.com/srg/rcdrive/internal/testutils"
)

func TestDefaults(t *testing.T) {
	s := Defaults()
	assert.Equal(t, Settings{
		DarkMode:      true,
		ThemeColor:    "cyan",
		AutoReconnect: true,
		CommandDelay:  100,
		Vibration:     true,
		Sensitivity:   "medium",
		SaveHistory:   true,
	}, s)
	assert.Equal(t, 100*time.Millisecond, s.CommandDelayDuration())
	assert.NoError(t, s.Validate())
	assert.Equal(t, "darkMode", Keys()[0])
	assert.Len(t, Keys(), 9)
}

func TestManager_Set(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := NewManager(st, testutils.NewTestLogger(t))

	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
		check   func(t *testing.T, s Settings)
	}{
		{name: "bool from text", key: "autoReconnect", value: "false",
			check: func(t *testing.T, s Settings) { assert.False(t, s.AutoReconnect) }},
		{name: "int from text", key: "commandDelay", value: "250",
			check: func(t *testing.T, s Settings) { assert.Equal(t, 250, s.CommandDelay) }},
		{name: "string", key: "deviceName", value: "Rover",
			check: func(t *testing.T, s Settings) { assert.Equal(t, "Rover", s.DeviceName) }},
		{name: "out of range delay", key: "commandDelay", value: "5000", wantErr: "commandDelay"},
		{name: "bad sensitivity", key: "sensitivity", value: "extreme", wantErr: "sensitivity"},
		{name: "unknown key", key: "turbo", value: "on", wantErr: "unknown setting"},
		{name: "not a number", key: "commandDelay", value: "fast", wantErr: "commandDelay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := m.Get()
			err := m.Set(ctx, tt.key, tt.value)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Equal(t, before, m.Get(), "a rejected value MUST NOT change anything")
				return
			}
			require.NoError(t, err)
			tt.check(t, m.Get())
		})
	}

	reloaded := NewManager(st, nil)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, m.Get(), reloaded.Get(), "Set MUST persist")
}

func TestManager_LoadKeepsDefaultsForMissingFields(t *testing.T) {
	ctx := context.Background()
	st := store.NewFileStore(t.TempDir())
	require.NoError(t, st.Save(ctx, store.KeySettings, map[string]any{"soundEffects": true}))

	m := NewManager(st, nil)
	require.NoError(t, m.Load(ctx))
	got := m.Get()
	assert.True(t, got.SoundEffects)
	assert.True(t, got.AutoReconnect)
	assert.Equal(t, 100, got.CommandDelay)
}

func TestManager_LoadMissingAndInvalid(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	m := NewManager(st, nil)
	require.NoError(t, m.Load(ctx))
	assert.Equal(t, Defaults(), m.Get())

	require.NoError(t, st.Save(ctx, store.KeySettings, map[string]any{"commandDelay": -4}))
	require.NoError(t, m.Load(ctx))
	assert.Equal(t, Defaults(), m.Get(), "invalid stored settings fall back to defaults")
}

func TestExport(t *testing.T) {
	m := NewManager(nil, nil)
	h := history.New()
	h.Record(history.Entry{ID: "AA", Name: "HC-05", Kind: "bluetooth",
		LastConnected: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)})

	data, err := m.Export(h, time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	testutils.NewJSONAsserter(t).Assert(string(data), `{
		"settings": {
			"darkMode": true, "themeColor": "cyan", "deviceName": "",
			"autoReconnect": true, "commandDelay": 100, "vibrationFeedback": true,
			"soundEffects": false, "sensitivity": "medium", "saveHistory": true
		},
		"deviceHistory": [
			{"id": "AA", "name": "HC-05", "kind": "bluetooth", "address": "",
			 "lastConnected": "2024-05-01T10:00:00Z"}
		],
		"exportDate": "2024-05-02T08:00:00Z"
	}`)
}

func TestImport(t *testing.T) {
	ctx := context.Background()

	t.Run("merges settings and replaces history", func(t *testing.T) {
		m := NewManager(store.NewMemoryStore(), nil)
		require.NoError(t, m.Set(ctx, "deviceName", "Keep me"))
		h := history.New(history.WithStore(store.NewMemoryStore()))
		h.Record(history.Entry{ID: "old"})

		res, err := m.Import(ctx, []byte(`{
			"settings": {"commandDelay": 40, "darkMode": false},
			"deviceHistory": [
				{"id": "b", "name": "ESP32", "lastConnected": "2024-02-01T00:00:00.000Z"},
				{"id": "a", "name": "HC-06", "lastConnected": "2024-01-01T00:00:00Z"}
			],
			"exportDate": "2024-02-02T00:00:00Z"
		}`), h)
		require.NoError(t, err)
		assert.Equal(t, ImportResult{SettingsApplied: true, HistoryReplaced: true, HistoryEntries: 2}, res)

		got := m.Get()
		assert.Equal(t, 40, got.CommandDelay)
		assert.False(t, got.DarkMode)
		assert.Equal(t, "Keep me", got.DeviceName, "fields absent from the bundle MUST be kept")

		entries := h.Entries()
		require.Len(t, entries, 2)
		assert.Equal(t, "b", entries[0].ID)
		assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), entries[0].LastConnected.UTC())
	})

	t.Run("history ignored when saving is disabled", func(t *testing.T) {
		m := NewManager(nil, nil)
		h := history.New()
		h.Record(history.Entry{ID: "old"})

		res, err := m.Import(ctx, []byte(`{"settings":{"saveHistory":false},"deviceHistory":[{"id":"new"}]}`), h)
		require.NoError(t, err)
		assert.False(t, res.HistoryReplaced)
		assert.Equal(t, "old", h.Entries()[0].ID)
	})

	t.Run("round trip", func(t *testing.T) {
		src := NewManager(nil, nil)
		require.NoError(t, src.Set(ctx, "themeColor", "magenta"))
		srcHistory := history.New()
		srcHistory.Record(history.Entry{ID: "10.0.0.2:80", Kind: "wifi", Address: "10.0.0.2:80"})
		data, err := src.Export(srcHistory, time.Now())
		require.NoError(t, err)

		dst := NewManager(nil, nil)
		dstHistory := history.New()
		_, err = dst.Import(ctx, data, dstHistory)
		require.NoError(t, err)
		assert.Equal(t, src.Get(), dst.Get())
		assert.Equal(t, "wifi", dstHistory.Entries()[0].Kind)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		m := NewManager(nil, nil)
		_, err := m.Import(ctx, []byte("not json"), nil)
		assert.Error(t, err)

		_, err = m.Import(ctx, []byte(`{"settings":{"sensitivity":"max"}}`), nil)
		assert.Error(t, err)
		assert.Equal(t, Defaults(), m.Get())
	})
}

func TestBundleShape(t *testing.T) {
	var b Bundle
	require.NoError(t, json.Unmarshal([]byte(`{"settings":{"themeColor":"lime"},"exportDate":"2024-01-01T00:00:00Z"}`), &b))
	assert.Equal(t, "lime", b.Settings.ThemeColor)
}
