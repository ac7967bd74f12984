package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/srg/rcdrive/internal/history"
)

// Bundle is the exported settings file.
type Bundle struct {
	Settings      Settings        `json:"settings"`
	DeviceHistory []history.Entry `json:"deviceHistory"`
	ExportDate    time.Time       `json:"exportDate"`
}

// Export serializes the current settings and h as indented JSON.
func (m *Manager) Export(h *history.History, now time.Time) ([]byte, error) {
	b := Bundle{Settings: m.Get(), DeviceHistory: []history.Entry{}, ExportDate: now.UTC()}
	if h != nil {
		b.DeviceHistory = h.Entries()
	}
	return json.MarshalIndent(b, "", "  ")
}

// ImportResult reports what an import changed.
type ImportResult struct {
	SettingsApplied bool
	HistoryReplaced bool
	HistoryEntries  int
}

// Import merges the bundle's settings fields over the current ones and, when
// history saving is enabled afterwards, replaces h with the bundle's history.
func (m *Manager) Import(ctx context.Context, data []byte, h *history.History) (ImportResult, error) {
	var res ImportResult

	var raw struct {
		Settings      map[string]any   `json:"settings"`
		DeviceHistory []map[string]any `json:"deviceHistory"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return res, fmt.Errorf("invalid settings file: %w", err)
	}

	if raw.Settings != nil {
		if err := m.Apply(ctx, raw.Settings); err != nil {
			return res, fmt.Errorf("invalid settings file: %w", err)
		}
		res.SettingsApplied = true
	}

	if raw.DeviceHistory == nil || h == nil || !m.Get().SaveHistory {
		return res, nil
	}

	entries := make([]history.Entry, 0, len(raw.DeviceHistory))
	for _, item := range raw.DeviceHistory {
		var e history.Entry
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:     &e,
			TagName:    "json",
			DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339),
		})
		if err != nil {
			return res, err
		}
		if err := dec.Decode(item); err != nil {
			return res, fmt.Errorf("invalid device history entry: %w", err)
		}
		entries = append(entries, e)
	}

	h.Replace(entries)
	if err := h.Save(ctx); err != nil {
		return res, err
	}
	res.HistoryReplaced = true
	res.HistoryEntries = h.Len()
	return res, nil
}
