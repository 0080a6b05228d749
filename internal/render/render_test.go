package render

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestRenderTable(t *testing.T) {
	tests := map[string]string{
		"/al_on":     "💡 The PC is already on",
		"/wol_sent":  "⚡ Magic Packet has been sent",
		"/wol_ok":    "✅ The PC turned on successfully",
		"/wol_fail":  "❌ The PC failed to turn on, please retry",
		"/ping_ok":   "💖 The PC is online",
		"/ping_fail": "❌ The PC is offline or unreachable",
	}

	for token, want := range tests {
		t.Run(token, func(t *testing.T) {
			assert.Equal(t, want, Render(token))
			assert.True(t, Known(token))
		})
	}
}

func TestRenderUnknown(t *testing.T) {
	for _, payload := range []string{"", "/wol", "/WOL_SENT", "/wol_sent ", "hello", "/stat_infox {}"} {
		assert.NotPanics(t, func() {
			assert.Equal(t, "", Render(payload), "payload %q", payload)
		})
		assert.False(t, Known(payload), "payload %q", payload)
	}
}

func TestRenderStatusInfo(t *testing.T) {
	got := Render(`/stat_info {"Status":"Online","Local IP":"192.168.1.50","SSID":"home","Uptime":"1h 2m 3s"}`)
	want := "📊 Bot info:\n" +
		"Status: Online\n" +
		"Local IP: 192.168.1.50\n" +
		"SSID: home\n" +
		"Uptime: 1h 2m 3s\n"

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Render() mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderStatusInfoLine(t *testing.T) {
	got := Render(`/stat_info {"cpu": "12%"}`)
	assert.Contains(t, strings.Split(got, "\n"), "cpu: 12%")
}

func TestRenderStatusInfoNumbers(t *testing.T) {
	got := Render(`/stat_info {"rssi": -61, "ok": true}`)
	assert.Equal(t, "📊 Bot info:\nrssi: -61\nok: true\n", got)
}

func TestRenderStatusPrefixNeedsSeparator(t *testing.T) {
	tests := []struct {
		payload string
		status  bool
	}{
		{`/stat_info {"a":"b"}`, true},
		{`/stat_info{"a":"b"}`, true},
		{`/stat_info`, true},
		{`/stat_infox {"a":"b"}`, false},
		{`/stat_info_v2 {"a":"b"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			assert.Equal(t, tt.status, Known(tt.payload))
			if !tt.status {
				assert.Equal(t, "", Render(tt.payload))
			}
		})
	}
}

func TestRenderStatusInfoErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"truncated", `/stat_info {bad json`},
		{"array", `/stat_info ["a","b"]`},
		{"empty", `/stat_info`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			assert.NotPanics(t, func() { got = Render(tt.payload) })
			assert.True(t, strings.HasPrefix(got, "⚠️ Error parsing status info: "), got)
		})
	}
}
