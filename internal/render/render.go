// Package render turns agent response tokens into chat text.
package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/yoyo3287258/wol-gateway/internal/model"
)

// StatusHeader starts every rendered status record.
const StatusHeader = "📊 Bot info:\n"

var responses = map[model.Response]string{
	model.ResponseAlreadyOn: "💡 The PC is already on",
	model.ResponseWakeSent:  "⚡ Magic Packet has been sent",
	model.ResponseWakeOK:    "✅ The PC turned on successfully",
	model.ResponseWakeFail:  "❌ The PC failed to turn on, please retry",
	model.ResponsePingOK:    "💖 The PC is online",
	model.ResponsePingFail:  "❌ The PC is offline or unreachable",
}

var (
	errInvalidJSON = errors.New("invalid JSON")
	errNotObject   = errors.New("status payload is not a JSON object")
)

// Render maps a response payload to display text. Unknown payloads render as "".
func Render(payload string) string {
	if text, ok := responses[model.Response(payload)]; ok {
		return text
	}

	if body, ok := cutStatusPrefix(payload); ok {
		text, err := renderStatus(body)
		if err != nil {
			return fmt.Sprintf("⚠️ Error parsing status info: %v", err)
		}
		return text
	}

	return ""
}

// Known reports whether payload has a rendering other than "".
func Known(payload string) bool {
	if _, ok := responses[model.Response(payload)]; ok {
		return true
	}
	_, ok := cutStatusPrefix(payload)
	return ok
}

func cutStatusPrefix(payload string) (string, bool) {
	rest, ok := strings.CutPrefix(payload, model.StatusInfoPrefix)
	if !ok {
		return "", false
	}
	// "/stat_infox" is a different token
	if rest != "" && rest[0] != ' ' && rest[0] != '{' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// renderStatus lists the fields of a flat JSON object, one per line, in payload order.
func renderStatus(body string) (string, error) {
	if !gjson.Valid(body) {
		return "", errInvalidJSON
	}
	doc := gjson.Parse(body)
	if !doc.IsObject() {
		return "", errNotObject
	}

	var sb strings.Builder
	sb.WriteString(StatusHeader)
	doc.ForEach(func(key, value gjson.Result) bool {
		fmt.Fprintf(&sb, "%s: %s\n", key.String(), value.String())
		return true
	})
	return sb.String(), nil
}
