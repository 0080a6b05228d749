package channel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yoyo3287258/wol-gateway/internal/model"
)

// ErrEmptyText is returned when a request has no command text.
var ErrEmptyText = errors.New("text must not be empty")

// HTTPParser parses the JSON body of POST /api/v1/command.
type HTTPParser struct{}

// Name returns the channel name.
func (p *HTTPParser) Name() string {
	return string(model.ChannelHTTP)
}

// HTTPRequest is the command API request body.
type HTTPRequest struct {
	// Text is the command, e.g. "/status" (required).
	Text string `json:"text"`
}

// Parse decodes an HTTPRequest.
func (p *HTTPParser) Parse(rawData []byte) (model.ChatCommand, error) {
	var req HTTPRequest
	if err := json.Unmarshal(rawData, &req); err != nil {
		return model.ChatCommand{}, fmt.Errorf("parse HTTP request: %w", err)
	}

	if req.Text == "" {
		return model.ChatCommand{}, ErrEmptyText
	}

	return model.NewChatCommand(req.Text, model.ChannelHTTP, 0, 0), nil
}
