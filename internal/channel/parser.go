package channel

import "github.com/yoyo3287258/wol-gateway/internal/model"

// Parser turns a raw request body into a command.
type Parser interface {
	// Name returns the channel name.
	Name() string

	// Parse decodes rawData.
	Parse(rawData []byte) (model.ChatCommand, error)
}
