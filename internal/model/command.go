package model

import "strings"

// Command is a token published on the commands topic. The agent matches it
// byte for byte.
type Command string

const (
	CommandWake   Command = "/wol"
	CommandPing   Command = "/ping"
	CommandStatus Command = "/status"
)

// Commands is the fixed set the agent understands.
var Commands = []Command{CommandWake, CommandPing, CommandStatus}

// Valid reports whether c is one of the fixed commands.
func (c Command) Valid() bool {
	for _, known := range Commands {
		if c == known {
			return true
		}
	}
	return false
}

func (c Command) String() string {
	return string(c)
}

// ParseCommand maps user text such as "/wol" or "/wol@my_bot now" to a Command.
func ParseCommand(text string) (Command, bool) {
	name := CommandName(text)
	if name == "" {
		return "", false
	}
	cmd := Command("/" + name)
	return cmd, cmd.Valid()
}

// CommandName extracts "wol" from "/wol@bot arg". Returns "" if text is not a command.
func CommandName(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name := strings.TrimPrefix(text, "/")
	if i := strings.IndexAny(name, " \t\n"); i >= 0 {
		name = name[:i]
	}
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}
