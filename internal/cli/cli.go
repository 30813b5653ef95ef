// Package cli parses livecap command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandServe   Command = "serve"
	CommandStart   Command = "start"
	CommandStop    Command = "stop"
	CommandStatus  Command = "status"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// commands is the help-ordered command table.
var commands = []struct {
	name    Command
	summary string
}{
	{CommandServe, "Run the transcription server in the foreground"},
	{CommandStart, "Start audio capture on the running server"},
	{CommandStop, "Stop audio capture on the running server"},
	{CommandStatus, "Print session state and connected observers"},
	{CommandDevices, "List available input devices"},
	{CommandDoctor, "Run configuration and environment checks"},
	{CommandVersion, "Print version information"},
	{CommandHelp, "Show this help"},
}

func lookup(name string) (Command, bool) {
	for _, c := range commands {
		if string(c.name) == name {
			return c.name, true
		}
	}
	return "", false
}

// Forwarded reports whether the command is relayed to a running server.
func (c Command) Forwarded() bool {
	return c == CommandStart || c == CommandStop || c == CommandStatus
}

type Parsed struct {
	Command    Command
	ConfigPath string
	Listen     string
	ShowHelp   bool
}

// Parse reads global flags followed by at most one command. Flags take their
// value as the next argument or after '='.
func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, inline, hasInline := strings.Cut(arg, "=")

		switch {
		case arg == "-h" || arg == "--help":
			parsed.Command, parsed.ShowHelp = CommandHelp, true
		case arg == "--version":
			parsed.Command, parsed.ShowHelp = CommandVersion, false
		case name == "--config" || name == "--listen":
			value := inline
			if !hasInline {
				i++
				if i >= len(args) {
					return Parsed{}, fmt.Errorf("%s requires a value", name)
				}
				value = args[i]
			}
			if strings.TrimSpace(value) == "" {
				return Parsed{}, fmt.Errorf("%s requires a value", name)
			}
			if name == "--config" {
				parsed.ConfigPath = value
			} else {
				parsed.Listen = value
			}
		case strings.HasPrefix(arg, "-"):
			return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
		default:
			cmd, ok := lookup(arg)
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
			parsed.Command, parsed.ShowHelp = cmd, cmd == CommandHelp
		}
	}

	if parsed.Listen != "" && parsed.Command != CommandServe {
		return Parsed{}, errors.New("--listen only applies to serve")
	}
	return parsed, nil
}

func HelpText(binaryName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage:\n  %s [--config PATH] [--listen ADDR] <command>\n\nCommands:\n", binaryName)
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-9s %s\n", c.name, c.summary)
	}
	b.WriteString(`
Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/livecap/config.jsonc)
  --listen ADDR   Override server.listen for serve
  -h, --help      Show help
  --version       Show version
`)
	return b.String()
}
