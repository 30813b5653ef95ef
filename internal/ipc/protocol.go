// Package ipc is the local control channel between the livecap CLI and a
// running server: one JSON line in, one JSON line out, over a unix socket.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
)

// Commands understood by the session handler.
const (
	CommandStart  = "start"
	CommandStop   = "stop"
	CommandStatus = "status"
)

const maxLineBytes = 4096

var errLineTooLong = errors.New("message exceeds 4096 bytes")

// Request is one control command.
type Request struct {
	Command string `json:"command"`
}

// Response reports the session after the command was applied.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Clients int    `json:"clients"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeLine(w io.Writer, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(raw, '\n'))
	return err
}

// readLine returns one newline-terminated message, newline included.
func readLine(r io.Reader) ([]byte, error) {
	reader := bufio.NewReaderSize(io.LimitReader(r, maxLineBytes), maxLineBytes)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) >= maxLineBytes {
			return nil, errLineTooLong
		}
		return nil, err
	}
	return line, nil
}
