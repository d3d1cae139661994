package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Command is a control request from cuesync-ctl to the daemon.
type Command string

const (
	CmdStart  Command = "start"  // begin a recording session
	CmdStop   Command = "stop"   // end the session and write outputs
	CmdResync Command = "resync" // relocate the script position; arg: offset
	CmdRefine Command = "refine" // refine the last transcript with the LLM
	CmdQuit   Command = "quit"   // shut the daemon down
)

// Request is a parsed command line from cmd.txt.
type Request struct {
	Cmd  Command
	Args []string
}

// Offset parses the first argument as a script offset.
func (r Request) Offset() (int, error) {
	if len(r.Args) == 0 {
		return 0, fmt.Errorf("%s: missing offset", r.Cmd)
	}
	n, err := strconv.Atoi(r.Args[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: invalid offset %q", r.Cmd, r.Args[0])
	}
	return n, nil
}

// DefaultDir returns ~/.cache/cuesync, home of cmd.txt and status.json.
func DefaultDir() string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "cuesync")
}

// CommandPath returns the command file inside dir.
func CommandPath(dir string) string { return filepath.Join(dir, "cmd.txt") }

// StatusPath returns the status snapshot inside dir.
func StatusPath(dir string) string { return filepath.Join(dir, "status.json") }

// WriteCommand writes cmd and its arguments to dir/cmd.txt.
func WriteCommand(dir string, cmd Command, args ...string) error {
	if !known(cmd) {
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	line := strings.Join(append([]string{string(cmd)}, args...), " ")
	return os.WriteFile(CommandPath(dir), []byte(line), 0644)
}

// ReadCommand reads and clears dir/cmd.txt. It returns a zero Request when
// nothing is pending or the command is unknown.
func ReadCommand(dir string) (Request, error) {
	path := CommandPath(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Request{}, nil
		}
		return Request{}, err
	}
	if len(data) == 0 {
		return Request{}, nil
	}
	// Cleared before parsing so a bad command is not re-read forever.
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return Request{}, err
	}
	return ParseRequest(string(data)), nil
}

// ParseRequest splits a command line. Unknown commands yield a zero Request.
func ParseRequest(line string) Request {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Request{}
	}
	cmd := Command(strings.ToLower(fields[0]))
	if !known(cmd) {
		return Request{}
	}
	return Request{Cmd: cmd, Args: fields[1:]}
}

func known(cmd Command) bool {
	switch cmd {
	case CmdStart, CmdStop, CmdResync, CmdRefine, CmdQuit:
		return true
	}
	return false
}
