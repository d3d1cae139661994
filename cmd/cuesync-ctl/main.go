// Command cuesync-ctl drives a running cuesync-core through its command
// file and prints the status snapshot it publishes.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/tiroq/cuesync/internal/config"
	"github.com/tiroq/cuesync/internal/ipc"
	"github.com/tiroq/cuesync/internal/pidfile"
)

const (
	transcriptTail = 200
	levelBarWidth  = 20
	waitPoll       = 100 * time.Millisecond
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	errColor    = color.New(color.FgRed)
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: cuesync-ctl [flags] <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  start            begin listening")
	fmt.Fprintln(w, "  stop             stop and write the transcript")
	fmt.Fprintln(w, "  resync [offset]  relocate the script position")
	fmt.Fprintln(w, "  refine           clean up the last transcript with the LLM")
	fmt.Fprintln(w, "  quit             stop the daemon")
	fmt.Fprintln(w, "  status           print the daemon status")
	fmt.Fprintln(w, "  init-config      write the default config file")
}

func run(args []string, stdout, stderr io.Writer) int {
	var (
		ipcDir     string
		configPath string
		wait       time.Duration
		noColor    bool
	)
	fs := pflag.NewFlagSet("cuesync-ctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		usage(stderr)
		fmt.Fprintln(stderr, "\nflags:")
		fs.PrintDefaults()
	}
	fs.StringVar(&ipcDir, "ipc-dir", ipc.DefaultDir(), "directory holding cmd.txt and status.json")
	fs.StringVarP(&configPath, "config", "c", config.DefaultPath(), "config file for init-config")
	fs.DurationVarP(&wait, "wait", "w", 0, "wait up to this long for the daemon to acknowledge, then print status")
	fs.BoolVar(&noColor, "no-color", false, "disable colored output")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if noColor {
		color.NoColor = true
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	name := strings.ToLower(fs.Arg(0))
	switch name {
	case "status":
		return printStatusFile(stdout, stderr, ipcDir)
	case "init-config":
		return initConfig(stdout, stderr, configPath)
	}

	req := ipc.ParseRequest(strings.Join(fs.Args(), " "))
	if req.Cmd == "" {
		errColor.Fprintf(stderr, "unknown command %q\n", name)
		usage(stderr)
		return 2
	}
	if req.Cmd == ipc.CmdResync && len(req.Args) > 0 {
		if _, err := req.Offset(); err != nil {
			errColor.Fprintln(stderr, err)
			return 2
		}
	}
	if _, alive := pidfile.ReadPID(pidfile.GetPIDFilePath("cuesync-core")); !alive {
		warnColor.Fprintln(stderr, "cuesync-core does not appear to be running; the command will wait for it")
	}

	sent := time.Now()
	if err := ipc.WriteCommand(ipcDir, req.Cmd, req.Args...); err != nil {
		errColor.Fprintln(stderr, "error:", err)
		return 1
	}
	okColor.Fprintf(stdout, "sent %s\n", strings.Join(fs.Args(), " "))

	if wait <= 0 {
		return 0
	}
	st, err := waitForStatus(ipcDir, sent, wait)
	if err != nil {
		errColor.Fprintln(stderr, "error:", err)
		return 1
	}
	printStatus(stdout, st, time.Now())
	if st.LastError != "" {
		return 1
	}
	return 0
}

// waitForStatus polls until the daemon publishes a snapshot newer than since.
func waitForStatus(dir string, since time.Time, timeout time.Duration) (*ipc.StatusSnapshot, error) {
	deadline := time.Now().Add(timeout)
	for {
		st, err := ipc.ReadStatus(dir)
		if err == nil && st.Timestamp.After(since) {
			return st, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no acknowledgement from cuesync-core within %s", timeout)
		}
		time.Sleep(waitPoll)
	}
}

func printStatusFile(stdout, stderr io.Writer, dir string) int {
	st, err := ipc.ReadStatus(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			warnColor.Fprintln(stderr, "no status yet; is cuesync-core running?")
			return 1
		}
		errColor.Fprintln(stderr, "error:", err)
		return 1
	}
	printStatus(stdout, st, time.Now())
	return 0
}

func printStatus(w io.Writer, st *ipc.StatusSnapshot, now time.Time) {
	headerColor.Fprintln(w, "cuesync")

	state := string(st.State)
	if st.Backend != "" {
		state += " (" + st.Backend + ")"
	}
	switch st.State {
	case ipc.StateListening:
		field(w, "State", okColor.Sprint(state))
	case ipc.StateStopping:
		field(w, "State", warnColor.Sprint(state))
	default:
		field(w, "State", state)
	}
	if st.SessionID != "" {
		field(w, "Session", st.SessionID)
	}
	if st.Status != "" {
		field(w, "Status", st.Status)
	}
	if st.State == ipc.StateListening {
		field(w, "Level", fmt.Sprintf("%s %.2f", levelBar(st.Level), st.Level))
		if st.WordsPerMinute > 0 {
			field(w, "Pace", fmt.Sprintf("%.0f wpm", st.WordsPerMinute))
		}
	}
	if st.ScriptLength > 0 {
		field(w, "Script", fmt.Sprintf("%d/%d", st.ScriptOffset, st.ScriptLength))
	}
	if st.Transcript != "" {
		field(w, "Transcript", tail(st.Transcript, transcriptTail))
	}
	if st.LastAction != "" {
		field(w, "Last", st.LastAction)
	}
	if st.LastError != "" {
		field(w, "Error", errColor.Sprint(st.LastError))
	}
	if st.LastOutput != "" {
		field(w, "Output", st.LastOutput)
	}
	if !st.Timestamp.IsZero() {
		field(w, "Updated", now.Sub(st.Timestamp).Round(time.Second).String()+" ago")
	}
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %-11s %s\n", label+":", value)
}

func levelBar(level float32) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	n := int(level*levelBarWidth + 0.5)
	return strings.Repeat("#", n) + strings.Repeat(".", levelBarWidth-n)
}

// tail keeps the last n runes, prefixed with an ellipsis when cut.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "…" + string(r[len(r)-n:])
}

func initConfig(stdout, stderr io.Writer, path string) int {
	if _, err := os.Stat(path); err == nil {
		warnColor.Fprintf(stderr, "%s already exists\n", path)
		return 1
	}
	if err := config.Save(path, config.Default()); err != nil {
		errColor.Fprintln(stderr, "error:", err)
		return 1
	}
	okColor.Fprintf(stdout, "wrote %s\n", path)
	return 0
}
