// Package transcript writes a finished session transcript to disk.
package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/tiroq/cuesync/internal/fileutil"
)

// Segment is a span of the transcript with offsets from session start.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Session is the output of one recording session.
type Session struct {
	Text     string
	Segments []Segment
	Duration time.Duration
}

// cues returns the timed segments, or the whole text as one cue when the
// backend produced no segment timing.
func (s *Session) cues() []Segment {
	if len(s.Segments) > 0 {
		return s.Segments
	}
	if strings.TrimSpace(s.Text) == "" {
		return nil
	}
	return []Segment{{Start: 0, End: s.Duration, Text: s.Text}}
}

// WriteText writes the transcript as plain text, ready to paste into a
// script.
func WriteText(path string, s *Session) error {
	text := strings.TrimSpace(s.Text)
	if text != "" {
		text += "\n"
	}
	return fileutil.AtomicWrite(path, []byte(text), 0644)
}

// WriteSRT writes a SubRip (.srt) file, cues numbered from 1.
func WriteSRT(path string, s *Session) error {
	var b strings.Builder
	for i, seg := range s.cues() {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", formatTimestamp(seg.Start, ','), formatTimestamp(seg.End, ','))
		fmt.Fprintf(&b, "%s\n", seg.Text)
	}
	return fileutil.AtomicWrite(path, []byte(b.String()), 0644)
}

// WriteVTT writes a WebVTT (.vtt) file.
func WriteVTT(path string, s *Session) error {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for _, seg := range s.cues() {
		b.WriteByte('\n')
		fmt.Fprintf(&b, "%s --> %s\n", formatTimestamp(seg.Start, '.'), formatTimestamp(seg.End, '.'))
		fmt.Fprintf(&b, "%s\n", seg.Text)
	}
	return fileutil.AtomicWrite(path, []byte(b.String()), 0644)
}

// WriteAll writes every requested format next to basePath (no extension)
// and returns the paths written. Empty formats means ["txt"]. Failures are
// combined into one error; successful files are still returned.
func WriteAll(basePath string, s *Session, formats []string) ([]string, error) {
	if len(formats) == 0 {
		formats = []string{"txt"}
	}
	var (
		written []string
		errs    []string
	)
	for _, f := range formats {
		var err error
		path := basePath + "." + f
		switch f {
		case "txt":
			err = WriteText(path, s)
		case "srt":
			err = WriteSRT(path, s)
		case "vtt":
			err = WriteVTT(path, s)
		default:
			errs = append(errs, fmt.Sprintf("unknown format %q", f))
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f, err))
			continue
		}
		written = append(written, path)
	}
	if len(errs) > 0 {
		return written, fmt.Errorf("transcript write errors: %s", strings.Join(errs, "; "))
	}
	return written, nil
}

// formatTimestamp renders HH:MM:SS<sep>mmm; SRT uses ',' and WebVTT '.'.
func formatTimestamp(d time.Duration, sep byte) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}
