// Package resync relocates a speaker's reading position in a script after
// paraphrase or skipped content. A phrase-locating oracle names an anchor
// phrase; the matcher finds it in the script text.
package resync

import (
	"context"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/semaphore"

	"github.com/tiroq/cuesync/internal/diaglog"
)

const (
	LookBehind     = 200
	LookAhead      = 800
	MaxSpeechRunes = 500
	DefaultTimeout = 10 * time.Second

	fallbackWords = 3
)

// Oracle returns a short verbatim quote from scriptWindow marking the
// furthest point reached in recentSpeech.
type Oracle interface {
	LocatePhrase(ctx context.Context, scriptWindow, recentSpeech string) (string, error)
}

// Options configures a Matcher.
type Options struct {
	Timeout   time.Duration
	Logger    *diaglog.Logger
	SessionID string
}

// Matcher is safe for concurrent use; at most one request is in flight.
type Matcher struct {
	oracle Oracle
	opts   Options
	sem    *semaphore.Weighted
}

func New(oracle Oracle, opts Options) *Matcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Matcher{oracle: oracle, opts: opts, sem: semaphore.NewWeighted(1)}
}

// Resync returns the rune offset just past the anchor phrase, or false when
// another request is outstanding, the oracle fails or nothing matches.
// Offsets are rune indexes into script; offset is clamped to [0, len].
func (m *Matcher) Resync(ctx context.Context, script string, offset int, recentSpeech string) (int, bool) {
	if !m.sem.TryAcquire(1) {
		m.log(diaglog.EventResyncRejected, "request in flight", nil)
		return 0, false
	}
	defer m.sem.Release(1)

	text := []rune(script)
	offset = clamp(offset, 0, len(text))
	from := max(0, offset-LookBehind)
	window := text[from:min(len(text), offset+LookAhead)]
	speech := lastRunes(recentSpeech, MaxSpeechRunes)

	m.log(diaglog.EventResyncRequest, "", map[string]interface{}{
		"offset":       offset,
		"window_runes": len(window),
		"speech_runes": len([]rune(speech)),
	})

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()
	reply, err := m.oracle.LocatePhrase(ctx, string(window), speech)
	if err != nil {
		m.log(diaglog.EventResyncResult, err.Error(), nil)
		return 0, false
	}

	phrase := CleanPhrase(reply)
	if phrase == "" {
		m.log(diaglog.EventResyncResult, "empty phrase", nil)
		return 0, false
	}
	if end, ok := findFold(text, phrase, from); ok {
		m.log(diaglog.EventResyncResult, "", map[string]interface{}{"phrase": phrase, "offset": end})
		return end, true
	}

	words := strings.Fields(phrase)
	if len(words) >= fallbackWords {
		tail := strings.Join(words[len(words)-fallbackWords:], " ")
		if end, ok := findFold(text, tail, from); ok {
			m.log(diaglog.EventResyncResult, "fallback", map[string]interface{}{"phrase": tail, "offset": end})
			return end, true
		}
	}
	m.log(diaglog.EventResyncResult, "no match", map[string]interface{}{"phrase": phrase})
	return 0, false
}

// CleanPhrase strips whitespace and quotation marks from an oracle reply.
func CleanPhrase(reply string) string {
	s := strings.TrimSpace(reply)
	s = strings.NewReplacer(`"`, "", "“", "", "”", "").Replace(s)
	return strings.TrimSpace(s)
}

// findFold searches text[from:] for phrase ignoring case and returns the
// rune index just after the first match.
func findFold(text []rune, phrase string, from int) (int, bool) {
	needle := []rune(phrase)
	if len(needle) == 0 {
		return 0, false
	}
	for i := from; i+len(needle) <= len(text); i++ {
		match := true
		for j, r := range needle {
			if !runeEqualFold(text[i+j], r) {
				match = false
				break
			}
		}
		if match {
			return i + len(needle), true
		}
	}
	return 0, false
}

func runeEqualFold(a, b rune) bool {
	return a == b || unicode.ToLower(a) == unicode.ToLower(b)
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (m *Matcher) log(event, reason string, payload map[string]interface{}) {
	m.opts.Logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentResync,
		Event:     event,
		SessionID: m.opts.SessionID,
		Reason:    reason,
		Payload:   payload,
	})
}
