package orchestrator

import "github.com/tiroq/cuesync/internal/asr"

// mergeWordsLocked adds a batch of word timings. Interim results restate
// the utterance so far, so stored words starting at or after the batch's
// first word are replaced rather than counted twice.
func (o *Orchestrator) mergeWordsLocked(batch []asr.WordTiming) {
	if len(batch) == 0 {
		return
	}
	from := batch[0].Start
	n := len(o.words)
	for n > 0 && o.words[n-1].Start >= from {
		n--
	}
	o.words = append(o.words[:n], batch...)
	o.pruneWordsLocked()
}

// pruneWordsLocked keeps only words ending inside the pace window before
// the latest word.
func (o *Orchestrator) pruneWordsLocked() {
	if len(o.words) == 0 {
		return
	}
	cutoff := o.words[len(o.words)-1].End - o.opts.PaceWindow.Seconds()
	i := 0
	for i < len(o.words) && o.words[i].End < cutoff {
		i++
	}
	if i > 0 {
		o.words = append(o.words[:0], o.words[i:]...)
	}
}

// WordsPerMinute estimates the speaking pace from the word timings of the
// last pace window, measured in stream time. It is 0 until two words or a
// non-zero span are known.
func (o *Orchestrator) WordsPerMinute() float64 {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	if len(o.words) < 2 {
		return 0
	}
	span := o.words[len(o.words)-1].End - o.words[0].Start
	if w := o.opts.PaceWindow.Seconds(); span > w {
		span = w
	}
	if span <= 0 {
		return 0
	}
	return float64(len(o.words)) * 60 / span
}
