package deepgram

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/tiroq/cuesync/internal/asr"
)

// Control messages sent as text frames.
const (
	keepAliveMessage   = `{"type":"KeepAlive"}`
	closeStreamMessage = `{"type":"CloseStream"}`
)

// resultMessage is the subset of a Deepgram live result we consume.
type resultMessage struct {
	Channel *struct {
		Alternatives []struct {
			Transcript string           `json:"transcript"`
			Words      []asr.WordTiming `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal bool `json:"is_final"`
}

// decoded is what one inbound message yields.
type decoded struct {
	words []asr.WordTiming
	final string // trimmed final transcript, "" if none
}

// decodeResult parses an inbound message. ok is false for malformed JSON and
// for messages without alternatives.
func decodeResult(data []byte) (d decoded, ok bool) {
	var msg resultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return d, false
	}
	if msg.Channel == nil || len(msg.Channel.Alternatives) == 0 {
		return d, false
	}
	alt := msg.Channel.Alternatives[0]
	d.words = alt.Words
	if msg.IsFinal {
		d.final = strings.TrimSpace(alt.Transcript)
	}
	return d, true
}

// ListenURL appends the streaming parameters to endpoint.
func ListenURL(endpoint string, sampleRate int) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("endpointing", "200")
	q.Set("utterance_end_ms", "1000")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
