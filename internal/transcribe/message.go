package transcribe

import "strings"

// sttMessage is the inbound JSON shape of the streaming STT service. A
// message is either a final result (text / alternatives), an interim
// hypothesis (partial), or noise.
type sttMessage struct {
	Text         string           `json:"text"`
	Partial      string           `json:"partial"`
	Speaker      string           `json:"speaker"`
	Channel      string           `json:"channel"`
	Start        float64          `json:"start"`
	End          float64          `json:"end"`
	Result       []wordTiming     `json:"result"`
	Alternatives []sttAlternative `json:"alternatives"`
}

type wordTiming struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

type sttAlternative struct {
	Text string `json:"text"`
}

// finalText returns the recognized text of a final message, preferring the
// plain text field over the first non-empty alternative.
func (m *sttMessage) finalText() string {
	if m.Text != "" {
		return m.Text
	}
	for _, alt := range m.Alternatives {
		if alt.Text != "" {
			return alt.Text
		}
	}
	return ""
}

// timing returns the utterance bounds in STT-relative seconds. Per-word
// timing is the richest source, then the message-level fields.
func (m *sttMessage) timing() (startSec, endSec float64, ok bool) {
	if len(m.Result) > 0 {
		return m.Result[0].Start, m.Result[len(m.Result)-1].End, true
	}
	if m.End > 0 {
		return m.Start, m.End, true
	}
	return 0, 0, false
}

// speakerLabel picks the best-effort speaker attribution.
func (m *sttMessage) speakerLabel(fallback string) string {
	if m.Speaker != "" {
		return m.Speaker
	}
	if m.Channel != "" {
		return m.Channel
	}
	return fallback
}

// normalizeText collapses all whitespace runs to single spaces.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
