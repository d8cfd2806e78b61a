package domain

// TranscriptChunk is one timestamped, speaker-attributed unit of finalized
// recognized speech. Times are absolute epoch milliseconds.
type TranscriptChunk struct {
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	Text    string `json:"text"`
	Speaker string `json:"speaker"`
}
