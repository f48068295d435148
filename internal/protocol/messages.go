package protocol

import "time"

// Transcript is the final text of one recognition pass, broadcast on the
// bus and over the transcript websocket.
type Transcript struct {
	RecognizerID string    `json:"recognizer_id"`
	PassID       string    `json:"pass_id"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
	Confidence   float64   `json:"confidence,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
}

// RecognitionError reports a failed pass.
type RecognitionError struct {
	RecognizerID string    `json:"recognizer_id"`
	PassID       string    `json:"pass_id,omitempty"`
	Kind         string    `json:"kind"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

const (
	SubjectTranscriptFinal  = "stt.text.final"
	SubjectRecognitionError = "stt.error"

	// StreamTranscripts retains both subjects when JetStream is available.
	StreamTranscripts = "TRANSCRIPTS"
)

// NodeAnnouncement advertises a recognizer node and what it can do.
type NodeAnnouncement struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	State        string       `json:"state"`
	Timestamp    time.Time    `json:"timestamp"`
}

// NodeHeartbeat keeps an announced node marked healthy.
type NodeHeartbeat struct {
	NodeID    string    `json:"node_id"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

type Capability struct {
	Name       string            `json:"name"`
	Tier       string            `json:"tier,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

const (
	SubjectNodeAnnounce        = "ctrl.node.announce"
	SubjectNodeHeartbeatPrefix = "ctrl.node.heartbeat"
)
