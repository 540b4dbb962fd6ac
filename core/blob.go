package core

// Blob is an inline binary payload paired with its MIME type. It is the unit
// of realtime media exchange: client microphone chunks travel to the model as
// blobs, and model audio arrives back the same way.
type Blob struct {
	MimeType string `json:"mime_type,omitempty"` // e.g. "audio/pcm"
	Data     []byte `json:"data,omitempty"`      // Raw bytes (JSON: base64)
}

// IsAudio reports whether the blob carries an audio MIME type.
func (b Blob) IsAudio() bool {
	return len(b.MimeType) >= 6 && b.MimeType[:6] == "audio/"
}

// Transcription is a speech-to-text fragment produced while audio streams in
// either direction. Finished marks the end of an utterance.
type Transcription struct {
	Text     string `json:"text,omitempty"`
	Finished bool   `json:"finished,omitempty"`
}
