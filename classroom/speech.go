package classroom

import (
	"encoding/base64"
	"fmt"
)

// SpeechClient is the placeholder handle for a realtime speech-to-text
// connection attached to a session. No live transcription is wired in yet;
// the client only validates that incoming audio chunks decode, so the frame
// path exercises the full ingestion contract.
//
// TODO: replace with a streaming ASR client once a recognizer backend is
// selected; frames with IsLast set should then flush the recognizer.
type SpeechClient struct {
	sessionID string
}

// NewSpeechClient returns a speech handle for the session.
func NewSpeechClient(sessionID string) *SpeechClient {
	return &SpeechClient{sessionID: sessionID}
}

// Close implements session.SpeechHandle.
func (c *SpeechClient) Close() error { return nil }

// ValidateChunk decodes the base64 audio payload, ensuring the frame is
// well-formed before it is accepted.
func (c *SpeechClient) ValidateChunk(audioChunk string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(audioChunk)
	if err != nil {
		return nil, fmt.Errorf("decode audio chunk: %w", err)
	}
	return raw, nil
}
