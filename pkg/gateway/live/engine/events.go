package engine

import (
	"encoding/json"
	"strings"
)

// Frame is one inbound upstream frame. Raw always holds the original payload
// so the relay can forward it unmodified; Event is non-nil only for the
// lifecycle/control events the turn machine consumes.
type Frame struct {
	Raw   []byte
	Event any
}

// IsData reports whether the frame is a pure data frame (audio or other
// payloads the relay forwards without inspecting).
func (f Frame) IsData() bool {
	return f.Event == nil
}

type SessionCreated struct {
	SessionID string
}

type ResponseAudioDelta struct {
	DeltaB64 string
}

type ResponseAudioDone struct{}

// ResponseTranscriptDone is the finalized transcript of an assistant
// utterance.
type ResponseTranscriptDone struct {
	Transcript string
}

// InputTranscriptionCompleted is the finalized transcription of a user
// utterance.
type InputTranscriptionCompleted struct {
	Transcript string
}

type EngineError struct {
	Code    string
	Message string
}

// DecodeFrame classifies one upstream payload. Unrecognized types decode to a
// data frame so new upstream event kinds pass through to the client untouched.
func DecodeFrame(data []byte) Frame {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Frame{Raw: data}
	}

	switch strings.TrimSpace(envelope.Type) {
	case "session.created":
		var msg struct {
			Session struct {
				ID string `json:"id"`
			} `json:"session"`
		}
		_ = json.Unmarshal(data, &msg)
		return Frame{Raw: data, Event: SessionCreated{SessionID: msg.Session.ID}}
	case "response.audio.delta":
		var msg struct {
			Delta string `json:"delta"`
		}
		_ = json.Unmarshal(data, &msg)
		return Frame{Raw: data, Event: ResponseAudioDelta{DeltaB64: msg.Delta}}
	case "response.audio.done":
		return Frame{Raw: data, Event: ResponseAudioDone{}}
	case "response.audio_transcript.done":
		var msg struct {
			Transcript string `json:"transcript"`
		}
		_ = json.Unmarshal(data, &msg)
		return Frame{Raw: data, Event: ResponseTranscriptDone{Transcript: msg.Transcript}}
	case "conversation.item.input_audio_transcription.completed":
		var msg struct {
			Transcript string `json:"transcript"`
		}
		_ = json.Unmarshal(data, &msg)
		return Frame{Raw: data, Event: InputTranscriptionCompleted{Transcript: msg.Transcript}}
	case "error":
		var msg struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(data, &msg)
		return Frame{Raw: data, Event: EngineError{Code: msg.Error.Code, Message: msg.Error.Message}}
	default:
		return Frame{Raw: data}
	}
}
