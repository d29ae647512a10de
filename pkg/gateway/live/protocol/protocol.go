package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ProtocolVersion1 = "1"

// WebSocket close codes used by the gateway. 4xxx codes are application
// defined per RFC 6455.
const (
	CloseNormal        = 1000
	CloseProtocolError = 4400
	CloseAuthFailure   = 4401
	CloseUpstreamError = 4502
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// SessionStart is the bootstrap frame. It must be the first frame on every
// connection: either it resumes an existing conversation or it carries the
// parameters a new conversation will be created with once the upstream
// engine confirms its session.
type SessionStart struct {
	Type                 string `json:"type"`
	ProtocolVersion      string `json:"protocol_version"`
	ResumeConversationID string `json:"resume_conversation_id,omitempty"`
	Language             string `json:"language"`
	Level                string `json:"level"`
	Context              string `json:"context,omitempty"`
	CustomInstructions   string `json:"custom_instructions,omitempty"`
	LessonID             string `json:"lesson_id,omitempty"`
	LessonDifficulty     string `json:"lesson_difficulty,omitempty"`
}

type ClientAudioFrame struct {
	Type    string `json:"type"`
	Seq     int64  `json:"seq,omitempty"`
	DataB64 string `json:"data_b64"`
}

type ClientTextInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// DecodeClientMessage decodes one client frame into its concrete type.
// Unknown or malformed frames yield a *DecodeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "session_start":
		var msg SessionStart
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid session_start frame", "")
		}
		if err := ValidateSessionStart(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "audio_frame":
		var msg ClientAudioFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_frame", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("audio_frame.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "text_input":
		var msg ClientTextInput
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text_input", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("text_input.text is required", "text")
		}
		return msg, nil
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control", "")
		}
		op := strings.TrimSpace(msg.Op)
		if op == "" {
			return nil, badRequest("control.op is required", "op")
		}
		switch op {
		case "end_session":
		default:
			return nil, unsupported("unsupported control operation", "op")
		}
		msg.Op = op
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

func ValidateSessionStart(msg SessionStart) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("session_start.protocol_version is required", "protocol_version")
	}
	if strings.TrimSpace(msg.ProtocolVersion) != ProtocolVersion1 {
		return unsupported("unsupported protocol_version", "protocol_version")
	}
	if strings.TrimSpace(msg.ResumeConversationID) != "" {
		return nil
	}
	if strings.TrimSpace(msg.Language) == "" {
		return badRequest("session_start.language is required", "language")
	}
	if strings.TrimSpace(msg.Level) == "" {
		return badRequest("session_start.level is required", "level")
	}
	return nil
}

type AckLimits struct {
	MaxAudioFrameBytes  int `json:"max_audio_frame_bytes"`
	MaxJSONMessageBytes int `json:"max_json_message_bytes"`
	QueueCapacity       int `json:"queue_capacity,omitempty"`
}

type ServerSessionAck struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	SessionID       string     `json:"session_id"`
	Limits          *AckLimits `json:"limits,omitempty"`
}

type ServerConversationCreated struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

type ServerTurnProgress struct {
	Type        string `json:"type"`
	Turns       int    `json:"turns"`
	Required    int    `json:"required"`
	CanComplete bool   `json:"can_complete"`
}

type ServerFeedbackGenerated struct {
	Type      string          `json:"type"`
	MessageID string          `json:"message_id"`
	Feedback  json.RawMessage `json:"feedback"`
}

type ServerFeedbackError struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

type ServerSuggestion struct {
	Type        string   `json:"type"`
	Suggestions []string `json:"suggestions"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}
