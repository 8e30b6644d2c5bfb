package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError is a typed protocol decode failure. The router logs and skips
// events that fail to decode; the Code is stable for status reporting.
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

// ServerEvent is the interface for all inbound transport events.
type ServerEvent interface {
	// EventType returns the wire type string.
	EventType() string
}

// ChannelReady signals the upstream channel is negotiated and live.
type ChannelReady struct {
	Type string `json:"type"`
}

func (ChannelReady) EventType() string { return "channel_ready" }

// TurnBegin signals the user started speaking.
type TurnBegin struct {
	Type string `json:"type"`
}

func (TurnBegin) EventType() string { return "turn_begin" }

// TurnEnd signals the user stopped speaking.
type TurnEnd struct {
	Type string `json:"type"`
}

func (TurnEnd) EventType() string { return "turn_end" }

// StreamingFragment carries an incremental piece of translated text.
type StreamingFragment struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

func (StreamingFragment) EventType() string { return "streaming_fragment" }

// UtteranceFinalized carries the finalized transcription of the user turn.
type UtteranceFinalized struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (UtteranceFinalized) EventType() string { return "utterance_finalized" }

// ResponseBegin signals the backend started producing a response.
type ResponseBegin struct {
	Type string `json:"type"`
}

func (ResponseBegin) EventType() string { return "response_begin" }

// ResponseEnd signals the backend finished a response. Text may be empty even
// when delta fragments carried the full translation; the terminal transcript
// sometimes trails this event. Consumers must tolerate both orderings.
type ResponseEnd struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (ResponseEnd) EventType() string { return "response_end" }

// ActionRequested asks the application to perform a side effect.
type ActionRequested struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments_json,omitempty"`
	CallID        string `json:"call_id"`
}

func (ActionRequested) EventType() string { return "action_requested" }

// ErrorEvent carries a fatal transport or backend error.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (ErrorEvent) EventType() string { return "error" }

// Replay instructs the backend to speak a previously delivered translation.
type Replay struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ActionAck acknowledges a completed side effect back to the backend.
type ActionAck struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

// NewReplay builds an outbound replay instruction.
func NewReplay(text string) Replay {
	return Replay{Type: "replay", Text: text}
}

// NewActionAck builds an outbound acknowledgment instruction.
func NewActionAck(callID, status string) ActionAck {
	return ActionAck{Type: "action_ack", CallID: callID, Status: status}
}

// DecodeServerEvent decodes one inbound transport frame into a typed event.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing event type", "type")
	}

	switch typ {
	case "channel_ready":
		var ev ChannelReady
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badRequest("invalid channel_ready", "")
		}
		return ev, nil
	case "turn_begin":
		var ev TurnBegin
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badRequest("invalid turn_begin", "")
		}
		return ev, nil
	case "turn_end":
		var ev TurnEnd
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badRequest("invalid turn_end", "")
		}
		return ev, nil
	case "streaming_fragment":
		var ev StreamingFragment
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badRequest("invalid streaming_fragment", "")
		}
		return ev, nil
	case "utterance_finalized":
		var ev UtteranceFinalized
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badRequest("invalid utterance_finalized", "")
		}
		if strings.TrimSpace(ev.Text) == "" {
			return nil, badRequest("utterance_finalized.text is required", "text")
		}
		return ev, nil
	case "response_begin":
		var ev ResponseBegin
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badRequest("invalid response_begin", "")
		}
		return ev, nil
	case "response_end":
		var ev ResponseEnd
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badRequest("invalid response_end", "")
		}
		return ev, nil
	case "action_requested":
		var ev ActionRequested
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badRequest("invalid action_requested", "")
		}
		if strings.TrimSpace(ev.Name) == "" {
			return nil, badRequest("action_requested.name is required", "name")
		}
		if strings.TrimSpace(ev.CallID) == "" {
			return nil, badRequest("action_requested.call_id is required", "call_id")
		}
		return ev, nil
	case "error":
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, badRequest("invalid error", "")
		}
		return ev, nil
	default:
		return nil, unsupported(fmt.Sprintf("unknown event type %q", typ), "type")
	}
}
