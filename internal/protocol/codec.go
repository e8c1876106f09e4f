package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"inferbridge/internal/errcode"
)

type commandWire struct {
	Type     string          `json:"type"`
	Model    *string         `json:"model,omitempty"`
	Messages []ChatMessage   `json:"messages,omitempty"`
	Config   *GenerateConfig `json:"config,omitempty"`
}

type eventWire struct {
	Type     string        `json:"type"`
	Progress *float64      `json:"progress,omitempty"`
	Text     *string       `json:"text,omitempty"`
	Success  *bool         `json:"success,omitempty"`
	Error    *string       `json:"error,omitempty"`
	Content  *string       `json:"content,omitempty"`
	Usage    *Usage        `json:"usage,omitempty"`
	Code     *errcode.Code `json:"code,omitempty"`
}

// allowed lists the keys each variant may carry besides "type".
var allowed = map[string][]string{
	TypeInit:         {"model"},
	TypeChat:         {"messages", "config"},
	TypeAbort:        nil,
	TypeInitProgress: {"progress", "text"},
	TypeInitComplete: {"success", "error"},
	TypeChunk:        {"content"},
	TypeDone:         {"usage"},
	TypeError:        {"error", "code"},
}

func malformed(format string, args ...any) *errcode.Error {
	return errcode.New(errcode.Unknown, "malformed message: "+fmt.Sprintf(format, args...))
}

// MarshalCommand encodes c in its wire form.
func MarshalCommand(c Command) ([]byte, error) {
	switch v := c.(type) {
	case Init:
		return json.Marshal(commandWire{Type: TypeInit, Model: &v.Model})
	case *Init:
		return MarshalCommand(*v)
	case Chat:
		msgs := v.Messages
		if msgs == nil {
			msgs = []ChatMessage{}
		}
		// messages is mandatory even when empty, so it cannot go through
		// commandWire's omitempty tag.
		return json.Marshal(struct {
			Type     string          `json:"type"`
			Messages []ChatMessage   `json:"messages"`
			Config   *GenerateConfig `json:"config,omitempty"`
		}{TypeChat, msgs, v.Config})
	case *Chat:
		return MarshalCommand(*v)
	case Abort, *Abort:
		return json.Marshal(commandWire{Type: TypeAbort})
	}
	return nil, malformed("unknown command %T", c)
}

// UnmarshalCommand decodes and validates a command. Any failure is an
// *errcode.Error with code UNKNOWN.
func UnmarshalCommand(b []byte) (Command, error) {
	tag, err := checkKeys(b)
	if err != nil {
		return nil, err
	}
	var w commandWire
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, malformed("%v", err)
	}
	switch tag {
	case TypeInit:
		if w.Model == nil || *w.Model == "" {
			return nil, malformed("init requires model")
		}
		return Init{Model: *w.Model}, nil
	case TypeChat:
		if w.Messages == nil {
			return nil, malformed("chat requires messages")
		}
		for i, m := range w.Messages {
			if !m.Role.Valid() {
				return nil, malformed("messages[%d]: invalid role %q", i, m.Role)
			}
		}
		return Chat{Messages: w.Messages, Config: w.Config}, nil
	case TypeAbort:
		return Abort{}, nil
	}
	return nil, malformed("unknown command type %q", tag)
}

// MarshalEvent encodes e in its wire form.
func MarshalEvent(e Event) ([]byte, error) {
	var w eventWire
	switch v := e.(type) {
	case InitProgress:
		w = eventWire{Type: TypeInitProgress, Progress: &v.Progress, Text: &v.Text}
	case InitComplete:
		w = eventWire{Type: TypeInitComplete, Success: &v.Success}
		if !v.Success && v.Error != "" {
			w.Error = &v.Error
		}
	case Chunk:
		w = eventWire{Type: TypeChunk, Content: &v.Content}
	case Done:
		w = eventWire{Type: TypeDone, Usage: v.Usage}
	case Error:
		w = eventWire{Type: TypeError, Error: &v.Message, Code: &v.Code}
	default:
		return nil, malformed("unknown event %T", e)
	}
	return json.Marshal(w)
}

// UnmarshalEvent decodes and validates an event.
func UnmarshalEvent(b []byte) (Event, error) {
	tag, err := checkKeys(b)
	if err != nil {
		return nil, err
	}
	var w eventWire
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, malformed("%v", err)
	}
	switch tag {
	case TypeInitProgress:
		if w.Progress == nil || w.Text == nil {
			return nil, malformed("init-progress requires progress and text")
		}
		p := *w.Progress
		if math.IsNaN(p) || p < 0 || p > 1 {
			return nil, malformed("progress %v outside [0,1]", p)
		}
		return InitProgress{Progress: p, Text: *w.Text}, nil
	case TypeInitComplete:
		if w.Success == nil {
			return nil, malformed("init-complete requires success")
		}
		ev := InitComplete{Success: *w.Success}
		if w.Error != nil {
			ev.Error = *w.Error
		}
		return ev, nil
	case TypeChunk:
		if w.Content == nil {
			return nil, malformed("chunk requires content")
		}
		return Chunk{Content: *w.Content}, nil
	case TypeDone:
		return Done{Usage: w.Usage}, nil
	case TypeError:
		if w.Error == nil || w.Code == nil {
			return nil, malformed("error requires error and code")
		}
		if !w.Code.Valid() {
			return nil, malformed("unknown error code %q", *w.Code)
		}
		return Error{Message: *w.Error, Code: *w.Code}, nil
	}
	return nil, malformed("unknown event type %q", tag)
}

// checkKeys rejects payloads with a missing tag or fields the variant does
// not define.
func checkKeys(b []byte) (string, error) {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&raw); err != nil {
		return "", malformed("%v", err)
	}
	if raw == nil {
		return "", malformed("not an object")
	}
	var tag string
	if t, ok := raw["type"]; !ok || json.Unmarshal(t, &tag) != nil {
		return "", malformed("missing type")
	}
	keys, ok := allowed[tag]
	if !ok {
		return "", malformed("unknown type %q", tag)
	}
	for k := range raw {
		if k == "type" {
			continue
		}
		found := false
		for _, a := range keys {
			if k == a {
				found = true
				break
			}
		}
		if !found {
			return "", malformed("%s does not carry field %q", tag, k)
		}
	}
	return tag, nil
}
