package bayeux

import (
	"bytes"
	"encoding/json"
)

// Bayeux meta channels
const (
	MetaHandshake   = "/meta/handshake"
	MetaConnect     = "/meta/connect"
	MetaSubscribe   = "/meta/subscribe"
	MetaUnsubscribe = "/meta/unsubscribe"
)

// Message is one Bayeux protocol message. Frames on the wire are JSON
// arrays of these.
type Message struct {
	Channel                  string                 `json:"channel"`
	ClientID                 string                 `json:"clientId,omitempty"`
	ID                       string                 `json:"id,omitempty"`
	Subscription             string                 `json:"subscription,omitempty"`
	ConnectionType           string                 `json:"connectionType,omitempty"`
	Version                  string                 `json:"version,omitempty"`
	SupportedConnectionTypes []string               `json:"supportedConnectionTypes,omitempty"`
	Data                     json.RawMessage        `json:"data,omitempty"`
	Ext                      map[string]interface{} `json:"ext,omitempty"`
	Successful               *bool                  `json:"successful,omitempty"`
	Error                    string                 `json:"error,omitempty"`
}

// failed reports whether the message carries an explicit failure.
func (m *Message) failed() bool {
	return m.Successful != nil && !*m.Successful
}

// decodeFrame parses one wire frame, accepting both the array form and a
// bare object.
func decodeFrame(data []byte) ([]*Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var msgs []*Message
		err := json.Unmarshal(trimmed, &msgs)
		return msgs, err
	}

	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, err
	}
	return []*Message{&msg}, nil
}

// Extension can rewrite outgoing messages before transmission.
type Extension interface {
	Outgoing(m *Message)
}

// TokenAuth injects a bearer credential into handshake messages. All other
// messages pass through unmodified.
type TokenAuth struct {
	Token string
}

// Outgoing implements Extension
func (t *TokenAuth) Outgoing(m *Message) {
	if m.Channel != MetaHandshake {
		return
	}
	if m.Ext == nil {
		m.Ext = make(map[string]interface{})
	}
	m.Ext["token"] = t.Token
}
