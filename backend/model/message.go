package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the wire discriminator carried in every message envelope.
type Type string

const (
	TypeClientHello        Type = "client_hello"
	TypeClientList         Type = "client_list"
	TypeCodeBroadcast      Type = "code_broadcast"
	TypeBroadcastAck       Type = "broadcast_ack"
	TypeClientGoodbye      Type = "client_goodbye"
	TypeMasterDisconnected Type = "master_disconnected"
	TypePing               Type = "ping"
	TypePong               Type = "pong"
)

var (
	ErrProtocol = errors.New("protocol error")

	errNoType        = errors.New("missing message type")
	errNoClientID    = errors.New("missing clientId")
	errNoCodeType    = errors.New("missing codeType")
	errUnrecognized  = errors.New("cannot encode unrecognized message without raw content")
	errNotJSONObject = errors.New("message is not a JSON object")
)

// Message is one of the closed set of protocol variants defined in this package.
type Message interface {
	MessageType() Type
	message()
}

type (
	ClientHello struct {
		ClientID   string `json:"clientId"`
		IsMaster   bool   `json:"isMaster,omitempty"`
		ClientName string `json:"clientName,omitempty"`
	}

	ClientList struct {
		Clients []ClientInfo `json:"clients"`
	}

	CodeBroadcast struct {
		CodeType  string `json:"codeType"`
		Data      string `json:"data"`
		From      string `json:"from,omitempty"`
		Timestamp int64  `json:"timestamp,omitempty"`
	}

	BroadcastAck struct {
		SuccessCount int `json:"successCount"`
		TotalClients int `json:"totalClients"`
	}

	ClientGoodbye struct {
		ClientID   string `json:"clientId"`
		ClientName string `json:"clientName"`
	}

	MasterDisconnected struct{}

	Ping struct{}

	Pong struct{}

	// Unrecognized keeps messages with an unknown type so newer peers
	// can talk to older hubs.
	Unrecognized struct {
		Type Type
		Raw  []byte
	}
)

func (ClientHello) MessageType() Type        { return TypeClientHello }
func (ClientList) MessageType() Type         { return TypeClientList }
func (CodeBroadcast) MessageType() Type      { return TypeCodeBroadcast }
func (BroadcastAck) MessageType() Type       { return TypeBroadcastAck }
func (ClientGoodbye) MessageType() Type      { return TypeClientGoodbye }
func (MasterDisconnected) MessageType() Type { return TypeMasterDisconnected }
func (Ping) MessageType() Type               { return TypePing }
func (Pong) MessageType() Type               { return TypePong }
func (u Unrecognized) MessageType() Type     { return u.Type }

func (ClientHello) message()        {}
func (ClientList) message()         {}
func (CodeBroadcast) message()      {}
func (BroadcastAck) message()       {}
func (ClientGoodbye) message()      {}
func (MasterDisconnected) message() {}
func (Ping) message()               {}
func (Pong) message()               {}
func (Unrecognized) message()       {}

// WantsMaster reports whether the hello claims the master role.
func (h ClientHello) WantsMaster() bool {
	return h.IsMaster || h.ClientID == MasterID
}

// Payload converts a received broadcast into the student-side view.
func (cb CodeBroadcast) Payload() Payload {
	return Payload{
		CodeType:  cb.CodeType,
		Data:      cb.Data,
		From:      cb.From,
		Timestamp: cb.Timestamp,
	}
}

// UnmarshalJSON treats data as opaque: a non-string value is kept as its raw
// JSON text. A fractional timestamp is truncated to milliseconds.
func (cb *CodeBroadcast) UnmarshalJSON(b []byte) error {
	var w struct {
		CodeType  string          `json:"codeType"`
		Data      json.RawMessage `json:"data"`
		From      json.RawMessage `json:"from"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*cb = CodeBroadcast{
		CodeType:  w.CodeType,
		Data:      rawText(w.Data),
		From:      rawString(w.From),
		Timestamp: rawMillis(w.Timestamp),
	}
	return nil
}

func rawText(raw json.RawMessage) string {
	if s, ok := rawStringOK(raw); ok {
		return s
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	return string(raw)
}

func rawString(raw json.RawMessage) string {
	s, _ := rawStringOK(raw)
	return s
}

func rawStringOK(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func rawMillis(raw json.RawMessage) int64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	var i int64
	if err := json.Unmarshal(raw, &i); err == nil {
		return i
	}
	return int64(f)
}

type envelope struct {
	Type Type `json:"type"`
}

// Decode parses a single wire message. Every failure wraps ErrProtocol.
func Decode(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, errors.Join(ErrProtocol, err)
	}
	if env.Type == "" {
		return nil, errors.Join(ErrProtocol, errNoType)
	}

	var (
		msg Message
		err error
	)
	switch env.Type {
	case TypeClientHello:
		var m ClientHello
		if err = json.Unmarshal(b, &m); err == nil && !m.WantsMaster() && m.ClientID == "" {
			err = errNoClientID
		}
		msg = m
	case TypeClientList:
		var m ClientList
		err = json.Unmarshal(b, &m)
		msg = m
	case TypeCodeBroadcast:
		var m CodeBroadcast
		if err = json.Unmarshal(b, &m); err == nil && m.CodeType == "" {
			err = errNoCodeType
		}
		msg = m
	case TypeBroadcastAck:
		var m BroadcastAck
		err = json.Unmarshal(b, &m)
		msg = m
	case TypeClientGoodbye:
		var m ClientGoodbye
		if err = json.Unmarshal(b, &m); err == nil && m.ClientID == "" {
			err = errNoClientID
		}
		msg = m
	case TypeMasterDisconnected:
		msg = MasterDisconnected{}
	case TypePing:
		msg = Ping{}
	case TypePong:
		msg = Pong{}
	default:
		msg = Unrecognized{Type: env.Type, Raw: bytes.Clone(b)}
	}
	if err != nil {
		return nil, errors.Join(ErrProtocol, fmt.Errorf("%s: %w", env.Type, err))
	}
	return msg, nil
}

// Encode serializes msg with its type envelope.
func Encode(msg Message) ([]byte, error) {
	if u, ok := msg.(Unrecognized); ok {
		if len(u.Raw) == 0 {
			return nil, errUnrecognized
		}
		return bytes.Clone(u.Raw), nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, errNotJSONObject
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + 32)
	buf.WriteString(`{"type":`)
	t, _ := json.Marshal(msg.MessageType())
	buf.Write(t)
	if rest := body[1:]; !bytes.Equal(rest, []byte("}")) {
		buf.WriteByte(',')
		buf.Write(rest)
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// MustEncode is Encode for messages that are known to marshal.
func MustEncode(msg Message) []byte {
	b, err := Encode(msg)
	if err != nil {
		panic(err)
	}
	return b
}
