package transport

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Format is the wire encoding negotiated for a connection.
type Format int8

const (
	FormatJSON    Format = 0
	FormatMsgpack Format = 1
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "msgpack":
		return FormatMsgpack, nil
	}
	return FormatJSON, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

func (f Format) String() string {
	if f == FormatMsgpack {
		return "msgpack"
	}
	return "json"
}

func (f Format) MessageType() int {
	if f == FormatMsgpack {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

type Hello struct {
	SessionId    string `json:"session_id" msgpack:"session_id"`
	PingInterval int    `json:"ping_interval" msgpack:"ping_interval"`
}

type Room struct {
	Room string `json:"room" msgpack:"room"`
}

// ErrorVal is the value of the CmdError packet raised when the connection is
// lost for good.
type ErrorVal struct {
	Error string `json:"error" msgpack:"error"`
}

// Packet is one inbound frame. Val stays encoded until a handler asks for it
// with Decode.
type Packet struct {
	Cmd      string
	Listener string
	Nonce    int64 // -1 when the frame carried none

	format Format
	val    []byte
}

func (p *Packet) Decode(v interface{}) error {
	if len(p.val) == 0 {
		return ErrEmptyVal
	}
	if p.format == FormatMsgpack {
		return msgpack.Unmarshal(p.val, v)
	}
	return json.Unmarshal(p.val, v)
}

// NewPacket builds an inbound packet the way the read loop would.
func NewPacket(format Format, cmd string, val interface{}) (*Packet, error) {
	data, err := encodePacket(format, cmd, val, "", "")
	if err != nil {
		return nil, err
	}
	return decodePacket(format, data)
}

type jsonPacket struct {
	Cmd      string          `json:"cmd"`
	Val      json.RawMessage `json:"val,omitempty"`
	Listener string          `json:"listener,omitempty"`
	Nonce    string          `json:"nonce,omitempty"`
}

type msgpackPacket struct {
	Cmd      string             `msgpack:"cmd"`
	Val      msgpack.RawMessage `msgpack:"val,omitempty"`
	Listener string             `msgpack:"listener,omitempty"`
	Nonce    string             `msgpack:"nonce,omitempty"`
}

type outboundPacket struct {
	Cmd      string      `json:"cmd" msgpack:"cmd"`
	Val      interface{} `json:"val,omitempty" msgpack:"val,omitempty"`
	Listener string      `json:"listener,omitempty" msgpack:"listener,omitempty"`
	Nonce    string      `json:"nonce,omitempty" msgpack:"nonce,omitempty"`
}

func encodePacket(format Format, cmd string, val interface{}, listener string, nonce string) ([]byte, error) {
	p := outboundPacket{Cmd: cmd, Val: val, Listener: listener, Nonce: nonce}
	if format == FormatMsgpack {
		return msgpack.Marshal(&p)
	}
	return json.Marshal(&p)
}

func decodePacket(format Format, data []byte) (*Packet, error) {
	var (
		p     = Packet{format: format}
		nonce string
	)
	if format == FormatMsgpack {
		var raw msgpackPacket
		if err := msgpack.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		p.Cmd, p.Listener, p.val, nonce = raw.Cmd, raw.Listener, raw.Val, raw.Nonce
	} else {
		var raw jsonPacket
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		p.Cmd, p.Listener, p.val, nonce = raw.Cmd, raw.Listener, raw.Val, raw.Nonce
	}
	if p.Cmd == "" {
		return nil, ErrMissingCmd
	}

	p.Nonce = -1
	if nonce != "" {
		n, err := strconv.ParseInt(nonce, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad nonce %q: %w", nonce, err)
		}
		p.Nonce = n
	}
	return &p, nil
}

// JSON returns Val as JSON whatever the wire format was.
func (p *Packet) JSON() (json.RawMessage, error) {
	if len(p.val) == 0 {
		return nil, ErrEmptyVal
	}
	if p.format != FormatMsgpack {
		return json.RawMessage(p.val), nil
	}
	var v interface{}
	if err := msgpack.Unmarshal(p.val, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
