package events

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/fenix-social/realtime/pkg/transport"
)

type Packet struct {
	Nonce     int64
	CreatedAt time.Time

	JSONEncoded    []byte
	MsgpackEncoded []byte
}

type wirePacket struct {
	Cmd   string      `json:"cmd" msgpack:"cmd"`
	Val   interface{} `json:"val,omitempty" msgpack:"val,omitempty"`
	Nonce string      `json:"nonce,omitempty" msgpack:"nonce,omitempty"`
}

// createPacket encodes a packet once for every format. A negative nonce
// leaves the packet out of the replayable stream.
func createPacket(cmd string, val interface{}, nonce int64, now time.Time) (*Packet, error) {
	p := Packet{
		Nonce:     nonce,
		CreatedAt: now,
	}
	wp := wirePacket{Cmd: cmd, Val: val}
	if nonce >= 0 {
		wp.Nonce = strconv.FormatInt(nonce, 10)
	}

	var err error
	p.JSONEncoded, err = json.Marshal(&wp)
	if err != nil {
		return nil, err
	}

	// Values shared with the REST surface only carry json tags
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(&wp); err != nil {
		return nil, err
	}
	p.MsgpackEncoded = buf.Bytes()
	return &p, nil
}

func (p *Packet) encoded(format transport.Format) []byte {
	if format == transport.FormatMsgpack {
		return p.MsgpackEncoded
	}
	return p.JSONEncoded
}
