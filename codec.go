package raft

import (
	"github.com/ugorji/go/codec"
	"google.golang.org/grpc/encoding"
)

// msgpackCodecName is the content-subtype grpc negotiates for every call
// this package makes; registering it lets grpc carry a plain Message
// struct on the wire without a protobuf-generated type, using the same
// msgpack library the teacher's state machine snapshot format depends on.
const msgpackCodecName = "raftmsgpack"

var mpHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.Canonical = true
	return h
}()

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	var out []byte
	enc := codec.NewEncoderBytes(&out, mpHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, mpHandle)
	return dec.Decode(v)
}

func (msgpackCodec) Name() string { return msgpackCodecName }

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}

// EncodeSnapshot and DecodeSnapshot give an upper state machine the same
// msgpack encoding the wire codec above uses, so LogPrefix.UserBytes can be
// produced and consumed without pulling in ugorji/go/codec directly. Use is
// optional: UserBytes is opaque to this package and any encoding works.
func EncodeSnapshot(v interface{}) ([]byte, error) {
	return msgpackCodec{}.Marshal(v)
}

func DecodeSnapshot(data []byte, v interface{}) error {
	return msgpackCodec{}.Unmarshal(data, v)
}
