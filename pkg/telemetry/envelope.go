package telemetry

import (
	"fmt"

	"github.com/golang/protobuf/proto"
)

// Report is a transfer received from the hub.
type Report struct {
	Channel   byte
	Seq       byte
	Timestamp uint32
	Payload   []byte
}

// Envelope is the wire form of a Report.
type Envelope struct {
	Channel     uint32 `protobuf:"varint,1,opt,name=channel,proto3" json:"channel,omitempty"`
	Seq         uint32 `protobuf:"varint,2,opt,name=seq,proto3" json:"seq,omitempty"`
	TimestampUs uint32 `protobuf:"varint,3,opt,name=timestamp_us,json=timestampUs,proto3" json:"timestamp_us,omitempty"`
	Payload     []byte `protobuf:"bytes,4,opt,name=payload,proto3" json:"payload,omitempty"`
}

// Reset implements proto.Message.
func (m *Envelope) Reset() { *m = Envelope{} }

// String implements proto.Message.
func (m *Envelope) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*Envelope) ProtoMessage() {}

// Encode serializes a Report.
func Encode(r *Report) ([]byte, error) {
	return proto.Marshal(&Envelope{
		Channel:     uint32(r.Channel),
		Seq:         uint32(r.Seq),
		TimestampUs: r.Timestamp,
		Payload:     r.Payload,
	})
}

// Decode parses a serialized Report.
func Decode(data []byte) (*Report, error) {
	var env Envelope
	if err := proto.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Channel > 0xff || env.Seq > 0xff {
		return nil, fmt.Errorf("invalid envelope: channel %d seq %d", env.Channel, env.Seq)
	}
	return &Report{
		Channel:   byte(env.Channel),
		Seq:       byte(env.Seq),
		Timestamp: env.TimestampUs,
		Payload:   env.Payload,
	}, nil
}
