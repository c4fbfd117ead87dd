// Package layout describes the outer radio message that carries one chunk.
//
// Receivers in the field disagree on field numbers and wire types for the
// outer wrapping, so a Layout is always data loaded from a profile file.
// The zero Layout is raw: chunks are written without any wrapping.
package layout

import (
	"fmt"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/envelope"
	logs "github.com/danmuck/smplog"
)

// Layout maps ToRadio{packet: MeshPacket{decoded: Data{payload}}} onto
// concrete field numbers. A zero field number omits that field.
type Layout struct {
	Name string `toml:"name" yaml:"name"`

	// PacketField is the MeshPacket field of the outbound (ToRadio) message.
	PacketField uint32 `toml:"packet_field" yaml:"packet_field"`
	// InboundPacketField is the MeshPacket field of the inbound (FromRadio)
	// message. Zero means PacketField.
	InboundPacketField uint32 `toml:"inbound_packet_field" yaml:"inbound_packet_field"`

	Packet PacketFields `toml:"packet" yaml:"packet"`
	Data   DataFields   `toml:"data" yaml:"data"`
	Values Values       `toml:"values" yaml:"values"`
}

type PacketFields struct {
	From         uint32 `toml:"from" yaml:"from"`
	FromWireType string `toml:"from_wire_type" yaml:"from_wire_type"`
	To           uint32 `toml:"to" yaml:"to"`
	ToWireType   string `toml:"to_wire_type" yaml:"to_wire_type"`
	Decoded      uint32 `toml:"decoded" yaml:"decoded"`
	ID           uint32 `toml:"id" yaml:"id"`
	IDWireType   string `toml:"id_wire_type" yaml:"id_wire_type"`
	HopLimit     uint32 `toml:"hop_limit" yaml:"hop_limit"`
	WantAck      uint32 `toml:"want_ack" yaml:"want_ack"`
}

type DataFields struct {
	Portnum uint32 `toml:"portnum" yaml:"portnum"`
	Payload uint32 `toml:"payload" yaml:"payload"`
}

// Values are the constants written into every outbound packet. A zero
// From leaves the sender for the radio to fill in.
type Values struct {
	From        uint32 `toml:"from" yaml:"from"`
	Destination uint32 `toml:"destination" yaml:"destination"`
	Portnum     uint32 `toml:"portnum" yaml:"portnum"`
	HopLimit    uint32 `toml:"hop_limit" yaml:"hop_limit"`
	WantAck     bool   `toml:"want_ack" yaml:"want_ack"`
}

// Inbound is the part of a received packet the gateway cares about.
type Inbound struct {
	From    uint32
	ID      uint32
	Portnum uint32
	Payload []byte
}

type ValidationError struct {
	Message string
	Field   string
	Reason  string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("layout: %s: %s", e.Message, e.Reason)
	}
	return fmt.Sprintf("layout: %s.%s: %s", e.Message, e.Field, e.Reason)
}

// Raw reports whether l wraps nothing.
func (l Layout) Raw() bool {
	return l.PacketField == 0
}

// Validate checks field ranges, per-message uniqueness, and wire type names.
func (l Layout) Validate() error {
	if l.Raw() {
		if l.Packet != (PacketFields{}) || l.Data != (DataFields{}) {
			return ValidationError{Message: "to_radio", Field: "packet_field", Reason: "required when packet or data fields are set"}
		}
		return nil
	}
	top := []namedField{{"packet_field", l.PacketField}}
	if err := checkFields("to_radio", top); err != nil {
		return err
	}
	if err := checkFields("from_radio", []namedField{{"inbound_packet_field", l.InboundPacketField}}); err != nil {
		return err
	}
	if l.Packet.Decoded == 0 {
		return ValidationError{Message: "packet", Field: "decoded", Reason: "missing required field"}
	}
	if l.Data.Payload == 0 {
		return ValidationError{Message: "data", Field: "payload", Reason: "missing required field"}
	}
	if err := checkFields("packet", []namedField{
		{"from", l.Packet.From},
		{"to", l.Packet.To},
		{"decoded", l.Packet.Decoded},
		{"id", l.Packet.ID},
		{"hop_limit", l.Packet.HopLimit},
		{"want_ack", l.Packet.WantAck},
	}); err != nil {
		return err
	}
	if err := checkFields("data", []namedField{
		{"portnum", l.Data.Portnum},
		{"payload", l.Data.Payload},
	}); err != nil {
		return err
	}
	if _, err := numericWireType(l.Packet.FromWireType); err != nil {
		return ValidationError{Message: "packet", Field: "from_wire_type", Reason: err.Error()}
	}
	if _, err := numericWireType(l.Packet.ToWireType); err != nil {
		return ValidationError{Message: "packet", Field: "to_wire_type", Reason: err.Error()}
	}
	if _, err := numericWireType(l.Packet.IDWireType); err != nil {
		return ValidationError{Message: "packet", Field: "id_wire_type", Reason: err.Error()}
	}
	return nil
}

// Wrap encodes payload as the decoded Data of one outbound packet.
func (l Layout) Wrap(payload []byte, packetID uint32) ([]byte, error) {
	if l.Raw() {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	}
	fromWT, err := numericWireType(l.Packet.FromWireType)
	if err != nil {
		return nil, err
	}
	toWT, err := numericWireType(l.Packet.ToWireType)
	if err != nil {
		return nil, err
	}
	idWT, err := numericWireType(l.Packet.IDWireType)
	if err != nil {
		return nil, err
	}

	data := envelope.NewEncoder()
	if l.Data.Portnum != 0 {
		data.WriteVarintField(l.Data.Portnum, uint64(l.Values.Portnum))
	}
	data.WriteBytesField(l.Data.Payload, payload)

	pkt := envelope.NewEncoder()
	if l.Packet.From != 0 && l.Values.From != 0 {
		writeNumeric(pkt, l.Packet.From, fromWT, l.Values.From)
	}
	if l.Packet.To != 0 {
		writeNumeric(pkt, l.Packet.To, toWT, l.Values.Destination)
	}
	pkt.WriteNestedMessage(l.Packet.Decoded, data)
	if l.Packet.ID != 0 {
		writeNumeric(pkt, l.Packet.ID, idWT, packetID)
	}
	if l.Packet.HopLimit != 0 {
		pkt.WriteVarintField(l.Packet.HopLimit, uint64(l.Values.HopLimit))
	}
	if l.Packet.WantAck != 0 && l.Values.WantAck {
		pkt.WriteVarintField(l.Packet.WantAck, 1)
	}

	out, err := envelope.NewEncoder().WriteNestedMessage(l.PacketField, pkt).Finish()
	if err != nil {
		return nil, fmt.Errorf("layout: wrap %q: %w", l.Name, err)
	}
	logs.Tracef("layout.Wrap profile=%s packet_id=%d payload=%d bytes=%d", l.Name, packetID, len(payload), len(out))
	return out, nil
}

// Unwrap extracts the Data payload from an inbound message. ok is false
// when the message carries no packet or the packet carries no decoded
// payload (config, node info, and other radio chatter).
func (l Layout) Unwrap(body []byte) (Inbound, bool, error) {
	if l.Raw() {
		return Inbound{Payload: body}, true, nil
	}
	outer, err := envelope.DecodeFields(body)
	if err != nil {
		return Inbound{}, false, err
	}
	field := l.InboundPacketField
	if field == 0 {
		field = l.PacketField
	}
	pf, found := envelope.GetField(outer, field)
	if !found || pf.Type != envelope.WireBytes {
		return Inbound{}, false, nil
	}
	pkt, err := pf.Message()
	if err != nil {
		return Inbound{}, false, err
	}
	df, found := envelope.GetField(pkt, l.Packet.Decoded)
	if !found || df.Type != envelope.WireBytes {
		return Inbound{}, false, nil
	}
	data, err := df.Message()
	if err != nil {
		return Inbound{}, false, err
	}
	payload, found := envelope.GetField(data, l.Data.Payload)
	if !found || payload.Type != envelope.WireBytes {
		return Inbound{}, false, nil
	}

	in := Inbound{Payload: payload.Bytes}
	in.From = uintField(pkt, l.Packet.From)
	in.ID = uintField(pkt, l.Packet.ID)
	in.Portnum = uintField(data, l.Data.Portnum)
	return in, true, nil
}

type namedField struct {
	name   string
	number uint32
}

func checkFields(message string, fields []namedField) error {
	seen := make(map[uint32]string, len(fields))
	for _, f := range fields {
		if f.number == 0 {
			continue
		}
		if f.number > envelope.MaxFieldNumber {
			return ValidationError{Message: message, Field: f.name, Reason: fmt.Sprintf("field number %d out of range", f.number)}
		}
		if prev, dup := seen[f.number]; dup {
			return ValidationError{Message: message, Field: f.name, Reason: fmt.Sprintf("field number %d already used by %s", f.number, prev)}
		}
		seen[f.number] = f.name
	}
	return nil
}

func numericWireType(name string) (envelope.WireType, error) {
	if name == "" {
		return envelope.WireVarint, nil
	}
	wt, err := envelope.ParseWireType(name)
	if err != nil {
		return 0, err
	}
	if wt != envelope.WireVarint && wt != envelope.WireFixed32 {
		return 0, fmt.Errorf("wire type %s is not numeric", wt)
	}
	return wt, nil
}

func writeNumeric(e *envelope.Encoder, field uint32, wt envelope.WireType, v uint32) {
	if wt == envelope.WireFixed32 {
		e.WriteFixed32Field(field, v)
		return
	}
	e.WriteVarintField(field, uint64(v))
}

func uintField(fields []envelope.Field, number uint32) uint32 {
	if number == 0 {
		return 0
	}
	f, found := envelope.GetField(fields, number)
	if !found {
		return 0
	}
	v, err := f.Uint()
	if err != nil {
		return 0
	}
	return uint32(v)
}
