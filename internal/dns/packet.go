package dns

import (
	"fmt"
)

// MaxUDPPayload is the conventional maximum DNS/UDP message size this
// library uses when it has not negotiated an EDNS0 payload size.
const MaxUDPPayload = 512

// Packet is a complete DNS message (RFC 1035 Section 4): a header plus
// the four sections it describes.
type Packet struct {
	Header      Header
	Questions   []Question
	Answers     []Record
	Authorities []Record
	Additionals []Record
}

// NewQuery builds a single-question query packet with RD set, using id
// as Header.ID; callers supply the transaction ID.
func NewQuery(id uint16, name string, qtype RecordType) Packet {
	return Packet{
		Header: Header{
			ID:      id,
			Flags:   RDFlag,
			QDCount: 1,
		},
		Questions: []Question{{Name: NormalizeName(name), Type: uint16(qtype), Class: uint16(ClassIN)}},
	}
}

// Marshal serializes the packet to DNS wire format. Section counts in
// the header are recomputed from the slice lengths, so callers can
// build a Packet without keeping counts in sync by hand.
//
// Names are compressed against a single offset table shared across the
// whole message: a name is only ever pointed at an offset that occurs
// earlier in this same message, so the pointer can never reach into an
// unrelated packet.
func (p Packet) Marshal() ([]byte, error) {
	h := p.Header
	h.QDCount = uint16(len(p.Questions))
	h.ANCount = uint16(len(p.Answers))
	h.NSCount = uint16(len(p.Authorities))
	h.ARCount = uint16(len(p.Additionals))

	hb, err := h.Marshal()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, len(hb), len(hb)+128)
	copy(buf, hb)
	names := make(map[string]int)

	for _, q := range p.Questions {
		buf, err = appendCompressedQuestion(buf, names, q)
		if err != nil {
			return nil, err
		}
	}
	for _, sec := range [][]Record{p.Answers, p.Authorities, p.Additionals} {
		for _, rr := range sec {
			buf, err = appendCompressedRecord(buf, names, rr)
			if err != nil {
				return nil, err
			}
		}
	}
	return buf, nil
}

// appendCompressedQuestion writes a question, replacing its name with a
// pointer into an earlier occurrence when one is recorded in names.
func appendCompressedQuestion(buf []byte, names map[string]int, q Question) ([]byte, error) {
	nameOff := len(buf)
	nameWire, err := compressedName(names, nameOff, q.Name)
	if err != nil {
		return nil, err
	}
	buf = append(buf, nameWire...)
	tail := make([]byte, 4)
	putUint16(tail[0:2], q.Type)
	putUint16(tail[2:4], q.Class)
	return append(buf, tail...), nil
}

// appendCompressedRecord writes a resource record, compressing its
// owner name. RDATA-embedded names (e.g. an NS target) are left
// uncompressed: they were already encoded flat by Record.Marshal and
// rewriting them pointer-aware here would require re-deriving their
// exact byte offset inside rdata, which buys little for the names this
// library actually emits.
func appendCompressedRecord(buf []byte, names map[string]int, rr Record) ([]byte, error) {
	nameOff := len(buf)
	nameWire, err := compressedName(names, nameOff, rr.Name)
	if err != nil {
		return nil, err
	}
	if rr.Type == uint16(TypeOPT) {
		nameWire = []byte{0}
	}
	buf = append(buf, nameWire...)

	full, err := rr.Marshal()
	if err != nil {
		return nil, err
	}
	plainName, err := EncodeName(rr.Name)
	if err != nil {
		return nil, err
	}
	if rr.Type == uint16(TypeOPT) {
		plainName = []byte{0}
	}
	return append(buf, full[len(plainName):]...), nil
}

// compressedName returns the wire form of name: a 2-byte pointer if an
// identical name was already written earlier in this message, or the
// literal label sequence (recorded under offset for later reuse)
// otherwise. Offsets beyond the 14-bit pointer range are never recorded,
// since they could not be pointed at anyway.
func compressedName(names map[string]int, offset int, name string) ([]byte, error) {
	norm := NormalizeName(name)
	if off, ok := names[norm]; ok {
		return []byte{0xC0 | byte(off>>8), byte(off)}, nil
	}
	wire, err := EncodeName(name)
	if err != nil {
		return nil, err
	}
	if norm != "" && offset <= 0x3FFF {
		names[norm] = offset
	}
	return wire, nil
}

func putUint16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

// ParsePacket parses a complete DNS message from msg.
func ParsePacket(msg []byte) (Packet, error) {
	off := 0
	h, err := ParseHeader(msg, &off)
	if err != nil {
		return Packet{}, err
	}

	p := Packet{Header: h}

	p.Questions = make([]Question, 0, h.QDCount)
	for range int(h.QDCount) {
		q, err := ParseQuestion(msg, &off)
		if err != nil {
			return Packet{}, fmt.Errorf("question section: %w", err)
		}
		p.Questions = append(p.Questions, q)
	}

	p.Answers, err = parseRecords(msg, &off, int(h.ANCount))
	if err != nil {
		return Packet{}, fmt.Errorf("answer section: %w", err)
	}
	p.Authorities, err = parseRecords(msg, &off, int(h.NSCount))
	if err != nil {
		return Packet{}, fmt.Errorf("authority section: %w", err)
	}
	p.Additionals, err = parseRecords(msg, &off, int(h.ARCount))
	if err != nil {
		return Packet{}, fmt.Errorf("additional section: %w", err)
	}

	return p, nil
}

func parseRecords(msg []byte, off *int, count int) ([]Record, error) {
	out := make([]Record, 0, count)
	for range count {
		rr, err := ParseRecord(msg, off)
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, nil
}

// RCode returns the response code carried in the packet's header flags.
func (p Packet) RCode() RCode {
	return RCodeFromFlags(p.Header.Flags)
}

// Truncated reports whether the TC bit is set.
func (p Packet) Truncated() bool {
	return p.Header.Flags&TCFlag != 0
}
