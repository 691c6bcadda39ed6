package dns

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Record is a single DNS resource record (RFC 1035 Section 3.2.1). Data
// is type-specific:
//
//   - A/AAAA/OPT/unknown: []byte (raw RDATA)
//   - CNAME/NS/PTR: string (target name)
//   - MX: MXData
//   - SOA: SOAData
//   - SRV: SRVData
//   - TXT: string, []string, or []byte (raw)
type Record struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	Data  any
}

// MXData is the RDATA of an MX record (RFC 1035 Section 3.3.9).
type MXData struct {
	Preference uint16
	Exchange   string
}

// SOAData is the RDATA of an SOA record (RFC 1035 Section 3.3.13).
type SOAData struct {
	MName   string
	RName   string
	Serial  uint32
	Refresh uint32
	Retry   uint32
	Expire  uint32
	Minimum uint32
}

// SRVData is the RDATA of an SRV record (RFC 2782).
type SRVData struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

// ParseRecord parses a resource record from msg at *off, advancing *off
// past it.
func ParseRecord(msg []byte, off *int) (Record, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return Record{}, err
	}
	if *off+10 > len(msg) {
		return Record{}, fmt.Errorf("%w: unexpected EOF while reading DNS record", ErrDNSError)
	}
	rrType := binary.BigEndian.Uint16(msg[*off : *off+2])
	rrClass := binary.BigEndian.Uint16(msg[*off+2 : *off+4])
	ttl := binary.BigEndian.Uint32(msg[*off+4 : *off+8])
	rdlen := binary.BigEndian.Uint16(msg[*off+8 : *off+10])
	*off += 10
	start := *off
	if start+int(rdlen) > len(msg) {
		return Record{}, fmt.Errorf("%w: unexpected EOF while reading DNS record rdata", ErrDNSError)
	}

	data, err := parseRData(msg, off, start, int(rdlen), RecordType(rrType))
	if err != nil {
		return Record{}, err
	}

	return Record{Name: name, Type: rrType, Class: rrClass, TTL: ttl, Data: data}, nil
}

func parseRData(msg []byte, off *int, start, rdlen int, rt RecordType) (any, error) {
	switch rt {
	case TypeCNAME, TypeNS, TypePTR:
		n, err := DecodeName(msg, off)
		if err != nil {
			return nil, err
		}
		if *off-start != rdlen {
			return nil, fmt.Errorf("%w: invalid rdata length for name-based type", ErrDNSError)
		}
		return n, nil
	case TypeMX:
		if *off+2 > len(msg) {
			return nil, fmt.Errorf("%w: unexpected EOF while reading MX preference", ErrDNSError)
		}
		pref := binary.BigEndian.Uint16(msg[*off : *off+2])
		*off += 2
		ex, err := DecodeName(msg, off)
		if err != nil {
			return nil, err
		}
		if *off-start != rdlen {
			return nil, fmt.Errorf("%w: invalid rdata length for MX", ErrDNSError)
		}
		return MXData{Preference: pref, Exchange: ex}, nil
	case TypeSOA:
		mname, err := DecodeName(msg, off)
		if err != nil {
			return nil, err
		}
		rname, err := DecodeName(msg, off)
		if err != nil {
			return nil, err
		}
		if *off+20 > len(msg) {
			return nil, fmt.Errorf("%w: unexpected EOF while reading SOA fields", ErrDNSError)
		}
		soa := SOAData{
			MName:   mname,
			RName:   rname,
			Serial:  binary.BigEndian.Uint32(msg[*off : *off+4]),
			Refresh: binary.BigEndian.Uint32(msg[*off+4 : *off+8]),
			Retry:   binary.BigEndian.Uint32(msg[*off+8 : *off+12]),
			Expire:  binary.BigEndian.Uint32(msg[*off+12 : *off+16]),
			Minimum: binary.BigEndian.Uint32(msg[*off+16 : *off+20]),
		}
		*off += 20
		if *off-start != rdlen {
			return nil, fmt.Errorf("%w: invalid rdata length for SOA", ErrDNSError)
		}
		return soa, nil
	case TypeSRV:
		if *off+6 > len(msg) {
			return nil, fmt.Errorf("%w: unexpected EOF while reading SRV fields", ErrDNSError)
		}
		srv := SRVData{
			Priority: binary.BigEndian.Uint16(msg[*off : *off+2]),
			Weight:   binary.BigEndian.Uint16(msg[*off+2 : *off+4]),
			Port:     binary.BigEndian.Uint16(msg[*off+4 : *off+6]),
		}
		*off += 6
		target, err := DecodeName(msg, off)
		if err != nil {
			return nil, err
		}
		srv.Target = target
		if *off-start != rdlen {
			return nil, fmt.Errorf("%w: invalid rdata length for SRV", ErrDNSError)
		}
		return srv, nil
	case TypeTXT:
		b := msg[start : start+rdlen]
		*off = start + rdlen
		return parseTXT(b)
	default:
		b := make([]byte, rdlen)
		copy(b, msg[*off:*off+rdlen])
		*off += rdlen
		return b, nil
	}
}

// parseTXT splits TXT RDATA into its length-prefixed character-strings.
// A single character-string is returned as a plain string for the
// common case; multiple are returned as []string.
func parseTXT(b []byte) (any, error) {
	var strs []string
	i := 0
	for i < len(b) {
		n := int(b[i])
		i++
		if i+n > len(b) {
			return nil, fmt.Errorf("%w: TXT character-string length exceeds rdata", ErrDNSError)
		}
		strs = append(strs, string(b[i:i+n]))
		i += n
	}
	if len(strs) == 1 {
		return strs[0], nil
	}
	return strs, nil
}

// Marshal serializes the record to DNS wire format.
func (rr Record) Marshal() ([]byte, error) {
	nameWire := []byte{0}
	if rr.Type != uint16(TypeOPT) {
		b, err := EncodeName(rr.Name)
		if err != nil {
			return nil, err
		}
		nameWire = b
	}

	rdata, err := rr.marshalRData()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nameWire)+10+len(rdata))
	out = append(out, nameWire...)
	fixed := make([]byte, 10)
	binary.BigEndian.PutUint16(fixed[0:2], rr.Type)
	binary.BigEndian.PutUint16(fixed[2:4], rr.Class)
	binary.BigEndian.PutUint32(fixed[4:8], rr.TTL)
	binary.BigEndian.PutUint16(fixed[8:10], uint16(len(rdata)))
	out = append(out, fixed...)
	return append(out, rdata...), nil
}

func (rr Record) marshalRData() ([]byte, error) {
	switch RecordType(rr.Type) {
	case TypeA:
		b, ok := rr.Data.([]byte)
		if !ok || len(b) != 4 {
			return nil, fmt.Errorf("%w: A record data must be 4 bytes", ErrDNSError)
		}
		return b, nil
	case TypeAAAA:
		b, ok := rr.Data.([]byte)
		if !ok || len(b) != 16 {
			return nil, fmt.Errorf("%w: AAAA record data must be 16 bytes", ErrDNSError)
		}
		return b, nil
	case TypeMX:
		mx, ok := rr.Data.(MXData)
		if !ok {
			return nil, fmt.Errorf("%w: MX record data must be MXData", ErrDNSError)
		}
		ex, err := EncodeName(mx.Exchange)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 2+len(ex))
		binary.BigEndian.PutUint16(out[0:2], mx.Preference)
		copy(out[2:], ex)
		return out, nil
	case TypeSOA:
		soa, ok := rr.Data.(SOAData)
		if !ok {
			return nil, fmt.Errorf("%w: SOA record data must be SOAData", ErrDNSError)
		}
		mname, err := EncodeName(soa.MName)
		if err != nil {
			return nil, err
		}
		rname, err := EncodeName(soa.RName)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(mname)+len(rname)+20)
		out = append(out, mname...)
		out = append(out, rname...)
		tail := make([]byte, 20)
		binary.BigEndian.PutUint32(tail[0:4], soa.Serial)
		binary.BigEndian.PutUint32(tail[4:8], soa.Refresh)
		binary.BigEndian.PutUint32(tail[8:12], soa.Retry)
		binary.BigEndian.PutUint32(tail[12:16], soa.Expire)
		binary.BigEndian.PutUint32(tail[16:20], soa.Minimum)
		return append(out, tail...), nil
	case TypeSRV:
		srv, ok := rr.Data.(SRVData)
		if !ok {
			return nil, fmt.Errorf("%w: SRV record data must be SRVData", ErrDNSError)
		}
		target, err := EncodeName(srv.Target)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 6, 6+len(target))
		binary.BigEndian.PutUint16(out[0:2], srv.Priority)
		binary.BigEndian.PutUint16(out[2:4], srv.Weight)
		binary.BigEndian.PutUint16(out[4:6], srv.Port)
		return append(out, target...), nil
	case TypeCNAME, TypeNS, TypePTR:
		s, ok := rr.Data.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("%w: name-based record data must be a non-empty string", ErrDNSError)
		}
		return EncodeName(s)
	case TypeTXT:
		return marshalTXT(rr.Data)
	case TypeOPT:
		if rr.Data == nil {
			return nil, nil
		}
		b, ok := rr.Data.([]byte)
		if ok {
			return b, nil
		}
		return nil, fmt.Errorf("%w: OPT record data must be raw bytes", ErrDNSError)
	default:
		if b, ok := rr.Data.([]byte); ok {
			return b, nil
		}
		return nil, fmt.Errorf("%w: unsupported RR type for serialization: %d", ErrDNSError, rr.Type)
	}
}

func marshalTXT(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return marshalTXTString(t), nil
	case []string:
		totalLen := 0
		for _, s := range t {
			totalLen += 1 + len(s)
		}
		out := make([]byte, 0, totalLen)
		for _, s := range t {
			b := []byte(s)
			if len(b) > 255 {
				return nil, fmt.Errorf("%w: TXT character-string cannot exceed 255 bytes", ErrDNSError)
			}
			out = append(out, byte(len(b)))
			out = append(out, b...)
		}
		return out, nil
	case []byte:
		return t, nil
	default:
		return nil, fmt.Errorf("%w: TXT record data must be string, []string, or []byte", ErrDNSError)
	}
}

func marshalTXTString(s string) []byte {
	b := []byte(s)
	if len(b) <= 255 {
		out := make([]byte, 1+len(b))
		out[0] = byte(len(b))
		copy(out[1:], b)
		return out
	}
	numChunks := (len(b) + 254) / 255
	out := make([]byte, 0, len(b)+numChunks)
	for i := 0; i < len(b); i += 255 {
		chunk := b[i:]
		if len(chunk) > 255 {
			chunk = chunk[:255]
		}
		out = append(out, byte(len(chunk)))
		out = append(out, chunk...)
	}
	return out
}

// IPv4 returns the dotted-quad address if rr is an A record.
func (rr Record) IPv4() (string, bool) {
	if RecordType(rr.Type) != TypeA {
		return "", false
	}
	b, ok := rr.Data.([]byte)
	if !ok || len(b) != 4 {
		return "", false
	}
	return net.IPv4(b[0], b[1], b[2], b[3]).String(), true
}

// IPv6 returns the address if rr is an AAAA record.
func (rr Record) IPv6() (string, bool) {
	if RecordType(rr.Type) != TypeAAAA {
		return "", false
	}
	b, ok := rr.Data.([]byte)
	if !ok || len(b) != 16 {
		return "", false
	}
	return net.IP(b).String(), true
}
