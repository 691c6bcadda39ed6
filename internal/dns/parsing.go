package dns

import (
	"errors"
	"fmt"
)

// Limits on incoming DNS responses, to bound the work done on
// attacker-controlled or merely malformed upstream traffic before a
// resolver ever looks at the answer section.
const (
	MaxIncomingDNSMessageSize = 65535 // largest message a TCP length prefix can carry
	MaxRRPerSection           = 100
	MaxTotalRR                = 300
)

// ParseResponseBounded parses a DNS response received from an upstream
// server and validates it against the query that produced it: the QR
// flag must be set, the transaction ID must match, and the echoed
// question must match what was asked. This is the only path by which
// bytes from the network become a trusted Packet in the resolver.
func ParseResponseBounded(msg []byte, wantID uint16, wantQuestion Question) (Packet, error) {
	if len(msg) > MaxIncomingDNSMessageSize {
		return Packet{}, fmt.Errorf("%w: response exceeds maximum message size", ErrDNSError)
	}

	p, err := ParsePacket(msg)
	if err != nil {
		return Packet{}, err
	}

	if !isResponse(p.Header.Flags) {
		return Packet{}, fmt.Errorf("%w: expected a response but QR flag is unset", ErrDNSError)
	}
	if p.Header.ID != wantID {
		return Packet{}, fmt.Errorf("%w: transaction ID mismatch (want %d, got %d)", ErrDNSError, wantID, p.Header.ID)
	}
	if err := validateSectionCounts(p.Header); err != nil {
		return Packet{}, err
	}
	if len(p.Questions) > 0 {
		q := p.Questions[0]
		if NormalizeName(q.Name) != wantQuestion.Name || q.Type != wantQuestion.Type || q.Class != wantQuestion.Class {
			return Packet{}, fmt.Errorf("%w: response question does not match query", ErrDNSError)
		}
	}

	return p, nil
}

func isResponse(flags uint16) bool {
	return (flags & QRFlag) != 0
}

func validateSectionCounts(h Header) error {
	an, ns, ar := int(h.ANCount), int(h.NSCount), int(h.ARCount)
	if an > MaxRRPerSection || ns > MaxRRPerSection || ar > MaxRRPerSection {
		return errors.New("dns: too many resource records in a single section")
	}
	if an+ns+ar > MaxTotalRR {
		return errors.New("dns: too many total resource records")
	}
	return nil
}

// BuildErrorResponse constructs a synthetic response packet carrying
// rcode for the given query, with no answer records, for a caller that
// wants a Packet-shaped result after an attempt fails locally (timeout,
// transport error). The resolver itself does not call it.
func BuildErrorResponse(query Packet, rcode RCode) Packet {
	flags := buildResponseFlags(query.Header.Flags, uint16(rcode))
	h := Header{
		ID:      query.Header.ID,
		Flags:   flags,
		QDCount: uint16(len(query.Questions)),
	}
	return Packet{Header: h, Questions: query.Questions}
}

func buildResponseFlags(reqFlags uint16, rcode uint16) uint16 {
	flags := QRFlag
	flags |= reqFlags & RDFlag
	rcode &= RCodeMask
	flags = (flags &^ RCodeMask) | rcode
	return flags
}
