// Package dns implements RFC 1035 message parsing and serialization:
// the 12-byte header, name compression, and the record types required
// by this library (A, AAAA, NS, CNAME, PTR, MX, TXT, SOA, SRV), plus
// raw passthrough for everything else (including the EDNS OPT
// pseudo-record).
package dns

import "errors"

// ErrDNSError is a sentinel error type for DNS protocol violations.
// Wrap this with fmt.Errorf("context: %w", ErrDNSError) to add context.
var ErrDNSError = errors.New("dns wire error")
