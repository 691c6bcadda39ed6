package dns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTripRecord(t *testing.T, rr Record) Record {
	t.Helper()
	b, err := rr.Marshal()
	require.NoError(t, err)
	off := 0
	got, err := ParseRecord(b, &off)
	require.NoError(t, err)
	assert.Equal(t, len(b), off)
	return got
}

func TestRecordA(t *testing.T) {
	rr := Record{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN), TTL: 300, Data: []byte{93, 184, 216, 34}}
	got := roundTripRecord(t, rr)
	ip, ok := got.IPv4()
	require.True(t, ok)
	assert.Equal(t, "93.184.216.34", ip)
	assert.Equal(t, uint32(300), got.TTL)
}

func TestRecordAAAA(t *testing.T) {
	addr := []byte{0x26, 0x06, 0x28, 0x00, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x68, 0x46}
	rr := Record{Name: "example.com", Type: uint16(TypeAAAA), Class: uint16(ClassIN), TTL: 60, Data: addr}
	got := roundTripRecord(t, rr)
	ip, ok := got.IPv6()
	require.True(t, ok)
	assert.NotEmpty(t, ip)
}

func TestRecordCNAME(t *testing.T) {
	rr := Record{Name: "www.example.com", Type: uint16(TypeCNAME), Class: uint16(ClassIN), TTL: 3600, Data: "example.com"}
	got := roundTripRecord(t, rr)
	assert.Equal(t, "example.com", got.Data)
}

func TestRecordMX(t *testing.T) {
	rr := Record{Name: "example.com", Type: uint16(TypeMX), Class: uint16(ClassIN), TTL: 3600, Data: MXData{Preference: 10, Exchange: "mail.example.com"}}
	got := roundTripRecord(t, rr)
	mx, ok := got.Data.(MXData)
	require.True(t, ok)
	assert.Equal(t, uint16(10), mx.Preference)
	assert.Equal(t, "mail.example.com", mx.Exchange)
}

func TestRecordSOA(t *testing.T) {
	soa := SOAData{
		MName: "ns1.example.com", RName: "hostmaster.example.com",
		Serial: 2024010100, Refresh: 7200, Retry: 3600, Expire: 1209600, Minimum: 300,
	}
	rr := Record{Name: "example.com", Type: uint16(TypeSOA), Class: uint16(ClassIN), TTL: 3600, Data: soa}
	got := roundTripRecord(t, rr)
	gotSOA, ok := got.Data.(SOAData)
	require.True(t, ok)
	assert.Equal(t, soa, gotSOA)
}

func TestRecordSRV(t *testing.T) {
	srv := SRVData{Priority: 10, Weight: 20, Port: 5060, Target: "sip.example.com"}
	rr := Record{Name: "_sip._tcp.example.com", Type: uint16(TypeSRV), Class: uint16(ClassIN), TTL: 300, Data: srv}
	got := roundTripRecord(t, rr)
	gotSRV, ok := got.Data.(SRVData)
	require.True(t, ok)
	assert.Equal(t, srv, gotSRV)
}

func TestRecordTXTSingle(t *testing.T) {
	rr := Record{Name: "example.com", Type: uint16(TypeTXT), Class: uint16(ClassIN), TTL: 300, Data: "v=spf1 -all"}
	got := roundTripRecord(t, rr)
	assert.Equal(t, "v=spf1 -all", got.Data)
}

func TestRecordTXTMultiple(t *testing.T) {
	rr := Record{Name: "example.com", Type: uint16(TypeTXT), Class: uint16(ClassIN), TTL: 300, Data: []string{"part1", "part2"}}
	got := roundTripRecord(t, rr)
	assert.Equal(t, []string{"part1", "part2"}, got.Data)
}

func TestRecordTXTLongStringChunked(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	rr := Record{Name: "example.com", Type: uint16(TypeTXT), Class: uint16(ClassIN), TTL: 300, Data: string(long)}
	got := roundTripRecord(t, rr)
	parts, ok := got.Data.([]string)
	require.True(t, ok)
	joined := parts[0] + parts[1]
	assert.Equal(t, string(long), joined)
}

func TestRecordOPTPassthrough(t *testing.T) {
	rr := Record{Name: "", Type: uint16(TypeOPT), Class: 4096, TTL: 0, Data: []byte{0x00, 0x0a, 0x00, 0x08}}
	got := roundTripRecord(t, rr)
	assert.Equal(t, []byte{0x00, 0x0a, 0x00, 0x08}, got.Data)
	assert.Equal(t, uint16(4096), got.Class)
}

func TestRecordUnknownTypePassthrough(t *testing.T) {
	rr := Record{Name: "example.com", Type: 999, Class: uint16(ClassIN), TTL: 10, Data: []byte{1, 2, 3}}
	got := roundTripRecord(t, rr)
	assert.Equal(t, []byte{1, 2, 3}, got.Data)
}

func TestRecordAWrongLengthRejected(t *testing.T) {
	rr := Record{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN), TTL: 300, Data: []byte{1, 2, 3}}
	_, err := rr.Marshal()
	require.Error(t, err)
}
