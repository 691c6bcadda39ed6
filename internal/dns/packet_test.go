package dns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	p := Packet{
		Header:    Header{ID: 0xBEEF, Flags: QRFlag | RDFlag | RAFlag},
		Questions: []Question{{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN)}},
		Answers: []Record{
			{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN), TTL: 60, Data: []byte{1, 2, 3, 4}},
		},
	}
	b, err := p.Marshal()
	require.NoError(t, err)

	got, err := ParsePacket(b)
	require.NoError(t, err)
	assert.Equal(t, p.Header.ID, got.Header.ID)
	assert.Equal(t, uint16(1), got.Header.QDCount)
	assert.Equal(t, uint16(1), got.Header.ANCount)
	require.Len(t, got.Questions, 1)
	assert.Equal(t, "example.com", got.Questions[0].Name)
	require.Len(t, got.Answers, 1)
	ip, ok := got.Answers[0].IPv4()
	require.True(t, ok)
	assert.Equal(t, "1.2.3.4", ip)
}

func TestPacketMarshalCompressesRepeatedNames(t *testing.T) {
	p := Packet{
		Header:    Header{ID: 1, Flags: QRFlag},
		Questions: []Question{{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN)}},
		Answers: []Record{
			{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN), TTL: 60, Data: []byte{1, 1, 1, 1}},
			{Name: "example.com", Type: uint16(TypeA), Class: uint16(ClassIN), TTL: 60, Data: []byte{2, 2, 2, 2}},
		},
	}
	b, err := p.Marshal()
	require.NoError(t, err)

	// Uncompressed, the name would appear 3 times (question + 2 answers);
	// compression should make the message noticeably smaller than that.
	uncompressedLen := HeaderSize + (len("example.com") + 2 + 4) + 2*(len("example.com")+2+10+4)
	assert.Less(t, len(b), uncompressedLen)

	got, err := ParsePacket(b)
	require.NoError(t, err)
	require.Len(t, got.Answers, 2)
	assert.Equal(t, "example.com", got.Answers[0].Name)
	assert.Equal(t, "example.com", got.Answers[1].Name)
}

func TestPacketTruncatedFlag(t *testing.T) {
	p := Packet{Header: Header{Flags: QRFlag | TCFlag}}
	assert.True(t, p.Truncated())
	assert.Equal(t, RCodeNoError, p.RCode())
}

func TestPacketRCode(t *testing.T) {
	p := Packet{Header: Header{Flags: QRFlag | uint16(RCodeNXDomain)}}
	assert.Equal(t, RCodeNXDomain, p.RCode())
}

func TestParsePacketRejectsTruncatedHeader(t *testing.T) {
	_, err := ParsePacket([]byte{0x00, 0x01})
	require.Error(t, err)
}
