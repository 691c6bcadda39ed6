package resolver

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/netfabric/internal/dns"
	"github.com/jroosing/netfabric/internal/netfabric"
)

func TestNewRejectsZeroServers(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, netfabric.ErrStateMisuse))
}

// fakeUpstream runs a minimal UDP DNS server in-process on ip, bound to
// an ephemeral port, that answers every query for "example.com" with a
// fixed A record and NXDOMAINs everything else. Returns the port it
// bound to.
func fakeUpstream(t *testing.T, ip string) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(ip), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 512)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req, err := dns.ParsePacket(buf[:n])
			if err != nil {
				continue
			}
			resp := dns.Packet{
				Header:    dns.Header{ID: req.Header.ID, Flags: dns.QRFlag | dns.RDFlag | dns.RAFlag},
				Questions: req.Questions,
			}
			if len(req.Questions) == 1 && req.Questions[0].Name == "example.com" && dns.RecordType(req.Questions[0].Type) == dns.TypeA {
				resp.Answers = []dns.Record{
					{Name: "example.com", Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN), TTL: 60, Data: []byte{93, 184, 216, 34}},
				}
			} else {
				resp.Header.Flags |= uint16(dns.RCodeNXDomain)
			}
			b, err := resp.Marshal()
			if err != nil {
				continue
			}
			_, _ = conn.WriteToUDP(b, addr)
		}
	}()

	_, port, err := net.SplitHostPort(conn.LocalAddr().String())
	require.NoError(t, err)
	return port
}

func TestResolveAgainstFakeUpstream(t *testing.T) {
	port := fakeUpstream(t, "127.0.0.1")
	r, err := New(Config{Servers: []string{"127.0.0.1"}, UseUDP: true, Timeout: time.Second, Port: port})
	require.NoError(t, err)

	resp, err := r.Resolve(context.Background(), "example.com", dns.TypeA)
	require.NoError(t, err)
	require.Len(t, resp.Answers, 1)
	ip, ok := resp.Answers[0].IPv4()
	require.True(t, ok)
	assert.Equal(t, "93.184.216.34", ip)
}

func TestResolveNXDomain(t *testing.T) {
	port := fakeUpstream(t, "127.0.0.1")
	r, err := New(Config{Servers: []string{"127.0.0.1"}, UseUDP: true, Timeout: time.Second, Port: port})
	require.NoError(t, err)

	resp, err := r.Resolve(context.Background(), "nowhere.invalid", dns.TypeA)
	require.NoError(t, err)
	assert.Equal(t, dns.RCodeNXDomain, resp.RCode())
}

func TestResolveAllAggregatesAllServers(t *testing.T) {
	// Two distinct loopback addresses (127.0.0.0/8 is entirely loopback on
	// Linux) both serving on the same ephemeral port, so a single Config
	// can point at both by IP.
	portA := fakeUpstream(t, "127.0.0.1")
	fakeSecondOnSamePort(t, "127.0.0.2", portA)

	r, err := New(Config{Servers: []string{"127.0.0.1", "127.0.0.2"}, UseUDP: true, Timeout: time.Second, Port: portA})
	require.NoError(t, err)

	resps, err := r.ResolveAll(context.Background(), "example.com", dns.TypeA)
	require.NoError(t, err)
	assert.Len(t, resps, 2)
}

// fakeSecondOnSamePort binds a second fake upstream to ip on the exact
// port already chosen for the first, since ResolveAll uses one shared
// Config.Port across every configured server.
func fakeSecondOnSamePort(t *testing.T, ip, port string) {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ip, port))
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 512)
		for {
			n, raddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req, err := dns.ParsePacket(buf[:n])
			if err != nil {
				continue
			}
			resp := dns.Packet{
				Header:    dns.Header{ID: req.Header.ID, Flags: dns.QRFlag | dns.RDFlag},
				Questions: req.Questions,
				Answers: []dns.Record{
					{Name: "example.com", Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN), TTL: 60, Data: []byte{1, 1, 1, 1}},
				},
			}
			b, err := resp.Marshal()
			if err != nil {
				continue
			}
			_, _ = conn.WriteToUDP(b, raddr)
		}
	}()
}

// truncatedUpstream binds both a UDP and a TCP listener on the same
// port: the UDP side always answers with TC=1 and no records, the TCP
// side answers the same query in full. Used to exercise the
// truncation-triggers-TCP-retry path.
func truncatedUpstream(t *testing.T, ip string) string {
	t.Helper()
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(ip), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { udpConn.Close() })
	_, port, err := net.SplitHostPort(udpConn.LocalAddr().String())
	require.NoError(t, err)

	tcpLn, err := net.Listen("tcp", net.JoinHostPort(ip, port))
	require.NoError(t, err)
	t.Cleanup(func() { tcpLn.Close() })

	go func() {
		buf := make([]byte, 512)
		for {
			n, addr, err := udpConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req, err := dns.ParsePacket(buf[:n])
			if err != nil {
				continue
			}
			resp := dns.Packet{
				Header:    dns.Header{ID: req.Header.ID, Flags: dns.QRFlag | dns.RDFlag | dns.RAFlag | dns.TCFlag},
				Questions: req.Questions,
			}
			b, err := resp.Marshal()
			if err != nil {
				continue
			}
			_, _ = udpConn.WriteToUDP(b, addr)
		}
	}()

	go func() {
		for {
			conn, err := tcpLn.Accept()
			if err != nil {
				return
			}
			go serveOneTCPQuery(conn)
		}
	}()

	return port
}

func serveOneTCPQuery(conn net.Conn) {
	defer conn.Close()

	var prefix [2]byte
	if _, err := readFull(conn, prefix[:]); err != nil {
		return
	}
	reqLen := int(binary.BigEndian.Uint16(prefix[:]))
	body := make([]byte, reqLen)
	if _, err := readFull(conn, body); err != nil {
		return
	}
	req, err := dns.ParsePacket(body)
	if err != nil {
		return
	}

	resp := dns.Packet{
		Header:    dns.Header{ID: req.Header.ID, Flags: dns.QRFlag | dns.RDFlag | dns.RAFlag},
		Questions: req.Questions,
		Answers: []dns.Record{
			{Name: "example.com", Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN), TTL: 60, Data: []byte{93, 184, 216, 34}},
		},
	}
	b, err := resp.Marshal()
	if err != nil {
		return
	}
	binary.BigEndian.PutUint16(prefix[:], uint16(len(b)))
	if _, err := conn.Write(prefix[:]); err != nil {
		return
	}
	_, _ = conn.Write(b)
}

func TestResolveFallsBackToTCPOnTruncation(t *testing.T) {
	port := truncatedUpstream(t, "127.0.0.1")
	r, err := New(Config{
		Servers: []string{"127.0.0.1"},
		UseUDP:  true,
		UseTCP:  true,
		Timeout: time.Second,
		Port:    port,
	})
	require.NoError(t, err)

	resp, err := r.Resolve(context.Background(), "example.com", dns.TypeA)
	require.NoError(t, err)
	assert.False(t, resp.Truncated())
	require.Len(t, resp.Answers, 1)
	ip, ok := resp.Answers[0].IPv4()
	require.True(t, ok)
	assert.Equal(t, "93.184.216.34", ip)
}

func TestReverseNameIPv4(t *testing.T) {
	name, err := reverseName(net.ParseIP("93.184.216.34"))
	require.NoError(t, err)
	assert.Equal(t, "34.216.184.93.in-addr.arpa", name)
}

func TestReverseNameRejectsNil(t *testing.T) {
	_, err := reverseName(nil)
	require.Error(t, err)
}
