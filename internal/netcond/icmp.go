package netcond

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const echoData = "pmugateway"

// icmpFamily holds the per-IP-version ICMP constants.
type icmpFamily struct {
	network string
	proto   int
	request icmp.Type
	reply   icmp.Type
}

var (
	icmpV4 = icmpFamily{network: "ip4:icmp", proto: 1, request: ipv4.ICMPTypeEcho, reply: ipv4.ICMPTypeEchoReply}
	icmpV6 = icmpFamily{network: "ip6:ipv6-icmp", proto: 58, request: ipv6.ICMPTypeEchoRequest, reply: ipv6.ICMPTypeEchoReply}
)

func familyOf(ip net.IP) icmpFamily {
	if ip.To4() == nil {
		return icmpV6
	}
	return icmpV4
}

// echoer exchanges echo requests with a single peer over one socket.
type echoer struct {
	conn   net.PacketConn
	peer   net.IP
	id     int
	family icmpFamily
	buf    []byte
}

func newEchoer(conn net.PacketConn, peer net.IP, id int) *echoer {
	return &echoer{conn: conn, peer: peer, id: id, family: familyOf(peer), buf: make([]byte, 1500)}
}

func (e *echoer) request(seq int) ([]byte, error) {
	msg := icmp.Message{
		Type: e.family.request,
		Body: &icmp.Echo{ID: e.id, Seq: seq, Data: []byte(echoData)},
	}
	return msg.Marshal(nil)
}

// isReply reports whether raw, read from src, answers request seq.
func (e *echoer) isReply(src net.Addr, raw []byte, seq int) bool {
	if addr, ok := src.(*net.IPAddr); ok && addr.IP != nil && !addr.IP.Equal(e.peer) {
		return false
	}
	msg, err := icmp.ParseMessage(e.family.proto, raw)
	if err != nil || msg.Type != e.family.reply {
		return false
	}
	body, ok := msg.Body.(*icmp.Echo)
	return ok && body.ID == e.id && body.Seq == seq
}

// exchange sends request seq and waits up to timeout for its reply,
// discarding unrelated traffic on the socket.
func (e *echoer) exchange(seq int, timeout time.Duration) (time.Duration, bool) {
	payload, err := e.request(seq)
	if err != nil {
		return 0, false
	}
	start := time.Now()
	if _, err := e.conn.WriteTo(payload, &net.IPAddr{IP: e.peer}); err != nil {
		return 0, false
	}
	if err := e.conn.SetReadDeadline(start.Add(timeout)); err != nil {
		return 0, false
	}
	for {
		n, src, err := e.conn.ReadFrom(e.buf)
		if err != nil {
			return 0, false
		}
		if e.isReply(src, e.buf[:n], seq) {
			return time.Since(start), true
		}
	}
}

// pingICMP sends samples echo requests to host. Raw ICMP sockets need
// CAP_NET_RAW; a socket error is returned rather than counted as loss.
func pingICMP(ctx context.Context, host string, samples int, timeout time.Duration) (*probeWindow, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}
	ip := addrs[0].IP

	conn, err := icmp.ListenPacket(familyOf(ip).network, "")
	if err != nil {
		return nil, fmt.Errorf("icmp socket: %w", err)
	}
	defer conn.Close()

	e := newEchoer(conn, ip, rand.Intn(0xffff))
	window := newProbeWindow(samples)
	for seq := 1; seq <= samples; seq++ {
		if ctx.Err() != nil {
			window.addSample(false, 0)
			continue
		}
		rtt, ok := e.exchange(seq, timeout)
		window.addSample(ok, rtt)
	}
	return window, nil
}
