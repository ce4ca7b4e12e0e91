// Package tracker is the external collaborator the core consumes for peer
// discovery: given an info-hash and local peer-id, it returns a list of
// candidate peer endpoints. Implemented against
// torrent.SendHTTPTrackerRequest / SendUDPTrackerRequest /
// SendTrackerResponse, with the UDP tracker protocol (BEP 15) and
// multi-tracker aggregation carried forward as supplemental features.
package tracker

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	mrand "math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	bencode "github.com/jackpal/bencode-go"

	"github.com/lvbealr/gotorrent/internal/errs"
)

// Endpoint is one candidate peer returned by a tracker.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// Request carries the fields the core supplies to every tracker contact,
// per the tracker announce contract.
type Request struct {
	Announce     string
	AnnounceList [][]string
	InfoHash     [20]byte
	PeerID       [20]byte
	Port         uint16
	Uploaded     int64
	Downloaded   int64
	Left         int64
	Event        string
}

// Response is the interval and peer list a single tracker returned.
type Response struct {
	Peers    []Endpoint
	Interval int
}

type httpResponse struct {
	Failure  string `bencode:"failure reason"`
	Interval int    `bencode:"interval"`
	Peers    string `bencode:"peers"`
}

// builtinTrackers is a small list of public UDP trackers consulted in
// addition to whatever the manifest itself names, so the client can find
// peers even for torrents with a stale or single announce URL. Carried from
// a small, known-reliable set of public UDP trackers.
var builtinTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://open.tracker.cl:1337/announce",
	"udp://open.stealth.si:80/announce",
	"udp://tracker.tiny-vps.com:6969/announce",
}

// Announce contacts every tracker named by req (its own announce URL,
// announce-list tiers, and the built-in public trackers) and returns the
// union of their peer lists, deduplicated by endpoint, with the smallest
// reported interval.
func Announce(ctx context.Context, req Request) (*Response, error) {
	trackers := collectTrackerURLs(req)
	if len(trackers) == 0 {
		return nil, errs.New(errs.Tracker, "announce", fmt.Errorf("no tracker URLs available"))
	}

	seen := make(map[string]Endpoint)
	interval := 0

	for _, url := range trackers {
		var resp *Response
		var err error

		switch {
		case strings.HasPrefix(url, "udp://"):
			resp, err = announceUDP(ctx, url, req)
		case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
			resp, err = announceHTTP(ctx, url, req)
		default:
			continue
		}

		if err != nil {
			continue
		}

		for _, peer := range resp.Peers {
			seen[peer.String()] = peer
		}
		if interval == 0 || (resp.Interval > 0 && resp.Interval < interval) {
			interval = resp.Interval
		}
	}

	if len(seen) == 0 {
		return nil, errs.New(errs.Tracker, "announce", fmt.Errorf("no peers received from any tracker"))
	}

	peers := make([]Endpoint, 0, len(seen))
	for _, p := range seen {
		peers = append(peers, p)
	}

	return &Response{Peers: peers, Interval: interval}, nil
}

func collectTrackerURLs(req Request) []string {
	set := make(map[string]struct{})
	if req.Announce != "" {
		set[req.Announce] = struct{}{}
	}
	for _, tier := range req.AnnounceList {
		for _, a := range tier {
			if a != "" {
				set[a] = struct{}{}
			}
		}
	}
	for _, t := range builtinTrackers {
		set[t] = struct{}{}
	}

	urls := make([]string, 0, len(set))
	for u := range set {
		urls = append(urls, u)
	}
	return urls
}

func announceHTTP(ctx context.Context, announceURL string, req Request) (*Response, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, errs.New(errs.Tracker, "parse_url", err)
	}

	q := url.Values{}
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", fmt.Sprintf("%d", req.Port))
	q.Set("uploaded", fmt.Sprintf("%d", req.Uploaded))
	q.Set("downloaded", fmt.Sprintf("%d", req.Downloaded))
	q.Set("left", fmt.Sprintf("%d", req.Left))
	q.Set("compact", "1")
	q.Set("event", req.Event)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errs.New(errs.Network, "build_request", err)
	}
	httpReq.Header.Set("User-Agent", "gotorrent/1.0")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, errs.New(errs.Network, "do_request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.Tracker, "status_code", fmt.Errorf("tracker returned %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.Network, "read_body", err)
	}

	var decoded httpResponse
	if err := bencode.Unmarshal(bytes.NewReader(body), &decoded); err != nil {
		return nil, errs.New(errs.Tracker, "decode_response", err)
	}
	if decoded.Failure != "" {
		return nil, errs.New(errs.Tracker, "failure_reason", fmt.Errorf("%s", decoded.Failure))
	}

	peers, err := parseCompactPeers([]byte(decoded.Peers))
	if err != nil {
		return nil, errs.New(errs.Tracker, "parse_peers", err)
	}

	return &Response{Peers: peers, Interval: decoded.Interval}, nil
}

const (
	udpProtocolID  = 0x41727101980
	udpActionConn  = 0
	udpActionAnn   = 1
	udpActionError = 3
	udpEventStart  = 2
)

func announceUDP(ctx context.Context, announceURL string, req Request) (*Response, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, errs.New(errs.Tracker, "parse_url", err)
	}

	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, errs.New(errs.Network, "resolve_udp", err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, errs.New(errs.Network, "dial_udp", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	var transactionID uint32
	if err := binary.Read(crand.Reader, binary.BigEndian, &transactionID); err != nil {
		return nil, errs.New(errs.IO, "generate_transaction_id", err)
	}

	connectReq := make([]byte, 16)
	binary.BigEndian.PutUint64(connectReq[0:8], udpProtocolID)
	binary.BigEndian.PutUint32(connectReq[8:12], udpActionConn)
	binary.BigEndian.PutUint32(connectReq[12:16], transactionID)

	var connectionID uint64
	for attempt := 0; attempt < 3; attempt++ {
		conn.SetDeadline(time.Now().Add(time.Duration(5+attempt*2) * time.Second))

		if _, err := conn.Write(connectReq); err != nil {
			continue
		}

		resp := make([]byte, 16)
		n, err := conn.Read(resp)
		if err != nil || n < 16 {
			continue
		}
		if binary.BigEndian.Uint32(resp[0:4]) != udpActionConn {
			return nil, errs.New(errs.Tracker, "udp_connect", fmt.Errorf("unexpected action"))
		}
		if binary.BigEndian.Uint32(resp[4:8]) != transactionID {
			return nil, errs.New(errs.Tracker, "udp_connect", fmt.Errorf("transaction id mismatch"))
		}
		connectionID = binary.BigEndian.Uint64(resp[8:16])
		break
	}
	if connectionID == 0 {
		return nil, errs.New(errs.Tracker, "udp_connect", fmt.Errorf("no connect response after 3 attempts"))
	}

	announceReq := make([]byte, 98)
	binary.BigEndian.PutUint64(announceReq[0:8], connectionID)
	binary.BigEndian.PutUint32(announceReq[8:12], udpActionAnn)
	binary.BigEndian.PutUint32(announceReq[12:16], transactionID)
	copy(announceReq[16:36], req.InfoHash[:])
	copy(announceReq[36:56], req.PeerID[:])
	binary.BigEndian.PutUint64(announceReq[56:64], uint64(req.Downloaded))
	binary.BigEndian.PutUint64(announceReq[64:72], uint64(req.Left))
	binary.BigEndian.PutUint64(announceReq[72:80], uint64(req.Uploaded))
	binary.BigEndian.PutUint32(announceReq[80:84], udpEventStart)
	binary.BigEndian.PutUint32(announceReq[88:92], mrand.Uint32())
	binary.BigEndian.PutUint32(announceReq[92:96], uint32(0xffffffff)) // num_want: default
	binary.BigEndian.PutUint16(announceReq[96:98], req.Port)

	conn.SetDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.Write(announceReq); err != nil {
		return nil, errs.New(errs.IO, "udp_announce_send", err)
	}

	resp := make([]byte, 1024)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, errs.New(errs.IO, "udp_announce_recv", err)
	}
	if n < 20 {
		return nil, errs.New(errs.Tracker, "udp_announce", fmt.Errorf("short announce response: %d bytes", n))
	}

	action := binary.BigEndian.Uint32(resp[0:4])
	if action == udpActionError {
		return nil, errs.New(errs.Tracker, "udp_announce", fmt.Errorf("tracker error: %s", resp[8:n]))
	}
	if action != udpActionAnn {
		return nil, errs.New(errs.Tracker, "udp_announce", fmt.Errorf("unexpected action %d", action))
	}
	if binary.BigEndian.Uint32(resp[4:8]) != transactionID {
		return nil, errs.New(errs.Tracker, "udp_announce", fmt.Errorf("transaction id mismatch"))
	}

	interval := int(binary.BigEndian.Uint32(resp[8:12]))
	peers, err := parseCompactPeers(resp[20:n])
	if err != nil {
		return nil, errs.New(errs.Tracker, "parse_peers", err)
	}

	return &Response{Peers: peers, Interval: interval}, nil
}

// parseCompactPeers decodes a "compact" peer list: 6 bytes per peer, 4 for
// IPv4 address and 2 for the big-endian port.
func parseCompactPeers(raw []byte) ([]Endpoint, error) {
	if len(raw)%6 != 0 {
		return nil, fmt.Errorf("compact peer list length %d not a multiple of 6", len(raw))
	}

	peers := make([]Endpoint, 0, len(raw)/6)
	for i := 0; i < len(raw); i += 6 {
		ip := net.IPv4(raw[i], raw[i+1], raw[i+2], raw[i+3])
		port := binary.BigEndian.Uint16(raw[i+4 : i+6])
		peers = append(peers, Endpoint{IP: ip, Port: port})
	}
	return peers, nil
}
