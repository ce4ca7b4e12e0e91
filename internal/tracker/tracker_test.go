package tracker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseCompactPeers(t *testing.T) {
	raw := []byte{
		127, 0, 0, 1, 0x1A, 0xE1, // 127.0.0.1:6881
		10, 0, 0, 2, 0x1A, 0xE2, // 10.0.0.2:6882
	}

	peers, err := parseCompactPeers(raw)
	if err != nil {
		t.Fatalf("parseCompactPeers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("got %d peers, want 2", len(peers))
	}
	if !peers[0].IP.Equal(net.IPv4(127, 0, 0, 1)) || peers[0].Port != 0x1AE1 {
		t.Errorf("peer 0 = %+v", peers[0])
	}
	if !peers[1].IP.Equal(net.IPv4(10, 0, 0, 2)) || peers[1].Port != 0x1AE2 {
		t.Errorf("peer 1 = %+v", peers[1])
	}
}

func TestParseCompactPeersRejectsMisalignedLength(t *testing.T) {
	if _, err := parseCompactPeers([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a length not a multiple of 6")
	}
}

func TestAnnounceHTTPParsesCompactResponse(t *testing.T) {
	compact := string([]byte{192, 168, 0, 1, 0x1F, 0x40})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("compact"); got != "1" {
			t.Errorf("compact query param = %q, want 1", got)
		}
		fmt.Fprintf(w, "d8:intervali1800e5:peers%d:%se", len(compact), compact)
	}))
	defer srv.Close()

	req := Request{
		Announce: srv.URL,
		InfoHash: [20]byte{1, 2, 3},
		PeerID:   [20]byte{4, 5, 6},
		Port:     6881,
		Left:     1000,
		Event:    "started",
	}

	resp, err := announceHTTP(context.Background(), srv.URL, req)
	if err != nil {
		t.Fatalf("announceHTTP: %v", err)
	}
	if resp.Interval != 1800 {
		t.Errorf("Interval = %d, want 1800", resp.Interval)
	}
	if len(resp.Peers) != 1 {
		t.Fatalf("got %d peers, want 1", len(resp.Peers))
	}
	if !resp.Peers[0].IP.Equal(net.IPv4(192, 168, 0, 1)) || resp.Peers[0].Port != 8000 {
		t.Errorf("peer = %+v", resp.Peers[0])
	}
}

func TestAnnounceHTTPSurfacesFailureReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "d14:failure reason17:no such info hashe")
	}))
	defer srv.Close()

	_, err := announceHTTP(context.Background(), srv.URL, Request{})
	if err == nil {
		t.Fatal("expected an error when the tracker reports a failure reason")
	}
}

func TestAnnounceHTTPRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := announceHTTP(context.Background(), srv.URL, Request{})
	if err == nil {
		t.Fatal("expected an error for a non-200 tracker response")
	}
}

func TestCollectTrackerURLsDedupesAndIncludesBuiltins(t *testing.T) {
	req := Request{
		Announce: "http://primary.example/announce",
		AnnounceList: [][]string{
			{"http://primary.example/announce", "http://backup.example/announce"},
		},
	}

	urls := collectTrackerURLs(req)
	set := make(map[string]bool, len(urls))
	for _, u := range urls {
		set[u] = true
	}

	if !set["http://primary.example/announce"] {
		t.Error("missing primary announce URL")
	}
	if !set["http://backup.example/announce"] {
		t.Error("missing backup announce-list URL")
	}
	for _, b := range builtinTrackers {
		if !set[b] {
			t.Errorf("missing builtin tracker %s", b)
		}
	}

	want := 2 + len(builtinTrackers)
	if len(urls) != want {
		t.Errorf("got %d urls, want %d (dedup of repeated primary URL failed)", len(urls), want)
	}
}
