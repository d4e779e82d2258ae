package netstack

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestServerLoopback(t *testing.T) {
	srvTLS, err := SelfSignedTLS(LoopbackHosts, time.Hour)
	if err != nil {
		t.Fatalf("tls: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/heap", func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, r.Proto) })

	s, err := Listen("127.0.0.1:0", srvTLS, mux)
	if err != nil {
		t.Skip("udp listen unavailable:", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	client, release := NewClient(&tls.Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13}, 2*time.Second)
	defer release()
	resp, err := client.Get("https://" + s.Addr() + "/heap")
	if err != nil {
		cancel()
		<-done
		t.Skip("http3 dial failed:", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(b) != "HTTP/3.0" {
		t.Fatalf("served over %q", string(b))
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
