// internal/trapper/trappertest/server.go

// Package trappertest runs an in-process fake collector for tests.
package trappertest

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/signalnine/trapsender/internal/protocol"
)

// Handler computes the raw bytes written back for one request
type Handler func(req protocol.SenderRequest) []byte

// Server accepts trapper connections on 127.0.0.1 and records every request
type Server struct {
	Host string
	Port int

	ln      net.Listener
	handler Handler
	codec   *protocol.Codec

	mu       sync.Mutex
	requests []protocol.SenderRequest
	wg       sync.WaitGroup
}

// NewServer starts a fake collector that is stopped when the test ends
func NewServer(t testing.TB, h Handler) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("trappertest: listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	s := &Server{
		Host:    addr.IP.String(),
		Port:    addr.Port,
		ln:      ln,
		handler: h,
		codec:   protocol.NewCodec(),
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr returns host:port
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Close stops accepting and waits for in-flight connections
func (s *Server) Close() {
	s.ln.Close()
	s.wg.Wait()
}

// Requests returns a copy of the requests received so far
func (s *Server) Requests() []protocol.SenderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.SenderRequest(nil), s.requests...)
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	header := make([]byte, protocol.HeaderLen)
	if _, err := io.ReadFull(conn, header); err != nil {
		return
	}
	var lenField [protocol.LengthFieldLen]byte
	if _, err := io.ReadFull(conn, lenField[:]); err != nil {
		return
	}
	body := make([]byte, binary.LittleEndian.Uint64(lenField[:]))
	if _, err := io.ReadFull(conn, body); err != nil {
		return
	}

	var req protocol.SenderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	if s.handler == nil {
		return
	}
	conn.Write(s.handler(req))
}

// Frame wraps a reply body in a well-formed frame
func Frame(body string) []byte {
	return protocol.NewCodec().EncodeFrame([]byte(body))
}

// StatusBody renders the collector's usual reply body
func StatusBody(processed, failed, total int, seconds float64) string {
	info := fmt.Sprintf("processed: %d; failed: %d; total: %d; seconds spent: %.6f", processed, failed, total, seconds)
	b, _ := json.Marshal(map[string]string{"response": "success", "info": info})
	return string(b)
}

// Reply always answers with the same raw bytes
func Reply(raw []byte) Handler {
	return func(protocol.SenderRequest) []byte { return raw }
}

// AcceptAll reports every item as processed
func AcceptAll() Handler {
	return func(req protocol.SenderRequest) []byte {
		n := len(req.Data)
		return Frame(StatusBody(n, 0, n, 0.000055))
	}
}

// RejectHosts reports items for the given hosts as failed, like a collector
// that does not know them
func RejectHosts(hosts ...string) Handler {
	unknown := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		unknown[h] = true
	}
	return func(req protocol.SenderRequest) []byte {
		failed := 0
		for _, d := range req.Data {
			if unknown[d.Host] {
				failed++
			}
		}
		n := len(req.Data)
		return Frame(StatusBody(n-failed, failed, n, 0.000120))
	}
}
