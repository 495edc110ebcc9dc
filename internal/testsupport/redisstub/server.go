// Package redisstub runs a minimal in-process Redis replacement for tests.
// It speaks just enough RESP for the clients in this module: stream commands
// for the notifier and counter commands for the rate limiter.
package redisstub

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password  string
	EnableTLS bool
}

// Server accepts RESP connections until Close. All state is in memory.
type Server struct {
	opts Options
	ln   net.Listener
	addr string

	mu       sync.Mutex
	streams  map[string]*stream
	counters map[string]*counter
	done     chan struct{}

	certPEM []byte
	keyPEM  []byte
}

type stream struct {
	entries []entry
	groups  map[string]*consumerGroup
}

type entry struct {
	id     string
	fields map[string]string
}

type consumerGroup struct {
	cursor  int
	pending map[string]struct{}
}

type counter struct {
	n        int64
	deadline time.Time
}

func Start(opts Options) (*Server, error) {
	s := &Server{
		opts:     opts,
		streams:  make(map[string]*stream),
		counters: make(map[string]*counter),
		done:     make(chan struct{}),
	}

	var ln net.Listener
	var err error
	if opts.EnableTLS {
		cert, certPEM, keyPEM, certErr := newTestCert()
		if certErr != nil {
			return nil, certErr
		}
		s.certPEM = certPEM
		s.keyPEM = keyPEM
		ln, err = tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	} else {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		return nil, err
	}
	s.ln = ln
	s.addr = ln.Addr().String()
	go s.acceptLoop()
	return s, nil
}

func (s *Server) Addr() string { return s.addr }

// CertPEM returns the self-signed certificate when TLS is enabled, for use
// as a client trust root.
func (s *Server) CertPEM() []byte { return s.certPEM }

func (s *Server) KeyPEM() []byte { return s.keyPEM }

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return nil
	default:
		close(s.done)
	}
	s.mu.Unlock()
	return s.ln.Close()
}

func (s *Server) acceptLoop() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		session := &session{srv: s, conn: c, authed: s.opts.Password == ""}
		go session.serve()
	}
}

type session struct {
	srv    *Server
	conn   net.Conn
	authed bool
}

func (c *session) serve() {
	defer c.conn.Close()
	in := bufio.NewReader(c.conn)
	out := bufio.NewWriter(c.conn)
	for {
		args, err := readCommand(in)
		if err != nil {
			return
		}
		if len(args) == 0 {
			replyErr(out, "ERR empty command")
			continue
		}
		if err := c.handle(out, args); err != nil {
			return
		}
	}
}

func (c *session) handle(out *bufio.Writer, args []string) error {
	switch strings.ToUpper(args[0]) {
	case "PING":
		return replySimple(out, "PONG")
	case "SELECT":
		return replySimple(out, "OK")
	case "AUTH":
		return c.auth(out, args)
	case "HELLO":
		// Rejecting HELLO downgrades the client to RESP2, after which it
		// authenticates with a plain AUTH.
		return replyErr(out, "ERR unknown command 'HELLO'")
	case "CLIENT":
		// SETNAME, SETINFO and friends are accepted and ignored.
		return replySimple(out, "OK")
	}
	if !c.authed {
		return replyErr(out, "NOAUTH Authentication required.")
	}
	switch strings.ToUpper(args[0]) {
	case "XADD":
		return c.srv.xadd(out, args)
	case "XGROUP":
		return c.srv.xgroup(out, args)
	case "XREADGROUP":
		return c.srv.xreadgroup(out, args)
	case "XACK":
		return c.srv.xack(out, args)
	case "INCR":
		return c.srv.incr(out, args)
	case "EXPIRE":
		return c.srv.setExpiry(out, args)
	case "TTL":
		return c.srv.ttl(out, args)
	default:
		// HELLO and other handshake probes land here; the client falls
		// back to RESP2 when the command is rejected.
		return replyErr(out, "ERR unknown command '"+args[0]+"'")
	}
}

func (c *session) auth(out *bufio.Writer, args []string) error {
	// AUTH password | AUTH username password
	presented := ""
	switch len(args) {
	case 2:
		presented = args[1]
	case 3:
		presented = args[2]
	default:
		return replyErr(out, "ERR wrong number of arguments for 'auth'")
	}
	if c.srv.opts.Password != "" && presented != c.srv.opts.Password {
		return replyErr(out, "WRONGPASS invalid username-password pair")
	}
	c.authed = true
	return replySimple(out, "OK")
}

func (s *Server) stream(name string) *stream {
	st, ok := s.streams[name]
	if !ok {
		st = &stream{groups: make(map[string]*consumerGroup)}
		s.streams[name] = st
	}
	return st
}

func (s *Server) xadd(out *bufio.Writer, args []string) error {
	if len(args) < 5 || len(args)%2 == 0 {
		return replyErr(out, "ERR wrong number of arguments for 'xadd'")
	}
	id := args[2]
	if id == "*" {
		id = fmt.Sprintf("%d-0", time.Now().UnixNano())
	}
	fields := make(map[string]string, (len(args)-3)/2)
	for i := 3; i < len(args)-1; i += 2 {
		fields[args[i]] = args[i+1]
	}
	s.mu.Lock()
	st := s.stream(args[1])
	st.entries = append(st.entries, entry{id: id, fields: fields})
	s.mu.Unlock()
	return replyBulk(out, id)
}

func (s *Server) xgroup(out *bufio.Writer, args []string) error {
	if len(args) < 4 {
		return replyErr(out, "ERR wrong number of arguments for 'xgroup'")
	}
	name, group := args[2], args[3]
	switch strings.ToUpper(args[1]) {
	case "CREATE":
		s.mu.Lock()
		st := s.stream(name)
		_, exists := st.groups[group]
		if !exists {
			g := &consumerGroup{pending: make(map[string]struct{})}
			// "$" starts the group at the stream tail; anything else
			// replays from the beginning.
			if len(args) > 4 && args[4] == "$" {
				g.cursor = len(st.entries)
			}
			st.groups[group] = g
		}
		s.mu.Unlock()
		if exists {
			return replyErr(out, "BUSYGROUP Consumer Group name already exists")
		}
		return replySimple(out, "OK")
	case "DESTROY":
		s.mu.Lock()
		var destroyed int64
		if st, ok := s.streams[name]; ok {
			if _, ok := st.groups[group]; ok {
				delete(st.groups, group)
				destroyed = 1
			}
		}
		s.mu.Unlock()
		return replyInt(out, destroyed)
	default:
		return replyErr(out, "ERR unsupported XGROUP form")
	}
}

func (s *Server) xreadgroup(out *bufio.Writer, args []string) error {
	var group, name string
	count := 1
	var block time.Duration
	for i := 1; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "GROUP":
			if i+2 >= len(args) {
				return replyErr(out, "ERR syntax error")
			}
			group = args[i+1]
			i += 2 // consumer name is irrelevant here
		case "COUNT":
			if i+1 >= len(args) {
				return replyErr(out, "ERR syntax error")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return replyErr(out, "ERR value is not an integer")
			}
			count = n
			i++
		case "BLOCK":
			if i+1 >= len(args) {
				return replyErr(out, "ERR syntax error")
			}
			ms, err := strconv.Atoi(args[i+1])
			if err != nil {
				return replyErr(out, "ERR value is not an integer")
			}
			block = time.Duration(ms) * time.Millisecond
			i++
		case "STREAMS":
			if i+1 >= len(args) {
				return replyErr(out, "ERR syntax error")
			}
			name = args[i+1]
			i = len(args)
		}
	}
	if group == "" || name == "" {
		return replyErr(out, "ERR missing GROUP or STREAMS")
	}

	deadline := time.Now().Add(block)
	for {
		batch := s.claim(name, group, count)
		if len(batch) > 0 {
			return replyStreamBatch(out, name, batch)
		}
		if block <= 0 || !time.Now().Before(deadline) {
			return replyNil(out)
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// claim hands the group its next unread entries and marks them pending.
func (s *Server) claim(name, group string, count int) []entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stream(name)
	g, ok := st.groups[group]
	if !ok {
		g = &consumerGroup{pending: make(map[string]struct{})}
		st.groups[group] = g
	}
	if g.cursor >= len(st.entries) {
		return nil
	}
	end := g.cursor + count
	if end > len(st.entries) {
		end = len(st.entries)
	}
	batch := st.entries[g.cursor:end]
	for _, e := range batch {
		g.pending[e.id] = struct{}{}
	}
	g.cursor = end
	return batch
}

func (s *Server) xack(out *bufio.Writer, args []string) error {
	if len(args) < 4 {
		return replyErr(out, "ERR wrong number of arguments for 'xack'")
	}
	s.mu.Lock()
	var acked int64
	if st, ok := s.streams[args[1]]; ok {
		if g, ok := st.groups[args[2]]; ok {
			for _, id := range args[3:] {
				if _, pending := g.pending[id]; pending {
					delete(g.pending, id)
					acked++
				}
			}
		}
	}
	s.mu.Unlock()
	return replyInt(out, acked)
}

func (s *Server) incr(out *bufio.Writer, args []string) error {
	if len(args) != 2 {
		return replyErr(out, "ERR wrong number of arguments for 'incr'")
	}
	s.mu.Lock()
	c := s.counters[args[1]]
	if c == nil || (!c.deadline.IsZero() && time.Now().After(c.deadline)) {
		c = &counter{}
		s.counters[args[1]] = c
	}
	c.n++
	n := c.n
	s.mu.Unlock()
	return replyInt(out, n)
}

func (s *Server) setExpiry(out *bufio.Writer, args []string) error {
	if len(args) != 3 {
		return replyErr(out, "ERR wrong number of arguments for 'expire'")
	}
	secs, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return replyErr(out, "ERR value is not an integer")
	}
	s.mu.Lock()
	c := s.counters[args[1]]
	if c == nil {
		c = &counter{}
		s.counters[args[1]] = c
	}
	c.deadline = time.Now().Add(time.Duration(secs) * time.Second)
	s.mu.Unlock()
	return replyInt(out, 1)
}

func (s *Server) ttl(out *bufio.Writer, args []string) error {
	if len(args) != 2 {
		return replyErr(out, "ERR wrong number of arguments for 'ttl'")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters[args[1]]
	if c == nil || c.deadline.IsZero() {
		return replyInt(out, -1)
	}
	left := time.Until(c.deadline)
	if left <= 0 {
		delete(s.counters, args[1])
		return replyInt(out, -2)
	}
	return replyInt(out, int64(left/time.Second))
}

// RESP decoding. Commands arrive as arrays of bulk strings.

func readCommand(r *bufio.Reader) ([]string, error) {
	n, err := readSized(r, '*')
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		size, err := readSized(r, '$')
		if err != nil {
			return nil, err
		}
		if size < 0 {
			args = append(args, "")
			continue
		}
		buf := make([]byte, size+2)
		for read := 0; read < len(buf); {
			m, err := r.Read(buf[read:])
			if err != nil {
				return nil, err
			}
			read += m
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func readSized(r *bufio.Reader, marker byte) (int, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if b != marker {
		return 0, fmt.Errorf("expected %q, got %q", marker, b)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimRight(line, "\r\n"))
}

// RESP encoding.

func replySimple(w *bufio.Writer, s string) error {
	fmt.Fprintf(w, "+%s\r\n", s)
	return w.Flush()
}

func replyErr(w *bufio.Writer, msg string) error {
	fmt.Fprintf(w, "-%s\r\n", msg)
	return w.Flush()
}

func replyInt(w *bufio.Writer, n int64) error {
	fmt.Fprintf(w, ":%d\r\n", n)
	return w.Flush()
}

func replyBulk(w *bufio.Writer, s string) error {
	fmt.Fprintf(w, "$%d\r\n%s\r\n", len(s), s)
	return w.Flush()
}

func replyNil(w *bufio.Writer) error {
	w.WriteString("$-1\r\n")
	return w.Flush()
}

// replyStreamBatch encodes an XREADGROUP result for a single stream:
// [[name, [[id, [field, value, ...]], ...]]].
func replyStreamBatch(w *bufio.Writer, name string, batch []entry) error {
	w.WriteString("*1\r\n")
	w.WriteString("*2\r\n")
	bulk(w, name)
	fmt.Fprintf(w, "*%d\r\n", len(batch))
	for _, e := range batch {
		w.WriteString("*2\r\n")
		bulk(w, e.id)
		fmt.Fprintf(w, "*%d\r\n", len(e.fields)*2)
		for k, v := range e.fields {
			bulk(w, k)
			bulk(w, v)
		}
	}
	return w.Flush()
}

func bulk(w *bufio.Writer, s string) {
	fmt.Fprintf(w, "$%d\r\n%s\r\n", len(s), s)
}

func newTestCert() (tls.Certificate, []byte, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, nil, nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().Unix()),
		Subject:      pkix.Name{CommonName: "redisstub"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, nil, nil, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, nil, nil, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, nil, nil, err
	}
	return cert, certPEM, keyPEM, nil
}
