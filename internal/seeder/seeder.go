// Package seeder moves media files between peers over QUIC. The peer that
// loaded a file runs a Server; everyone else fetches by locator and lands
// the bytes in their media directory, which feeds the room's file-readiness
// handshake.
package seeder

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/driftroom/driftroom/internal/bufpool"
)

// ALPNProtocol is the Application-Layer Protocol Negotiation identifier for
// driftroom seed transfers.
const ALPNProtocol = "driftroom-seed-v1"

// maxRequestLine bounds the filename request a client may send.
const maxRequestLine = 4096

// copyBuffers backs every transfer's copy loop.
var copyBuffers = bufpool.New(256 * 1024)

func serverTLSConfig() (*tls.Config, error) {
	cert, err := generateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate seed certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPNProtocol},
	}, nil
}

func clientTLSConfig() *tls.Config {
	// Peers are authenticated at the mesh layer; the seed endpoint only
	// carries bytes whose name and size the room already agreed on.
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPNProtocol},
	}
}

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:                10 * time.Second,
		MaxIdleTimeout:                 30 * time.Second,
		MaxIncomingStreams:             16,
		InitialConnectionReceiveWindow: 64 * 1024 * 1024,
		MaxConnectionReceiveWindow:     64 * 1024 * 1024,
		InitialStreamReceiveWindow:     16 * 1024 * 1024,
		MaxStreamReceiveWindow:         16 * 1024 * 1024,
	}
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"driftroom"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  priv,
	}, nil
}

// Server seeds files out of a single directory over QUIC.
type Server struct {
	dir string
	log *slog.Logger

	mu       sync.Mutex
	listener *quic.Listener
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a seed server rooted at dir. Call Start to listen.
func NewServer(dir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{dir: dir, log: logger}
}

// Start listens on addr (host:port, port 0 picks one) and begins serving.
func (s *Server) Start(addr string) error {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return err
	}
	listener, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return fmt.Errorf("seed listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return fmt.Errorf("seed server closed")
	}
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("seed server listening", "addr", listener.Addr())
	s.wg.Add(1)
	go s.acceptLoop(listener)
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Locator builds the seed locator for a file this server offers. The host
// part defaults to the bound address; pass advertiseHost to override the
// interface peers should dial (the bound host may be a wildcard).
func (s *Server) Locator(advertiseHost, filename string, sizeBytes int64) Locator {
	host := advertiseHost
	if host == "" {
		host = s.Addr()
	}
	return Locator{Host: host, Filename: filename, SizeBytes: sizeBytes}
}

func (s *Server) acceptLoop(listener *quic.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept(context.Background())
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Error("seed accept failed", "error", err)
			}
			return
		}
		s.log.Debug("seed connection accepted", "remote_addr", conn.RemoteAddr())
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn *quic.Conn) {
	defer s.wg.Done()
	defer conn.CloseWithError(0, "")
	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveStream(stream)
		}()
	}
}

// serveStream answers one file request: a filename line in, the file's
// bytes out. Requests naming anything outside the seed directory are
// refused by resetting the stream.
func (s *Server) serveStream(stream *quic.Stream) {
	defer stream.Close()

	r := bufio.NewReaderSize(stream, maxRequestLine)
	line, err := r.ReadString('\n')
	if err != nil {
		s.log.Warn("seed request read failed", "error", err)
		stream.CancelWrite(1)
		return
	}
	name := line[:len(line)-1]
	if name == "" || name != path.Base(name) || name == "." || name == ".." {
		s.log.Warn("seed request refused", "name", name)
		stream.CancelWrite(1)
		return
	}

	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		s.log.Warn("seed request for unavailable file", "name", name, "error", err)
		stream.CancelWrite(1)
		return
	}
	defer f.Close()

	buf := copyBuffers.Get()
	defer copyBuffers.Put(buf)
	n, err := io.CopyBuffer(stream, f, buf)
	if err != nil {
		s.log.Warn("seed transfer failed", "name", name, "sent", n, "error", err)
		return
	}
	s.log.Info("seeded file", "name", name, "bytes", n)
}

// Close stops the listener and waits for in-flight transfers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	s.wg.Wait()
	return nil
}

// Fetch dials the locator's seed endpoint and lands the file in destDir.
// The received byte count must match the locator's size exactly; a short or
// long transfer removes the partial file and fails. Returns the path of the
// fetched file.
func Fetch(ctx context.Context, loc Locator, destDir string, logger *slog.Logger) (string, error) {
	return FetchWithProgress(ctx, loc, destDir, nil, logger)
}

// FetchWithProgress is Fetch with a per-chunk byte callback.
func FetchWithProgress(ctx context.Context, loc Locator, destDir string, onBytes func(n int), logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if loc.Filename != path.Base(loc.Filename) {
		return "", fmt.Errorf("refusing locator filename %q", loc.Filename)
	}

	conn, err := quic.DialAddr(ctx, loc.Host, clientTLSConfig(), quicConfig())
	if err != nil {
		return "", fmt.Errorf("seed dial %s: %w", loc.Host, err)
	}
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return "", fmt.Errorf("open seed stream: %w", err)
	}
	if _, err := stream.Write([]byte(loc.Filename + "\n")); err != nil {
		return "", fmt.Errorf("send seed request: %w", err)
	}
	// Close ends our send direction; the file flows back on the same stream.
	if err := stream.Close(); err != nil {
		return "", fmt.Errorf("finish seed request: %w", err)
	}

	dest := filepath.Join(destDir, loc.Filename)
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}

	n, copyErr := copyWithProgress(f, stream, onBytes)
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(dest)
		return "", fmt.Errorf("fetch %s: %w", loc.Filename, copyErr)
	}
	if closeErr != nil {
		os.Remove(dest)
		return "", fmt.Errorf("finish %s: %w", dest, closeErr)
	}
	if n != loc.SizeBytes {
		os.Remove(dest)
		return "", fmt.Errorf("fetched %d bytes of %s, want %d", n, loc.Filename, loc.SizeBytes)
	}

	logger.Info("fetched seeded file", "name", loc.Filename, "bytes", n, "from", loc.Host)
	return dest, nil
}

// copyWithProgress copies src to dst with pooled buffers, reporting each
// chunk to onBytes when set.
func copyWithProgress(dst io.Writer, src io.Reader, onBytes func(n int)) (int64, error) {
	buf := copyBuffers.Get()
	defer copyBuffers.Put(buf)

	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			wn, writeErr := dst.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, writeErr
			}
			if wn < n {
				return written, io.ErrShortWrite
			}
			if onBytes != nil {
				onBytes(n)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
