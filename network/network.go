// Package network is the P2P transport collaborator: it frames
// messages on TCP, relays transactions and blocks between peers, and
// delivers them to the ledger engine. The engine never reaches back
// into this package -- it only exposes SubmitTransaction/SubmitBlock,
// which this package calls.
package network

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/vrecan/death/v3"

	"github.com/petiibhuzah/utxoledger/ledger"
)

const (
	protocol      = "tcp"
	commandLength = 12

	// magic is sent as the first bytes of every connection before any
	// framed command; a connection that doesn't open with it is not
	// speaking this protocol and is dropped.
	magic = "utxoledger"
)

// Server owns the listening socket and the set of known peers. Per
// spec.md's shared-handle guidance, peer entries carry only the peer's
// address -- never the live connection -- so the reader
// goroutine for a connection is always its sole owner. A sender looks
// up or dials a fresh connection instead of reaching into a peer
// struct another goroutine might be reading from.
type Server struct {
	engine *ledger.Engine
	self   string

	mu    sync.Mutex
	peers map[string]struct{}

	log *logrus.Logger
}

func NewServer(engine *ledger.Engine, self string, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		engine: engine,
		self:   self,
		peers:  make(map[string]struct{}),
		log:    log,
	}
}

func (s *Server) AddPeer(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[addr] = struct{}{}
}

func (s *Server) RemovePeer(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, addr)
}

func (s *Server) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.peers))
	for p := range s.peers {
		out = append(out, p)
	}
	return out
}

// command names, fixed at commandLength bytes on the wire.
const (
	cmdTx    = "tx"
	cmdBlock = "block"
)

func cmdToBytes(cmd string) []byte {
	var b [commandLength]byte
	copy(b[:], cmd)
	return b[:]
}

func bytesToCmd(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// sendMagic and expectMagic implement the handshake every connection
// opens with, before any framed command is exchanged.
func sendMagic(w io.Writer) error {
	_, err := w.Write([]byte(magic))
	return err
}

func expectMagic(r io.Reader) error {
	buf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	if string(buf) != magic {
		return fmt.Errorf("peer sent unrecognized handshake %q", buf)
	}
	return nil
}

// sendFrame writes a fixed command tag followed by a length-prefixed
// payload.
func sendFrame(w io.Writer, cmd string, payload []byte) error {
	if _, err := w.Write(cmdToBytes(cmd)); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (string, []byte, error) {
	cmdBuf := make([]byte, commandLength)
	if _, err := io.ReadFull(r, cmdBuf); err != nil {
		return "", nil, err
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", nil, err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", nil, err
	}
	return bytesToCmd(cmdBuf), payload, nil
}

// SendTransaction dials addr fresh, performs the handshake, and sends
// a single transaction frame. The connection is never kept open or
// stored anywhere a second goroutine could read it.
func (s *Server) SendTransaction(addr string, tx ledger.Transaction) error {
	conn, err := net.Dial(protocol, addr)
	if err != nil {
		s.RemovePeer(addr)
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := sendMagic(conn); err != nil {
		return err
	}
	return sendFrame(conn, cmdTx, ledger.EncodeTransaction(tx))
}

// SendBlock dials addr fresh and sends a single block frame.
func (s *Server) SendBlock(addr string, b ledger.Block) error {
	conn, err := net.Dial(protocol, addr)
	if err != nil {
		s.RemovePeer(addr)
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := sendMagic(conn); err != nil {
		return err
	}
	return sendFrame(conn, cmdBlock, ledger.EncodeBlock(b))
}

// broadcast relays a frame to every known peer except from, logging
// and dropping any peer that fails rather than aborting the whole
// broadcast.
func (s *Server) broadcast(from string, send func(addr string) error) {
	for _, addr := range s.Peers() {
		if addr == from || addr == s.self {
			continue
		}
		if err := send(addr); err != nil {
			s.log.WithError(err).WithField("peer", addr).Warn("broadcast to peer failed")
		}
	}
}

// handleConnection owns conn's read half exclusively for its entire
// lifetime; nothing else ever reads from it.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	if err := expectMagic(conn); err != nil {
		s.log.WithError(err).Warn("rejected connection during handshake")
		return
	}

	cmd, payload, err := readFrame(conn)
	if err != nil {
		s.log.WithError(err).Warn("failed to read frame")
		return
	}

	remote := conn.RemoteAddr().String()
	s.AddPeer(remote)

	switch cmd {
	case cmdTx:
		tx, err := ledger.DecodeTransaction(payload)
		if err != nil {
			s.log.WithError(err).Warn("malformed transaction frame")
			return
		}
		if _, err := s.engine.SubmitTransaction(tx); err != nil {
			s.log.WithError(err).Debug("rejected transaction")
			return
		}
		s.broadcast(remote, func(addr string) error { return s.SendTransaction(addr, tx) })

	case cmdBlock:
		block, err := ledger.DecodeBlock(payload)
		if err != nil {
			s.log.WithError(err).Warn("malformed block frame")
			return
		}
		if err := s.engine.SubmitBlock(block); err != nil {
			s.log.WithError(err).Debug("rejected block")
			return
		}
		s.broadcast(remote, func(addr string) error { return s.SendBlock(addr, block) })

	default:
		s.log.WithField("command", cmd).Warn("unknown command")
	}
}

// ListenAndServe opens addr and handles connections until the process
// receives SIGINT/SIGTERM, at which point the engine is closed before
// returning.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen(protocol, addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	defer ln.Close()

	d := death.NewDeath(syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	go d.WaitForDeathWithFunc(func() {
		s.log.Info("shutting down")
		ln.Close()
		if err := s.engine.Close(); err != nil {
			s.log.WithError(err).Error("error closing engine")
		}
		os.Exit(0)
	})

	s.log.WithField("addr", addr).Info("listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConnection(conn)
	}
}
