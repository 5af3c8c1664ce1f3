// Package wire defines the daemon's wire protocol: length-delimited
// JSON frames exchanged over a mutually authenticated TLS connection,
// shared by pkg/rpcserver and pkg/rpcclient so both sides frame
// requests and responses identically. Grounded on spec.md §6's "Wire
// framing" section; there is no teacher analog since the teacher
// transports calls over gRPC/protobuf instead (see DESIGN.md's dropped
// dependencies).
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize guards against a corrupt or hostile length prefix
// causing an unbounded allocation.
const MaxFrameSize = 64 << 20

// ProtocolVersion is exchanged by both ends immediately after the TLS
// handshake completes, per spec.md §6's "short handshake... exchanges
// protocol version (0)".
const ProtocolVersion = 0

// WriteFrame writes payload prefixed by its 4-byte big-endian length.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds maximum of %d", n, MaxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

type handshakeMsg struct {
	Version int `json:"version"`
}

// Handshake exchanges ProtocolVersion with the peer on rw. The exchange
// is symmetric (both sides announce, then both sides check), so the
// same call works from either end: each writes its frame before
// reading the peer's, so it does not matter which side calls first.
func Handshake(rw io.ReadWriter) error {
	ours, err := json.Marshal(handshakeMsg{Version: ProtocolVersion})
	if err != nil {
		return err
	}
	if err := WriteFrame(rw, ours); err != nil {
		return err
	}
	raw, err := ReadFrame(rw)
	if err != nil {
		return err
	}
	var theirs handshakeMsg
	if err := json.Unmarshal(raw, &theirs); err != nil {
		return fmt.Errorf("malformed handshake: %w", err)
	}
	if theirs.Version != ProtocolVersion {
		return fmt.Errorf("unsupported protocol version %d", theirs.Version)
	}
	return nil
}

// Request is one RPC call: a method name keyed against a registered
// handler plus its JSON-encoded parameters. ID correlates a Response
// back to the Request that produced it, since requests on one
// connection may complete out of order.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response carries at most one of Result or Err (a successful call whose
// result is nil carries neither), mirroring spec.md §7's
// "Response.response = err(string) preserving the displayable message".
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Err    *string         `json:"error,omitempty"`
}

// ErrorResponse builds a Response carrying a displayable error message.
func ErrorResponse(id uint64, msg string) Response {
	return Response{ID: id, Err: &msg}
}

// WriteRequest marshals and frames req onto w.
func WriteRequest(w io.Writer, req Request) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return WriteFrame(w, raw)
}

// ReadRequest reads and unmarshals one Request from r.
func ReadRequest(r io.Reader) (Request, error) {
	raw, err := ReadFrame(r)
	if err != nil {
		return Request{}, err
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// WriteResponse marshals and frames resp onto w.
func WriteResponse(w io.Writer, resp Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return WriteFrame(w, raw)
}

// ReadResponse reads and unmarshals one Response from r.
func ReadResponse(r io.Reader) (Response, error) {
	raw, err := ReadFrame(r)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
