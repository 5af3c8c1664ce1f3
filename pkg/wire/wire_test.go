package wire

import (
	"bytes"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"hello":"world"}`)
	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, make([]byte, 0)))
	// Overwrite the length prefix with a value exceeding MaxFrameSize.
	raw := buf.Bytes()
	raw[0], raw[1], raw[2], raw[3] = 0xFF, 0xFF, 0xFF, 0xFF
	_, err := ReadFrame(bytes.NewReader(raw))
	require.Error(t, err)
}

func TestHandshakeSucceedsOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	errs := make(chan error, 2)
	go func() { errs <- Handshake(client) }()
	go func() { errs <- Handshake(server) }()

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
}

func TestRequestResponseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := Request{ID: 1, Method: "ping", Params: json.RawMessage(`{"n":1}`)}
	require.NoError(t, WriteRequest(&buf, req))

	got, err := ReadRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, req, got)

	msg := "boom"
	resp := Response{ID: 1, Err: &msg}
	require.NoError(t, WriteResponse(&buf, resp))

	gotResp, err := ReadResponse(&buf)
	require.NoError(t, err)
	require.Equal(t, resp, gotResp)
}
