package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Incoming is a decoded message read from the child's stdout: either a
// response to one of our requests (ID set, Result or Error present) or
// a server-originated request/notification (Method set). The pointer ID
// distinguishes "id": 0 from an absent id field.
type Incoming struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsResponse reports whether the message correlates to a request we sent.
func (m *Incoming) IsResponse() bool {
	return m.ID != nil && m.Method == ""
}

// Response converts a response-shaped Incoming into a Response.
func (m *Incoming) Response() *Response {
	return &Response{
		JSONRPC: m.JSONRPC,
		ID:      *m.ID,
		Result:  m.Result,
		Error:   m.Error,
	}
}

// Framer turns arbitrary-sized byte chunks from the child's stdout into
// discrete JSON-RPC messages. Messages are newline-delimited: every
// complete line is parsed independently, and the trailing partial line
// is retained until the next chunk completes it.
//
// Lines that fail to parse as JSON are dropped without aborting the
// stream — some tool providers share stdout with diagnostic chatter.
// A Framer is not safe for concurrent use; the client's single reader
// goroutine owns it.
type Framer struct {
	buf    []byte
	logger *slog.Logger
}

// NewFramer creates a framer. A nil logger falls back to slog.Default.
func NewFramer(logger *slog.Logger) *Framer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Framer{logger: logger}
}

// Feed consumes one chunk and returns the messages completed by it.
// The result is independent of how the byte stream is chunked: feeding
// a stream one byte at a time yields the same message sequence as
// feeding it whole.
func (f *Framer) Feed(chunk []byte) []*Incoming {
	f.buf = append(f.buf, chunk...)

	var msgs []*Incoming
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			return msgs
		}
		line := f.buf[:i]
		f.buf = f.buf[i+1:]

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var msg Incoming
		if err := json.Unmarshal(line, &msg); err != nil {
			f.logger.Debug("dropping non-JSON line from tool provider",
				"line", string(line),
			)
			continue
		}
		msgs = append(msgs, &msg)
	}
}

// Buffered returns the number of bytes held for an unterminated line.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// encodeLine marshals an outbound message as a single JSON line with a
// trailing newline. The message must not itself contain strings with
// raw newlines after JSON escaping (encoding/json guarantees this).
func encodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return append(data, '\n'), nil
}
