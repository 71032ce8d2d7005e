package mcp

import (
	"fmt"
	"testing"
)

func TestFramerSingleMessage(t *testing.T) {
	f := NewFramer(nil)

	msgs := f.Feed([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}` + "\n"))
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if !msgs[0].IsResponse() {
		t.Error("expected a response-shaped message")
	}
	if *msgs[0].ID != 1 {
		t.Errorf("id = %d, want 1", *msgs[0].ID)
	}
	if f.Buffered() != 0 {
		t.Errorf("buffered = %d, want 0", f.Buffered())
	}
}

func TestFramerChunkBoundaryIndependence(t *testing.T) {
	stream := []byte(`{"jsonrpc":"2.0","id":1,"result":{"a":1}}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"result":{"b":2}}` + "\n" +
		`{"jsonrpc":"2.0","method":"notifications/progress","params":{}}` + "\n")

	// Every chunk size must yield the identical message sequence.
	for _, size := range []int{1, 2, 3, 7, 16, len(stream)} {
		t.Run(fmt.Sprintf("chunk_%d", size), func(t *testing.T) {
			f := NewFramer(nil)
			var msgs []*Incoming
			for i := 0; i < len(stream); i += size {
				end := i + size
				if end > len(stream) {
					end = len(stream)
				}
				msgs = append(msgs, f.Feed(stream[i:end])...)
			}

			if len(msgs) != 3 {
				t.Fatalf("got %d messages, want 3", len(msgs))
			}
			if !msgs[0].IsResponse() || *msgs[0].ID != 1 {
				t.Errorf("first message: got %+v, want response id 1", msgs[0])
			}
			if !msgs[1].IsResponse() || *msgs[1].ID != 2 {
				t.Errorf("second message: got %+v, want response id 2", msgs[1])
			}
			if msgs[2].IsResponse() {
				t.Error("third message should be a notification, not a response")
			}
			if f.Buffered() != 0 {
				t.Errorf("buffered = %d, want 0", f.Buffered())
			}
		})
	}
}

func TestFramerRetainsPartialLine(t *testing.T) {
	f := NewFramer(nil)

	msgs := f.Feed([]byte(`{"jsonrpc":"2.0",`))
	if len(msgs) != 0 {
		t.Fatalf("got %d messages before newline, want 0", len(msgs))
	}
	if f.Buffered() == 0 {
		t.Error("expected partial line to be buffered")
	}

	msgs = f.Feed([]byte(`"id":7,"result":null}` + "\n"))
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after completion, want 1", len(msgs))
	}
	if *msgs[0].ID != 7 {
		t.Errorf("id = %d, want 7", *msgs[0].ID)
	}
}

func TestFramerDropsMalformedLines(t *testing.T) {
	f := NewFramer(nil)

	stream := "not json at all\n" +
		`{"jsonrpc":"2.0","id":3,"result":{}}` + "\n" +
		"WARNING: provider chatter\n"

	msgs := f.Feed([]byte(stream))
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (malformed lines dropped)", len(msgs))
	}
	if *msgs[0].ID != 3 {
		t.Errorf("id = %d, want 3", *msgs[0].ID)
	}
}

func TestFramerSkipsBlankLines(t *testing.T) {
	f := NewFramer(nil)

	msgs := f.Feed([]byte("\n\r\n  \n" + `{"jsonrpc":"2.0","id":4,"result":{}}` + "\n\n"))
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

func TestIncomingZeroIDIsResponse(t *testing.T) {
	// "id":0 must be distinguishable from an absent id field.
	f := NewFramer(nil)

	msgs := f.Feed([]byte(`{"jsonrpc":"2.0","id":0,"result":{}}` + "\n" +
		`{"jsonrpc":"2.0","method":"log","params":{}}` + "\n"))
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if !msgs[0].IsResponse() {
		t.Error("message with id 0 should be a response")
	}
	if msgs[1].IsResponse() {
		t.Error("message without id should not be a response")
	}
}

func TestEncodeLine(t *testing.T) {
	line, err := encodeLine(NewRequest(5, "tools/list", nil))
	if err != nil {
		t.Fatalf("encodeLine: %v", err)
	}
	if line[len(line)-1] != '\n' {
		t.Error("encoded line missing trailing newline")
	}

	// Round trip through the framer.
	f := NewFramer(nil)
	msgs := f.Feed(line)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Method != "tools/list" {
		t.Errorf("method = %q, want tools/list", msgs[0].Method)
	}
}
