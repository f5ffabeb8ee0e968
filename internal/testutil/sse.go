package testutil

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"
)

// ChatStream is the decoded form of one chat SSE response. The stream
// carries exactly three event types: "chunk" for partial text, then a
// terminal "done" or "error".
type ChatStream struct {
	Chunks  []string    // chunk texts in delivery order
	Done    *DoneEvent  // nil when the stream ended without done
	Failure *ErrorEvent // nil when no error event was sent
}

// Text returns the concatenation of all chunk texts.
func (s ChatStream) Text() string {
	return strings.Join(s.Chunks, "")
}

// DoneEvent is the payload of the terminal done event.
type DoneEvent struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// ErrorEvent is the payload of an error event.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeChatStream parses the SSE body written by the chat stream
// endpoint. Unknown event types, malformed payloads, events after done,
// and an unterminated trailing event all fail the test: they would mean
// the wire format drifted from what the site's client parses.
func DecodeChatStream(t *testing.T, body string) ChatStream {
	t.Helper()

	var stream ChatStream
	var eventType string
	var dataLines []string

	dispatch := func(lineNum int) {
		if eventType == "" {
			return
		}
		if stream.Done != nil {
			t.Fatalf("SSE line %d: %q event after the terminal done event", lineNum, eventType)
		}
		data := strings.Join(dataLines, "\n")
		switch eventType {
		case "chunk":
			var chunk struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				t.Fatalf("SSE line %d: bad chunk payload %q: %v", lineNum, data, err)
			}
			stream.Chunks = append(stream.Chunks, chunk.Text)
		case "done":
			var done DoneEvent
			if err := json.Unmarshal([]byte(data), &done); err != nil {
				t.Fatalf("SSE line %d: bad done payload %q: %v", lineNum, data, err)
			}
			stream.Done = &done
		case "error":
			var failure ErrorEvent
			if err := json.Unmarshal([]byte(data), &failure); err != nil {
				t.Fatalf("SSE line %d: bad error payload %q: %v", lineNum, data, err)
			}
			stream.Failure = &failure
		default:
			t.Fatalf("SSE line %d: unknown event type %q", lineNum, eventType)
		}
		eventType = ""
		dataLines = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		case line == "":
			dispatch(lineNum)
		case strings.HasPrefix(line, ":"):
			// comment line, ignored
		default:
			t.Fatalf("SSE line %d: unexpected line %q", lineNum, line)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanning SSE body: %v", err)
	}
	if eventType != "" {
		t.Fatalf("SSE body ended inside an unterminated %q event", eventType)
	}

	return stream
}
