package ingestion

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// maxLineSize bounds one captured message.
const maxLineSize = 1 << 20

// fileRecord is one line of a capture file: the WebSocket envelope plus the
// time the message was originally received.
type fileRecord struct {
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt *time.Time      `json:"received_at,omitempty"`
}

// FileSource replays captured messages from a JSON Lines file, one envelope
// per line. Blank lines are skipped. The channel is closed at end of file.
//
// Each message's Position is "<file>:<line>", so replaying the same capture
// twice yields the same event IDs and the second pass is deduplicated.
type FileSource struct {
	name string
	now  func() time.Time
	r    io.ReadCloser
}

// NewFileSource opens a capture file for replay.
func NewFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	return &FileSource{
		name: filepath.Base(path),
		now:  time.Now,
		r:    f,
	}, nil
}

// Subscribe starts reading the file.
func (s *FileSource) Subscribe(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message, 64)
	go func() {
		defer close(out)

		scanner := bufio.NewScanner(s.r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		line := 0
		for scanner.Scan() {
			line++
			raw := scanner.Bytes()
			if len(raw) == 0 {
				continue
			}

			select {
			case out <- s.toMessage(raw, line):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.r.Close()
}

// toMessage decodes one line. An undecodable line yields a message with no
// topic, which the decoder rejects as malformed.
func (s *FileSource) toMessage(raw []byte, line int) Message {
	msg := Message{
		Payload:    append([]byte(nil), raw...),
		Position:   fmt.Sprintf("%s:%d", s.name, line),
		ReceivedAt: s.now(),
	}

	var rec fileRecord
	if err := json.Unmarshal(raw, &rec); err == nil {
		msg.Topic = rec.Topic
		msg.Payload = rec.Payload
		if rec.ReceivedAt != nil {
			msg.ReceivedAt = *rec.ReceivedAt
		}
	}
	return msg
}
