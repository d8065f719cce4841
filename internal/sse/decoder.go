// ABOUTME: Chunk-boundary-safe Server-Sent Events frame decoder
// ABOUTME: Buffers raw transport bytes and yields complete data records until [DONE]

package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"
)

const (
	// DoneSentinel is the literal payload that terminates a stream.
	DoneSentinel = "[DONE]"

	// DefaultMaxFrameSize bounds a single buffered record.
	DefaultMaxFrameSize = 1024 * 1024

	readChunkSize = 4096
)

var (
	lf   = []byte("\n\n")
	crlf = []byte("\r\n\r\n")
)

// Frame is one complete record extracted from the stream.
type Frame struct {
	Event string // value of an "event:" line, if any
	Data  []byte // joined "data:" lines
}

// ParseError reports a record whose payload could not be decoded.
// It is recoverable: callers drop the frame and keep reading.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed frame %q: %v", truncate(e.Raw, 80), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Decode unmarshals the frame payload as JSON into v.
func (f Frame) Decode(v any) error {
	if err := json.Unmarshal(f.Data, v); err != nil {
		return &ParseError{Raw: string(f.Data), Err: err}
	}
	return nil
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for dropped-record diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger.With("component", "sse")
		}
	}
}

// WithMaxFrameSize overrides DefaultMaxFrameSize.
func WithMaxFrameSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxFrame = n
		}
	}
}

// Decoder turns a chunked byte stream into frames. Framing is done on bytes,
// so a multibyte character split across reads is only ever converted once the
// whole record has arrived.
type Decoder struct {
	r        io.Reader
	buf      []byte
	chunk    []byte
	maxFrame int
	logger   *slog.Logger

	eof      bool // transport reported io.EOF
	done     bool // terminator seen or stream exhausted
	skipping bool // discarding an oversized record until its delimiter
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		r:        r,
		chunk:    make([]byte, readChunkSize),
		maxFrame: DefaultMaxFrameSize,
		logger:   slog.Default().With("component", "sse"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next returns the next data frame. It returns io.EOF once the [DONE] record
// is seen or the transport ends cleanly, and keeps returning io.EOF afterwards.
// Any other error comes from the underlying reader.
func (d *Decoder) Next() (Frame, error) {
	for {
		if d.done {
			return Frame{}, io.EOF
		}

		if record, ok := d.cut(); ok {
			if len(record) > d.maxFrame {
				d.logger.Warn("dropping oversized frame", "size", len(record), "limit", d.maxFrame)
				continue
			}
			frame, keep := d.parseRecord(record)
			if !keep {
				continue
			}
			if string(frame.Data) == DoneSentinel {
				d.done = true
				return Frame{}, io.EOF
			}
			return frame, nil
		}

		if d.eof {
			// Flush a final record the server did not terminate.
			d.done = true
			if len(d.buf) > 0 && len(d.buf) <= d.maxFrame && !d.skipping {
				record := d.buf
				d.buf = nil
				if frame, keep := d.parseRecord(record); keep && string(frame.Data) != DoneSentinel {
					return frame, nil
				}
			}
			return Frame{}, io.EOF
		}

		if err := d.fill(); err != nil {
			return Frame{}, err
		}
	}
}

// fill performs one read from the transport.
func (d *Decoder) fill() error {
	n, err := d.r.Read(d.chunk)
	if n > 0 {
		d.buf = append(d.buf, d.chunk[:n]...)
		if indexDelimiter(d.buf) < 0 && (d.skipping || len(d.buf) > d.maxFrame) {
			if !d.skipping {
				d.logger.Warn("dropping oversized frame", "size", len(d.buf), "limit", d.maxFrame)
				d.skipping = true
			}
			// Keep the tail so a delimiter straddling the next read is still found.
			if len(d.buf) >= len(crlf) {
				d.buf = append(d.buf[:0], d.buf[len(d.buf)-len(crlf)+1:]...)
			}
		}
	}
	if errors.Is(err, io.EOF) {
		d.eof = true
		return nil
	}
	return err
}

// cut removes the first complete record from the buffer.
func (d *Decoder) cut() ([]byte, bool) {
	idx := indexDelimiter(d.buf)
	if idx < 0 {
		return nil, false
	}
	width := len(lf)
	if bytes.HasPrefix(d.buf[idx:], crlf) {
		width = len(crlf)
	}
	record := make([]byte, idx)
	copy(record, d.buf[:idx])
	d.buf = d.buf[idx+width:]

	if d.skipping {
		d.skipping = false
		return nil, true
	}
	return record, true
}

// parseRecord extracts the event name and data lines of a record.
// Records without data lines are discarded.
func (d *Decoder) parseRecord(record []byte) (Frame, bool) {
	if len(record) == 0 {
		return Frame{}, false
	}

	var frame Frame
	var data [][]byte
	for _, line := range bytes.Split(record, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		switch {
		case len(line) == 0, line[0] == ':':
			continue
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, trimField(line, "data:"))
		case bytes.HasPrefix(line, []byte("event:")):
			frame.Event = string(bytes.TrimSpace(trimField(line, "event:")))
		default:
			// id:, retry: and anything unrecognised
		}
	}

	if data == nil {
		d.logger.Debug("discarding record without data", "record", truncate(string(record), 80))
		return Frame{}, false
	}
	frame.Data = bytes.Join(data, []byte("\n"))
	return frame, true
}

// trimField strips the field name and a single optional leading space.
func trimField(line []byte, name string) []byte {
	v := line[len(name):]
	if len(v) > 0 && v[0] == ' ' {
		v = v[1:]
	}
	return v
}

// indexDelimiter finds the earliest blank-line delimiter.
func indexDelimiter(b []byte) int {
	i := bytes.Index(b, lf)
	j := bytes.Index(b, crlf)
	switch {
	case i < 0:
		return j
	case j < 0:
		return i
	case j < i:
		return j
	default:
		return i
	}
}

// truncate shortens s to at most maxLen runes without splitting a character.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}
