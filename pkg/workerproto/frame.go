// Package workerproto is the Worker IPC wire format (C4): length-prefixed
// frames with a tag byte, carrying msgpack-encoded payloads, exchanged over
// a local socket or pipe between the server process and a worker process.
package workerproto

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Tag identifies a frame's payload shape on the wire.
type Tag byte

const (
	TagStart    Tag = 1
	TagCancel   Tag = 2
	TagPing     Tag = 3
	TagPong     Tag = 4
	TagProgress Tag = 5
	TagLog      Tag = 6
	TagDone     Tag = 7
	TagError    Tag = 8
)

func (t Tag) String() string {
	switch t {
	case TagStart:
		return "start"
	case TagCancel:
		return "cancel"
	case TagPing:
		return "ping"
	case TagPong:
		return "pong"
	case TagProgress:
		return "progress"
	case TagLog:
		return "log"
	case TagDone:
		return "done"
	case TagError:
		return "error"
	default:
		return fmt.Sprintf("tag(%d)", byte(t))
	}
}

// maxFrameBytes bounds a single payload to guard against a corrupt length
// prefix turning into an unbounded allocation.
const maxFrameBytes = 256 << 20

// StartPayload opens a task: the plan to execute and the task id the
// worker must echo on every subsequent frame for this task.
type StartPayload struct {
	TaskID string `msgpack:"task_id"`
	Kind   string `msgpack:"kind"`
	NodeID int64  `msgpack:"node_id"`
	Plan   []byte `msgpack:"plan"` // JSON-encoded registry.Plan
}

// CancelPayload requests cooperative cancellation of a task.
type CancelPayload struct {
	TaskID string `msgpack:"task_id"`
}

// ProgressPayload reports incremental work on a task.
type ProgressPayload struct {
	TaskID string `msgpack:"task_id"`
	Rows   int64  `msgpack:"rows"`
	Bytes  int64  `msgpack:"bytes"`
	Phase  string `msgpack:"phase"`
}

// LogPayload relays a log line produced while executing a task.
type LogPayload struct {
	TaskID  string `msgpack:"task_id"`
	Level   string `msgpack:"level"`
	Message string `msgpack:"message"`
}

// DonePayload reports a task's successful, materialized result.
type DonePayload struct {
	TaskID   string `msgpack:"task_id"`
	Hash     string `msgpack:"hash"`
	Path     string `msgpack:"path"`
	Format   string `msgpack:"format"`
	Schema   []byte `msgpack:"schema"` // JSON-encoded models.Schema
	RowCount int64  `msgpack:"row_count"`
}

// ErrorPayload reports a task's terminal failure.
type ErrorPayload struct {
	TaskID    string `msgpack:"task_id"`
	Kind      string `msgpack:"kind"`
	Message   string `msgpack:"message"`
	Traceback string `msgpack:"traceback,omitempty"`
}

// Frame is one decoded message: a tag and its raw msgpack payload bytes.
type Frame struct {
	Tag     Tag
	Payload []byte
}

// Writer serializes frames to an underlying stream with length-prefixed,
// tag-byte framing: a uint32 big-endian length (tag byte + payload),
// followed by the tag byte, followed by the msgpack payload.
type Writer struct {
	w *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) WriteFrame(tag Tag, payload any) error {
	body, err := msgpack.Marshal(payload)
	if err != nil {
		return fmt.Errorf("workerproto: encode %s payload: %w", tag, err)
	}
	length := uint32(len(body) + 1)
	header := make([]byte, 5)
	binary.BigEndian.PutUint32(header[0:4], length)
	header[4] = byte(tag)
	if _, err := w.w.Write(header); err != nil {
		return err
	}
	if _, err := w.w.Write(body); err != nil {
		return err
	}
	return w.w.Flush()
}

// Reader deserializes frames from an underlying stream.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadFrame blocks for the next frame. A malformed length prefix or a
// length exceeding maxFrameBytes is a ProtocolError-equivalent condition;
// the caller is expected to treat it as fatal to the connection.
func (r *Reader) ReadFrame() (Frame, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r.r, header); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(header)
	if length == 0 || length > maxFrameBytes {
		return Frame{}, fmt.Errorf("workerproto: invalid frame length %d", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return Frame{}, err
	}
	return Frame{Tag: Tag(body[0]), Payload: body[1:]}, nil
}

// Decode unmarshals a frame's payload into v.
func Decode(f Frame, v any) error {
	return msgpack.Unmarshal(f.Payload, v)
}
