package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/llmesh/llmesh/errs"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MaxFrameBytes bounds a single line so a misbehaving peer cannot exhaust
// memory with an unterminated stream; oversized frames are dropped per
// spec.md §4.2 without tearing down the connection.
const MaxFrameBytes = 1 << 20 // 1 MiB

type envelope struct {
	Type Type `json:"type"`
}

// Encode marshals f as one JSON object followed by a newline, the wire
// format's self-delimiting convention.
func Encode(w io.Writer, f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("wire: marshal %s: %w", f.FrameType(), err)
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// Decode parses one line into its concrete Frame type. A structurally
// malformed line (bad JSON, missing/empty `type`) returns
// errs.ErrFrameDecode; a well-formed envelope whose tag has no local type
// returns *Unknown with a nil error so the router can log-and-drop per
// spec.md §4.6 without conflating "can't parse" with "don't recognize".
func Decode(line []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil || env.Type == "" {
		return nil, errs.ErrFrameDecode
	}

	var f Frame
	switch env.Type {
	case TypeHandshake:
		f = NewHandshake()
	case TypeHandshakeAck:
		f = NewHandshakeAck()
	case TypeModeUpdate:
		f = NewModeUpdate()
	case TypeModelsUpdate:
		f = NewModelsUpdate()
	case TypeModelRequest:
		f = NewModelRequest()
	case TypeQuery:
		f = NewQuery()
	case TypeResponse:
		f = NewResponse()
	case TypePeerMessage:
		f = NewPeerMessage()
	default:
		raw := make([]byte, len(line))
		copy(raw, line)
		return &Unknown{Type: env.Type, Raw: raw}, nil
	}

	if err := json.Unmarshal(line, f); err != nil {
		return nil, errs.ErrFrameDecode
	}
	return f, nil
}

// Reader decodes a stream of newline-delimited frames from a single
// connection. Bytes within one stream arrive in order and without
// duplication (spec.md §4.1); Reader never reorders what it hands back.
//
// Unlike bufio.Scanner, which fails permanently once a token exceeds its
// buffer (bufio.ErrTooLong), Reader recovers from an oversized line by
// discarding everything up to the next newline and resuming — an
// oversized frame is dropped, not fatal, per spec.md §4.2.
type Reader struct {
	br *bufio.Reader

	// OnDrop, if set, is called for every line dropped as malformed or
	// oversized so the caller can log it per spec.md §4.2 ("MUST be
	// dropped with a log"). Reader itself stays logger-agnostic.
	OnDrop func(err error, line []byte)
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 4096)}
}

// Next returns the next decoded frame, or io.EOF when the stream closes.
// A malformed or oversized line is dropped (OnDrop is notified) and Next
// continues to the following line rather than returning an error that
// would tear down the stream, per spec.md §4.2.
func (r *Reader) Next() (Frame, error) {
	for {
		line, dropped, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if dropped || len(line) == 0 {
			continue
		}
		f, err := Decode(line)
		if err != nil {
			if r.OnDrop != nil {
				r.OnDrop(err, line)
			}
			continue
		}
		return f, nil
	}
}

// readLine reads one newline-delimited line. If the line exceeds
// MaxFrameBytes before a newline is found, it drains the rest of the
// line from the stream, notifies OnDrop, and reports dropped=true —
// the connection is never torn down by an oversized frame.
func (r *Reader) readLine() (line []byte, dropped bool, err error) {
	var buf []byte
	for {
		chunk, rerr := r.br.ReadSlice('\n')
		buf = append(buf, chunk...)

		switch rerr {
		case nil:
			line := trimNewline(buf)
			if len(line) > MaxFrameBytes {
				if r.OnDrop != nil {
					r.OnDrop(fmt.Errorf("wire: frame exceeds MaxFrameBytes (%d bytes)", MaxFrameBytes), nil)
				}
				return nil, true, nil
			}
			return line, false, nil
		case bufio.ErrBufferFull:
			if len(buf) <= MaxFrameBytes {
				continue
			}
			if skipErr := r.skipToNewline(); skipErr != nil {
				return nil, false, skipErr
			}
			if r.OnDrop != nil {
				r.OnDrop(fmt.Errorf("wire: frame exceeds MaxFrameBytes (%d bytes)", MaxFrameBytes), nil)
			}
			return nil, true, nil
		case io.EOF:
			if len(buf) > 0 {
				return trimNewline(buf), false, nil
			}
			return nil, false, io.EOF
		default:
			return nil, false, rerr
		}
	}
}

// skipToNewline discards input up to and including the next newline,
// the recovery step bufio.Scanner cannot perform once ErrTooLong fires.
func (r *Reader) skipToNewline() error {
	for {
		_, err := r.br.ReadSlice('\n')
		switch err {
		case nil:
			return nil
		case bufio.ErrBufferFull:
			continue
		default:
			return err
		}
	}
}

func trimNewline(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	b = bytes.TrimSuffix(b, []byte("\r"))
	return b
}
