package protocol

import (
	"bytes"
	"fmt"
)

const (
	// DefaultMaxPayload bounds MSG payloads until the server tells us otherwise.
	DefaultMaxPayload = 1024 * 1024

	// MaxControlLine bounds a single control line, INFO included.
	MaxControlLine = 32 * 1024

	// Buffers that grew beyond this for a large payload are released once
	// drained rather than kept around for the life of the connection.
	maxRetainedBuffer = 64 * 1024
)

// pendingMsg is a MSG header whose payload has not fully arrived yet.
type pendingMsg struct {
	subject []byte
	sid     []byte
	replyTo []byte
	size    int
}

// Decoder turns an arbitrarily chunked byte stream into Frames.
//
// Bytes are appended to an owned buffer and consumed through a read cursor.
// Whatever is left unconsumed after a Push, along with the length of a
// partially received MSG, carries over to the next Push. Emitted frames own
// their bytes and stay valid after further calls.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte

	// buf[:pos] has been consumed
	pos int

	// buf[pos:pos+scanned] is known not to contain '\n'
	scanned int

	pending *pendingMsg

	maxPayload int

	err error
}

// NewDecoder returns a Decoder that rejects MSG payloads larger than
// maxPayload. A maxPayload <= 0 selects DefaultMaxPayload.
func NewDecoder(maxPayload int) *Decoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	return &Decoder{maxPayload: maxPayload}
}

// SetMaxPayload changes the payload limit for frames not yet started.
func (d *Decoder) SetMaxPayload(n int) {
	if n > 0 {
		d.maxPayload = n
	}
}

func (d *Decoder) MaxPayload() int {
	return d.maxPayload
}

// Buffered returns the number of received bytes not yet part of an emitted
// frame. A pending MSG header is already consumed and not counted.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.pos
}

// Err returns the error that stopped the decoder, if any.
func (d *Decoder) Err() error {
	return d.err
}

// Reset discards all buffered input and any previous failure.
func (d *Decoder) Reset() {
	d.buf = nil
	d.pos = 0
	d.scanned = 0
	d.pending = nil
	d.err = nil
}

// Push appends data to the stream and returns every frame that is now
// complete, in arrival order.
//
// When the stream is found to be corrupt Push returns the frames decoded
// before the corruption together with the error. The error is sticky, every
// later Push returns it without looking at its input.
func (d *Decoder) Push(data []byte) ([]Frame, error) {
	if d.err != nil {
		return nil, d.err
	}

	d.buf = append(d.buf, data...)

	var frames []Frame

	for {
		frame, err := d.next()
		if err != nil {
			d.fail(err)
			return frames, err
		}

		if frame == nil {
			break
		}

		frames = append(frames, frame)
	}

	d.compact()

	return frames, nil
}

// next returns the next complete frame, or nil when more input is needed.
func (d *Decoder) next() (Frame, error) {
	if d.pending != nil {
		return d.payload()
	}

	tail := d.buf[d.pos:]

	i := bytes.IndexByte(tail[d.scanned:], '\n')
	if i < 0 {
		d.scanned = len(tail)

		if len(tail) > MaxControlLine {
			return nil, ErrControlLineTooLong
		}

		return nil, nil
	}

	end := d.scanned + i
	if end > MaxControlLine {
		return nil, ErrControlLineTooLong
	}

	line := RemoveTrailingCR(tail[:end])

	d.pos += end + 1
	d.scanned = 0

	frame, err := d.header(line)
	if err != nil {
		return nil, err
	}

	if frame == nil {
		// A MSG header, go straight on to its payload
		return d.payload()
	}

	return frame, nil
}

func (d *Decoder) header(line []byte) (Frame, error) {
	verb, args := splitVerb(line)

	switch {
	case bytes.EqualFold(verb, VerbMsg):
		return nil, d.beginMsg(line, args)

	case bytes.EqualFold(verb, VerbPing):
		return &Ping{}, nil

	case bytes.EqualFold(verb, VerbPong):
		return &Pong{}, nil

	case bytes.EqualFold(verb, VerbOk):
		return &Ok{}, nil

	case bytes.EqualFold(verb, VerbErr):
		return &ErrorFrame{Message: clone(unquote(args))}, nil

	case bytes.EqualFold(verb, VerbInfo):
		return &Info{Settings: clone(args)}, nil

	default:
		return &Unrecognized{Header: clone(line)}, nil
	}
}

// beginMsg parses `<subject> <sid> [<reply-to>] <#bytes>` and switches the
// decoder to payload mode.
func (d *Decoder) beginMsg(line, args []byte) error {
	fields := bytes.Fields(args)

	var p pendingMsg

	switch len(fields) {
	case 3:
		p.subject = clone(fields[0])
		p.sid = clone(fields[1])

	case 4:
		p.subject = clone(fields[0])
		p.sid = clone(fields[1])
		p.replyTo = clone(fields[2])

	default:
		return fmt.Errorf("Failed to parse '%s': %w", string(line), ErrMalformedHeader)
	}

	size, ok := parseSize(fields[len(fields)-1])
	if !ok {
		return fmt.Errorf("Failed to parse '%s': %w", string(line), ErrMalformedHeader)
	}

	if size > d.maxPayload {
		return fmt.Errorf("MSG declares %d bytes, limit is %d: %w", size, d.maxPayload, ErrPayloadTooLarge)
	}

	p.size = size
	d.pending = &p

	return nil
}

// payload completes the pending MSG once its payload and trailer arrived.
func (d *Decoder) payload() (Frame, error) {
	size := d.pending.size
	tail := d.buf[d.pos:]

	if len(tail) < size+2 {
		return nil, nil
	}

	if tail[size] != '\r' || tail[size+1] != '\n' {
		return nil, fmt.Errorf("MSG on '%s' with %d bytes: %w",
			string(d.pending.subject), size, ErrFrameCorrupt)
	}

	msg := &Msg{
		Subject: d.pending.subject,
		SID:     d.pending.sid,
		ReplyTo: d.pending.replyTo,
		Payload: clone(tail[:size]),
	}

	d.pos += size + 2
	d.pending = nil

	return msg, nil
}

// compact moves the unconsumed tail to the front of the buffer once the
// consumed prefix dominates it.
func (d *Decoder) compact() {
	if d.pos == len(d.buf) {
		if cap(d.buf) > maxRetainedBuffer {
			d.buf = nil
		} else {
			d.buf = d.buf[:0]
		}

		d.pos = 0
		return
	}

	if d.pos > 0 && d.pos >= cap(d.buf)/2 {
		n := copy(d.buf, d.buf[d.pos:])
		d.buf = d.buf[:n]
		d.pos = 0
	}
}

func (d *Decoder) fail(err error) {
	d.err = err
	d.buf = nil
	d.pos = 0
	d.scanned = 0
	d.pending = nil
}

func splitVerb(line []byte) (verb, args []byte) {
	i := bytes.IndexAny(line, " \t")
	if i < 0 {
		return line, nil
	}

	return line[:i], bytes.TrimSpace(line[i+1:])
}

// parseSize parses a non-negative decimal byte count.
func parseSize(b []byte) (int, bool) {
	// 9 digits fit a 32 bit int and already exceed any payload limit
	if len(b) == 0 || len(b) > 9 {
		return 0, false
	}

	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}

		n = n*10 + int(c-'0')
	}

	return n, true
}

func unquote(b []byte) []byte {
	if len(b) >= 2 && b[0] == '\'' && b[len(b)-1] == '\'' {
		return b[1 : len(b)-1]
	}

	return b
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}

	return append(make([]byte, 0, len(b)), b...)
}

// RemoveTrailingCR strips the optional '\r' left over after splitting on '\n'.
func RemoveTrailingCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		return data[:len(data)-1]
	}

	return data
}
