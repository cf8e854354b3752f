// Package ndjson streams line-delimited JSON records with bounded memory per line.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/ppiankov/labelwire/internal/errs"
	"github.com/ppiankov/labelwire/internal/wire"
)

// MIMEType is the content type of an NDJSON stream.
const MIMEType = "application/x-ndjson"

// DefaultMaxLineBytes bounds the size of a single line.
const DefaultMaxLineBytes = 16 << 20

// Encoder writes one record per line.
type Encoder struct {
	w     io.Writer
	count int
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes rec followed by a newline.
func (e *Encoder) Encode(rec wire.Record) error {
	data, err := wire.Encode(rec)
	if err != nil {
		return err
	}
	return e.writeLine(data)
}

// EncodeValue writes any JSON-marshalable value as one line.
func (e *Encoder) EncodeValue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal line %d: %w", e.count, err)
	}
	return e.writeLine(data)
}

// EncodeAll drains seq, stopping at the first error.
func (e *Encoder) EncodeAll(seq iter.Seq2[wire.Record, error]) error {
	for rec, err := range seq {
		if err != nil {
			return err
		}
		if err := e.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of lines written.
func (e *Encoder) Count() int { return e.count }

func (e *Encoder) writeLine(data []byte) error {
	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	if _, err := e.w.Write(line); err != nil {
		return fmt.Errorf("write line %d: %w", e.count, err)
	}
	e.count++
	return nil
}

// Raw is one decoded line.
type Raw struct {
	// Index is the 0-based ordinal among non-empty lines.
	Index int
	// Line is the 1-based physical line number.
	Line int
	// Data is the line's bytes without surrounding whitespace.
	Data   []byte
	Fields map[string]json.RawMessage
}

// Record builds the wire record of the line.
func (r Raw) Record() (wire.Record, error) {
	rec, err := wire.Build(r.Data, r.Fields)
	if err != nil {
		if e, ok := errs.As(err); ok {
			e.WithIndex(r.Index)
		}
		return nil, err
	}
	return rec, nil
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxLineBytes bounds the length of one line.
func WithMaxLineBytes(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLine = n
		}
	}
}

// Decoder reads JSON objects line by line, skipping blank lines. A malformed
// line stops the decoder: every later call returns the same error.
type Decoder struct {
	sc      *bufio.Scanner
	maxLine int
	index   int
	line    int
	err     error
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{maxLine: DefaultMaxLineBytes}
	for _, opt := range opts {
		opt(d)
	}
	d.sc = bufio.NewScanner(r)
	d.sc.Buffer(make([]byte, 0, min(64*1024, d.maxLine)), d.maxLine)
	return d
}

// Next returns the next non-empty line. It returns io.EOF at the end of the stream.
func (d *Decoder) Next() (Raw, error) {
	if d.err != nil {
		return Raw{}, d.err
	}
	for d.sc.Scan() {
		d.line++
		data := bytes.TrimSpace(d.sc.Bytes())
		if len(data) == 0 {
			continue
		}

		raw := Raw{Index: d.index, Line: d.line, Data: bytes.Clone(data)}
		if err := json.Unmarshal(raw.Data, &raw.Fields); err != nil || raw.Fields == nil {
			if err == nil {
				err = errors.New("line is JSON null")
			}
			d.err = errs.Wrap(errs.MalformedLine, err, "line %d is not a JSON object", d.line).
				WithOp("ndjson.Decode").WithIndex(d.index)
			return Raw{}, d.err
		}
		d.index++
		return raw, nil
	}

	if err := d.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			d.err = errs.Wrap(errs.MalformedLine, err, "line %d exceeds %d bytes", d.line+1, d.maxLine).
				WithOp("ndjson.Decode").WithIndex(d.index)
		} else {
			d.err = fmt.Errorf("read line %d: %w", d.line+1, err)
		}
		return Raw{}, d.err
	}
	d.err = io.EOF
	return Raw{}, io.EOF
}

// All yields every line. A decode error is yielded once and ends the sequence.
func (d *Decoder) All() iter.Seq2[Raw, error] {
	return func(yield func(Raw, error) bool) {
		for {
			raw, err := d.Next()
			if err == io.EOF {
				return
			}
			if !yield(raw, err) || err != nil {
				return
			}
		}
	}
}

// Records yields the wire record of every line. A record that matches no
// variant is yielded as an error and the sequence continues; a malformed
// line ends it.
func (d *Decoder) Records() iter.Seq2[wire.Record, error] {
	return func(yield func(wire.Record, error) bool) {
		for raw, err := range d.All() {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(raw.Record()) {
				return
			}
		}
	}
}

// DecodeAll reads every record from r, failing on the first error.
func DecodeAll(r io.Reader, opts ...Option) ([]wire.Record, error) {
	var out []wire.Record
	for rec, err := range NewDecoder(r, opts...).Records() {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}
