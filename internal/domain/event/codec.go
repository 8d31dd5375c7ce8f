package event

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// Encoder writes events as newline-delimited JSON records.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one event followed by a newline.
func (e *Encoder) Encode(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	data = append(data, '\n')
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Decoder reads newline-delimited event records. Records with unknown
// types are skipped, not failed, so the decoder tolerates future servers.
type Decoder struct {
	sc *bufio.Scanner
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Decoder{sc: sc}
}

// Next returns the next known event, io.EOF when the stream ends, or an
// error only for malformed JSON or a broken reader.
func (d *Decoder) Next() (*Event, error) {
	for d.sc.Scan() {
		line := d.sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		if !Known(ev.Type) {
			continue
		}
		return &ev, nil
	}
	if err := d.sc.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	return nil, io.EOF
}

// DecodeAll drains the stream into a slice of known events.
func (d *Decoder) DecodeAll() ([]Event, error) {
	var events []Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, *ev)
	}
}
