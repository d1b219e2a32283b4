package provider

import (
	"bufio"
	"io"
	"strings"
)

// sseDecoder splits a text/event-stream body into events. Multi-line data
// fields are joined with "\n"; comments and unknown fields are ignored.
type sseDecoder struct {
	r     *bufio.Reader
	event string
	data  []string
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	return &sseDecoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event name and data payload. It returns io.EOF once
// the body ends with no pending event.
func (d *sseDecoder) Next() (event, data string, err error) {
	for {
		line, rerr := d.r.ReadString('\n')
		if rerr != nil && rerr != io.EOF {
			return "", "", rerr
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(d.data) > 0 {
				return d.flush()
			}
			d.event = ""
			if rerr == io.EOF {
				return "", "", io.EOF
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			d.data = append(d.data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"):
			d.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		}

		if rerr == io.EOF {
			if len(d.data) > 0 {
				return d.flush()
			}
			return "", "", io.EOF
		}
	}
}

func (d *sseDecoder) flush() (string, string, error) {
	ev, out := d.event, strings.Join(d.data, "\n")
	d.event = ""
	d.data = d.data[:0]
	return ev, out, nil
}
