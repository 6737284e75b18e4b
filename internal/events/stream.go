package events

import (
	"bufio"
	"io"
	"strings"
)

const maxLineSize = 1 << 20

// event is one dispatched server-sent event.
type event struct {
	Name string
	Data string
	ID   string
}

// streamReader splits a text/event-stream body into events.
type streamReader struct {
	sc *bufio.Scanner
}

func newStreamReader(r io.Reader) *streamReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &streamReader{sc: sc}
}

// Next blocks until a complete event arrives. It returns [io.EOF] when the stream ends.
// Comment lines and blocks carrying neither a name nor data are skipped.
func (r *streamReader) Next() (event, error) {
	var (
		ev   event
		data []string
	)

	for r.sc.Scan() {
		line := r.sc.Text()

		if line == "" {
			if len(data) == 0 && ev.Name == "" {
				ev = event{}
				continue
			}
			ev.Data = strings.Join(data, "\n")
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Name = value
		case "data":
			data = append(data, value)
		case "id":
			ev.ID = value
		}
	}

	if err := r.sc.Err(); err != nil {
		return event{}, err
	}
	return event{}, io.EOF
}
