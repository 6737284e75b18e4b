package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/csync/internal/shared"
)

// Frame is a decoded push event: one of [Ping], [Init] or [JobReady].
type Frame interface {
	frame()
}

// Ping is a keepalive.
type Ping struct {
	Timestamp time.Time
}

// Init is sent once when the stream opens.
type Init struct {
	ClientID string
	Message  string
}

// JobReady announces a finished job. At least one of JobID and TempID is set.
type JobReady struct {
	JobID     string
	TempID    string
	Message   string
	Timestamp time.Time
}

func (Ping) frame()     {}
func (Init) frame()     {}
func (JobReady) frame() {}

// Target is the id a READY transition should address.
func (j JobReady) Target() string {
	if j.JobID != "" {
		return j.JobID
	}
	return j.TempID
}

// flexID accepts a JSON string or number.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// flexTime accepts RFC 3339 strings and unix timestamps in seconds or milliseconds.
type flexTime time.Time

func (f *flexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		*f = flexTime(t)
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	if v > 1e12 {
		*f = flexTime(time.UnixMilli(int64(v)))
	} else {
		*f = flexTime(time.Unix(int64(v), 0))
	}
	return nil
}

type wireFrame struct {
	Type      string   `json:"type"`
	JobID     flexID   `json:"jobId"`
	JobIDAlt  flexID   `json:"job_id"`
	TempID    flexID   `json:"tempId"`
	TempIDAlt flexID   `json:"temp_id"`
	ClientID  string   `json:"clientId"`
	Message   string   `json:"message"`
	Timestamp flexTime `json:"timestamp"`
}

// Decode turns an SSE event name and data payload into a [Frame]. Frames sent on the default
// "message" event name carry their kind in a "type" field.
func Decode(event, data string) (Frame, error) {
	var w wireFrame
	if strings.TrimSpace(data) != "" {
		if err := json.Unmarshal([]byte(data), &w); err != nil {
			if event == "ping" {
				return Ping{}, nil
			}
			return nil, fmt.Errorf("%w: %s: %v", shared.ErrMalformedFrame, event, err)
		}
	}

	kind := event
	if kind == "" || kind == "message" {
		kind = w.Type
	}

	switch normalize(kind) {
	case "ping":
		return Ping{Timestamp: time.Time(w.Timestamp)}, nil
	case "init":
		return Init{ClientID: w.ClientID, Message: w.Message}, nil
	case "jobready":
		f := JobReady{
			JobID:     string(firstNonEmpty(w.JobID, w.JobIDAlt)),
			TempID:    string(firstNonEmpty(w.TempID, w.TempIDAlt)),
			Message:   w.Message,
			Timestamp: time.Time(w.Timestamp),
		}
		if f.Target() == "" {
			return nil, fmt.Errorf("%w: job-ready without jobId or tempId", shared.ErrMalformedFrame)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownFrame, kind)
	}
}

// normalize folds "job-ready", "job_ready" and "jobReady" together.
func normalize(kind string) string {
	kind = strings.ToLower(kind)
	return strings.NewReplacer("-", "", "_", "").Replace(kind)
}

func firstNonEmpty(ids ...flexID) flexID {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}
