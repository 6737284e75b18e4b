package events

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/csync/internal/shared"
)

func TestDecode(t *testing.T) {
	t.Run("Frames", func(t *testing.T) {
		tests := []struct {
			name     string
			event    string
			data     string
			expected Frame
		}{
			{"Ping Without Data", "ping", "", Ping{}},
			{"Ping With Garbage", "ping", "keepalive", Ping{}},
			{"Ping With Timestamp", "ping", `{"timestamp":"2026-03-10T12:00:00Z"}`, Ping{Timestamp: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}},
			{"Init", "init", `{"clientId":"c1","message":"hello"}`, Init{ClientID: "c1", Message: "hello"}},
			{"Job Ready Numeric ID", "job-ready", `{"jobId":42,"message":"done"}`, JobReady{JobID: "42", Message: "done"}},
			{"Job Ready String ID", "job-ready", `{"jobId":"abc"}`, JobReady{JobID: "abc"}},
			{"Job Ready Snake Case", "job_ready", `{"job_id":7}`, JobReady{JobID: "7"}},
			{"Job Ready Temp ID", "jobReady", `{"tempId":"t1"}`, JobReady{TempID: "t1"}},
			{"Job Ready Both IDs", "job-ready", `{"jobId":5,"tempId":"t1"}`, JobReady{JobID: "5", TempID: "t1"}},
			{"Typed Message", "message", `{"type":"job-ready","jobId":9}`, JobReady{JobID: "9"}},
			{"Unnamed Typed Message", "", `{"type":"ping"}`, Ping{}},
			{"Unix Seconds", "job-ready", `{"jobId":1,"timestamp":1773144000}`, JobReady{JobID: "1", Timestamp: time.Unix(1773144000, 0)}},
			{"Unix Millis", "job-ready", `{"jobId":1,"timestamp":1773144000000}`, JobReady{JobID: "1", Timestamp: time.UnixMilli(1773144000000)}},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				got, err := Decode(tc.event, tc.data)
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}

				switch want := tc.expected.(type) {
				case Ping:
					p, ok := got.(Ping)
					if !ok || !p.Timestamp.Equal(want.Timestamp) {
						t.Errorf("expected %+v, got %#v", want, got)
					}
				case Init:
					if got != want {
						t.Errorf("expected %+v, got %#v", want, got)
					}
				case JobReady:
					j, ok := got.(JobReady)
					if !ok || j.JobID != want.JobID || j.TempID != want.TempID || j.Message != want.Message || !j.Timestamp.Equal(want.Timestamp) {
						t.Errorf("expected %+v, got %#v", want, got)
					}
				}
			})
		}
	})

	t.Run("Errors", func(t *testing.T) {
		tests := []struct {
			name     string
			event    string
			data     string
			expected error
		}{
			{"Invalid JSON", "job-ready", "{not json", shared.ErrMalformedFrame},
			{"Missing IDs", "job-ready", `{"message":"done"}`, shared.ErrMalformedFrame},
			{"Boolean ID", "job-ready", `{"jobId":true}`, shared.ErrMalformedFrame},
			{"Unknown Event", "progress", `{"jobId":1}`, shared.ErrUnknownFrame},
			{"Untyped Message", "message", `{"jobId":1}`, shared.ErrUnknownFrame},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				_, err := Decode(tc.event, tc.data)
				if !errors.Is(err, tc.expected) {
					t.Errorf("expected %v, got %v", tc.expected, err)
				}
			})
		}
	})

	t.Run("Target Prefers Job ID", func(t *testing.T) {
		if got := (JobReady{JobID: "5", TempID: "t1"}).Target(); got != "5" {
			t.Errorf("expected 5, got %s", got)
		}
		if got := (JobReady{TempID: "t1"}).Target(); got != "t1" {
			t.Errorf("expected t1, got %s", got)
		}
	})
}

func TestStreamReader(t *testing.T) {
	t.Run("Splits Events", func(t *testing.T) {
		input := strings.Join([]string{
			": connected",
			"",
			"event: init",
			`data: {"message":"hi"}`,
			"",
			"event: job-ready",
			"id: 3",
			`data: {"jobId":`,
			`data: 42}`,
			"",
			"data:no-space",
			"",
			"event: ping",
			"",
			"",
		}, "\n")

		r := newStreamReader(strings.NewReader(input))
		expected := []event{
			{Name: "init", Data: `{"message":"hi"}`},
			{Name: "job-ready", Data: "{\"jobId\":\n42}", ID: "3"},
			{Data: "no-space"},
			{Name: "ping"},
		}

		for i, want := range expected {
			got, err := r.Next()
			if err != nil {
				t.Fatalf("event %d: unexpected error %v", i, err)
			}
			if got != want {
				t.Errorf("event %d: expected %+v, got %+v", i, want, got)
			}
		}

		if _, err := r.Next(); !errors.Is(err, io.EOF) {
			t.Errorf("expected io.EOF, got %v", err)
		}
	})

	t.Run("Incomplete Event At EOF", func(t *testing.T) {
		r := newStreamReader(strings.NewReader("event: init\ndata: {}"))
		if _, err := r.Next(); !errors.Is(err, io.EOF) {
			t.Errorf("expected io.EOF for unterminated event, got %v", err)
		}
	})

	t.Run("Multi-line Data Decodes", func(t *testing.T) {
		r := newStreamReader(strings.NewReader("event: job-ready\ndata: {\"jobId\":\ndata: 42}\n\n"))
		ev, err := r.Next()
		if err != nil {
			t.Fatal(err)
		}
		frame, err := Decode(ev.Name, ev.Data)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if j, ok := frame.(JobReady); !ok || j.JobID != "42" {
			t.Errorf("expected JobReady 42, got %#v", frame)
		}
	})
}
