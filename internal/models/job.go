package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// State is a job lifecycle state.
type State int

const (
	Pending State = iota
	Processing
	Ready
	Uploaded
	Failed
)

// rank orders states for merging. A job only ever moves to a higher rank, so applying the same
// set of transitions in any order ends in the same state. FAILED sits above PROCESSING (only
// PENDING and PROCESSING can fail) and below READY (completion evidence outranks a timeout).
var rank = map[State]int{
	Pending:    0,
	Processing: 1,
	Failed:     2,
	Ready:      3,
	Uploaded:   4,
}

// Rank returns the merge rank of s.
func (s State) Rank() int {
	return rank[s]
}

// CanTransition reports whether a job in s may move to next. Moves only go up in rank and
// UPLOADED only follows READY. READY may skip PROCESSING, since completion evidence can reach a
// job that is still PENDING or already FAILED.
func (s State) CanTransition(next State) bool {
	if !next.Valid() || next.Rank() <= s.Rank() {
		return false
	}
	return next != Uploaded || s == Ready
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := rank[s]
	return ok
}

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Processing:
		return "PROCESSING"
	case Ready:
		return "READY"
	case Uploaded:
		return "UPLOADED"
	case Failed:
		return "FAILED"
	default:
		return ""
	}
}

// ParseState parses a state name, case-insensitively.
func ParseState(s string) (State, error) {
	for st := range rank {
		if strings.EqualFold(st.String(), s) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown job state %q", s)
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	st, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Platform is a publishing destination.
type Platform string

const (
	YouTube Platform = "youtube"
	Reddit  Platform = "reddit"
)

// JobRequest is what the user submits to start a generation.
type JobRequest struct {
	Title    string         `json:"title"`
	Platform Platform       `json:"platform"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Job is a locally tracked content generation unit.
type Job struct {
	TempID    string         `json:"temp_id"`
	JobID     string         `json:"job_id,omitempty"`
	State     State          `json:"state"`
	Title     string         `json:"title"`
	Platform  Platform       `json:"platform,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ID returns the server id when known, the temp id otherwise.
func (j Job) ID() string {
	if j.JobID != "" {
		return j.JobID
	}
	return j.TempID
}

// Clone returns a copy that shares no maps with j.
func (j Job) Clone() Job {
	if j.Payload != nil {
		payload := make(map[string]any, len(j.Payload))
		for k, v := range j.Payload {
			payload[k] = v
		}
		j.Payload = payload
	}
	return j
}

// Folder groups jobs created on the same calendar day.
type Folder struct {
	Date string // YYYY-MM-DD in the job's local time
	Jobs []Job
}

// GroupByDate buckets jobs into folders, newest day first, newest job first within a day.
func GroupByDate(jobs []Job) []Folder {
	byDate := make(map[string][]Job)
	for _, j := range jobs {
		key := j.CreatedAt.Local().Format(time.DateOnly)
		byDate[key] = append(byDate[key], j)
	}

	folders := make([]Folder, 0, len(byDate))
	for date, list := range byDate {
		sort.Slice(list, func(a, b int) bool { return list[a].CreatedAt.After(list[b].CreatedAt) })
		folders = append(folders, Folder{Date: date, Jobs: list})
	}
	sort.Slice(folders, func(a, b int) bool { return folders[a].Date > folders[b].Date })
	return folders
}

// Result is one completion record from the backend.
type Result struct {
	JobID       string    `json:"job_id"`
	Title       string    `json:"title,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
