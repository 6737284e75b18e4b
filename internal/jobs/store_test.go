package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/csync/internal/models"
	"github.com/desertthunder/csync/internal/shared"
	tu "github.com/desertthunder/csync/internal/testing"
)

func newStore(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(io.Discard)
	}
	return NewStore(opts)
}

func mustGet(t *testing.T, s *Store, id string) models.Job {
	t.Helper()
	job, ok := s.Get(id)
	if !ok {
		t.Fatalf("expected job %s to exist", id)
	}
	return job
}

func TestStore(t *testing.T) {
	t.Run("CreatePending", func(t *testing.T) {
		s := newStore(Options{})
		id := s.CreatePending(models.JobRequest{Title: "clip", Platform: models.YouTube, Payload: map[string]any{"topic": "cats"}})

		job := mustGet(t, s, id)
		if job.State != models.Pending {
			t.Errorf("expected PENDING, got %v", job.State)
		}
		if job.TempID != id || job.JobID != "" {
			t.Errorf("unexpected ids: %+v", job)
		}
		if job.Title != "clip" || job.Platform != models.YouTube {
			t.Errorf("unexpected fields: %+v", job)
		}

		other := s.CreatePending(models.JobRequest{Title: "clip"})
		if other == id {
			t.Error("expected unique temp ids")
		}
	})

	t.Run("Alias Resolution", func(t *testing.T) {
		s := newStore(Options{})
		tempID := s.CreatePending(models.JobRequest{Title: "clip"})

		if err := s.BindServerID(tempID, "42"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if got := s.Transition(tempID, models.Processing); got != Applied {
			t.Errorf("expected transition by temp id to apply, got %v", got)
		}
		if got := s.Transition("42", models.Ready); got != Applied {
			t.Errorf("expected transition by job id to apply, got %v", got)
		}

		byTemp := mustGet(t, s, tempID)
		byJob := mustGet(t, s, "42")
		if byTemp.TempID != byJob.TempID || byTemp.State != models.Ready || byJob.State != models.Ready {
			t.Errorf("expected one READY record, got %+v and %+v", byTemp, byJob)
		}
		if len(s.List()) != 1 {
			t.Errorf("expected a single record, got %d", len(s.List()))
		}
	})

	t.Run("BindServerID", func(t *testing.T) {
		t.Run("Unknown Temp ID", func(t *testing.T) {
			s := newStore(Options{})
			if err := s.BindServerID("nope", "1"); !errors.Is(err, shared.ErrUnknownJob) {
				t.Errorf("expected ErrUnknownJob, got %v", err)
			}
		})

		t.Run("Idempotent", func(t *testing.T) {
			s := newStore(Options{})
			id := s.CreatePending(models.JobRequest{})
			if err := s.BindServerID(id, "1"); err != nil {
				t.Fatal(err)
			}
			if err := s.BindServerID(id, "1"); err != nil {
				t.Errorf("expected rebinding the same id to succeed, got %v", err)
			}
		})

		t.Run("Conflicts", func(t *testing.T) {
			s := newStore(Options{})
			a := s.CreatePending(models.JobRequest{})
			b := s.CreatePending(models.JobRequest{})
			if err := s.BindServerID(a, "1"); err != nil {
				t.Fatal(err)
			}
			if err := s.BindServerID(b, "1"); !errors.Is(err, shared.ErrJobConflict) {
				t.Errorf("expected ErrJobConflict for taken id, got %v", err)
			}
			if err := s.BindServerID(a, "2"); !errors.Is(err, shared.ErrJobConflict) {
				t.Errorf("expected ErrJobConflict for rebinding, got %v", err)
			}
		})

		t.Run("Job ID Matching Another Temp ID", func(t *testing.T) {
			s := newStore(Options{})
			a := s.CreatePending(models.JobRequest{Title: "a"})
			b := s.CreatePending(models.JobRequest{Title: "b"})

			if err := s.BindServerID(b, a); !errors.Is(err, shared.ErrJobConflict) {
				t.Errorf("expected ErrJobConflict, got %v", err)
			}
			if got := mustGet(t, s, a).Title; got != "a" {
				t.Errorf("expected %s to still resolve to its own record, got %q", a, got)
			}
			if got := mustGet(t, s, b).JobID; got != "" {
				t.Errorf("expected b to stay unbound, got %q", got)
			}
		})

		t.Run("Empty Job ID", func(t *testing.T) {
			s := newStore(Options{})
			id := s.CreatePending(models.JobRequest{})
			if err := s.BindServerID(id, ""); !errors.Is(err, shared.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	})

	t.Run("Transition", func(t *testing.T) {
		tests := []struct {
			name     string
			path     []models.State
			expected models.State
		}{
			{"Forward", []models.State{models.Processing, models.Ready, models.Uploaded}, models.Uploaded},
			{"Ready Then Processing", []models.State{models.Ready, models.Processing}, models.Ready},
			{"Processing Then Ready", []models.State{models.Processing, models.Ready}, models.Ready},
			{"Ready Twice Around Processing", []models.State{models.Ready, models.Processing, models.Ready}, models.Ready},
			{"Fail From Pending", []models.State{models.Failed}, models.Failed},
			{"Fail From Processing", []models.State{models.Processing, models.Failed}, models.Failed},
			{"Fail After Ready Ignored", []models.State{models.Ready, models.Failed}, models.Ready},
			{"Fail After Uploaded Ignored", []models.State{models.Ready, models.Uploaded, models.Failed}, models.Uploaded},
			{"Failed Then Uploaded Ignored", []models.State{models.Failed, models.Uploaded}, models.Failed},
			{"Pending Then Uploaded Ignored", []models.State{models.Uploaded}, models.Pending},
			{"Processing Then Uploaded Ignored", []models.State{models.Processing, models.Uploaded}, models.Processing},
			{"Ready Skips Processing", []models.State{models.Ready}, models.Ready},
			{"Ready Overrides Failed", []models.State{models.Failed, models.Ready}, models.Ready},
			{"Pending Never Applies", []models.State{models.Processing, models.Pending}, models.Processing},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				s := newStore(Options{})
				id := s.CreatePending(models.JobRequest{})
				for _, st := range tc.path {
					s.Transition(id, st)
				}
				if got := mustGet(t, s, id).State; got != tc.expected {
					t.Errorf("expected %v, got %v", tc.expected, got)
				}
			})
		}

		t.Run("Outcomes", func(t *testing.T) {
			s := newStore(Options{})
			id := s.CreatePending(models.JobRequest{})

			if got := s.Transition(id, models.Ready); got != Applied {
				t.Errorf("expected Applied, got %v", got)
			}
			if got := s.Transition(id, models.Ready); got != NoOp {
				t.Errorf("expected NoOp, got %v", got)
			}
			if got := s.Transition(id, models.Processing); got != NoOp {
				t.Errorf("expected NoOp, got %v", got)
			}
			if got := s.Transition("stale-id", models.Ready); got != Unknown {
				t.Errorf("expected Unknown, got %v", got)
			}
			if got := s.Transition(s.CreatePending(models.JobRequest{}), models.Uploaded); got != NoOp {
				t.Errorf("expected NoOp for UPLOADED before READY, got %v", got)
			}
			if got := s.Transition(id, models.State(99)); got != NoOp {
				t.Errorf("expected NoOp for invalid state, got %v", got)
			}
		})

		t.Run("Every Interleaving Ends Ready", func(t *testing.T) {
			orders := [][]models.State{
				{models.Processing, models.Ready, models.Ready},
				{models.Ready, models.Processing, models.Ready},
				{models.Ready, models.Ready, models.Processing},
			}
			for _, order := range orders {
				s := newStore(Options{})
				id := s.CreatePending(models.JobRequest{})
				for _, st := range order {
					s.Transition(id, st)
				}
				if got := mustGet(t, s, id).State; got != models.Ready {
					t.Errorf("order %v: expected READY, got %v", order, got)
				}
			}
		})

		t.Run("Concurrent Producers", func(t *testing.T) {
			s := newStore(Options{})
			id := s.CreatePending(models.JobRequest{})
			if err := s.BindServerID(id, "7"); err != nil {
				t.Fatal(err)
			}

			var wg sync.WaitGroup
			for i := range 50 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					switch i % 3 {
					case 0:
						s.Transition("7", models.Ready)
					case 1:
						s.Transition(id, models.Processing)
					default:
						s.Transition(id, models.Ready)
					}
				}()
			}
			wg.Wait()

			if got := mustGet(t, s, id).State; got != models.Ready {
				t.Errorf("expected READY, got %v", got)
			}
		})
	})

	t.Run("Notifications", func(t *testing.T) {
		t.Run("Fire Once Per State Change", func(t *testing.T) {
			s := newStore(Options{})
			var readies int
			s.Subscribe(func(c Change) {
				if c.Kind == StateChanged && c.Job.State == models.Ready {
					readies++
				}
			})

			id := s.CreatePending(models.JobRequest{})
			if err := s.BindServerID(id, "42"); err != nil {
				t.Fatal(err)
			}
			s.Apply(Command{ID: "42", Target: models.Ready, Source: "events"})
			s.Apply(Command{ID: "42", Target: models.Ready, Source: "poller"})
			s.Apply(Command{ID: id, Target: models.Ready, Source: "poller"})

			if readies != 1 {
				t.Errorf("expected exactly 1 ready notification, got %d", readies)
			}
		})

		t.Run("Kinds In Order", func(t *testing.T) {
			s := newStore(Options{})
			var kinds []ChangeKind
			s.Subscribe(func(c Change) { kinds = append(kinds, c.Kind) })

			id := s.CreatePending(models.JobRequest{})
			s.BindServerID(id, "1")
			s.Transition(id, models.Processing)
			s.Transition(id, models.Processing)
			s.Remove(id)

			expected := []ChangeKind{Created, Bound, StateChanged, Removed}
			if len(kinds) != len(expected) {
				t.Fatalf("expected %v, got %v", expected, kinds)
			}
			for i := range expected {
				if kinds[i] != expected[i] {
					t.Errorf("change %d: expected %v, got %v", i, expected[i], kinds[i])
				}
			}
		})

		t.Run("Previous State", func(t *testing.T) {
			s := newStore(Options{})
			var last Change
			s.Subscribe(func(c Change) { last = c })

			id := s.CreatePending(models.JobRequest{})
			s.Transition(id, models.Processing)
			if last.Previous != models.Pending || last.Job.State != models.Processing {
				t.Errorf("unexpected change %+v", last)
			}
		})

		t.Run("Unsubscribe", func(t *testing.T) {
			s := newStore(Options{})
			count := 0
			unsubscribe := s.Subscribe(func(Change) { count++ })
			s.CreatePending(models.JobRequest{})
			unsubscribe()
			s.CreatePending(models.JobRequest{})
			if count != 1 {
				t.Errorf("expected 1 notification, got %d", count)
			}
		})

		t.Run("Listener Can Read", func(t *testing.T) {
			s := newStore(Options{})
			var seen models.State = -1
			s.Subscribe(func(c Change) {
				if job, ok := s.Get(c.Job.TempID); ok {
					seen = job.State
				}
			})
			id := s.CreatePending(models.JobRequest{})
			s.Transition(id, models.Ready)
			if seen != models.Ready {
				t.Errorf("expected listener to read READY, got %v", seen)
			}
		})
	})

	t.Run("Remove", func(t *testing.T) {
		s := newStore(Options{})
		id := s.CreatePending(models.JobRequest{})
		s.BindServerID(id, "9")

		if !s.Remove("9") {
			t.Fatal("expected remove by job id to succeed")
		}
		if _, ok := s.Get(id); ok {
			t.Error("expected record to be gone")
		}
		if _, ok := s.Get("9"); ok {
			t.Error("expected alias to be gone")
		}
		if s.Remove(id) {
			t.Error("expected second remove to report false")
		}
		if got := s.Transition("9", models.Ready); got != Unknown {
			t.Errorf("expected Unknown after removal, got %v", got)
		}
	})

	t.Run("Read API", func(t *testing.T) {
		base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
		now := base
		s := newStore(Options{Now: func() time.Time { return now }})

		first := s.CreatePending(models.JobRequest{Title: "first"})
		now = base.Add(time.Hour)
		second := s.CreatePending(models.JobRequest{Title: "second"})
		now = base.Add(24 * time.Hour)
		third := s.CreatePending(models.JobRequest{Title: "third"})
		s.Transition(second, models.Ready)

		list := s.List()
		if len(list) != 3 || list[0].TempID != third || list[2].TempID != first {
			t.Errorf("expected newest first, got %+v", list)
		}

		ready := s.ByState(models.Ready)
		if len(ready) != 1 || ready[0].TempID != second {
			t.Errorf("expected only second to be READY, got %+v", ready)
		}

		folders := s.Folders()
		if len(folders) != 2 {
			t.Fatalf("expected 2 folders, got %d", len(folders))
		}
		if folders[0].Date != "2026-03-11" || len(folders[0].Jobs) != 1 {
			t.Errorf("unexpected newest folder %+v", folders[0])
		}
		if folders[1].Date != "2026-03-10" || len(folders[1].Jobs) != 2 {
			t.Errorf("unexpected oldest folder %+v", folders[1])
		}
	})

	t.Run("Returned Jobs Are Copies", func(t *testing.T) {
		s := newStore(Options{})
		id := s.CreatePending(models.JobRequest{Payload: map[string]any{"k": "v"}})

		job := mustGet(t, s, id)
		job.State = models.Uploaded
		job.Payload["k"] = "changed"

		again := mustGet(t, s, id)
		if again.State != models.Pending || again.Payload["k"] != "v" {
			t.Errorf("expected store to be unaffected, got %+v", again)
		}
	})

	t.Run("Queue", func(t *testing.T) {
		t.Run("Run Applies Dispatched Commands", func(t *testing.T) {
			s := newStore(Options{})
			id := s.CreatePending(models.JobRequest{})
			s.BindServerID(id, "42")

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- s.Run(ctx) }()

			if err := s.Dispatch(ctx, Command{ID: "42", Target: models.Ready, Source: "events"}); err != nil {
				t.Fatal(err)
			}
			tu.WaitFor(t, time.Second, "READY", func() bool {
				return mustGet(t, s, id).State == models.Ready
			})

			cancel()
			if err := <-done; !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		})

		t.Run("Run Drains On Cancel", func(t *testing.T) {
			s := newStore(Options{QueueSize: 4})
			id := s.CreatePending(models.JobRequest{})

			ctx := context.Background()
			s.Dispatch(ctx, Command{ID: id, Target: models.Processing})
			s.Dispatch(ctx, Command{ID: id, Target: models.Ready})

			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			s.Run(cancelled)

			if got := mustGet(t, s, id).State; got != models.Ready {
				t.Errorf("expected queued commands to be applied, got %v", got)
			}
		})

		t.Run("Dispatch Honors Context", func(t *testing.T) {
			s := newStore(Options{QueueSize: 1})
			ctx := context.Background()
			if err := s.Dispatch(ctx, Command{ID: "a", Target: models.Ready}); err != nil {
				t.Fatal(err)
			}

			full, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			if err := s.Dispatch(full, Command{ID: "b", Target: models.Ready}); !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("expected deadline exceeded on a full queue, got %v", err)
			}
		})
	})

	t.Run("SweepStale", func(t *testing.T) {
		base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
		now := base
		s := newStore(Options{Now: func() time.Time { return now }})

		pending := s.CreatePending(models.JobRequest{})
		processing := s.CreatePending(models.JobRequest{})
		ready := s.CreatePending(models.JobRequest{})
		s.Transition(processing, models.Processing)
		s.Transition(ready, models.Ready)
		now = base.Add(2 * time.Hour)
		fresh := s.CreatePending(models.JobRequest{})

		if got := s.SweepStale(0); got != 0 {
			t.Errorf("expected disabled sweep, got %d", got)
		}
		if got := s.SweepStale(time.Hour); got != 2 {
			t.Errorf("expected 2 failed jobs, got %d", got)
		}

		for id, expected := range map[string]models.State{
			pending:    models.Failed,
			processing: models.Failed,
			ready:      models.Ready,
			fresh:      models.Pending,
		} {
			if got := mustGet(t, s, id).State; got != expected {
				t.Errorf("%s: expected %v, got %v", id, expected, got)
			}
		}

		if got := s.Transition(pending, models.Ready); got != Applied {
			t.Errorf("expected late completion to override timeout, got %v", got)
		}
	})

	t.Run("Persistence", func(t *testing.T) {
		t.Run("Round Trip", func(t *testing.T) {
			p := tu.NewMemoryPersister()
			s := newStore(Options{Persister: p})

			id := s.CreatePending(models.JobRequest{Title: "clip", Platform: models.Reddit})
			s.BindServerID(id, "42")
			s.Transition("42", models.Ready)

			if p.Saves() != 3 {
				t.Errorf("expected a save per mutation, got %d", p.Saves())
			}

			restored := newStore(Options{Persister: p})
			if err := restored.Restore(context.Background()); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			job := mustGet(t, restored, "42")
			if job.TempID != id || job.State != models.Ready || job.Title != "clip" || job.Platform != models.Reddit {
				t.Errorf("unexpected restored job %+v", job)
			}
			if got := restored.Transition(id, models.Processing); got != NoOp {
				t.Errorf("expected restored state to hold, got %v", got)
			}
		})

		t.Run("No Snapshot", func(t *testing.T) {
			s := newStore(Options{Persister: tu.NewMemoryPersister()})
			if err := s.Restore(context.Background()); err != nil {
				t.Errorf("expected no error, got %v", err)
			}
			if len(s.List()) != 0 {
				t.Error("expected empty store")
			}
		})

		t.Run("Version Mismatch Discarded", func(t *testing.T) {
			p := tu.NewMemoryPersister()
			data, _ := json.Marshal(map[string]any{
				"version": 0,
				"jobs":    []map[string]any{{"temp_id": "t1", "state": "READY", "created_at": time.Now()}},
			})
			p.Save(context.Background(), SnapshotKey, 0, data)

			s := newStore(Options{Persister: p})
			if err := s.Restore(context.Background()); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(s.List()) != 0 {
				t.Errorf("expected old snapshot to be discarded, got %d jobs", len(s.List()))
			}
		})

		t.Run("Unreadable Snapshot Discarded", func(t *testing.T) {
			p := tu.NewMemoryPersister()
			p.Save(context.Background(), SnapshotKey, SnapshotVersion, []byte("{not json"))

			s := newStore(Options{Persister: p})
			if err := s.Restore(context.Background()); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(s.List()) != 0 {
				t.Error("expected empty store")
			}
		})

		t.Run("Retention", func(t *testing.T) {
			base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
			now := base
			p := tu.NewMemoryPersister()
			s := newStore(Options{Persister: p, Now: func() time.Time { return now }})

			old := s.CreatePending(models.JobRequest{Title: "old"})
			now = base.Add(6 * 24 * time.Hour)
			recent := s.CreatePending(models.JobRequest{Title: "recent"})

			now = base.Add(8 * 24 * time.Hour)
			restored := newStore(Options{Persister: p, Now: func() time.Time { return now }})
			if err := restored.Restore(context.Background()); err != nil {
				t.Fatal(err)
			}

			if _, ok := restored.Get(old); ok {
				t.Error("expected job older than retention to be dropped")
			}
			if _, ok := restored.Get(recent); !ok {
				t.Error("expected recent job to be restored")
			}
		})

		t.Run("Shared Persister", func(t *testing.T) {
			ctx := context.Background()

			t.Run("Keeps Jobs From Both Stores", func(t *testing.T) {
				p := tu.NewMemoryPersister()
				a := newStore(Options{Persister: p})
				b := newStore(Options{Persister: p})

				fromB := b.CreatePending(models.JobRequest{Title: "from b"})
				fromA := a.CreatePending(models.JobRequest{Title: "from a"})

				restored := newStore(Options{Persister: p})
				if err := restored.Restore(ctx); err != nil {
					t.Fatal(err)
				}
				for _, id := range []string{fromA, fromB} {
					if _, ok := restored.Get(id); !ok {
						t.Errorf("expected %s to survive", id)
					}
				}
				if _, ok := a.Get(fromB); !ok {
					t.Error("expected a to adopt the job b saved")
				}
			})

			t.Run("Stale Writer Does Not Regress", func(t *testing.T) {
				p := tu.NewMemoryPersister()
				a := newStore(Options{Persister: p})
				b := newStore(Options{Persister: p})

				id := b.CreatePending(models.JobRequest{})
				b.BindServerID(id, "42")
				a.CreatePending(models.JobRequest{})
				b.Transition("42", models.Ready)
				a.CreatePending(models.JobRequest{})

				restored := newStore(Options{Persister: p})
				if err := restored.Restore(ctx); err != nil {
					t.Fatal(err)
				}
				if got := mustGet(t, restored, "42").State; got != models.Ready {
					t.Errorf("expected READY to survive a's later write, got %v", got)
				}
				if got := mustGet(t, a, "42").State; got != models.Ready {
					t.Errorf("expected a to pick up READY, got %v", got)
				}
			})

			t.Run("Removal Wins", func(t *testing.T) {
				p := tu.NewMemoryPersister()
				a := newStore(Options{Persister: p})
				b := newStore(Options{Persister: p})

				id := b.CreatePending(models.JobRequest{})
				a.CreatePending(models.JobRequest{})
				if _, ok := a.Get(id); !ok {
					t.Fatal("expected a to adopt the job")
				}

				b.Remove(id)
				a.CreatePending(models.JobRequest{})

				if _, ok := a.Get(id); ok {
					t.Error("expected removal to reach a")
				}
				restored := newStore(Options{Persister: p})
				if err := restored.Restore(ctx); err != nil {
					t.Fatal(err)
				}
				if _, ok := restored.Get(id); ok {
					t.Error("expected removed job to stay removed")
				}
				if len(restored.List()) != 2 {
					t.Errorf("expected 2 jobs, got %d", len(restored.List()))
				}
			})

			t.Run("Reload Notifies", func(t *testing.T) {
				p := tu.NewMemoryPersister()
				a := newStore(Options{Persister: p})
				b := newStore(Options{Persister: p})

				var changes []Change
				a.Subscribe(func(c Change) { changes = append(changes, c) })

				id := b.CreatePending(models.JobRequest{})
				b.BindServerID(id, "7")
				b.Transition("7", models.Processing)

				if err := a.Reload(ctx); err != nil {
					t.Fatal(err)
				}
				if got := mustGet(t, a, "7"); got.TempID != id || got.State != models.Processing {
					t.Errorf("unexpected reloaded job %+v", got)
				}
				if len(changes) != 1 || changes[0].Kind != Created {
					t.Errorf("expected one Created change, got %+v", changes)
				}

				if err := a.Reload(ctx); err != nil {
					t.Fatal(err)
				}
				if len(changes) != 1 {
					t.Errorf("expected an unchanged snapshot to notify nothing, got %d changes", len(changes))
				}
			})
		})

		t.Run("Save Failure Keeps State", func(t *testing.T) {
			p := tu.NewMemoryPersister()
			p.SaveErr = errors.New("disk full")
			s := newStore(Options{Persister: p})

			id := s.CreatePending(models.JobRequest{})
			if got := s.Transition(id, models.Ready); got != Applied {
				t.Errorf("expected Applied, got %v", got)
			}
		})
	})
}
