package pulses

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	pserrors "github.com/pulseshrine/pulseshrine-go-rewrite/internal/errors"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/models"
	"github.com/pulseshrine/pulseshrine-go-rewrite/internal/store"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	cfg := store.DefaultSQLiteConfig(t.TempDir())
	s, err := store.NewSQLite(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	repo, err := NewRepository(s, Tables{
		Started:  "started_pulses",
		Stopped:  "stopped_pulses",
		Ingested: "ingested_pulses",
	})
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return repo
}

func startPulse(t *testing.T, repo *Repository, userID string) *models.StartedPulse {
	t.Helper()
	p, err := repo.Start(context.Background(), &models.StartedPulse{
		UserID:          userID,
		Intent:          "deep work on parser",
		DurationSeconds: 3600,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return p
}

func TestStartAssignsIDAndRejectsSecond(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	p := startPulse(t, repo, "alice")
	if _, err := uuid.Parse(p.PulseID); err != nil {
		t.Fatalf("pulse id %q is not a UUID: %v", p.PulseID, err)
	}
	if p.StartTime.IsZero() {
		t.Fatal("expected start time to be set")
	}

	_, err := repo.Start(ctx, &models.StartedPulse{
		UserID:          "alice",
		Intent:          "second pulse",
		DurationSeconds: 600,
	})
	if pserrors.KindOf(err) != pserrors.KindAlreadyStarted {
		t.Fatalf("expected already_started, got %v", err)
	}

	// The stored pulse is the first one.
	got, err := repo.GetStarted(ctx, "alice")
	if err != nil {
		t.Fatalf("get started: %v", err)
	}
	if got.PulseID != p.PulseID {
		t.Errorf("stored pulse changed: %s != %s", got.PulseID, p.PulseID)
	}
}

func TestStartValidation(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Start(context.Background(), &models.StartedPulse{
		UserID:          "bob",
		Intent:          "",
		DurationSeconds: 600,
	})
	if pserrors.KindOf(err) != pserrors.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStopMovesPulse(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	started := startPulse(t, repo, "carol")
	stopped, err := repo.Stop(ctx, "carol", "finished the draft", "satisfied")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.PulseID != started.PulseID {
		t.Errorf("pulse id changed on stop")
	}
	if stopped.Reflection != "finished the draft" {
		t.Errorf("reflection not captured")
	}
	if stopped.StoppedAt.IsZero() {
		t.Error("stopped_at not set")
	}

	// Active pulse is gone; a new one can start.
	if _, err := repo.GetStarted(ctx, "carol"); pserrors.KindOf(err) != pserrors.KindNotStarted {
		t.Fatalf("expected not_started after stop, got %v", err)
	}
	startPulse(t, repo, "carol")

	// The stopped record is retrievable by pulse id.
	got, err := repo.GetStopped(ctx, stopped.PulseID)
	if err != nil {
		t.Fatalf("get stopped: %v", err)
	}
	if got.Intent != started.Intent {
		t.Errorf("stopped pulse lost intent")
	}
}

func TestStopWithoutActivePulse(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Stop(context.Background(), "nobody", "reflection", "")
	if pserrors.KindOf(err) != pserrors.KindNotStarted {
		t.Fatalf("expected not_started, got %v", err)
	}
}

func TestStopRequiresReflection(t *testing.T) {
	repo := newTestRepo(t)
	startPulse(t, repo, "dave")
	_, err := repo.Stop(context.Background(), "dave", "   ", "")
	if pserrors.KindOf(err) != pserrors.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStopRejectsOversizedReflection(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	startPulse(t, repo, "erin")

	long := strings.Repeat("x", models.MaxReflectionChars+1)
	_, err := repo.Stop(ctx, "erin", long, "")
	if pserrors.KindOf(err) != pserrors.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	// A rejected stop leaves the pulse active, so a valid stop still works.
	if _, err := repo.GetStarted(ctx, "erin"); err != nil {
		t.Fatalf("active pulse lost after rejected stop: %v", err)
	}
	if _, err := repo.Stop(ctx, "erin", "wrapped up the refactor", ""); err != nil {
		t.Fatalf("stop after rejection: %v", err)
	}
}

func archiveStopped(t *testing.T, repo *Repository, stopped *models.StoppedPulse, title string) *models.ArchivedPulse {
	t.Helper()
	archived := &models.ArchivedPulse{
		StoppedPulse: *stopped,
		GenTitle:     title,
		GenBadge:     "🌟 focused",
	}
	if err := repo.Archive(context.Background(), archived); err != nil {
		t.Fatalf("archive: %v", err)
	}
	return archived
}

func TestArchiveIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	startPulse(t, repo, "erin")
	stopped, err := repo.Stop(ctx, "erin", "wrapped up", "")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	archived := archiveStopped(t, repo, stopped, "First Title")

	// Redelivery: archive again with a different title. The conflict is
	// reported and the stored record keeps the first enrichment.
	dup := *archived
	dup.GenTitle = "Second Title"
	err = repo.Archive(ctx, &dup)
	if pserrors.KindOf(err) != pserrors.KindConflict {
		t.Fatalf("expected conflict on re-archive, got %v", err)
	}

	list, err := repo.ListArchived(ctx, "erin", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 archived pulse, got %d", len(list))
	}
	if list[0].GenTitle != "First Title" {
		t.Errorf("redelivery overwrote archive: %s", list[0].GenTitle)
	}
}

func TestListArchivedNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		repo.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		started := startPulse(t, repo, "frank")
		stopped, err := repo.Stop(ctx, "frank", "done", "")
		if err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
		archiveStopped(t, repo, stopped, "t")
		ids = append(ids, started.PulseID)
	}

	list, err := repo.ListArchived(ctx, "frank", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 pulses, got %d", len(list))
	}
	// Newest first: reverse of insertion order.
	for i, p := range list {
		want := ids[len(ids)-1-i]
		if p.PulseID != want {
			t.Errorf("position %d: got %s want %s", i, p.PulseID, want)
		}
	}

	// Limit clamps.
	one, err := repo.ListArchived(ctx, "frank", 1)
	if err != nil {
		t.Fatalf("list limit 1: %v", err)
	}
	if len(one) != 1 || one[0].PulseID != ids[2] {
		t.Error("limit 1 should return only the newest pulse")
	}
}
