package service

import (
	"testing"
	"time"

	"github.com/mdario971/cactus-flasher/internal/models"
)

func TestFlashTracker_Lifecycle(t *testing.T) {
	tr := NewFlashTracker()
	op := tr.Create("node")
	if len(op.FlashID) != 8 || op.Status != models.FlashPending || op.Progress != 0 {
		t.Fatalf("created = %+v", op)
	}

	tr.Begin(op.FlashID, "Preparing upload...")
	steps := []struct {
		in, want int
	}{{10, 10}, {40, 40}, {25, 40}, {100, 99}, {-5, 99}}
	for _, s := range steps {
		tr.Progress(op.FlashID, s.in, "")
		got, _ := tr.Get(op.FlashID)
		if got.Progress != s.want {
			t.Fatalf("Progress(%d) -> %d; want %d", s.in, got.Progress, s.want)
		}
		if got.Status != models.FlashUploading {
			t.Fatalf("status = %s", got.Status)
		}
	}

	tr.Succeed(op.FlashID, "done")
	got, _ := tr.Get(op.FlashID)
	if got.Status != models.FlashSuccess || got.Progress != 100 {
		t.Fatalf("after success = %+v", got)
	}

	tr.Fail(op.FlashID, "timeout", "late failure")
	tr.Progress(op.FlashID, 5, "late progress")
	if again, _ := tr.Get(op.FlashID); again != got {
		t.Fatalf("terminal operation changed: %+v", again)
	}
}

func TestFlashTracker_FailNeverReportsComplete(t *testing.T) {
	tr := NewFlashTracker()
	op := tr.Create("node")
	tr.Progress(op.FlashID, 99, "almost")
	tr.Fail(op.FlashID, "rejected", "Flash failed (OTA:8201): HTTP 400 - bad md5")

	got, ok := tr.Get(op.FlashID)
	if !ok || got.Status != models.FlashFailed || got.Progress == 100 || got.Failure != "rejected" {
		t.Fatalf("failed op = %+v", got)
	}
}

func TestFlashTracker_ListNewestFirstAndEviction(t *testing.T) {
	tr := NewFlashTracker()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	tr.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}

	running := tr.Create("busy")
	var first string
	for i := 0; i < historyCap+5; i++ {
		op := tr.Create("node")
		if i == 0 {
			first = op.FlashID
		}
		tr.Succeed(op.FlashID, "ok")
	}

	list := tr.List()
	if len(list) != historyCap {
		t.Fatalf("len = %d; want %d", len(list), historyCap)
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Fatal("list not newest first")
		}
	}
	if _, ok := tr.Get(running.FlashID); !ok {
		t.Fatal("running operation evicted")
	}
	if _, ok := tr.Get(first); ok {
		t.Fatal("oldest finished operation kept")
	}
}

func TestBuildTracker_Lifecycle(t *testing.T) {
	tr := NewBuildTracker()
	op := tr.Create(models.ProjectESPHome, "esp32")
	if op.Status != models.BuildPending {
		t.Fatalf("created = %+v", op)
	}
	tr.Begin(op.BuildID)
	if got, _ := tr.Get(op.BuildID); got.Status != models.BuildBuilding {
		t.Fatalf("status = %s", got.Status)
	}
	tr.Fail(op.BuildID, "Compilation failed", "error: x")
	tr.Succeed(op.BuildID, "/tmp/fw.bin", "")

	got, _ := tr.Get(op.BuildID)
	if got.Status != models.BuildFailed || got.Logs != "error: x" || got.FirmwarePath != "" {
		t.Fatalf("after fail = %+v", got)
	}
	if _, ok := tr.Get("nope"); ok {
		t.Fatal("unknown id found")
	}
}
