package console

import "testing"

func TestJobListSortByStatus(t *testing.T) {
	l := NewJobList().SetJobs([]JobView{
		{JobID: 1, Status: "completed"},
		{JobID: 2, Status: "processing"},
		{JobID: 3, Status: "queued"},
	})
	l = l.ToggleSort(SortByStatus)

	jobs := l.Jobs()
	if jobs[0].Status != "processing" {
		t.Fatalf("expected processing first, got %s", jobs[0].Status)
	}
	if jobs[len(jobs)-1].Status != "completed" {
		t.Fatalf("expected completed last, got %s", jobs[len(jobs)-1].Status)
	}
}

func TestJobListToggleSortFlipsOrder(t *testing.T) {
	l := NewJobList().SetJobs([]JobView{
		{JobID: 1, Priority: "low"},
		{JobID: 2, Priority: "critical"},
	})
	l = l.ToggleSort(SortByPriority)
	if l.Jobs()[0].Priority != "critical" {
		t.Fatalf("expected critical first ascending")
	}
	l = l.ToggleSort(SortByPriority)
	if l.Jobs()[0].Priority != "low" {
		t.Fatalf("expected low first after toggling to descending")
	}
}

func TestJobListMoveWraps(t *testing.T) {
	l := NewJobList()
	if got := l.MoveDown(2, 3); got != 0 {
		t.Fatalf("expected wrap to 0, got %d", got)
	}
	if got := l.MoveUp(0); got != 0 {
		t.Fatalf("expected clamp at 0, got %d", got)
	}
}

func TestJobListCountByStatus(t *testing.T) {
	l := NewJobList().SetJobs([]JobView{
		{Status: "queued"},
		{Status: "queued"},
		{Status: "failed"},
	})
	counts := l.CountByStatus()
	if counts["queued"] != 2 || counts["failed"] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestFilterStateApplyByStatusAndText(t *testing.T) {
	jobs := []JobView{
		{JobID: 1, UUID: "alpha", Status: "queued"},
		{JobID: 2, UUID: "beta", Status: "failed"},
	}

	f := NewFilterState().SetStatusFilter("queued")
	result := f.Apply(jobs)
	if len(result) != 1 || result[0].JobID != 1 {
		t.Fatalf("expected only job 1, got %+v", result)
	}

	f2 := NewFilterState()
	f2.filterText = "bet"
	result2 := f2.Apply(jobs)
	if len(result2) != 1 || result2[0].JobID != 2 {
		t.Fatalf("expected only job 2, got %+v", result2)
	}
}

func TestFilterStateHasFilter(t *testing.T) {
	f := NewFilterState()
	if f.HasFilter() {
		t.Fatal("fresh filter should report no filter")
	}
	f = f.SetStatusFilter("failed")
	if !f.HasFilter() {
		t.Fatal("expected HasFilter after SetStatusFilter")
	}
	f = f.Clear()
	if f.HasFilter() {
		t.Fatal("expected Clear to reset HasFilter")
	}
}
