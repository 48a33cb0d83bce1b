package audit

import (
	"context"
	"strings"
	"testing"

	"apk-portal/internal/testutil"
)

func TestRecorder_Record(t *testing.T) {
	rec := NewRecorder(testutil.NewDB(t), testutil.Logger())
	ctx := context.Background()

	rec.Record(ctx, Event{ActorType: ActorAdmin, ActorID: ID(1), Action: "create_version", TargetType: "version", TargetID: ID(7)})
	rec.Record(ctx, Event{Action: "confirm_overwrite", TargetType: "revision", UserAgent: strings.Repeat("a", 400)})

	rows, err := rec.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].Action != "confirm_overwrite" || rows[0].ActorType != ActorSystem {
		t.Errorf("Unexpected newest row: %+v", rows[0])
	}
	if len(rows[0].UserAgent) != 255 {
		t.Errorf("Expected user agent truncated to 255, got %d", len(rows[0].UserAgent))
	}
	if rows[1].TargetID == nil || *rows[1].TargetID != 7 {
		t.Errorf("Expected target id 7, got %v", rows[1].TargetID)
	}
}

func TestRecorder_RecordDownload(t *testing.T) {
	rec := NewRecorder(testutil.NewDB(t), testutil.Logger())
	ctx := context.Background()

	rec.RecordDownload(ctx, Download{RevisionID: 3, ApplicationID: 1, Version: "1.0.0", IP: "10.0.0.1"})
	rec.RecordDownload(ctx, Download{RevisionID: 3, ApplicationID: 1, Version: "1.0.0"})
	rec.RecordDownload(ctx, Download{RevisionID: 4, ApplicationID: 1, Version: "1.0.1"})

	n, err := rec.Downloads(ctx, 3)
	if err != nil {
		t.Fatalf("Downloads failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 downloads, got %d", n)
	}
}
