package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/trunkwatch/trunkwatch/errs"
	"github.com/trunkwatch/trunkwatch/internal/history"
	"github.com/trunkwatch/trunkwatch/internal/schema"
)

type capturePublisher struct {
	mu        sync.Mutex
	published []schema.Transmission
}

func (p *capturePublisher) Publish(tx schema.Transmission) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, tx)
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func validRequest() ImportRequest {
	now := float64(time.Now().Unix())
	return ImportRequest{
		System:              "county",
		Talkgroup:           1001,
		StartTime:           now,
		StopTime:            now + 12.5,
		AudioFilename:       "county-1001-1.mp3",
		AudioFilePlayLength: 12.5,
		SrcList:             []SourceRef{{Src: 70}, {Src: 71}},
	}
}

func newTestGateway() (*Gateway, *history.MemoryArchive, *capturePublisher) {
	archive := history.NewMemoryArchive()
	pub := &capturePublisher{}
	return NewGateway(NewMemoryCatalog(), archive, pub), archive, pub
}

func TestImportPersistsThenPublishes(t *testing.T) {
	g, archive, pub := newTestGateway()
	res, err := g.Import(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !res.Created {
		t.Fatalf("created = false for first import")
	}
	if got := pub.count(); got != 1 {
		t.Fatalf("published %d times, want 1", got)
	}
	items, err := archive.FetchRecent(context.Background(), schema.GlobalScope(), time.Time{}, 10)
	if err != nil || len(items) != 1 {
		t.Fatalf("archive holds %d items (%v), want 1", len(items), err)
	}
	tx := items[0]
	if tx.ID != res.TransmissionID {
		t.Fatalf("archive ID %s, result ID %s", tx.ID, res.TransmissionID)
	}
	if tx.TalkgroupSlug == "" || len(tx.UnitSlugs) != 2 {
		t.Fatalf("catalog references not resolved: %+v", tx)
	}
	if tx.AudioType != "mp3" || tx.AudioURLPath != "/" {
		t.Fatalf("defaults not applied: %+v", tx)
	}
}

func TestImportRetryIsIdempotent(t *testing.T) {
	g, _, pub := newTestGateway()
	req := validRequest()

	first, err := g.Import(context.Background(), req)
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	second, err := g.Import(context.Background(), req)
	if err != nil {
		t.Fatalf("retried import: %v", err)
	}
	if second.Created {
		t.Fatalf("retry reported created")
	}
	if first.TransmissionID != second.TransmissionID {
		t.Fatalf("retry produced a different ID: %s vs %s", first.TransmissionID, second.TransmissionID)
	}
	if got := pub.count(); got != 1 {
		t.Fatalf("published %d times across retry, want 1", got)
	}
}

func TestImportValidationReasons(t *testing.T) {
	g, _, pub := newTestGateway()

	cases := []struct {
		name   string
		mutate func(*ImportRequest)
		reason errs.Reason
	}{
		{"missing system", func(r *ImportRequest) { r.System = "  " }, errs.ReasonMissingSystem},
		{"zero talkgroup", func(r *ImportRequest) { r.Talkgroup = 0 }, errs.ReasonBadTalkgroup},
		{"negative talkgroup", func(r *ImportRequest) { r.Talkgroup = -5 }, errs.ReasonBadTalkgroup},
		{"zero start", func(r *ImportRequest) { r.StartTime = 0 }, errs.ReasonBadTimestamp},
		{"inverted range", func(r *ImportRequest) { r.StopTime = r.StartTime - 1 }, errs.ReasonBadTimestamp},
		{"missing audio", func(r *ImportRequest) { r.AudioFilename = "" }, errs.ReasonMissingAudio},
		{"bad id", func(r *ImportRequest) { r.ID = "not-a-uuid" }, errs.ReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			_, err := g.Import(context.Background(), req)
			var e *errs.E
			if !errors.As(err, &e) {
				t.Fatalf("error type %T, want *errs.E", err)
			}
			if e.Code != errs.CodeInvalid || e.Reason != tc.reason {
				t.Fatalf("got code=%s reason=%s, want invalid_request/%s", e.Code, e.Reason, tc.reason)
			}
		})
	}
	if got := pub.count(); got != 0 {
		t.Fatalf("rejected imports were published %d times", got)
	}
}

func TestImportWithoutAudioDeclared(t *testing.T) {
	g, _, _ := newTestGateway()
	req := validRequest()
	noAudio := false
	req.HasAudio = &noAudio
	req.AudioFilename = ""
	res, err := g.Import(context.Background(), req)
	if err != nil {
		t.Fatalf("import without audio: %v", err)
	}
	if !res.Created {
		t.Fatalf("created = false")
	}
}

func TestImportArchiveFailureIsUnavailable(t *testing.T) {
	pub := &capturePublisher{}
	g := NewGateway(NewMemoryCatalog(), failingArchive{}, pub)
	_, err := g.Import(context.Background(), validRequest())
	var e *errs.E
	if !errors.As(err, &e) || e.Code != errs.CodeUnavailable {
		t.Fatalf("got %v, want unavailable envelope", err)
	}
	if got := pub.count(); got != 0 {
		t.Fatalf("published despite persistence failure")
	}
}

type failingArchive struct{}

func (failingArchive) Append(context.Context, schema.Transmission) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingArchive) AttachTranscription(context.Context, schema.Transcription) error {
	return errors.New("connection refused")
}

func (failingArchive) FetchRecent(context.Context, schema.ScopeKey, time.Time, int) ([]schema.Transmission, error) {
	return nil, errors.New("connection refused")
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"County Fire 2":   "county-fire-2",
		"  EMS / Ops  ":   "ems-ops",
		"already-slugged": "already-slugged",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
