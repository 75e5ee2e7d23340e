// Package ingest validates recorder uploads and turns them into persisted,
// broadcast transmissions.
package ingest

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trunkwatch/trunkwatch/errs"
	"github.com/trunkwatch/trunkwatch/internal/history"
	"github.com/trunkwatch/trunkwatch/internal/observability"
	"github.com/trunkwatch/trunkwatch/internal/schema"
)

// importNamespace seeds deterministic transmission IDs so a recorder retry
// of the same upload maps to the same ID.
var importNamespace = uuid.MustParse("5c0c86d1-9f37-4b63-a6b4-21c86f8b97ae")

// SourceRef is one entry of a recorder's srcList: a transmitting unit.
type SourceRef struct {
	Src int `json:"src"`
}

// ImportRequest is the recorder upload payload.
type ImportRequest struct {
	ID                  string      `json:"id,omitempty"`
	System              string      `json:"system"`
	Talkgroup           int         `json:"talkgroup"`
	StartTime           float64     `json:"start_time"`
	StopTime            float64     `json:"stop_time"`
	AudioFilename       string      `json:"audio_filename"`
	AudioFileURLPath    string      `json:"audio_file_url_path,omitempty"`
	AudioFileType       string      `json:"audio_file_type,omitempty"`
	AudioFilePlayLength float64     `json:"audio_file_play_length,omitempty"`
	HasAudio            *bool       `json:"has_audio,omitempty"`
	Emergency           bool        `json:"emergency,omitempty"`
	Freq                int64       `json:"freq,omitempty"`
	SrcList             []SourceRef `json:"srcList,omitempty"`
}

// Result reports the outcome of one import.
type Result struct {
	TransmissionID uuid.UUID `json:"transmission_id"`
	Created        bool      `json:"created"`
}

// Catalog resolves talkgroup and unit references, creating placeholder
// records on first sight so uploads never fail on unknown radios.
type Catalog interface {
	EnsureTalkgroup(ctx context.Context, system string, decID int) (schema.Talkgroup, error)
	EnsureUnit(ctx context.Context, system string, decID int) (schema.Unit, error)
}

// Publisher receives each newly created transmission exactly once.
type Publisher interface {
	Publish(tx schema.Transmission)
}

// Gateway is the single entry point for recorder uploads. Persistence
// happens before publication; duplicate IDs are acknowledged without a
// second broadcast.
type Gateway struct {
	catalog   Catalog
	archive   history.Archive
	publisher Publisher
	metrics   *ingestMetrics
}

// NewGateway wires the import pipeline.
func NewGateway(catalog Catalog, archive history.Archive, publisher Publisher) *Gateway {
	return &Gateway{
		catalog:   catalog,
		archive:   archive,
		publisher: publisher,
		metrics:   newIngestMetrics(),
	}
}

// Import validates, persists, and publishes one upload. Validation failures
// return *errs.E with CodeInvalid and a narrow reason; nothing is persisted
// or broadcast for a rejected upload.
func (g *Gateway) Import(ctx context.Context, req ImportRequest) (Result, error) {
	if err := validate(req); err != nil {
		g.metrics.rejected(req.System)
		return Result{}, err
	}

	talkgroup, err := g.catalog.EnsureTalkgroup(ctx, strings.TrimSpace(req.System), req.Talkgroup)
	if err != nil {
		g.metrics.failed(req.System)
		return Result{}, errs.New("ingest", errs.CodeUnavailable,
			errs.WithMessage("resolve talkgroup"), errs.WithCause(err))
	}

	unitSlugs := make([]string, 0, len(req.SrcList))
	for _, ref := range req.SrcList {
		if ref.Src <= 0 {
			continue
		}
		unit, err := g.catalog.EnsureUnit(ctx, strings.TrimSpace(req.System), ref.Src)
		if err != nil {
			g.metrics.failed(req.System)
			return Result{}, errs.New("ingest", errs.CodeUnavailable,
				errs.WithMessage("resolve unit"), errs.WithCause(err))
		}
		unitSlugs = append(unitSlugs, unit.Slug)
	}

	tx, err := buildTransmission(req, talkgroup, unitSlugs)
	if err != nil {
		g.metrics.rejected(req.System)
		return Result{}, err
	}

	created, err := g.archive.Append(ctx, tx)
	if err != nil {
		g.metrics.failed(req.System)
		return Result{}, errs.New("ingest", errs.CodeUnavailable,
			errs.WithMessage("persist transmission"), errs.WithCause(err))
	}
	if !created {
		// Retried upload: acknowledge without broadcasting again.
		g.metrics.duplicate(req.System)
		return Result{TransmissionID: tx.ID, Created: false}, nil
	}

	g.publisher.Publish(tx)
	g.metrics.accepted(req.System)
	observability.Log().Info("transmission imported",
		observability.Field{Key: "id", Value: tx.ID.String()},
		observability.Field{Key: "system", Value: tx.System},
		observability.Field{Key: "talkgroup", Value: tx.TalkgroupSlug})
	return Result{TransmissionID: tx.ID, Created: true}, nil
}

func validate(req ImportRequest) error {
	if strings.TrimSpace(req.System) == "" {
		return errs.Rejection(errs.ReasonMissingSystem, "system is required")
	}
	if req.Talkgroup <= 0 {
		return errs.Rejection(errs.ReasonBadTalkgroup, "talkgroup must be a positive decimal ID")
	}
	if req.StartTime <= 0 || math.IsNaN(req.StartTime) || math.IsInf(req.StartTime, 0) {
		return errs.Rejection(errs.ReasonBadTimestamp, "start_time must be a positive epoch timestamp")
	}
	if req.StopTime < req.StartTime || math.IsNaN(req.StopTime) || math.IsInf(req.StopTime, 0) {
		return errs.Rejection(errs.ReasonBadTimestamp, "stop_time must not precede start_time")
	}
	hasAudio := req.HasAudio == nil || *req.HasAudio
	if hasAudio && strings.TrimSpace(req.AudioFilename) == "" {
		return errs.Rejection(errs.ReasonMissingAudio, "audio_filename is required unless has_audio is false")
	}
	if req.ID != "" {
		if _, err := uuid.Parse(req.ID); err != nil {
			return errs.Rejection(errs.ReasonUnknown, "id must be a UUID")
		}
	}
	return nil
}

func buildTransmission(req ImportRequest, talkgroup schema.Talkgroup, unitSlugs []string) (schema.Transmission, error) {
	id, err := transmissionID(req)
	if err != nil {
		return schema.Transmission{}, err
	}

	urlPath := req.AudioFileURLPath
	if urlPath == "" {
		urlPath = "/"
	}
	audioType := req.AudioFileType
	if audioType == "" {
		audioType = "mp3"
	}
	hasAudio := req.HasAudio == nil || *req.HasAudio

	return schema.Transmission{
		ID:              id,
		System:          strings.TrimSpace(req.System),
		TalkgroupID:     talkgroup.DecimalID,
		TalkgroupSlug:   talkgroup.Slug,
		TalkgroupPublic: talkgroup.Public,
		UnitSlugs:       unitSlugs,
		StartTime:       epochTime(req.StartTime),
		EndTime:         epochTime(req.StopTime),
		PlayLength:      req.AudioFilePlayLength,
		AudioFile:       strings.TrimSpace(req.AudioFilename),
		AudioURLPath:    urlPath,
		AudioType:       audioType,
		HasAudio:        hasAudio,
		Emergency:       req.Emergency,
		Frequency:       req.Freq,
	}, nil
}

// transmissionID honors a caller-supplied UUID, otherwise derives one from
// the upload's natural key so retries converge on the same record.
func transmissionID(req ImportRequest) (uuid.UUID, error) {
	if req.ID != "" {
		return uuid.Parse(req.ID)
	}
	key := fmt.Sprintf("%s|%d|%.3f|%s",
		strings.TrimSpace(req.System), req.Talkgroup, req.StartTime, strings.TrimSpace(req.AudioFilename))
	return uuid.NewSHA1(importNamespace, []byte(key)), nil
}

func epochTime(seconds float64) time.Time {
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}
