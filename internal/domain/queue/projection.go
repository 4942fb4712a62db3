// Package queue serves per-station work lists derived from encounter state.
// Nothing is stored; every call reads the encounter table.
package queue

import (
	"context"
	"time"

	"github.com/sunflower/clinic/internal/domain/encounter"
	"github.com/sunflower/clinic/internal/platform/apperr"
	"github.com/sunflower/clinic/internal/platform/telemetry"
)

// Source is the encounter query the projection is built on.
type Source interface {
	ListQueue(ctx context.Context, f encounter.QueueFilter) ([]*encounter.Encounter, error)
}

// Clock supplies the clinic's current intake day.
type Clock interface {
	Today() string
}

type Projection struct {
	src     Source
	clock   Clock
	metrics *telemetry.Metrics
}

func NewProjection(src Source, clock Clock, metrics *telemetry.Metrics) *Projection {
	return &Projection{src: src, clock: clock, metrics: metrics}
}

// DateFor resolves a queue date parameter. Empty means every intake day, so
// patients still waiting from an earlier day stay visible; "today" is the
// clinic's current day.
func (p *Projection) DateFor(raw string) (string, error) {
	switch raw {
	case "":
		return "", nil
	case "today":
		return p.clock.Today(), nil
	}
	if _, err := time.Parse(time.DateOnly, raw); err != nil {
		return "", apperr.Validation("date must be YYYY-MM-DD or today").WithDetail("date", raw)
	}
	return raw, nil
}

// ListQueue returns the encounters waiting at or held by q.Station, oldest
// intake first, optionally limited to one intake day. The doctor filter only
// applies to the doctor station and keeps unassigned encounters visible.
func (p *Projection) ListQueue(ctx context.Context, q encounter.QueueQuery) ([]*encounter.Encounter, error) {
	if q.Station.Role() == "" {
		return nil, apperr.Validation("unknown station %q", q.Station)
	}
	date, err := p.DateFor(q.Date)
	if err != nil {
		return nil, err
	}

	f := encounter.QueueFilter{
		Statuses:     q.Station.OwnedStatuses(),
		HeldBy:       q.Station,
		IntakeDate:   date,
		DepartmentID: q.DepartmentID,
	}
	if q.Station == encounter.StationDoctor {
		f.DoctorID = q.DoctorID
	}
	items, err := p.src.ListQueue(ctx, f)
	if err != nil {
		return nil, err
	}
	if date == "" && q.DepartmentID == nil && f.DoctorID == "" {
		p.metrics.SetQueueDepth(string(q.Station), len(items))
	}
	return items, nil
}
