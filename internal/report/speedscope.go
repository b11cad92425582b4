package report

import (
	"errors"
	"fmt"

	"github.com/getsentry/lprofile/internal/resolver"
	"github.com/getsentry/lprofile/internal/session"
	"github.com/getsentry/lprofile/internal/speedscope"
)

// ErrNoTimeline is returned when a result was produced without a timeline.
var ErrNoTimeline = errors.New("report: result has no timeline")

const exporter = "lprofile"

// Speedscope converts the timeline of a result into an evented profile.
func Speedscope(res session.Result) (speedscope.Output, error) {
	if len(res.Timeline) == 0 {
		return speedscope.Output{}, ErrNoTimeline
	}

	frames := make([]speedscope.Frame, 0, len(res.Entries))
	frameIndex := make(map[resolver.Identity]int, len(res.Entries))
	for _, e := range Sort(res.Entries, ByLabel) {
		frameIndex[e.Identity] = len(frames)
		frames = append(frames, speedscope.Frame{
			Name:          e.Label,
			IsApplication: !e.Native,
		})
	}

	prof := &speedscope.EventedProfile{
		EndValue:   res.TotalNS,
		Events:     make([]speedscope.Event, 0, len(res.Timeline)),
		Name:       "main",
		StartValue: 0,
		Type:       speedscope.ProfileTypeEvented,
		Unit:       speedscope.ValueUnitNanoseconds,
	}
	for _, te := range res.Timeline {
		i, ok := frameIndex[te.Identity]
		if !ok {
			// a frame opened by the timeline but never recorded in the
			// statistics, we still want to render it
			i = len(frames)
			frameIndex[te.Identity] = i
			frames = append(frames, speedscope.Frame{
				Name: fmt.Sprintf("unknown (identity %d)", te.Identity),
			})
		}
		var et speedscope.EventType
		switch te.Type {
		case session.TimelineOpen:
			et = speedscope.EventTypeOpenFrame
		case session.TimelineClose:
			et = speedscope.EventTypeCloseFrame
		default:
			return speedscope.Output{}, fmt.Errorf("report: invalid timeline event type %q", te.Type)
		}
		prof.Events = append(prof.Events, speedscope.Event{
			Type:  et,
			Frame: i,
			At:    te.AtNS,
		})
	}

	return speedscope.Output{
		Schema:     speedscope.Schema,
		DurationNS: res.TotalNS,
		Exporter:   exporter,
		Name:       res.ID,
		ProfileID:  res.ID,
		Profiles:   []interface{}{prof},
		Shared:     speedscope.SharedData{Frames: frames},
	}, nil
}
