package main

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/getsentry/lprofile/internal/profile"
)

type (
	KafkaWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafka.Message) error
		Close() error
	}

	// ProfileKafkaMessage is what we publish for every processed trace.
	ProfileKafkaMessage struct {
		DurationNS       uint64 `json:"duration_ns"`
		Environment      string `json:"environment,omitempty"`
		Error            string `json:"error,omitempty"`
		Functions        int    `json:"functions"`
		ID               string `json:"profile_id"`
		MaxDepth         int    `json:"max_depth"`
		OrganizationID   uint64 `json:"organization_id"`
		ProjectID        uint64 `json:"project_id"`
		Received         int64  `json:"received"`
		ResolverFailures uint64 `json:"resolver_failures"`
		Underflows       uint64 `json:"underflows"`
	}
)

func buildProfileKafkaMessage(p profile.Profile) ProfileKafkaMessage {
	d := p.Result.Diagnostics
	return ProfileKafkaMessage{
		DurationNS:       p.DurationNS(),
		Environment:      p.Environment,
		Error:            p.Error,
		Functions:        len(p.Result.Entries),
		ID:               p.ID,
		MaxDepth:         d.MaxDepth,
		OrganizationID:   p.OrganizationID,
		ProjectID:        p.ProjectID,
		Received:         p.Received.Unix(),
		ResolverFailures: d.ResolverFailures,
		Underflows:       d.Underflows,
	}
}
