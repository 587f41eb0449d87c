package dataservice

import (
	"context"
	"strings"
	"time"

	"github.com/celerix-dev/socialboost-store/pkg/engine"
	"github.com/celerix-dev/socialboost-store/pkg/schema"
	"go.uber.org/zap"
)

// noFacts is the grounding text used when the knowledge base is empty.
const noFacts = "No specific facts. Use general market logic."

// GroundingContext renders the knowledge base as prompt lines for the AI
// collaborator, one fact per line.
func (s *Service) GroundingContext(ctx context.Context) (string, error) {
	facts, err := s.GetKnowledgeFacts(ctx)
	if err != nil {
		return "", err
	}
	if len(facts) == 0 {
		return noFacts, nil
	}

	var b strings.Builder
	for i, f := range facts {
		if i > 0 {
			b.WriteByte('\n')
		}
		verified := f.LastVerifiedAt
		if verified == "" {
			verified = "N/A"
		}
		b.WriteString("- " + strings.ToUpper(f.Category) + " (Updated: " + verified + "): " + f.Content)
	}
	return b.String(), nil
}

// ConnectionResult is the outcome of TestConnection.
type ConnectionResult struct {
	Success   bool          `json:"success"`
	Latency   time.Duration `json:"latency"`
	LocalOnly bool          `json:"localOnly"`
}

// TestConnection measures a round trip to the remote store. An unreachable
// remote is not a failure: the service keeps working local-only.
func (s *Service) TestConnection(ctx context.Context) ConnectionResult {
	latency, err := s.mirror.Ping(ctx)
	if err != nil {
		s.log.Debug("Remote store unreachable", zap.Error(err))
		return ConnectionResult{Success: true, LocalOnly: true}
	}
	return ConnectionResult{Success: true, Latency: latency}
}

// Stats summarizes what the local store holds.
type Stats struct {
	Users      []schema.User    `json:"users"`
	Profiles   []schema.Profile `json:"profiles"`
	PostCount  int              `json:"postCount"`
	MediaCount int              `json:"mediaCount"`
	DBName     string           `json:"dbName"`
	Version    int              `json:"version"`
}

func (s *Service) StorageStats(ctx context.Context) (Stats, error) {
	users, err := s.GetAllUsers(ctx)
	if err != nil {
		return Stats{}, err
	}
	profiles, err := list[schema.Profile](ctx, s, engine.Profiles)
	if err != nil {
		return Stats{}, err
	}
	posts, err := s.local.GetAll(ctx, engine.Posts)
	if err != nil {
		return Stats{}, err
	}
	media, err := s.local.GetAll(ctx, engine.Media)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Users:      users,
		Profiles:   profiles,
		PostCount:  len(posts),
		MediaCount: len(media),
		DBName:     s.local.Name(),
		Version:    s.local.Version(),
	}, nil
}
