package dataservice

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/celerix-dev/socialboost-store/internal/notify"
	"github.com/celerix-dev/socialboost-store/internal/session"
	"github.com/celerix-dev/socialboost-store/pkg/engine"
	"github.com/celerix-dev/socialboost-store/pkg/sanitize"
	"github.com/celerix-dev/socialboost-store/pkg/schema"
	"github.com/celerix-dev/socialboost-store/pkg/sdk"
)

// activeProfileKey is the metadata entry pointing at the profile in use.
const activeProfileKey = "active_profile"

// GetProfile returns the active profile, or nil when none is stored. The
// active profile is the one saved last; without that pointer the lowest
// profile_id wins.
func (s *Service) GetProfile(ctx context.Context) (*schema.Profile, error) {
	ptr, err := s.local.Get(ctx, engine.Metadata, activeProfileKey)
	if err == nil {
		if id, _ := ptr["profileId"].(string); id != "" {
			p, found, err := get[schema.Profile](ctx, s, engine.Profiles, id)
			if err != nil {
				return nil, err
			}
			if found {
				return &p, nil
			}
		}
	}

	profiles, err := list[schema.Profile](ctx, s, engine.Profiles)
	if err != nil || len(profiles) == 0 {
		return nil, err
	}
	return &profiles[0], nil
}

// SaveProfile stores p, makes it the active profile and notifies PROFILE_UPDATED.
func (s *Service) SaveProfile(ctx context.Context, sess session.Context, p schema.Profile) (schema.Profile, error) {
	doc, err := sanitize.Document(p)
	if err != nil {
		return schema.Profile{}, fmt.Errorf("sanitize profiles record: %w", err)
	}
	if err := s.local.Put(ctx, engine.Profiles, doc); err != nil {
		return schema.Profile{}, fmt.Errorf("save profiles record: %w", err)
	}
	if err := s.local.PutKey(ctx, engine.Metadata, activeProfileKey, sdk.Document{"profileId": p.ProfileID}); err != nil {
		return schema.Profile{}, fmt.Errorf("save active profile: %w", err)
	}

	s.mirror.Push(ctx, sess, engine.Profiles, doc)
	s.notify(ctx, notify.ProfileUpdated)
	return p, nil
}

func (s *Service) GetCampaigns(ctx context.Context) ([]schema.Campaign, error) {
	return list[schema.Campaign](ctx, s, engine.Campaigns)
}

// GetCampaignByID returns nil when the campaign does not exist.
func (s *Service) GetCampaignByID(ctx context.Context, id string) (*schema.Campaign, error) {
	c, found, err := get[schema.Campaign](ctx, s, engine.Campaigns, id)
	if err != nil || !found {
		return nil, err
	}
	return &c, nil
}

func (s *Service) SaveCampaign(ctx context.Context, sess session.Context, c schema.Campaign) (schema.Campaign, error) {
	return save(ctx, s, sess, engine.Campaigns, c, "")
}

func (s *Service) GetPosts(ctx context.Context) ([]schema.ScheduledPost, error) {
	return list[schema.ScheduledPost](ctx, s, engine.Posts)
}

func (s *Service) SavePost(ctx context.Context, sess session.Context, p schema.ScheduledPost) (schema.ScheduledPost, error) {
	return save(ctx, s, sess, engine.Posts, p, "")
}

// GetPostsByCampaign scans every post for those whose campaignId is cid.
func (s *Service) GetPostsByCampaign(ctx context.Context, cid string) ([]schema.ScheduledPost, error) {
	all, err := s.GetPosts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]schema.ScheduledPost, 0)
	for _, p := range all {
		if cid != "" && p.CampaignID == cid {
			out = append(out, p)
		}
	}
	return out, nil
}

// LogActivity appends an audit entry. Ids start with the Unix millisecond
// timestamp, so the log reads back in chronological order.
func (s *Service) LogActivity(ctx context.Context, sess session.Context, user, action string) (schema.ActivityLog, error) {
	now := s.now()
	suffix := strings.SplitN(s.newID(), "-", 2)[0]
	entry := schema.ActivityLog{
		ID:        strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix,
		User:      user,
		Action:    action,
		Timestamp: sanitize.FormatTime(now),
	}
	return save(ctx, s, sess, engine.Activity, entry, "")
}

func (s *Service) GetActivityLog(ctx context.Context) ([]schema.ActivityLog, error) {
	return list[schema.ActivityLog](ctx, s, engine.Activity)
}

func (s *Service) GetAllMedia(ctx context.Context) ([]schema.MediaAsset, error) {
	return list[schema.MediaAsset](ctx, s, engine.Media)
}

// SaveMedia stores m and notifies MEDIA_UPDATED.
func (s *Service) SaveMedia(ctx context.Context, sess session.Context, m schema.MediaAsset) (schema.MediaAsset, error) {
	return save(ctx, s, sess, engine.Media, m, notify.MediaUpdated)
}

func (s *Service) SaveFact(ctx context.Context, sess session.Context, f schema.KnowledgeFact) (schema.KnowledgeFact, error) {
	return save(ctx, s, sess, engine.Knowledge, f, "")
}

// DeleteFact removes the fact locally, then from the cloud on a best-effort basis.
func (s *Service) DeleteFact(ctx context.Context, sess session.Context, id string) error {
	if err := s.local.Delete(ctx, engine.Knowledge, id); err != nil {
		return fmt.Errorf("delete fact %s: %w", id, err)
	}
	s.mirror.Delete(ctx, sess, engine.Knowledge, id)
	return nil
}

func (s *Service) GetKnowledgeFacts(ctx context.Context) ([]schema.KnowledgeFact, error) {
	return list[schema.KnowledgeFact](ctx, s, engine.Knowledge)
}
