// Package schema defines the records SocialBoost keeps in its local store and mirrors to the cloud.
// Field names match the JSON documents exchanged with the remote store.
package schema

import (
	"github.com/shopspring/decimal"
)

// UserRole is the workspace role of a user or team member.
type UserRole string

const (
	RoleOwner     UserRole = "Owner"
	RoleCreator   UserRole = "Creator"
	RoleAnalyst   UserRole = "Analyst"
	RoleAdmin     UserRole = "Admin"
	RoleSuperuser UserRole = "Superuser"
)

// Plan is a subscription tier.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// User is the root aggregate for billing, linked accounts and automation.
// One record per account, keyed by ID.
type User struct {
	ID                 string              `json:"id"`
	Email              string              `json:"email"`
	DisplayName        string              `json:"displayName"`
	Role               UserRole            `json:"role"`
	IsLoggedIn         bool                `json:"isLoggedIn"`
	LinkedAccounts     []SocialAccount     `json:"linkedAccounts"`
	AutomationSettings *AutomationSettings `json:"automationSettings,omitempty"`
	WorkspaceMembers   []TeamMember        `json:"workspaceMembers,omitempty"`
	Usage              Usage               `json:"usage"`
	AuthMethod         string              `json:"authMethod"`
	Sessions           []Session           `json:"sessions"`
}

// Usage tracks AI consumption and billing for a user.
type Usage struct {
	AIGenerations  int                  `json:"aiGenerations"`
	Plan           Plan                 `json:"plan"`
	BillingHistory []BillingTransaction `json:"billingHistory"`
}

// Session is a login session recorded on the user.
type Session struct {
	Token     string `json:"token"`
	CreatedAt string `json:"createdAt"`
	ExpiresAt string `json:"expiresAt"`
	DeviceID  string `json:"deviceId"`
}

// TeamMember is embedded in User; it has no partition of its own.
type TeamMember struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Role   UserRole `json:"role"`
	Status string   `json:"status"` // active, pending
}

// BillingTransaction is one settlement entry, newest first in BillingHistory.
type BillingTransaction struct {
	ID        string          `json:"id"`
	Date      string          `json:"date"`
	Plan      Plan            `json:"plan"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	Status    string          `json:"status"` // confirmed, pending
	Reference string          `json:"reference"`
}

// SocialAccount is a linked platform account.
type SocialAccount struct {
	Platform     string        `json:"platform"`
	Handle       string        `json:"handle"`
	IsConnected  bool          `json:"isConnected"`
	TokenHealth  string        `json:"tokenHealth"` // healthy, expiring, expired
	AuthMetadata *AuthMetadata `json:"authMetadata,omitempty"`
}

// AuthMetadata carries the OAuth tokens of a linked account.
type AuthMetadata struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	ExpiresAt    string   `json:"expiresAt"`
	Scopes       []string `json:"scopes"`
	TokenType    string   `json:"tokenType"`
	StateNonce   string   `json:"stateNonce,omitempty"`
}

// AutomationSettings configures auto replies and social listening.
type AutomationSettings struct {
	AutoReplyDMs            bool     `json:"autoReplyDMs"`
	AutoReplyComments       bool     `json:"autoReplyComments"`
	PreferredLanguage       string   `json:"preferredLanguage"`
	SocialListeningKeywords []string `json:"socialListeningKeywords"`
	SafetyThreshold         float64  `json:"safety_threshold"`
}

// DefaultAutomation is applied the first time a user changes automation settings.
func DefaultAutomation() AutomationSettings {
	return AutomationSettings{
		PreferredLanguage:       "Mixed",
		SocialListeningKeywords: []string{},
	}
}

// Location is where a business operates.
type Location struct {
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

// Branding holds brand colors.
type Branding struct {
	Colors []string `json:"colors"`
}

// Profile is the brand voice and business profile, keyed by ProfileID.
type Profile struct {
	ProfileID       string    `json:"profile_id"`
	AccountType     string    `json:"account_type"` // business, individual, creator, enterprise
	Name            string    `json:"name"`
	FocusArea       string    `json:"focus_area"`
	Location        Location  `json:"location"`
	Tone            string    `json:"tone"`
	MainObjective   string    `json:"main_objective"`
	PricingLogic    string    `json:"pricing_logic,omitempty"`    // direct, dm, ask
	AutomationLevel string    `json:"automation_level,omitempty"` // suggest, assist, handle
	GrowthPlatforms []string  `json:"growth_platforms,omitempty"`
	PostFrequency   string    `json:"post_frequency,omitempty"` // daily, thrice, trending
	TargetAudience  string    `json:"target_audience,omitempty"`
	ForbiddenTones  []string  `json:"forbidden_tones,omitempty"`
	DeliveryDetails string    `json:"delivery_details,omitempty"`
	Branding        *Branding `json:"branding,omitempty"`
}

// CampaignAnalytics are the rolled-up results of a campaign.
type CampaignAnalytics struct {
	Reach       int `json:"reach"`
	Conversions int `json:"conversions"`
}

// Campaign is an independent top-level marketing campaign.
type Campaign struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Objective  string             `json:"objective"`
	Status     string             `json:"status"` // active, paused, completed
	CreatedAt  string             `json:"createdAt"`
	PostsCount int                `json:"postsCount"`
	Analytics  *CampaignAnalytics `json:"analytics,omitempty"`
}

// ScheduledPost is a piece of content scheduled for a platform.
// CampaignID links it to its owning Campaign; it may be empty.
type ScheduledPost struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaignId,omitempty"`
	Date       string `json:"date"`
	Platform   string `json:"platform"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Status     string `json:"status"` // draft, scheduled, published
}

// MediaAsset is a generated image, video or audio clip. Data holds the payload inline as a data URI.
type MediaAsset struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // image, video, audio
	Data      string `json:"data"`
	Prompt    string `json:"prompt"`
	CreatedAt string `json:"createdAt"`
}

// KnowledgeFact is a freeform brand fact used to ground AI prompts.
type KnowledgeFact struct {
	ID             string `json:"id"`
	Category       string `json:"category"` // pricing, logistics, menu, bio, other
	Content        string `json:"content"`
	CreatedAt      string `json:"createdAt"`
	LastVerifiedAt string `json:"lastVerifiedAt,omitempty"`
}

// ActivityLog is an append-only audit entry.
type ActivityLog struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}
