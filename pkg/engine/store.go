// Package engine implements the local, versioned, partitioned document store.
package engine

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/celerix-dev/socialboost-store/pkg/sdk"
)

var (
	ErrPartitionNotFound = errors.New("partition not found")
	ErrKeyNotFound       = errors.New("key not found")
	// ErrMissingIdentity is returned when a record lacks its partition's key field.
	ErrMissingIdentity = errors.New("record has no identity value")
	// ErrVersionDowngrade is returned when a store is opened with a lower
	// schema version than the one already on disk.
	ErrVersionDowngrade = errors.New("schema version is lower than stored version")
	ErrClosed           = errors.New("store is closed")
)

// Partition names of the SocialBoost schema.
const (
	Users     = "users"
	Profiles  = "profiles"
	Posts     = "posts"
	Media     = "media"
	Metadata  = "metadata"
	Campaigns = "campaigns"
	Activity  = "activity"
	Knowledge = "knowledge"
)

// Schema names a database, its version and the partitions that version defines.
type Schema struct {
	Name       string
	Version    int
	Partitions []sdk.Partition
}

// DefaultSchema is the current SocialBoost local schema.
func DefaultSchema() Schema {
	return Schema{
		Name:    "SocialBoost_Prod_V2",
		Version: 14,
		Partitions: []sdk.Partition{
			{Name: Users, KeyField: "id"},
			{Name: Profiles, KeyField: "profile_id"},
			{Name: Posts, KeyField: "id"},
			{Name: Media, KeyField: "id"},
			{Name: Metadata},
			{Name: Campaigns, KeyField: "id"},
			{Name: Activity, KeyField: "id"},
			{Name: Knowledge, KeyField: "id"},
		},
	}
}

// Partition returns the named partition definition.
func (s Schema) Partition(name string) (sdk.Partition, bool) {
	for _, p := range s.Partitions {
		if p.Name == name {
			return p, true
		}
	}
	return sdk.Partition{}, false
}

// KeyOf extracts the identity value of doc for partition p.
func KeyOf(p sdk.Partition, doc sdk.Document) (string, error) {
	if p.KeyField == "" {
		return "", fmt.Errorf("%w: partition %q uses out-of-line keys", ErrMissingIdentity, p.Name)
	}
	switch v := doc[p.KeyField].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int:
		return strconv.Itoa(v), nil
	}
	return "", fmt.Errorf("%w: %s.%s", ErrMissingIdentity, p.Name, p.KeyField)
}

// cloneDocument deep-copies a JSON-shaped document so callers never share
// maps with the store.
func cloneDocument(doc sdk.Document) sdk.Document {
	if doc == nil {
		return nil
	}
	return cloneValue(doc).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
