package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/celerix-dev/socialboost-store/pkg/sdk"
	"github.com/redis/go-redis/v9"
)

// existsField marks a document hash so empty documents still exist.
// Stored documents never carry "_" keys, so it cannot collide.
const existsField = "_"

// Redis stores each document as a hash of JSON-encoded top-level fields,
// with a set per collection indexing its document ids.
type Redis struct {
	client *redis.Client
	prefix string
}

var (
	_ sdk.DocumentStore = (*Redis)(nil)
	_ sdk.Pinger        = (*Redis)(nil)
)

// OpenRedis connects to the Redis server at redisURL and verifies it answers.
func OpenRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedis(client), nil
}

// NewRedis creates a store from an existing Redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "boost:"}
}

func (r *Redis) docKey(path string) string {
	return r.prefix + "doc:" + path
}

func (r *Redis) colKey(collection string) string {
	return r.prefix + "col:" + collection
}

func (r *Redis) Get(ctx context.Context, path string) (sdk.Document, error) {
	if _, _, err := SplitDoc(path); err != nil {
		return nil, err
	}
	fields, err := r.client.HGetAll(ctx, r.docKey(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", sdk.ErrNotFound, path)
	}
	return decodeFields(fields)
}

func (r *Redis) Set(ctx context.Context, path string, doc sdk.Document, merge bool) error {
	col, id, err := SplitDoc(path)
	if err != nil {
		return err
	}

	values := make([]any, 0, 2*len(doc)+2)
	values = append(values, existsField, "1")
	for k, v := range doc {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s.%s: %w", path, k, err)
		}
		values = append(values, k, string(raw))
	}

	key := r.docKey(path)
	pipe := r.client.TxPipeline()
	if !merge {
		pipe.Del(ctx, key)
	}
	pipe.HSet(ctx, key, values...)
	pipe.SAdd(ctx, r.colKey(col), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (r *Redis) Query(ctx context.Context, collection string) ([]sdk.Snapshot, error) {
	col, err := CleanCollection(collection)
	if err != nil {
		return nil, err
	}

	ids, err := r.client.SMembers(ctx, r.colKey(col)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", col, err)
	}
	sort.Strings(ids)

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.docKey(col+"/"+id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("query %s: %w", col, err)
		}
	}

	out := make([]sdk.Snapshot, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			// Index entry outlived its document.
			continue
		}
		doc, err := decodeFields(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, sdk.Snapshot{Path: col + "/" + id, Data: doc})
	}
	return out, nil
}

func (r *Redis) Delete(ctx context.Context, path string) error {
	col, id, err := SplitDoc(path)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.docKey(path))
	pipe.SRem(ctx, r.colKey(col), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Ping measures a PING round trip.
func (r *Redis) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("ping redis: %w", err)
	}
	return time.Since(start), nil
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}

func decodeFields(fields map[string]string) (sdk.Document, error) {
	doc := make(sdk.Document, len(fields))
	for k, raw := range fields {
		if k == existsField {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode field %s: %w", k, err)
		}
		doc[k] = v
	}
	return doc, nil
}
