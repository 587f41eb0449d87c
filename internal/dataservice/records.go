package dataservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/celerix-dev/socialboost-store/internal/session"
	"github.com/celerix-dev/socialboost-store/pkg/engine"
	"github.com/celerix-dev/socialboost-store/pkg/sanitize"
	"github.com/celerix-dev/socialboost-store/pkg/sdk"
)

// save runs the write path for one record. tag is the change notification to
// send afterwards, or empty for none.
func save[T any](ctx context.Context, s *Service, sess session.Context, partition string, rec T, tag string) (T, error) {
	doc, err := sanitize.Document(rec)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("sanitize %s record: %w", partition, err)
	}
	if err := s.local.Put(ctx, partition, doc); err != nil {
		var zero T
		return zero, fmt.Errorf("save %s record: %w", partition, err)
	}

	s.mirror.Push(ctx, sess, partition, doc)
	if tag != "" {
		s.notify(ctx, tag)
	}
	return rec, nil
}

// get reads one record. A missing record is reported as found == false.
func get[T any](ctx context.Context, s *Service, partition, key string) (rec T, found bool, err error) {
	doc, err := s.local.Get(ctx, partition, key)
	if errors.Is(err, engine.ErrKeyNotFound) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("read %s/%s: %w", partition, key, err)
	}
	rec, err = decode[T](doc)
	return rec, err == nil, err
}

func list[T any](ctx context.Context, s *Service, partition string) ([]T, error) {
	docs, err := s.local.GetAll(ctx, partition)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", partition, err)
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		rec, err := decode[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decode[T any](doc sdk.Document) (T, error) {
	var rec T
	raw, err := json.Marshal(doc)
	if err != nil {
		return rec, fmt.Errorf("encode record: %w", err)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("decode %T: %w", rec, err)
	}
	return rec, nil
}
