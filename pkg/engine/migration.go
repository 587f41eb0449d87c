package engine

import (
	"context"
	"fmt"

	"github.com/celerix-dev/socialboost-store/pkg/sdk"
)

// Copy pushes every record of every partition in src into dst.
// This works for:
// - File -> SQLite (switching the local driver)
// - Either -> a fresh directory (backup)
//
// Partitions missing from dst are skipped and reported in the returned list.
func Copy(ctx context.Context, src, dst sdk.LocalStore) (skipped []string, err error) {
	have := make(map[string]bool)
	for _, p := range dst.Partitions() {
		have[p.Name] = true
	}

	for _, p := range src.Partitions() {
		if !have[p.Name] {
			skipped = append(skipped, p.Name)
			continue
		}

		if p.KeyField == "" {
			// Out-of-line keys cannot be recovered from the documents themselves.
			skipped = append(skipped, p.Name)
			continue
		}

		docs, err := src.GetAll(ctx, p.Name)
		if err != nil {
			return skipped, fmt.Errorf("failed to dump partition %s: %w", p.Name, err)
		}

		for _, doc := range docs {
			if err := dst.Put(ctx, p.Name, doc); err != nil {
				return skipped, fmt.Errorf("failed to copy into %s: %w", p.Name, err)
			}
		}
	}
	return skipped, nil
}
