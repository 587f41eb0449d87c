// Package docstore implements the remote document database the cloud mirror writes to.
//
// Paths alternate collection and document segments, so a document path has an
// even number of segments ("users/usr_1", "workspaces/usr_1/posts/p1") and a
// collection path an odd number ("workspaces/usr_1/posts").
package docstore

import (
	"fmt"
	"strings"

	"github.com/celerix-dev/socialboost-store/pkg/sdk"
)

// UserPath is the remote location of a user record.
func UserPath(id string) string {
	return "users/" + id
}

// WorkspaceCollection is the remote collection holding one partition of a workspace.
func WorkspaceCollection(uid, partition string) string {
	return "workspaces/" + uid + "/" + partition
}

// WorkspacePath is the remote location of one record in a workspace partition.
func WorkspacePath(uid, partition, id string) string {
	return WorkspaceCollection(uid, partition) + "/" + id
}

func segments(path string) ([]string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", sdk.ErrInvalidPath)
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return nil, fmt.Errorf("%w: %q", sdk.ErrInvalidPath, path)
		}
	}
	return parts, nil
}

// SplitDoc validates a document path and returns its parent collection and id.
func SplitDoc(path string) (collection, id string, err error) {
	parts, err := segments(path)
	if err != nil {
		return "", "", err
	}
	if len(parts)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q is a collection, not a document", sdk.ErrInvalidPath, path)
	}
	return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1], nil
}

// CleanCollection validates a collection path and returns it without surrounding slashes.
func CleanCollection(path string) (string, error) {
	parts, err := segments(path)
	if err != nil {
		return "", err
	}
	if len(parts)%2 != 1 {
		return "", fmt.Errorf("%w: %q is a document, not a collection", sdk.ErrInvalidPath, path)
	}
	return strings.Join(parts, "/"), nil
}
