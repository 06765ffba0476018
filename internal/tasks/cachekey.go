package tasks

import "fmt"

const allKeyPart = "all"

// ListKey is the cache key for one filtered list of a user's tasks.
func ListKey(userID string, status Status, categoryID string) string {
	s, c := string(status), categoryID
	if s == "" {
		s = allKeyPart
	}
	if c == "" {
		c = allKeyPart
	}
	return fmt.Sprintf("tasks:%s:%s:%s", userID, s, c)
}

// UserPrefix covers every list key of userID.
func UserPrefix(userID string) string {
	return "tasks:" + userID + ":"
}
