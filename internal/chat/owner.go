package chat

import (
	"strconv"
	"strings"
)

// OwnerKey derives the key that partitions a user's events: the handle
// prefixed with "@" when there is one, otherwise "user_<id>".
func OwnerKey(username string, userID int64) string {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username != "" {
		return "@" + username
	}
	return "user_" + strconv.FormatInt(userID, 10)
}
