// Package cache holds the volatile Redis state: the recent-message window,
// unread counters and presence. Every value here can be rebuilt from the
// durable store or simply expire.
package cache

import "fmt"

func recentKey(roomToken string) string { return "chat:recent:" + roomToken }

func unreadKey(roomToken, userID string) string {
	return fmt.Sprintf("unread:chat:%s:%s", roomToken, userID)
}

func currentRoomKey(userID string) string { return "user:currentChatRoom:" + userID }

func onlineKey(userID string) string { return "sse:online:" + userID }
