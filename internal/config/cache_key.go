package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// UserNotificationChannel returns the Redis PubSub channel a user's clients
// listen on for delivered notifications
func (r *CacheKeyStruct) UserNotificationChannel(userID int) string {
	return fmt.Sprintf("user:%d:notifications", userID)
}

var CacheKey = NewCacheKeyStruct()
