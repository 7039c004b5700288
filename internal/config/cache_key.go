package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionKey returns the cache key holding a session record as JSON
func (r *CacheKeyStruct) SessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// StudentExamSessionKey returns the cache key pointing at a student's session for an exam
func (r *CacheKeyStruct) StudentExamSessionKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:session", studentID, examID)
}

// SessionDeadlinesKey returns the sorted set of active sessions scored by deadline
func (r *CacheKeyStruct) SessionDeadlinesKey() string {
	return "sessions:deadlines"
}

// ExamSnapshotKey returns the cache key for one pinned version of an exam
func (r *CacheKeyStruct) ExamSnapshotKey(examID string, version int) string {
	return fmt.Sprintf("exam:%s:v%d:snapshot", examID, version)
}

// SessionLockKey returns the lock key guarding a single session
func (r *CacheKeyStruct) SessionLockKey(sessionID string) string {
	return fmt.Sprintf("lock:session:%s", sessionID)
}

// StudentExamLockKey returns the lock key guarding create-or-resume for a student and exam
func (r *CacheKeyStruct) StudentExamLockKey(examID string, studentID int) string {
	return fmt.Sprintf("lock:student:%d:exam:%s", studentID, examID)
}

// ExamEventsChannel returns the Redis PubSub channel for session lifecycle events of an exam
func (r *CacheKeyStruct) ExamEventsChannel(examID string) string {
	return fmt.Sprintf("exam:%s:events", examID)
}

var CacheKey = NewCacheKeyStruct()
