package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// RunInputKey returns the cache key holding the staged students and
// universities of a queued run.
func (r *CacheKeyStruct) RunInputKey(runID string) string {
	return fmt.Sprintf("run:%s:input", runID)
}

// RunOutcomeKey returns the cache key for a finished run's outcome
func (r *CacheKeyStruct) RunOutcomeKey(runID string) string {
	return fmt.Sprintf("run:%s:outcome", runID)
}

// RunEventsChannel returns the Redis PubSub channel name for a run's progress
func (r *CacheKeyStruct) RunEventsChannel(runID string) string {
	return fmt.Sprintf("run:%s:events", runID)
}

// RevokedTokenKey returns the cache key marking a logged-out token
func (r *CacheKeyStruct) RevokedTokenKey(tokenID string) string {
	return fmt.Sprintf("auth:revoked:%s", tokenID)
}

var CacheKey = NewCacheKeyStruct()
