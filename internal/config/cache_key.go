package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamKey returns the cache key for a serialized exam.
func (r *CacheKeyStruct) ExamKey(examID string) string {
	return fmt.Sprintf("exam:%s", examID)
}

// ExamGenerationKey returns the key of the counter bumped each time an exam's cache entry is invalidated.
func (r *CacheKeyStruct) ExamGenerationKey(examID string) string {
	return fmt.Sprintf("exam:gen:%s", examID)
}

// AuthTokenKey returns the cache key for a resolved auth token.
func (r *CacheKeyStruct) AuthTokenKey(tokenKey string) string {
	return fmt.Sprintf("auth:token:%s", tokenKey)
}

var CacheKey = NewCacheKeyStruct()
