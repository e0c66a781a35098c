package store

import "fmt"

const keyPrefix = "jobpoll:"

func StateKey(jobID string) string {
	return fmt.Sprintf("%sstate:%s", keyPrefix, jobID)
}

func LeaseKey(jobID string) string {
	return fmt.Sprintf("%slease:%s", keyPrefix, jobID)
}

func RateLimitKey(client string) string {
	return fmt.Sprintf("%sratelimit:%s", keyPrefix, client)
}
