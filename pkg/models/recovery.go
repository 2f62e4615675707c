package models

import (
	"time"
)

type RecoveryStatus string

const (
	RecoverySuccess   RecoveryStatus = "success"
	RecoveryFailed    RecoveryStatus = "failed"
	RecoveryEscalated RecoveryStatus = "escalated"
)

// RecoveryAttempt is an immutable record of one attempt made by the
// recovery manager.
type RecoveryAttempt struct {
	Timestamp     time.Time      `json:"timestamp"`
	FailureType   string         `json:"failure_type"`
	Component     string         `json:"component"`
	AttemptNumber int            `json:"attempt_number"`
	Status        RecoveryStatus `json:"status"`
	Details       string         `json:"details"`
	Duration      time.Duration  `json:"-"`
}
