package recovery

import (
	"time"

	"github.com/gregtusar/zerodte/pkg/models"
)

type ComponentStats struct {
	Total     int `json:"total"`
	Success   int `json:"success"`
	Failed    int `json:"failed"`
	Escalated int `json:"escalated"`
}

type Stats struct {
	TotalAttempts int                       `json:"total_attempts"`
	Successful    int                       `json:"successful"`
	Failed        int                       `json:"failed"`
	Escalated     int                       `json:"escalated"`
	SuccessRate   float64                   `json:"success_rate"`
	Components    map[string]ComponentStats `json:"components"`
	Recent24h     int                       `json:"recent_24h"`
	LastAttempt   *time.Time                `json:"last_attempt,omitempty"`
}

// Stats summarizes a snapshot of the history; it may trail attempts that
// are being recorded concurrently.
func (m *Manager) Stats() Stats {
	return Summarize(m.Attempts(), m.now())
}

func Summarize(attempts []models.RecoveryAttempt, now time.Time) Stats {
	s := Stats{Components: make(map[string]ComponentStats)}
	if len(attempts) == 0 {
		return s
	}

	cutoff := now.Add(-24 * time.Hour)
	for _, a := range attempts {
		s.TotalAttempts++
		c := s.Components[a.Component]
		c.Total++
		switch a.Status {
		case models.RecoverySuccess:
			s.Successful++
			c.Success++
		case models.RecoveryFailed:
			s.Failed++
			c.Failed++
		case models.RecoveryEscalated:
			s.Escalated++
			c.Escalated++
		}
		s.Components[a.Component] = c
		if a.Timestamp.After(cutoff) {
			s.Recent24h++
		}
	}
	s.SuccessRate = float64(s.Successful) / float64(s.TotalAttempts)
	last := attempts[len(attempts)-1].Timestamp
	s.LastAttempt = &last
	return s
}
