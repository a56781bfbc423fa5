package models

import (
	"encoding/json"
	"time"
)

// Job is one row of the durable jobq table. At most one worker ever holds a
// given row in JobStatusPicked — enforced by SELECT ... FOR UPDATE SKIP LOCKED
// at claim time, never by application-level locking.
type Job struct {
	ID         int64     `db:"id"`
	Priority   int       `db:"priority"`
	Entrypoint string    `db:"entrypoint"` // queue key
	Payload    []byte    `db:"payload"`
	Status     JobStatus `db:"status"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// JobPayload is the decoded shape of Job.Payload. Exactly one of TrialID or
// TaskID is set, depending on JobType.
type JobPayload struct {
	JobType  JobType `json:"job_type"`
	TrialID  string  `json:"trial_id,omitempty"`
	TaskID   string  `json:"task_id,omitempty"`
	QueueKey string  `json:"queue_key"`
}

// DecodeJobPayload unmarshals a raw jobq payload.
func DecodeJobPayload(raw []byte) (JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return JobPayload{}, err
	}
	return p, nil
}

// Encode marshals a JobPayload for storage.
func (p JobPayload) Encode() ([]byte, error) {
	return json.Marshal(p)
}
