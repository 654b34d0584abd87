package models

// StatusCount is one row of a count-by-status dashboard query
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// ClaimCounts summarises a claim population by enqueue status
type ClaimCounts struct {
	Total     int64 `json:"total"`
	NotSent   int64 `json:"not_sent"`
	InFlight  int64 `json:"in_flight"`
	Enqueued  int64 `json:"enqueued"`
	Failed    int64 `json:"failed"`
	Completed int64 `json:"completed"`
}

// Add folds one status count into the summary
func (c *ClaimCounts) Add(status EnqueueStatus, n int64) {
	c.Total += n
	switch status {
	case EnqueueStatusNotSent:
		c.NotSent += n
	case EnqueueStatusInFlight:
		c.InFlight += n
	case EnqueueStatusEnqueued:
		c.Enqueued += n
	case EnqueueStatusFailed:
		c.Failed += n
	}
}
