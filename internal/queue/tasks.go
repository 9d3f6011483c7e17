package queue

// TypeIngestWakeup nudges a worker that a pending job exists. The nudge is
// latency optimization only: ownership is always decided by the metadata
// store's atomic claim, and the worker's poll loop picks up anything a lost
// nudge missed.
const TypeIngestWakeup = "ingest:wakeup"

type IngestWakeupPayload struct {
	FileID string `json:"file_id"`
	JobID  string `json:"job_id"`
}
