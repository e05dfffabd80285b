// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// URLUpdateTask represents a request to re-synchronise one intranet page and its linked files.
type URLUpdateTask struct {
	URL         string `json:"url"`
	Trigger     string `json:"trigger"`
	RequestedAt int64  `json:"requested_at"`
}
