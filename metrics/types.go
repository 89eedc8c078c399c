// Package metrics keeps in-memory provider call statistics for the
// /api/metrics endpoint: a ring buffer of recent calls plus per-operation
// aggregates and spend.
package metrics

import (
	"time"

	"bgstudio/catalog"
)

// Status values of a CallRecord.
const (
	CallStatusSuccess = "success"
	CallStatusError   = "error"
)

// CallRecord is one provider call after its retries.
type CallRecord struct {
	TaskID     string         `json:"taskId"`
	WorkflowID string         `json:"workflowId"`
	Provider   string         `json:"provider"`
	Operation  string         `json:"operation"`
	ModelID    string         `json:"modelId,omitempty"`
	Status     string         `json:"status"`
	Cost       catalog.Amount `json:"cost"`
	Attempts   int            `json:"attempts"`
	Duration   time.Duration  `json:"duration"`
	ErrorMsg   string         `json:"error,omitempty"`
	At         time.Time      `json:"at"`
}

// CallMetrics aggregates every call recorded since start.
type CallMetrics struct {
	TotalCalls   int64                        `json:"totalCalls"`
	TotalSuccess int64                        `json:"totalSuccess"`
	TotalErrors  int64                        `json:"totalErrors"`
	TotalSpend   catalog.Amount               `json:"totalSpend"`
	Uptime       time.Duration                `json:"uptime"`
	ByOperation  map[string]*OperationMetrics `json:"byOperation"`
}

// OperationMetrics are the statistics of one provider operation.
type OperationMetrics struct {
	Count       int64          `json:"count"`
	SuccessRate float64        `json:"successRate"`
	AvgDuration time.Duration  `json:"avgDuration"`
	AvgAttempts float64        `json:"avgAttempts"`
	Spend       catalog.Amount `json:"spend"`
}
