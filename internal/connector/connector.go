// SPDX-License-Identifier: Apache-2.0

// Package connector is the uniform capability surface for external systems.
// Every call returns a Response envelope; errors never cross the boundary,
// so a broken integration can degrade notifications but never a workflow.
package connector

import (
	"context"
	"time"
)

type Type string

const (
	TypeIssueTracker  Type = "issue_tracker"
	TypeChat          Type = "chat"
	TypeObjectStorage Type = "object_storage"
	TypeSourceHost    Type = "source_host"
	TypeDatabase      Type = "database"
)

type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Response is the typed envelope for every connector operation.
type Response struct {
	Success    bool           `json:"success"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

func OK(data map[string]any) Response {
	return Response{Success: true, Data: data, Timestamp: time.Now()}
}

func Fail(err error) Response {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Response{Success: false, Error: msg, Timestamp: time.Now()}
}

func FailStatus(err error, statusCode int) Response {
	r := Fail(err)
	r.StatusCode = statusCode
	return r
}

type Connector interface {
	Name() string
	Type() Type
	Connect(ctx context.Context) Response
	Disconnect(ctx context.Context) Response
	HealthCheck(ctx context.Context) Response
	Get(ctx context.Context, params map[string]any) Response
	Send(ctx context.Context, payload map[string]any) Response
}
