// Package worker implements the application side of one worker connection.
// A [Handle] is leased to exactly one job at a time; it forwards the job's
// start request and translates the worker's frames into typed events for
// it, answering the worker's synchronous requests (resume, message box,
// host info, privilege) through the lessee and the configured collaborators.
package worker

import (
	"context"
	"time"

	"github.com/desertwitch/workio/internal/protocol"
	"github.com/desertwitch/workio/internal/schema"
)

// MetaDataDetailsKey carries optional message box details sent by a worker
// ahead of the message box request.
const MetaDataDetailsKey = "privilege_conf_details"

// Lessee is the job side of a lease. Event delivery must not block; the
// Ask methods are called from their own goroutines and may block until ctx
// ends.
type Lessee interface {
	// LeaseID identifies the lessee in logs.
	LeaseID() string

	// StartRequest returns the operation to start and its outgoing metadata.
	StartRequest() (protocol.StartRequest, schema.MetaData)

	// HandleEvent receives the translated worker events in arrival order.
	HandleEvent(ev Event)

	// AskResume answers whether a transfer may resume at offset.
	AskResume(ctx context.Context, offset uint64) bool

	// AskMessageBox asks the user interface and returns the answer code.
	AskMessageBox(ctx context.Context, req protocol.MessageBoxRequest) int

	// AskPrivilege runs the privilege confirmation for the operation.
	AskPrivilege(ctx context.Context) schema.PrivilegeStatus

	// NextData returns the next chunk of data to upload, io.EOF at the end.
	NextData(ctx context.Context) ([]byte, error)
}

// Owner is notified when a handle is free again or gone for good. The
// calls come from the handle's connection goroutine.
type Owner interface {
	// Released is called after a lease ended cleanly, the handle is idle.
	Released(h *Handle)

	// Retired is called once when the handle was torn down.
	Retired(h *Handle, err error)
}

// HostResolver resolves host names for workers.
type HostResolver interface {
	Lookup(ctx context.Context, host string, timeout time.Duration) ([]string, error)
}

// Options tune a [Handle].
type Options struct {
	SpeedSamples        int
	SpeedInterval       time.Duration
	ResumeAnswerTimeout time.Duration
	DNSTimeout          time.Duration
	Resolver            HostResolver
}

// DefaultOptions returns the default [Options].
//
//nolint:mnd
func DefaultOptions() Options {
	return Options{
		SpeedSamples:        8,
		SpeedInterval:       time.Second,
		ResumeAnswerTimeout: 30 * time.Second,
		DNSTimeout:          5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()

	if o.SpeedSamples < 2 { //nolint:mnd
		o.SpeedSamples = def.SpeedSamples
	}
	if o.SpeedInterval <= 0 {
		o.SpeedInterval = def.SpeedInterval
	}
	if o.ResumeAnswerTimeout <= 0 {
		o.ResumeAnswerTimeout = def.ResumeAnswerTimeout
	}
	if o.DNSTimeout <= 0 {
		o.DNSTimeout = def.DNSTimeout
	}

	return o
}
