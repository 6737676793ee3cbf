// Package measure defines the shared request/result envelope and the
// executor contract every measurement kind implements, following the
// single-success/single-failure Func shape from bassosimone-nop
// (doc.go's Func[A, B] interface), generalized here into an
// emit-as-you-go executor rather than a pure request/response call since
// measurements stream incremental progress.
package measure

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// DefaultCommandTimeout is commands.timeout's built-in default (spec.md
// §6). CommandTimeout holds the live value every procrunner-based
// executor reads per invocation, so a config-file reload
// (internal/config.Watcher) can change it without restarting the probe.
var commandTimeoutNanos atomic.Int64

func init() {
	commandTimeoutNanos.Store(int64(DefaultCommandTimeout))
}

const DefaultCommandTimeout = 25 * time.Second

// CommandTimeout returns the current subprocess timeout bound applied to
// ping/dig/traceroute/mtr invocations.
func CommandTimeout() time.Duration {
	return time.Duration(commandTimeoutNanos.Load())
}

// SetCommandTimeout updates the subprocess timeout bound. Zero or
// negative values are ignored (the prior value is kept).
func SetCommandTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	commandTimeoutNanos.Store(int64(d))
}

// Kind identifies one of the five measurement families (spec.md §3).
type Kind string

const (
	KindPing       Kind = "ping"
	KindDNS        Kind = "dns"
	KindTraceroute Kind = "traceroute"
	KindMTR        Kind = "mtr"
	KindHTTP       Kind = "http"
)

// IPVersion is 4 or 6 (spec.md §6 "options schema").
type IPVersion int

// Request is the decoded envelope for a single measurement job.
type Request struct {
	MeasurementID string          `json:"measurementId"`
	TestID        string          `json:"testId"`
	Kind          Kind            `json:"-"`
	Measurement   json.RawMessage `json:"measurement"`
}

// rawMeasurement is used only to sniff the "type" discriminator out of the
// tagged union before dispatching to a kind-specific options decoder.
type rawMeasurement struct {
	Type string `json:"type"`
}

// DecodeKind extracts the measurement kind from the raw envelope.
func DecodeKind(raw json.RawMessage) (Kind, error) {
	var rm rawMeasurement
	if err := json.Unmarshal(raw, &rm); err != nil {
		return "", fmt.Errorf("measure: decode kind: %w", err)
	}
	if rm.Type == "" {
		return "", fmt.Errorf("measure: missing measurement type")
	}
	return Kind(rm.Type), nil
}

// Sink receives frames emitted by an executor and is responsible for
// wrapping them into the wire envelope ({testId, measurementId, ...}) and
// writing them to the control-plane channel. Dispatch supplies the
// concrete implementation; executors only ever see this interface.
type Sink interface {
	// Progress sends an incremental ProgressPayload. overwrite is only
	// meaningful for ModeOverwrite buffers (MTR, HTTP).
	Progress(result map[string]any, overwrite bool)
	// Result sends the single terminal frame for the job.
	Result(result map[string]any)
}

// Status values for the ProgressPayload/Result "status" field
// (spec.md §3, §4.D).
const (
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// PrivateIPMessage is the canonical rawOutput for a private-IP
// short-circuit (spec.md §3 invariants, §7 item 3).
const PrivateIPMessage = "Private IP ranges are not allowed"

// GenericFailureMessage is used when a tool fails with no usable stdout or
// stderr (spec.md §7 item 4).
const GenericFailureMessage = "Test failed. Please try again."

// SafeError marks an error message as safe to expose verbatim to the
// control plane / end user, mirroring the teacher's tagged validation
// error codes (internal/validation) and the "internal exposure" error
// kind from spec.md §7 item 8 / §9's open question: only a known, curated
// set of messages is ever shown as-is: everything else becomes
// GenericFailureMessage.
type SafeError struct {
	Message string
}

func (e *SafeError) Error() string { return e.Message }

// Safe wraps msg as a SafeError.
func Safe(msg string) error { return &SafeError{Message: msg} }

// ExposedMessage returns the message that is safe to show the control
// plane for err: the SafeError's own text if it is one, otherwise the
// generic fallback.
func ExposedMessage(err error) string {
	if se, ok := err.(*SafeError); ok {
		return se.Message
	}
	return GenericFailureMessage
}

// Executor runs one measurement kind to completion, emitting progress and
// exactly one result frame via sink. rawOptions is the job's raw
// measurement JSON; each executor decodes, defaults and validates it
// itself through its kind's Validate function (see each subpackage) and
// reports a validation error as a failed result.
type Executor interface {
	Kind() Kind
	Run(ctx context.Context, sink Sink, jobID string, rawOptions json.RawMessage)
}
