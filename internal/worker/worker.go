// Package worker implements the worker process itself (C2, §4.2): the
// loop a spawned subprocess runs after being re-invoked with
// `--worker --worker-id <ID>`. It reads framed ExecuteTask/ValidateTask/
// Ping/Shutdown messages on stdin and writes framed replies on stdout,
// running exactly one task at a time — concurrency comes from the pool
// size, not from the worker.
package worker

import (
	"io"
	"time"

	"github.com/ratchetdata/ratchet/internal/ipc"
	"github.com/ratchetdata/ratchet/internal/jsruntime"
)

// Worker owns one process's stdin/stdout framing and dispatches incoming
// requests to the JS runtime.
type Worker struct {
	id  string
	dec *ipc.Decoder
	enc *ipc.Encoder
}

func New(id string, stdin io.Reader, stdout io.Writer) *Worker {
	return &Worker{id: id, dec: ipc.NewDecoder(stdin), enc: ipc.NewEncoder(stdout)}
}

// Run signals Ready then loops on stdin until EOF or a Shutdown message,
// per §4.2. Any framing error (oversized line, malformed JSON) is fatal
// per §4.1 — the worker exits so the pool can observe the closed pipe
// and treat it as a crash.
func (w *Worker) Run() error {
	if err := w.enc.Encode(ipc.NewReady(w.id)); err != nil {
		return err
	}

	for {
		env, err := w.dec.Decode()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch env.Type {
		case ipc.MsgExecuteTask:
			w.handleExecute(*env.ExecuteTask)
		case ipc.MsgValidateTask:
			w.handleValidate(*env.ValidateTask)
		case ipc.MsgPing:
			w.handlePing(*env.Ping)
		case ipc.MsgShutdown:
			return nil
		default:
			_ = w.enc.Encode(ipc.NewLog(ipc.LogWarn, "unknown message type: "+string(env.Type)))
		}
	}
}

func (w *Worker) handleExecute(req ipc.ExecuteTask) {
	var jobID *int64
	if req.JobID != 0 {
		jobID = &req.JobID
	}

	result := jsruntime.Run(jsruntime.Request{
		Source:       req.Source,
		InputSchema:  req.InputSchema,
		OutputSchema: req.OutputSchema,
		Input:        req.Input,
		Context:      jsruntime.NewExecutionContext(req.ExecutionID, req.TaskID, req.TaskVersion, jobID),
		Fetch: jsruntime.FetchConfig{
			AllowedHosts: req.AllowedHosts,
			Timeout:      fetchTimeoutOrDefault(req.FetchTimeout),
			Recorder:     recorderFor(req),
		},
	})

	outcome := ipc.TaskOutcome{Output: result.Output, Progress: result.Progress}
	if result.Err != nil {
		outcome.Err = &ipc.ErrPayload{Kind: result.Err.Kind, Message: result.Err.Message, Data: result.Err.Data}
	}
	_ = w.enc.Encode(ipc.NewTaskResult(ipc.TaskResult{
		CorrelationID: req.CorrelationID,
		JobID:         req.JobID,
		ExecutionID:   req.ExecutionID,
		Result:        outcome,
	}))
}

func (w *Worker) handleValidate(req ipc.ValidateTask) {
	res := ipc.ValidationResult{CorrelationID: req.CorrelationID, Valid: true}
	if err := jsruntime.Validate(req.InputSchema, req.Input); err != nil {
		res.Valid = false
		res.Err = &ipc.ErrPayload{Kind: "Validation", Message: err.Error()}
	}
	_ = w.enc.Encode(ipc.NewValidationResult(res))
}

func (w *Worker) handlePing(req ipc.Ping) {
	_ = w.enc.Encode(ipc.NewPong(req.CorrelationID, "ok"))
}

func fetchTimeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func recorderFor(req ipc.ExecuteTask) jsruntime.RecordingSink {
	if !req.Recording {
		return jsruntime.NopRecordingSink{}
	}
	return &bufferedRecorder{}
}

// bufferedRecorder accumulates HTTP traffic for the lifetime of one task
// execution. The export/replay format is out of core scope (spec.md
// §1); this is the seam §4.8's "Recording" contract describes.
type bufferedRecorder struct {
	records []jsruntime.HTTPRecord
}

func (r *bufferedRecorder) RecordHTTP(rec jsruntime.HTTPRecord) {
	r.records = append(r.records, rec)
}
