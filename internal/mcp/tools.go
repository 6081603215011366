package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ratchetdata/ratchet/internal/log"
	"github.com/ratchetdata/ratchet/internal/model"
	"github.com/ratchetdata/ratchet/internal/queue"
	"github.com/ratchetdata/ratchet/internal/rerr"
	"github.com/ratchetdata/ratchet/internal/scheduler"
	"github.com/ratchetdata/ratchet/internal/store"
)

// RatchetTools registers the job-submission and monitoring tools (§6
// "Job submission (to engine)", §4.9) against the execution pipeline.
// Grounded on the teacher's coordinator.go registerTools: one
// RegisterTool call per tool, a small args struct per handler.
type RatchetTools struct {
	store    store.Store
	queue    *queue.Queue
	progress *ProgressManager
}

// NewRatchetTools builds the tool set; register it onto a Server with
// Register.
func NewRatchetTools(s store.Store, q *queue.Queue, progress *ProgressManager) *RatchetTools {
	return &RatchetTools{store: s, queue: q, progress: progress}
}

// Register adds every ratchet tool to server.
func (t *RatchetTools) Register(server *Server) {
	server.RegisterTool(Tool{
		Name:        "ratchet.submit_job",
		Description: "Submit a job for a named task. Returns the created job id and status.",
		InputSchema: &InputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"task_name":           {Type: "string", Description: "Name of an enabled task"},
				"input":               {Type: "object", Description: "JSON input validated against the task's input schema"},
				"priority":            {Type: "string", Description: "low|normal|high|critical, defaults to normal", Enum: []string{"low", "normal", "high", "critical"}},
				"max_retries":         {Type: "number", Description: "defaults to 3"},
				"output_destinations": {Type: "array", Description: "destination strings (e.g. stdio:stdout)", Items: &PropertySchema{Type: "string"}},
			},
			Required: []string{"task_name", "input"},
		},
	}, t.handleSubmitJob)

	server.RegisterTool(Tool{
		Name:        "ratchet.get_job",
		Description: "Fetch a job by id, including its current status and last execution id.",
		InputSchema: &InputSchema{
			Type:       "object",
			Properties: map[string]*PropertySchema{"job_id": {Type: "number"}},
			Required:   []string{"job_id"},
		},
	}, t.handleGetJob)

	server.RegisterTool(Tool{
		Name:        "ratchet.list_jobs",
		Description: "List jobs, optionally filtered by status, optionally paginated.",
		InputSchema: &InputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"status": {Type: "string", Enum: []string{"queued", "processing", "completed", "failed", "cancelled", "retrying"}},
				"offset": {Type: "number"},
				"limit":  {Type: "number"},
			},
		},
	}, t.handleListJobs)

	server.RegisterTool(Tool{
		Name:        "ratchet.cancel_job",
		Description: "Cancel a queued, processing, or retrying job.",
		InputSchema: &InputSchema{
			Type:       "object",
			Properties: map[string]*PropertySchema{"job_id": {Type: "number"}},
			Required:   []string{"job_id"},
		},
	}, t.handleCancelJob)

	server.RegisterTool(Tool{
		Name:        "ratchet.get_execution",
		Description: "Fetch one execution by id, including output or error and current progress.",
		InputSchema: &InputSchema{
			Type:       "object",
			Properties: map[string]*PropertySchema{"execution_id": {Type: "number"}},
			Required:   []string{"execution_id"},
		},
	}, t.handleGetExecution)

	server.RegisterTool(Tool{
		Name:        "ratchet.list_executions",
		Description: "List every execution attempt recorded for a job.",
		InputSchema: &InputSchema{
			Type:       "object",
			Properties: map[string]*PropertySchema{"job_id": {Type: "number"}},
			Required:   []string{"job_id"},
		},
	}, t.handleListExecutions)

	server.RegisterTool(Tool{
		Name:        "ratchet.get_task",
		Description: "Fetch a task definition by id or name, including its JavaScript source and version.",
		InputSchema: &InputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"task_id":   {Type: "number"},
				"task_name": {Type: "string"},
			},
		},
	}, t.handleGetTask)

	server.RegisterTool(Tool{
		Name:        "ratchet.get_logs",
		Description: "Fetch the most recent coordinator log lines (in-memory ring buffer, not persisted).",
		InputSchema: &InputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"limit": {Type: "number", Description: "max lines to return, defaults to 200"},
			},
		},
	}, t.handleGetLogs)

	server.RegisterTool(Tool{
		Name:        "ratchet.create_schedule",
		Description: "Create a cron schedule that emits a job for a task when due.",
		InputSchema: &InputSchema{
			Type: "object",
			Properties: map[string]*PropertySchema{
				"task_name":       {Type: "string"},
				"cron_expression": {Type: "string", Description: "5- or 6-field cron expression"},
				"input":           {Type: "object"},
			},
			Required: []string{"task_name", "cron_expression"},
		},
	}, t.handleCreateSchedule)
}

type submitJobArgs struct {
	TaskName           string          `json:"task_name"`
	Input              json.RawMessage `json:"input"`
	Priority           string          `json:"priority"`
	MaxRetries         *int            `json:"max_retries"`
	OutputDestinations []string        `json:"output_destinations"`
}

func (t *RatchetTools) handleSubmitJob(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args submitJobArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, rerr.Wrap(rerr.KindValidation, err)
	}

	sub := queue.Submission{
		TaskName:           args.TaskName,
		Input:              string(args.Input),
		MaxRetries:         args.MaxRetries,
		OutputDestinations: args.OutputDestinations,
	}
	if args.Priority != "" {
		priority, ok := model.ParsePriority(args.Priority)
		if !ok {
			return nil, rerr.Newf(rerr.KindValidation, "invalid priority: %s", args.Priority)
		}
		sub.Priority = &priority
	}

	job, err := t.queue.Submit(ctx, sub)
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{"job_id": job.ID, "uuid": job.UUID, "status": job.Status.String()})
}

type jobIDArgs struct {
	JobID int64 `json:"job_id"`
}

func (t *RatchetTools) handleGetJob(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args jobIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, rerr.Wrap(rerr.KindValidation, err)
	}
	job, err := t.store.Jobs().GetByID(ctx, args.JobID)
	if err == store.ErrNotFound {
		return nil, rerr.Newf(rerr.KindNotFound, "job %d not found", args.JobID)
	}
	if err != nil {
		return nil, rerr.Wrap(rerr.KindInternal, err)
	}
	return jsonResult(jobView(job))
}

type listJobsArgs struct {
	Status string `json:"status"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

func (t *RatchetTools) handleListJobs(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args listJobsArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, rerr.Wrap(rerr.KindValidation, err)
		}
	}
	filter := store.JobFilter{}
	if args.Status != "" {
		status, ok := parseJobStatus(args.Status)
		if !ok {
			return nil, rerr.Newf(rerr.KindValidation, "invalid status: %s", args.Status)
		}
		filter.Status = &status
	}
	jobs, err := t.store.Jobs().List(ctx, filter, store.Page{Offset: args.Offset, Limit: args.Limit}.Normalize(100))
	if err != nil {
		return nil, rerr.Wrap(rerr.KindInternal, err)
	}
	views := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, jobView(j))
	}
	return jsonResult(map[string]any{"jobs": views})
}

func (t *RatchetTools) handleCancelJob(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args jobIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, rerr.Wrap(rerr.KindValidation, err)
	}
	if err := t.queue.Cancel(ctx, args.JobID); err != nil {
		if err == store.ErrConflict {
			return nil, rerr.Newf(rerr.KindValidation, "job %d cannot be cancelled from its current state", args.JobID)
		}
		return nil, rerr.Wrap(rerr.KindInternal, err)
	}
	return SuccessResult("job cancelled"), nil
}

type executionIDArgs struct {
	ExecutionID int64 `json:"execution_id"`
}

func (t *RatchetTools) handleGetExecution(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args executionIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, rerr.Wrap(rerr.KindValidation, err)
	}
	exec, err := t.store.Executions().GetByID(ctx, args.ExecutionID)
	if err == store.ErrNotFound {
		return nil, rerr.Newf(rerr.KindNotFound, "execution %d not found", args.ExecutionID)
	}
	if err != nil {
		return nil, rerr.Wrap(rerr.KindInternal, err)
	}
	return jsonResult(executionView(exec))
}

func (t *RatchetTools) handleListExecutions(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args jobIDArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, rerr.Wrap(rerr.KindValidation, err)
	}
	execs, err := t.store.Executions().ListByJob(ctx, args.JobID)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindInternal, err)
	}
	views := make([]map[string]any, 0, len(execs))
	for _, e := range execs {
		views = append(views, executionView(e))
	}
	return jsonResult(map[string]any{"executions": views})
}

type getTaskArgs struct {
	TaskID   int64  `json:"task_id"`
	TaskName string `json:"task_name"`
}

func (t *RatchetTools) handleGetTask(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args getTaskArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, rerr.Wrap(rerr.KindValidation, err)
		}
	}

	var task *model.Task
	var err error
	switch {
	case args.TaskName != "":
		task, err = t.store.Tasks().GetByName(ctx, args.TaskName)
	case args.TaskID != 0:
		task, err = t.store.Tasks().GetByID(ctx, args.TaskID)
	default:
		return nil, rerr.New(rerr.KindValidation, "task_id or task_name is required")
	}
	if err == store.ErrNotFound {
		return nil, rerr.Newf(rerr.KindNotFound, "task not found")
	}
	if err != nil {
		return nil, rerr.Wrap(rerr.KindInternal, err)
	}
	return jsonResult(taskView(task))
}

func taskView(tk *model.Task) map[string]any {
	return map[string]any{
		"task_id":      tk.ID,
		"uuid":         tk.UUID,
		"name":         tk.Name,
		"version":      tk.Version,
		"source_code":  tk.SourceCode,
		"input_schema": tk.InputSchema,
		"enabled":      tk.Enabled,
	}
}

type getLogsArgs struct {
	Limit int `json:"limit"`
}

func (t *RatchetTools) handleGetLogs(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args getLogsArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, rerr.Wrap(rerr.KindValidation, err)
		}
	}
	if args.Limit <= 0 {
		args.Limit = 200
	}
	return jsonResult(map[string]any{"lines": log.GetRecentLogs(args.Limit)})
}

type createScheduleArgs struct {
	TaskName       string          `json:"task_name"`
	CronExpression string          `json:"cron_expression"`
	Input          json.RawMessage `json:"input"`
}

func (t *RatchetTools) handleCreateSchedule(ctx context.Context, raw json.RawMessage) (*ToolCallResult, error) {
	var args createScheduleArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, rerr.Wrap(rerr.KindValidation, err)
	}
	task, err := t.store.Tasks().GetByName(ctx, args.TaskName)
	if err == store.ErrNotFound {
		return nil, rerr.Newf(rerr.KindNotFound, "task %q not found", args.TaskName)
	}
	if err != nil {
		return nil, rerr.Wrap(rerr.KindInternal, err)
	}

	input := string(args.Input)
	if input == "" {
		input = "null"
	}
	// An unparsable expression gets next_run = now, so the scheduler's
	// next tick disables the schedule with a reason.
	next := time.Now().UTC()
	if cronSchedule, perr := scheduler.ParseNormalized(args.CronExpression); perr == nil {
		next = cronSchedule.Next(next)
	}
	sch, err := t.store.Schedules().Create(ctx, &model.Schedule{
		TaskID:         task.ID,
		CronExpression: args.CronExpression,
		Enabled:        true,
		Input:          input,
		NextRun:        &next,
	})
	if err != nil {
		return nil, rerr.Wrap(rerr.KindInternal, err)
	}
	return jsonResult(map[string]any{"schedule_id": sch.ID})
}

func jobView(j *model.Job) map[string]any {
	v := map[string]any{
		"job_id":            j.ID,
		"uuid":              j.UUID,
		"task_id":           j.TaskID,
		"status":            j.Status.String(),
		"priority":          j.Priority.String(),
		"retry_count":       j.RetryCount,
		"max_retries":       j.MaxRetries,
		"queued_at":         j.QueuedAt,
		"last_execution_id": j.LastExecutionID,
	}
	if j.ErrorMessage != "" {
		v["error_message"] = j.ErrorMessage
	}
	return v
}

func executionView(e *model.Execution) map[string]any {
	v := map[string]any{
		"execution_id": e.ID,
		"job_id":       e.JobID,
		"task_id":      e.TaskID,
		"status":       e.Status.String(),
		"queued_at":    e.QueuedAt,
	}
	if e.Progress != nil {
		v["progress"] = *e.Progress
	}
	if e.Output != nil {
		v["output"] = json.RawMessage(*e.Output)
	}
	if e.Err != nil {
		v["error"] = e.Err
	}
	return v
}

func parseJobStatus(s string) (model.JobStatus, bool) {
	for status := model.JobQueued; status <= model.JobRetrying; status++ {
		if status.String() == s {
			return status, true
		}
	}
	return model.JobQueued, false
}

func jsonResult(v any) (*ToolCallResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, rerr.Wrap(rerr.KindInternal, err)
	}
	return SuccessResult(string(data)), nil
}
