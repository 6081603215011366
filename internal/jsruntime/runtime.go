package jsruntime

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja"

	"github.com/ratchetdata/ratchet/internal/ipc"
	"github.com/ratchetdata/ratchet/internal/rerr"
)

// ExecutionContext is the second argument passed to a task's entry
// function (§4.2, §4.8): `{ executionId, taskId, taskVersion, jobId? }`.
type ExecutionContext struct {
	ExecutionID string  `json:"executionId"`
	TaskID      string  `json:"taskId"`
	TaskVersion string  `json:"taskVersion"`
	JobID       *string `json:"jobId,omitempty"`
}

// Request bundles everything one ExecuteTask IPC message carries that
// the runtime needs.
type Request struct {
	Source       string
	InputSchema  string
	OutputSchema string
	Input        string // raw JSON
	Context      ExecutionContext
	Fetch        FetchConfig
}

// Result is the outcome of running one task: exactly one of Output or
// Err is set, matching ipc.TaskOutcome.
type Result struct {
	Output   string
	Err      *ipc.ErrPayload
	Progress *float64
}

// Run executes req.Source against req.Input inside a fresh goja VM. A
// fresh VM per call keeps tasks isolated from each other's globals — a
// worker handles one task at a time (§4.2), so the cost of a new VM per
// ExecuteTask is paid once per task, not per request burst.
func Run(req Request) Result {
	if err := Validate(req.InputSchema, req.Input); err != nil {
		return Result{Err: &ipc.ErrPayload{Kind: "Validation", Message: err.Error()}}
	}

	vm := goja.New()
	// Expose Go structs (the execution context) under their json tag
	// names, so tasks see context.executionId rather than ExecutionID.
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	installErrorConstructors(vm)
	installFetch(vm, req.Fetch)

	entry, errPayload := compileEntry(vm, req.Source)
	if errPayload != nil {
		return Result{Err: errPayload}
	}

	inputVal, err := vm.RunString("(" + req.Input + ")")
	if err != nil {
		return Result{Err: &ipc.ErrPayload{Kind: "JsRuntime.Compile", Message: "invalid input literal: " + err.Error()}}
	}
	ctxVal := vm.ToValue(req.Context)

	out, callErr := callEntry(vm, entry, inputVal, ctxVal)
	if callErr != nil {
		return Result{Err: callErr}
	}

	outputJSON, err := marshalJSValue(vm, out)
	if err != nil {
		return Result{Err: &ipc.ErrPayload{Kind: "JsRuntime.Runtime", Message: fmt.Sprintf("return value is not JSON-serializable: %v", err)}}
	}

	if err := Validate(req.OutputSchema, outputJSON); err != nil {
		return Result{Err: &ipc.ErrPayload{Kind: "Validation", Message: err.Error()}}
	}

	return Result{Output: outputJSON}
}

// compileEntry runs the task source and locates its single callable
// export: module.exports if it is a function, else a global function
// named main. Any other shape is a CompileError (§4.2: "non-callable
// exports produce CompileError").
func compileEntry(vm *goja.Runtime, source string) (goja.Callable, *ipc.ErrPayload) {
	moduleObj := vm.NewObject()
	exportsObj := vm.NewObject()
	_ = moduleObj.Set("exports", exportsObj)
	_ = vm.Set("module", moduleObj)
	_ = vm.Set("exports", exportsObj)

	if _, err := vm.RunString(source); err != nil {
		if exc, ok := err.(*goja.Exception); ok {
			return nil, exceptionToCompileError(exc)
		}
		return nil, &ipc.ErrPayload{Kind: "JsRuntime.Compile", Message: err.Error()}
	}

	if exports := vm.Get("module").ToObject(vm).Get("exports"); exports != nil {
		if fn, ok := goja.AssertFunction(exports); ok {
			return fn, nil
		}
	}

	main := vm.Get("main")
	if main == nil || goja.IsUndefined(main) {
		return nil, &ipc.ErrPayload{Kind: "JsRuntime.Compile", Message: "task does not export a callable (module.exports or global main)"}
	}
	fn, ok := goja.AssertFunction(main)
	if !ok {
		return nil, &ipc.ErrPayload{Kind: "JsRuntime.Compile", Message: "exported value is not callable"}
	}
	return fn, nil
}

func exceptionToCompileError(exc *goja.Exception) *ipc.ErrPayload {
	return &ipc.ErrPayload{Kind: "JsRuntime.Compile", Message: exc.Error()}
}

func callEntry(vm *goja.Runtime, fn goja.Callable, input, ctx goja.Value) (goja.Value, *ipc.ErrPayload) {
	out, err := fn(goja.Undefined(), input, ctx)
	if err != nil {
		if exc, ok := err.(*goja.Exception); ok {
			p := classifyThrow(exc)
			return nil, &p
		}
		return nil, &ipc.ErrPayload{Kind: "JsRuntime.Runtime", Message: err.Error()}
	}
	return out, nil
}

func marshalJSValue(vm *goja.Runtime, v goja.Value) (string, error) {
	jsonGlobal := vm.Get("JSON").ToObject(vm)
	stringify, ok := goja.AssertFunction(jsonGlobal.Get("stringify"))
	if !ok {
		return "", fmt.Errorf("JSON.stringify unavailable")
	}
	res, err := stringify(jsonGlobal, v)
	if err != nil {
		return "", err
	}
	if goja.IsUndefined(res) {
		return "null", nil
	}
	return res.String(), nil
}

// NewExecutionContext builds the context object injected into a task,
// deriving a stable string id from the integer job id when present.
func NewExecutionContext(executionID, taskID int64, taskVersion string, jobID *int64) ExecutionContext {
	ec := ExecutionContext{
		ExecutionID: strconv.FormatInt(executionID, 10),
		TaskID:      strconv.FormatInt(taskID, 10),
		TaskVersion: taskVersion,
	}
	if jobID != nil {
		s := strconv.FormatInt(*jobID, 10)
		ec.JobID = &s
	}
	return ec
}

// errKindToRerr maps an ipc error Kind string back to rerr.Kind.
func errKindToRerr(kind string) rerr.Kind {
	switch kind {
	case "Validation":
		return rerr.KindValidation
	case "JsRuntime.Compile":
		return rerr.KindJSCompile
	case "JsRuntime.Runtime":
		return rerr.KindJSRuntime
	case "JsRuntime.TypedJs":
		return rerr.KindJSTyped
	default:
		return rerr.KindInternal
	}
}

// KindOf exposes errKindToRerr for callers outside the package.
func KindOf(kind string) rerr.Kind { return errKindToRerr(kind) }
