package jsruntime

import (
	"github.com/dop251/goja"

	"github.com/ratchetdata/ratchet/internal/ipc"
	"github.com/ratchetdata/ratchet/internal/rerr"
)

// typedErrorKinds are the error constructors §4.8 requires the runtime
// to expose to task code: NetworkError, DataError, ValidationError,
// AuthError, TimeoutError. Each constructed error is a plain JS object
// shaped {type, message, data?} so the worker can forward it verbatim.
var typedErrorKinds = []string{"NetworkError", "DataError", "ValidationError", "AuthError", "TimeoutError"}

// installErrorConstructors defines one global constructor function per
// typed error kind, e.g. `throw new NetworkError("timeout", {url})`.
func installErrorConstructors(vm *goja.Runtime) {
	for _, kind := range typedErrorKinds {
		kind := kind
		_ = vm.Set(kind, func(call goja.ConstructorCall) *goja.Object {
			msg := ""
			if len(call.Arguments) > 0 {
				msg = call.Arguments[0].String()
			}
			var data any
			if len(call.Arguments) > 1 {
				data = call.Arguments[1].Export()
			}
			obj := call.This
			_ = obj.Set("type", kind)
			_ = obj.Set("message", msg)
			if data != nil {
				_ = obj.Set("data", data)
			}
			_ = obj.Set("name", kind)
			return obj
		})
	}
}

// throwTyped builds the same shape as the installed constructors, for
// errors raised by host-injected functions (e.g. fetch) rather than by
// task code itself.
func throwTyped(vm *goja.Runtime, kind, message string, data any) goja.Value {
	obj := vm.NewObject()
	_ = obj.Set("type", kind)
	_ = obj.Set("message", message)
	_ = obj.Set("name", kind)
	if data != nil {
		_ = obj.Set("data", data)
	}
	return obj
}

func rerrToJS(vm *goja.Runtime, err error) goja.Value {
	var re *rerr.Error
	if e, ok := err.(*rerr.Error); ok {
		re = e
	}
	if re == nil {
		return throwTyped(vm, "DataError", err.Error(), nil)
	}
	kind := "DataError"
	if m, ok := re.Data.(map[string]any); ok {
		if t, ok := m["type"].(string); ok {
			kind = t
		}
		return throwTyped(vm, kind, re.Message, m["message"])
	}
	return throwTyped(vm, kind, re.Message, nil)
}

// classifyThrow turns a goja exception thrown while calling the task
// entry function into an ipc.ErrPayload, matching the kinds named in
// §4.2/§4.8/§7. Exceptions raised while the source itself runs are
// classified as JsRuntime.Compile by compileEntry instead. Here, a
// thrown plain Error (not one of our typed constructors) is a
// JsRuntime.Runtime failure; a thrown {type,message,data} object is
// forwarded verbatim as JsRuntime.TypedJs.
func classifyThrow(exc *goja.Exception) ipc.ErrPayload {
	val := exc.Value()
	if obj, ok := val.Export().(map[string]any); ok {
		if _, ok := obj["type"].(string); ok {
			msg, _ := obj["message"].(string)
			return ipc.ErrPayload{Kind: "JsRuntime.TypedJs", Message: msg, Data: obj["data"]}
		}
	}
	return ipc.ErrPayload{Kind: "JsRuntime.Runtime", Message: exc.Error()}
}
