package hostfuncs

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/flowhost-dev/flowhost/internal/domain/execution"
	"github.com/flowhost-dev/flowhost/wireformat"
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

type hostFunc struct {
	name    string
	params  []api.ValueType
	results []api.ValueType
	fn      api.GoModuleFunc
}

func instantiateHostModule(ctx context.Context, r wazero.Runtime, module string, fns []hostFunc) error {
	builder := r.NewHostModuleBuilder(module)
	for _, f := range fns {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(f.fn, f.params, f.results).
			Export(f.name)
	}
	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("failed to instantiate host module %s: %w", module, err)
	}
	return nil
}

// RegisterHostModules installs every host import module guests may link
// against. All functions resolve the invocation session from the call
// context; capability checks live in the session, so a function here is only
// wire plumbing.
func RegisterHostModules(ctx context.Context, r wazero.Runtime) error {
	modules := map[string][]hostFunc{
		"flowlike_log":     logFuncs(),
		"flowlike_pins":    pinFuncs(),
		"flowlike_vars":    varFuncs(),
		"flowlike_cache":   cacheFuncs(),
		"flowlike_meta":    metaFuncs(),
		"flowlike_storage": storageFuncs(),
		"flowlike_models":  modelFuncs(),
		"flowlike_http":    httpFuncs(),
		"flowlike_stream":  streamFuncs(),
		"flowlike_auth":    authFuncs(),
	}
	for name, fns := range modules {
		if err := instantiateHostModule(ctx, r, name, fns); err != nil {
			return err
		}
	}
	return nil
}

// ---- flowlike_log ----

func logAt(level execution.LogLevel) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		s := SessionFromContext(ctx)
		if s == nil {
			return
		}
		msg, ok := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))) //nolint:gosec
		if !ok {
			return
		}
		s.Log(level, msg, nil)
	}
}

func logFuncs() []hostFunc {
	ptrLen := []api.ValueType{i32, i32}
	return []hostFunc{
		// trace folds into debug; the host log levels start there.
		{name: "trace", params: ptrLen, fn: logAt(execution.LogDebug)},
		{name: "debug", params: ptrLen, fn: logAt(execution.LogDebug)},
		{name: "info", params: ptrLen, fn: logAt(execution.LogInfo)},
		{name: "warn", params: ptrLen, fn: logAt(execution.LogWarn)},
		{name: "error", params: ptrLen, fn: logAt(execution.LogError)},
		{name: "log_json", params: []api.ValueType{i32, i32, i32, i32, i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					return
				}
				level := execution.LogLevel(stack[0]) //nolint:gosec
				msg, ok := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[1]), uint32(stack[2]))) //nolint:gosec
				if !ok {
					return
				}
				data, _ := readGuestBytes(mod, wireformat.PackPtrLen(uint32(stack[3]), uint32(stack[4]))) //nolint:gosec
				s.Log(level, msg, data)
			}},
	}
}

// ---- flowlike_pins ----

func pinFuncs() []hostFunc {
	return []hostFunc{
		{name: "get_input", params: []api.ValueType{i32, i32}, results: []api.ValueType{i64},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				name, ok := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))) //nolint:gosec
				if s == nil || !ok {
					stack[0] = 0
					return
				}
				value, ok := s.Input(name)
				if !ok {
					stack[0] = 0
					return
				}
				stack[0] = writeGuestBytes(ctx, mod, value)
			}},
		{name: "set_output", params: []api.ValueType{i32, i32, i32, i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					return
				}
				name, ok1 := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))) //nolint:gosec
				value, ok2 := readGuestBytes(mod, wireformat.PackPtrLen(uint32(stack[2]), uint32(stack[3]))) //nolint:gosec
				if !ok1 || !ok2 {
					return
				}
				s.SetOutput(name, value)
			}},
		{name: "activate_exec", params: []api.ValueType{i32, i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					return
				}
				if name, ok := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))); ok { //nolint:gosec
					s.ActivateExec(name)
				}
			}},
	}
}

// ---- flowlike_vars ----

func varFuncs() []hostFunc {
	return []hostFunc{
		{name: "get", params: []api.ValueType{i32, i32}, results: []api.ValueType{i64},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				name, ok := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))) //nolint:gosec
				if s == nil || !ok {
					stack[0] = 0
					return
				}
				value, found := s.VarGet(name)
				if !found {
					stack[0] = 0
					return
				}
				stack[0] = writeGuestBytes(ctx, mod, value)
			}},
		{name: "set", params: []api.ValueType{i32, i32, i32, i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					return
				}
				name, ok1 := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))) //nolint:gosec
				value, ok2 := readGuestBytes(mod, wireformat.PackPtrLen(uint32(stack[2]), uint32(stack[3]))) //nolint:gosec
				if ok1 && ok2 {
					s.VarSet(name, value)
				}
			}},
		{name: "delete", params: []api.ValueType{i32, i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					return
				}
				if name, ok := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))); ok { //nolint:gosec
					s.VarDelete(name)
				}
			}},
		{name: "has", params: []api.ValueType{i32, i32}, results: []api.ValueType{i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				name, ok := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))) //nolint:gosec
				if s != nil && ok && s.VarHas(name) {
					stack[0] = 1
				} else {
					stack[0] = 0
				}
			}},
	}
}

// ---- flowlike_cache ----

func cacheFuncs() []hostFunc {
	return []hostFunc{
		{name: "get", params: []api.ValueType{i32, i32}, results: []api.ValueType{i64},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				key, ok := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))) //nolint:gosec
				if s == nil || !ok {
					stack[0] = 0
					return
				}
				value, found := s.CacheGet(key)
				if !found {
					stack[0] = 0
					return
				}
				stack[0] = writeGuestBytes(ctx, mod, value)
			}},
		{name: "set", params: []api.ValueType{i32, i32, i32, i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					return
				}
				key, ok1 := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))) //nolint:gosec
				value, ok2 := readGuestBytes(mod, wireformat.PackPtrLen(uint32(stack[2]), uint32(stack[3]))) //nolint:gosec
				if ok1 && ok2 {
					s.CacheSet(key, value)
				}
			}},
		{name: "delete", params: []api.ValueType{i32, i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					return
				}
				if key, ok := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))); ok { //nolint:gosec
					s.CacheDelete(key)
				}
			}},
		{name: "has", params: []api.ValueType{i32, i32}, results: []api.ValueType{i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				key, ok := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))) //nolint:gosec
				if s != nil && ok && s.CacheHas(key) {
					stack[0] = 1
				} else {
					stack[0] = 0
				}
			}},
	}
}

// ---- flowlike_meta ----

func metaString(get func(*Session) string) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		s := SessionFromContext(ctx)
		if s == nil {
			stack[0] = 0
			return
		}
		stack[0] = writeGuestString(ctx, mod, get(s))
	}
}

func metaFuncs() []hostFunc {
	strResult := []api.ValueType{i64}
	return []hostFunc{
		{name: "get_node_id", results: strResult, fn: metaString(func(s *Session) string { return s.Meta().NodeID })},
		{name: "get_run_id", results: strResult, fn: metaString(func(s *Session) string { return s.Meta().RunID })},
		{name: "get_app_id", results: strResult, fn: metaString(func(s *Session) string { return s.Meta().AppID })},
		{name: "get_board_id", results: strResult, fn: metaString(func(s *Session) string { return s.Meta().BoardID })},
		{name: "get_user_id", results: strResult, fn: metaString(func(s *Session) string { return s.Meta().UserID })},
		{name: "is_streaming", results: []api.ValueType{i32},
			fn: func(ctx context.Context, _ api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s != nil && s.Meta().StreamState {
					stack[0] = 1
				} else {
					stack[0] = 0
				}
			}},
		{name: "get_log_level", results: []api.ValueType{i32},
			fn: func(ctx context.Context, _ api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					stack[0] = 0
					return
				}
				stack[0] = uint64(s.Meta().LogLevel)
			}},
		{name: "time_now", results: []api.ValueType{i64},
			fn: func(ctx context.Context, _ api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					stack[0] = 0
					return
				}
				stack[0] = uint64(s.TimeNow()) //nolint:gosec
			}},
		// random returns the IEEE-754 bits of a uniform [0,1) sample; the
		// guest reassembles the float.
		{name: "random", results: []api.ValueType{i64},
			fn: func(ctx context.Context, _ api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					stack[0] = 0
					return
				}
				stack[0] = math.Float64bits(s.Random())
			}},
	}
}

// ---- flowlike_storage ----

func readFlowPath(mod api.Module, stack []uint64) (wireformat.FlowPathWire, bool) {
	var fp wireformat.FlowPathWire
	packed := wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1])) //nolint:gosec
	if !readGuestJSON(mod, packed, &fp) {
		return wireformat.FlowPathWire{}, false
	}
	return fp, true
}

func storageFuncs() []hostFunc {
	return []hostFunc{
		{name: "read_request", params: []api.ValueType{i32, i32}, results: []api.ValueType{i64},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				fp, ok := readFlowPath(mod, stack)
				if s == nil || !ok {
					stack[0] = 0
					return
				}
				data, ok := s.StorageRead(ctx, fp)
				if !ok {
					stack[0] = 0
					return
				}
				stack[0] = writeGuestBytes(ctx, mod, data)
			}},
		{name: "write_request", params: []api.ValueType{i32, i32, i32, i32}, results: []api.ValueType{i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				fp, ok1 := readFlowPath(mod, stack)
				data, ok2 := readGuestBytes(mod, wireformat.PackPtrLen(uint32(stack[2]), uint32(stack[3]))) //nolint:gosec
				if s != nil && ok1 && ok2 && s.StorageWrite(ctx, fp, data) {
					stack[0] = 1
				} else {
					stack[0] = 0
				}
			}},
		{name: "storage_dir", params: []api.ValueType{i32}, results: []api.ValueType{i64},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					stack[0] = 0
					return
				}
				fp, ok := s.StorageDir(stack[0] != 0)
				if !ok {
					stack[0] = 0
					return
				}
				stack[0] = writeGuestJSON(ctx, mod, fp)
			}},
		{name: "upload_dir", results: []api.ValueType{i64},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					stack[0] = 0
					return
				}
				fp, ok := s.UploadDir()
				if !ok {
					stack[0] = 0
					return
				}
				stack[0] = writeGuestJSON(ctx, mod, fp)
			}},
		{name: "cache_dir", params: []api.ValueType{i32, i32}, results: []api.ValueType{i64},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					stack[0] = 0
					return
				}
				fp, ok := s.CacheDir(stack[0] != 0, stack[1] != 0)
				if !ok {
					stack[0] = 0
					return
				}
				stack[0] = writeGuestJSON(ctx, mod, fp)
			}},
		{name: "user_dir", params: []api.ValueType{i32}, results: []api.ValueType{i64},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					stack[0] = 0
					return
				}
				fp, ok := s.UserDir(stack[0] != 0)
				if !ok {
					stack[0] = 0
					return
				}
				stack[0] = writeGuestJSON(ctx, mod, fp)
			}},
		{name: "list_request", params: []api.ValueType{i32, i32}, results: []api.ValueType{i64},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				fp, ok := readFlowPath(mod, stack)
				if s == nil || !ok {
					stack[0] = 0
					return
				}
				entries, ok := s.StorageList(ctx, fp)
				if !ok {
					stack[0] = 0
					return
				}
				stack[0] = writeGuestJSON(ctx, mod, entries)
			}},
	}
}

// ---- flowlike_models ----

func modelFuncs() []hostFunc {
	return []hostFunc{
		{name: "embed_text", params: []api.ValueType{i32, i32, i32, i32}, results: []api.ValueType{i64},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				modelBit, ok1 := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))) //nolint:gosec
				var texts []string
				ok2 := readGuestJSON(mod, wireformat.PackPtrLen(uint32(stack[2]), uint32(stack[3])), &texts) //nolint:gosec
				if s == nil || !ok1 || !ok2 {
					stack[0] = 0
					return
				}
				vectors, ok := s.EmbedText(ctx, modelBit, texts)
				if !ok {
					stack[0] = 0
					return
				}
				stack[0] = writeGuestJSON(ctx, mod, wireformat.EmbedResponseWire{Vectors: vectors})
			}},
	}
}

// ---- flowlike_http ----

// httpMethodName maps the wire method ordinal to its HTTP verb.
func httpMethodName(method int32) (string, bool) {
	switch method {
	case 0:
		return "GET", true
	case 1:
		return "POST", true
	case 2:
		return "PUT", true
	case 3:
		return "DELETE", true
	case 4:
		return "PATCH", true
	case 5:
		return "HEAD", true
	case 6:
		return "OPTIONS", true
	default:
		return "", false
	}
}

func httpFuncs() []hostFunc {
	return []hostFunc{
		{name: "request",
			params:  []api.ValueType{i32, i32, i32, i32, i32, i32, i32},
			results: []api.ValueType{i64},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					stack[0] = 0
					return
				}
				method, ok := httpMethodName(int32(stack[0])) //nolint:gosec
				if !ok {
					stack[0] = 0
					return
				}
				url, ok := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[1]), uint32(stack[2]))) //nolint:gosec
				if !ok {
					stack[0] = 0
					return
				}
				var headers map[string][]string
				if packed := wireformat.PackPtrLen(uint32(stack[3]), uint32(stack[4])); packed != 0 { //nolint:gosec
					_ = readGuestJSON(mod, packed, &headers)
				}
				body, _ := readGuestBytes(mod, wireformat.PackPtrLen(uint32(stack[5]), uint32(stack[6]))) //nolint:gosec

				req := wireformat.HTTPRequestWire{
					Method:  method,
					URL:     url,
					Headers: headers,
				}
				if len(body) > 0 {
					req.Body = base64.StdEncoding.EncodeToString(body)
				}
				resp, ok := s.HTTPRequest(ctx, req)
				if !ok {
					stack[0] = 0
					return
				}
				stack[0] = writeGuestJSON(ctx, mod, resp)
			}},
	}
}

// ---- flowlike_stream ----

func streamFuncs() []hostFunc {
	return []hostFunc{
		{name: "emit", params: []api.ValueType{i32, i32, i32, i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					return
				}
				eventType, ok1 := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))) //nolint:gosec
				data, ok2 := readGuestBytes(mod, wireformat.PackPtrLen(uint32(stack[2]), uint32(stack[3]))) //nolint:gosec
				if ok1 && ok2 {
					s.StreamEmit(eventType, data)
				}
			}},
		{name: "text", params: []api.ValueType{i32, i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				if s == nil {
					return
				}
				if text, ok := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))); ok { //nolint:gosec
					s.StreamText(text)
				}
			}},
	}
}

// ---- flowlike_auth ----

func authFuncs() []hostFunc {
	return []hostFunc{
		{name: "get_oauth_token", params: []api.ValueType{i32, i32}, results: []api.ValueType{i64},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				provider, ok := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))) //nolint:gosec
				if s == nil || !ok {
					stack[0] = 0
					return
				}
				token, found := s.OAuthToken(provider)
				if !found {
					stack[0] = 0
					return
				}
				stack[0] = writeGuestJSON(ctx, mod, token)
			}},
		{name: "has_oauth_token", params: []api.ValueType{i32, i32}, results: []api.ValueType{i32},
			fn: func(ctx context.Context, mod api.Module, stack []uint64) {
				s := SessionFromContext(ctx)
				provider, ok := readGuestString(mod, wireformat.PackPtrLen(uint32(stack[0]), uint32(stack[1]))) //nolint:gosec
				if s != nil && ok && s.HasOAuthToken(provider) {
					stack[0] = 1
				} else {
					stack[0] = 0
				}
			}},
	}
}
