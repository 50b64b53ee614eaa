package hostfuncs

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhost-dev/flowhost/internal/domain/capability"
	"github.com/flowhost-dev/flowhost/internal/domain/execution"
	"github.com/flowhost-dev/flowhost/internal/domain/node"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/oauth"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/storage"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/stores"
)

func testDefinition() *node.Definition {
	return &node.Definition{
		Name: "test_node",
		Pins: []node.Pin{
			{Name: "exec", PinType: node.PinInput, DataType: node.DataTypeExec},
			{Name: "text", PinType: node.PinInput, DataType: node.DataTypeString, DefaultValue: []byte(`"fallback"`)},
			{Name: "count", PinType: node.PinInput, DataType: node.DataTypeI64},
			{Name: "exec_out", PinType: node.PinOutput, DataType: node.DataTypeExec},
		},
	}
}

func testInput(inputs map[string]json.RawMessage) execution.Input {
	return execution.Input{
		RunID:    "run-1",
		BoardID:  "board-1",
		NodeID:   "node-1",
		AppID:    "app-1",
		UserID:   "user-1",
		NodeName: "test_node",
		Inputs:   inputs,
	}
}

func grantAll() *capability.Enforcer {
	return capability.NewEnforcer(capability.NewSet(
		capability.Variables, capability.Cache, capability.Streaming,
		capability.StorageRead, capability.StorageWrite, capability.StorageNode,
		capability.StorageUser, capability.Models, capability.OAuth,
		capability.NetworkHTTP,
	), nil)
}

func grantNone() *capability.Enforcer {
	return capability.NewEnforcer(capability.NewSet(), nil)
}

func TestSessionAppliesPinDefaults(t *testing.T) {
	t.Parallel()

	s := NewSession(testInput(map[string]json.RawMessage{
		"count": []byte(`3`),
	}), testDefinition(), grantNone())

	text, ok := s.Input("text")
	require.True(t, ok)
	assert.JSONEq(t, `"fallback"`, string(text))

	count, ok := s.Input("count")
	require.True(t, ok)
	assert.Equal(t, `3`, string(count))

	// A pin without default and without a supplied value stays absent.
	_, ok = s.Input("missing")
	assert.False(t, ok)
}

func TestSessionExplicitInputWinsOverDefault(t *testing.T) {
	t.Parallel()

	s := NewSession(testInput(map[string]json.RawMessage{
		"text": []byte(`"supplied"`),
	}), testDefinition(), grantNone())

	text, ok := s.Input("text")
	require.True(t, ok)
	assert.JSONEq(t, `"supplied"`, string(text))
}

func TestSessionExecActivationDeduplicates(t *testing.T) {
	t.Parallel()

	s := NewSession(testInput(nil), testDefinition(), grantNone())
	s.ActivateExec("exec_out")
	s.ActivateExec("exec_out")
	s.ActivateExec("other")

	result := s.Finish(execution.NewResult())
	assert.Equal(t, []string{"exec_out", "other"}, result.ActivateExec)
}

func TestSessionFinishGuestOutputsWin(t *testing.T) {
	t.Parallel()

	s := NewSession(testInput(nil), testDefinition(), grantNone())
	s.SetOutput("a", []byte(`1`))
	s.SetOutput("b", []byte(`2`))

	guest := execution.NewResult()
	guest.Outputs["b"] = []byte(`20`)
	guest.ActivateExec = []string{"exec_out"}

	result := s.Finish(guest)
	assert.Equal(t, json.RawMessage(`1`), result.Outputs["a"])
	assert.Equal(t, json.RawMessage(`20`), result.Outputs["b"])
	assert.Equal(t, []string{"exec_out"}, result.ActivateExec)
}

func TestSessionVariablesDeniedIsSentinelNotError(t *testing.T) {
	t.Parallel()

	vars := stores.NewMemoryVariables()
	s := NewSession(testInput(nil), testDefinition(), grantNone(), WithVariables(vars))

	assert.False(t, s.VarSet("k", []byte(`1`)))
	_, ok := s.VarGet("k")
	assert.False(t, ok)
	assert.False(t, s.VarHas("k"))

	// Denial must leave no side effect behind.
	_, stored := vars.Get("k")
	assert.False(t, stored)
}

func TestSessionVariablesGranted(t *testing.T) {
	t.Parallel()

	vars := stores.NewMemoryVariables()
	s := NewSession(testInput(nil), testDefinition(), grantAll(), WithVariables(vars))

	require.True(t, s.VarSet("k", []byte(`{"v":1}`)))
	got, ok := s.VarGet("k")
	require.True(t, ok)
	assert.JSONEq(t, `{"v":1}`, string(got))
	assert.True(t, s.VarHas("k"))

	s.VarDelete("k")
	assert.False(t, s.VarHas("k"))
}

func TestSessionCacheScopedByNode(t *testing.T) {
	t.Parallel()

	cache := stores.NewMemoryCache()
	s := NewSession(testInput(nil), testDefinition(), grantAll(), WithCache(cache))

	require.True(t, s.CacheSet("key", []byte(`"v"`)))
	assert.True(t, s.CacheHas("key"))

	// The entry lives under this invocation's node name.
	_, ok := cache.Get("test_node", "key")
	assert.True(t, ok)
	_, ok = cache.Get("other_node", "key")
	assert.False(t, ok)
}

func TestSessionStreamingDeniedDropsEvents(t *testing.T) {
	t.Parallel()

	var delivered []execution.StreamEvent
	s := NewSession(testInput(nil), testDefinition(), grantNone(),
		WithStreamSink(func(ev execution.StreamEvent) { delivered = append(delivered, ev) }))

	assert.False(t, s.StreamEmit("progress", []byte(`{"pct":50}`)))
	assert.False(t, s.StreamText("chunk"))
	assert.Empty(t, s.Events())
	assert.Empty(t, delivered)
}

func TestSessionStreamingGrantedPreservesOrder(t *testing.T) {
	t.Parallel()

	var delivered []string
	s := NewSession(testInput(nil), testDefinition(), grantAll(),
		WithStreamSink(func(ev execution.StreamEvent) { delivered = append(delivered, ev.EventType) }))

	require.True(t, s.StreamEmit("start", []byte(`{}`)))
	require.True(t, s.StreamText("hello"))
	require.True(t, s.StreamEmit("end", []byte(`{}`)))

	events := s.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "start", events[0].EventType)
	assert.Equal(t, "text", events[1].EventType)
	assert.JSONEq(t, `"hello"`, string(events[1].Data))
	assert.Equal(t, "end", events[2].EventType)
	assert.Equal(t, []string{"start", "text", "end"}, delivered)
}

func TestSessionClockDeterministicUnderFixedClock(t *testing.T) {
	t.Parallel()

	s := NewSession(testInput(nil), testDefinition(), grantNone(),
		WithClock(FixedClock{Time: 1700000000000, Rand: 0.25}))

	assert.Equal(t, int64(1700000000000), s.TimeNow())
	assert.Equal(t, 0.25, s.Random())
	// Time and randomness are never gated.
	assert.Equal(t, s.TimeNow(), s.TimeNow())
}

func TestSessionStorageGating(t *testing.T) {
	t.Parallel()

	sc := storage.NewContext(
		storage.NewMemoryStore(), storage.NewMemoryStore(), storage.NewMemoryStore(),
		"app-1", "board-1", "node-1", "user-1")

	t.Run("denied without storage capability", func(t *testing.T) {
		t.Parallel()
		s := NewSession(testInput(nil), testDefinition(), grantNone(), WithStorage(sc))
		_, ok := s.StorageDir(false)
		assert.False(t, ok)
		_, ok = s.UploadDir()
		assert.False(t, ok)
	})

	t.Run("node scope needs storage:node", func(t *testing.T) {
		t.Parallel()
		enf := capability.NewEnforcer(capability.NewSet(capability.StorageRead), nil)
		s := NewSession(testInput(nil), testDefinition(), enf, WithStorage(sc))

		_, ok := s.StorageDir(false)
		assert.True(t, ok)
		_, ok = s.StorageDir(true)
		assert.False(t, ok)
	})

	t.Run("user dir needs storage:user", func(t *testing.T) {
		t.Parallel()
		enf := capability.NewEnforcer(capability.NewSet(capability.StorageRead), nil)
		s := NewSession(testInput(nil), testDefinition(), enf, WithStorage(sc))
		_, ok := s.UserDir(false)
		assert.False(t, ok)
	})

	t.Run("read write round trip when granted", func(t *testing.T) {
		t.Parallel()
		s := NewSession(testInput(nil), testDefinition(), grantAll(), WithStorage(sc))

		dir, ok := s.StorageDir(false)
		require.True(t, ok)
		file := storage.Child(dir, "notes.txt")

		require.True(t, s.StorageWrite(context.Background(), file, []byte("hello")))
		data, ok := s.StorageRead(context.Background(), file)
		require.True(t, ok)
		assert.Equal(t, []byte("hello"), data)

		entries, ok := s.StorageList(context.Background(), dir)
		require.True(t, ok)
		require.Len(t, entries, 1)
	})

	t.Run("write needs storage:write", func(t *testing.T) {
		t.Parallel()
		enf := capability.NewEnforcer(capability.NewSet(capability.StorageRead), nil)
		s := NewSession(testInput(nil), testDefinition(), enf, WithStorage(sc))

		dir, ok := s.StorageDir(false)
		require.True(t, ok)
		assert.False(t, s.StorageWrite(context.Background(), storage.Child(dir, "f"), []byte("x")))
	})
}

func TestSessionOAuthDeniedHidesPresentToken(t *testing.T) {
	t.Parallel()

	tokens := oauth.NewTokenStore()
	tokens.Put("github", oauth.Token{AccessToken: "tok", TokenType: "bearer", RefreshToken: "refresh"})

	denied := NewSession(testInput(nil), testDefinition(), grantNone(), WithTokens(tokens))
	_, ok := denied.OAuthToken("github")
	assert.False(t, ok, "a present token must stay invisible without the oauth capability")
	assert.False(t, denied.HasOAuthToken("github"))

	granted := NewSession(testInput(nil), testDefinition(), grantAll(), WithTokens(tokens))
	wire, ok := granted.OAuthToken("github")
	require.True(t, ok)
	assert.Equal(t, "tok", wire.AccessToken)
	assert.True(t, granted.HasOAuthToken("github"))
}

func TestSessionLogsCollectedInOrder(t *testing.T) {
	t.Parallel()

	s := NewSession(testInput(nil), testDefinition(), grantNone())
	s.Log(execution.LogInfo, "first", nil)
	s.Log(execution.LogError, "second", []byte(`{"code":7}`))

	logs := s.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "first", logs[0].Message)
	assert.Equal(t, execution.LogError, logs[1].Level)
	assert.JSONEq(t, `{"code":7}`, string(logs[1].Data))
}

func TestSessionContextPlumbing(t *testing.T) {
	t.Parallel()

	s := NewSession(testInput(nil), testDefinition(), grantNone())
	ctx := WithSession(context.Background(), s)
	assert.Same(t, s, SessionFromContext(ctx))
	assert.Nil(t, SessionFromContext(context.Background()))
}
