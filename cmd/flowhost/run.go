package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/flowhost-dev/flowhost/internal/domain/capability"
	"github.com/flowhost-dev/flowhost/internal/domain/execution"
	"github.com/flowhost-dev/flowhost/internal/domain/node"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/build"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/builtin"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/engine"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/models"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/oauth"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/persistence/badgercache"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/storage"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/stores"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/trust"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/wasm"
	"github.com/flowhost-dev/flowhost/internal/infrastructure/wasm/hostfuncs"
)

var runFlags struct {
	nodeName   string
	builtin    string
	inputs     []string
	boardID    string
	appID      string
	userID     string
	grants     []string
	timeout    time.Duration
	memoryMB   int
	dataDir    string
	cacheDir   string
	expect     string
	showEvents bool
}

var runCmd = &cobra.Command{
	Use:   "run [package.wasm]",
	Short: "Execute one node invocation",
	Long: `Run executes a single node from a WASM node package (or a builtin
package) and prints the resulting outputs. Untrusted packages trigger an
interactive consent prompt naming the declared permissions.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.nodeName, "node", "n", "", "node name to invoke (defaults to the package's only node)")
	runCmd.Flags().StringVar(&runFlags.builtin, "builtin", "", "run a builtin package instead of a .wasm file (e.g. repeat_text)")
	runCmd.Flags().StringArrayVarP(&runFlags.inputs, "input", "i", nil, "input pin value as name=json (repeatable)")
	runCmd.Flags().StringVar(&runFlags.boardID, "board", "", "board id the invocation belongs to")
	runCmd.Flags().StringVar(&runFlags.appID, "app", "", "app id")
	runCmd.Flags().StringVar(&runFlags.userID, "user", "", "user id")
	runCmd.Flags().StringArrayVar(&runFlags.grants, "grant", nil, "extra capability grant (repeatable)")
	runCmd.Flags().DurationVar(&runFlags.timeout, "timeout", 0, "invocation timeout (default 30s)")
	runCmd.Flags().IntVar(&runFlags.memoryMB, "memory-limit", 0, "guest memory limit in MB (0 default, -1 unlimited)")
	runCmd.Flags().StringVar(&runFlags.dataDir, "data-dir", "", "directory backing the storage capability (in-memory when unset)")
	runCmd.Flags().StringVar(&runFlags.cacheDir, "cache-dir", "", "directory for the persistent node cache (in-memory when unset)")
	runCmd.Flags().StringVar(&runFlags.expect, "expect", "", "expression over the outcome that must evaluate to true")
	runCmd.Flags().BoolVar(&runFlags.showEvents, "events", false, "print stream events as they arrive")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	pkg, cleanup, err := loadRunPackage(ctx, args)
	if err != nil {
		return err
	}
	defer cleanup()

	nodeName := runFlags.nodeName
	if nodeName == "" {
		defs := pkg.Definitions()
		if len(defs) != 1 {
			return fmt.Errorf("package exports %d nodes; pick one with --node", len(defs))
		}
		nodeName = defs[0].Name
	}

	inputs, err := parseInputs(runFlags.inputs)
	if err != nil {
		return err
	}

	grants, err := capability.ParseSet(runFlags.grants)
	if err != nil {
		return err
	}

	gate, prompter, err := openTrustGate()
	if err != nil {
		return err
	}

	invoker, closeCache, err := buildInvoker(gate, grants)
	if err != nil {
		return err
	}
	defer closeCache()

	in := execution.Input{
		NodeID:   uuid.NewString(),
		RunID:    uuid.NewString(),
		AppID:    runFlags.appID,
		BoardID:  runFlags.boardID,
		UserID:   runFlags.userID,
		NodeName: nodeName,
		Inputs:   inputs,
	}

	var sessionOpts []hostfuncs.SessionOption
	if runFlags.showEvents {
		sessionOpts = append(sessionOpts, hostfuncs.WithStreamSink(func(ev execution.StreamEvent) {
			fmt.Fprintf(os.Stdout, "event %s: %s\n", ev.EventType, string(ev.Data))
		}))
	}

	outcome, err := invoker.Invoke(ctx, pkg, in, sessionOpts...)
	if errors.Is(err, engine.ErrNotTrusted) {
		decision, granted, askErr := prompter.Ask(pkg.Name(), pkg.Digest(), in.BoardID, pkg.Permissions().Names())
		if askErr != nil {
			return askErr
		}
		if !granted {
			return fmt.Errorf("package %s denied", pkg.Name())
		}
		if grantErr := gate.Grant(decision); grantErr != nil {
			return grantErr
		}
		outcome, err = invoker.Invoke(ctx, pkg, in, sessionOpts...)
	}
	if err != nil {
		return err
	}

	if err := printOutcome(outcome); err != nil {
		return err
	}
	if runFlags.expect != "" {
		return checkExpectation(runFlags.expect, outcome)
	}
	if outcome.State != engine.StateCompleted {
		return fmt.Errorf("invocation %s", outcome.State)
	}
	return nil
}

// enginePackage is what the run command needs from a package: the engine
// contract plus definition listing for node selection.
type enginePackage interface {
	engine.NodePackage
	Definitions() []node.Definition
}

// loadRunPackage resolves the package from the positional .wasm argument or
// the --builtin flag.
func loadRunPackage(ctx context.Context, args []string) (enginePackage, func(), error) {
	if runFlags.builtin != "" {
		if len(args) > 0 {
			return nil, nil, fmt.Errorf("pass either a .wasm file or --builtin, not both")
		}
		switch runFlags.builtin {
		case builtin.RepeatNodeName:
			return builtin.NewRepeatPackage(), func() {}, nil
		default:
			return nil, nil, fmt.Errorf("unknown builtin package %q", runFlags.builtin)
		}
	}
	if len(args) == 0 {
		return nil, nil, fmt.Errorf("pass a .wasm file or --builtin")
	}

	wasmBytes, err := os.ReadFile(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read package: %w", err)
	}

	runtime, err := wasm.NewRuntime(ctx, wasm.Config{MemoryLimitMB: runFlags.memoryMB})
	if err != nil {
		return nil, nil, err
	}
	name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	pkg, err := runtime.Load(ctx, name, wasmBytes)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, nil, err
	}
	return pkg, func() { _ = runtime.Close(ctx) }, nil
}

func openTrustGate() (*trust.Gate, *trust.Prompter, error) {
	path, err := trust.DefaultPath()
	if err != nil {
		return nil, nil, err
	}
	gate, err := trust.NewGate(trust.NewFileStore(path))
	if err != nil {
		return nil, nil, err
	}
	return gate, trust.NewPrompter(), nil
}

func buildInvoker(gate *trust.Gate, grants capability.Set) (*engine.Invoker, func(), error) {
	opts := []engine.Option{
		engine.WithTrustGate(gate),
		engine.WithGrants(grants),
		engine.WithTokenStore(oauth.NewTokenStore()),
		engine.WithEmbedder(&models.StaticProvider{}),
		engine.WithHTTPExecutor(hostfuncs.NewHTTPExecutor(build.Get())),
	}

	if runFlags.dataDir != "" {
		board, err := storage.NewDirStore(filepath.Join(runFlags.dataDir, "board"))
		if err != nil {
			return nil, nil, err
		}
		cache, err := storage.NewDirStore(filepath.Join(runFlags.dataDir, "cache"))
		if err != nil {
			return nil, nil, err
		}
		user, err := storage.NewDirStore(filepath.Join(runFlags.dataDir, "user"))
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, engine.WithBlobStores(board, cache, user))
	} else {
		opts = append(opts, engine.WithBlobStores(
			storage.NewMemoryStore(), storage.NewMemoryStore(), storage.NewMemoryStore()))
	}

	closeCache := func() {}
	if runFlags.cacheDir != "" {
		cache, err := badgercache.Open(runFlags.cacheDir)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, engine.WithCacheStore(cache))
		closeCache = func() { _ = cache.Close() }
	} else {
		opts = append(opts, engine.WithCacheStore(stores.NewMemoryCache()))
	}

	invoker := engine.NewInvoker(engine.Config{Timeout: runFlags.timeout}, opts...)
	return invoker, closeCache, nil
}

func parseInputs(pairs []string) (map[string]json.RawMessage, error) {
	inputs := make(map[string]json.RawMessage, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --input %q, want name=json", pair)
		}
		raw := json.RawMessage(value)
		if !json.Valid(raw) {
			// Bare words are a common way to pass strings on the shell.
			quoted, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("invalid --input %q: %w", pair, err)
			}
			raw = quoted
		}
		inputs[name] = raw
	}
	return inputs, nil
}

func printOutcome(outcome engine.Outcome) error {
	report := map[string]any{
		"state":       string(outcome.State),
		"duration_ms": outcome.Duration.Milliseconds(),
		"outputs":     outcome.Result.Outputs,
		"exec":        outcome.Result.ActivateExec,
	}
	if outcome.Result.Error != nil {
		report["error"] = *outcome.Result.Error
	}
	if outcome.Result.Pending {
		report["pending"] = true
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}

// checkExpectation evaluates an expression over the outcome, for scripted
// assertions like --expect 'outputs.char_count == 6'.
func checkExpectation(expression string, outcome engine.Outcome) error {
	outputs := make(map[string]any, len(outcome.Result.Outputs))
	for name, raw := range outcome.Result.Outputs {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("output %s is not valid JSON: %w", name, err)
		}
		outputs[name] = v
	}

	env := map[string]any{
		"state":   string(outcome.State),
		"outputs": outputs,
		"exec":    outcome.Result.ActivateExec,
		"pending": outcome.Result.Pending,
	}
	if outcome.Result.Error != nil {
		env["error"] = *outcome.Result.Error
	} else {
		env["error"] = ""
	}

	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return fmt.Errorf("invalid --expect expression: %w", err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return fmt.Errorf("failed to evaluate --expect: %w", err)
	}
	if ok, _ := result.(bool); !ok {
		return fmt.Errorf("expectation failed: %s", expression)
	}
	return nil
}
