package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/indoria/guppi/internal/obslog"
	"github.com/indoria/guppi/internal/tools/cli"
)

// runResult is what a tracked command (local or SSH) reports back to the
// monitor goroutine once it finishes or is killed.
type runResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

// tracker bounds concurrent tracked subprocesses with a semaphore and
// completes their turn once the monitor goroutine observes exit.
type tracker struct {
	sem  *semaphore.Weighted
	d    Deps
	exec cli.Executor
}

func newTracker(d Deps) *tracker {
	max := d.Exec.MaxConcurrentProcs
	if max <= 0 {
		max = 4
	}
	return &tracker{
		sem:  semaphore.NewWeighted(int64(max)),
		d:    d,
		exec: cli.NewExecutor(d.Exec, d.Paths.Home),
	}
}

// runTracked acquires a semaphore slot, runs fn with a bounded context, and
// patches the turn's outcome with the Machete-truncated output. Returns
// immediately; the caller's Call returns a "dispatched" acknowledgement.
func (t *tracker) runTracked(turnID string, timeout time.Duration, fn func(ctx context.Context) runResult) {
	log := obslog.For("toolbox")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout+10*time.Second)
		defer cancel()

		if err := t.sem.Acquire(ctx, 1); err != nil {
			completeTurn(ctx, t.d, turnID, map[string]any{"ok": false, "error": "semaphore: " + err.Error()}, true)
			return
		}
		defer t.sem.Release(1)

		start := time.Now()
		res := fn(ctx)
		dur := time.Since(start)

		outS, outTrunc := Machete(res.stdout)
		errS, errTrunc := Machete(res.stderr)

		results := map[string]any{
			"ok":          res.err == nil && res.exitCode == 0,
			"exit_code":   res.exitCode,
			"stdout":      outS,
			"stderr":      errS,
			"duration_ms": dur.Milliseconds(),
			"truncated":   outTrunc || errTrunc,
		}
		if res.err != nil {
			results["error"] = res.err.Error()
		}

		log.Debug().Str("turn_id", turnID).Int("exit_code", res.exitCode).Dur("duration", dur).Msg("tracked subprocess completed")
		completeTurn(context.Background(), t.d, turnID, results, true)
	}()
}

// runLocal shells out through the sandboxed, instrumented cli.Executor
// rather than exec.CommandContext directly, so a tracked shell command gets
// the same binary blocklist, workdir confinement, and otel span/metrics as
// the synchronous run_cli tool.
func runLocal(ctx context.Context, e cli.Executor, timeout time.Duration, command string) runResult {
	res, err := e.Run(ctx, cli.ExecRequest{Command: "bash", Args: []string{"-c", command}, Timeout: timeout})
	if err != nil {
		return runResult{err: err}
	}
	var cmdErr error
	if !res.OK && res.ExitCode == 0 {
		cmdErr = fmt.Errorf("command did not complete")
	}
	return runResult{stdout: res.Stdout, stderr: res.Stderr, exitCode: res.ExitCode, err: cmdErr}
}

// shellTool -----------------------------------------------------------------

type shellTool struct {
	d       Deps
	tracker *tracker
}

func newShellTool(d Deps, t *tracker) *shellTool { return &shellTool{d: d, tracker: t} }

func (t *shellTool) Name() string { return "shell" }

func (t *shellTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Run a shell command asynchronously in a bounded subprocess; the result arrives later as a TaskCompleted notification.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":         map[string]any{"type": "string"},
				"timeout_seconds": map[string]any{"type": "integer"},
			},
			"required": []string{"command"},
		},
	}
}

func (t *shellTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Command == "" {
		return map[string]any{"ok": false, "error": "command is required"}, nil
	}

	maxT := t.d.Exec.SubprocessTimeout - 5*time.Second
	if maxT <= 0 {
		maxT = 25 * time.Second
	}
	reqT := time.Duration(args.TimeoutSeconds) * time.Second
	if reqT <= 0 || reqT > maxT {
		reqT = maxT
	}

	turnID, _ := TurnIDFromContext(ctx)
	t.tracker.runTracked(turnID, reqT, func(ctx context.Context) runResult {
		return runLocal(ctx, t.tracker.exec, reqT, args.Command)
	})

	return map[string]any{"ok": true, "status": "dispatched", "turn_id": turnID}, nil
}
