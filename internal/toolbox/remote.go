package toolbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

func dialSSH(d Deps, host string, timeout time.Duration) (*ssh.Client, error) {
	keyBytes, err := os.ReadFile(d.SSHKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}
	addr := host
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	cfg := &ssh.ClientConfig{
		User:            d.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
	return ssh.Dial("tcp", addr, cfg)
}

// runSSH executes command on host and returns once it finishes, the context
// is cancelled, or the dial/session setup fails.
func runSSH(ctx context.Context, d Deps, host, command string, timeout time.Duration) runResult {
	client, err := dialSSH(d, host, timeout)
	if err != nil {
		return runResult{err: err}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return runResult{err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case runErr := <-done:
		exit, cmdErr := sshExit(runErr)
		return runResult{stdout: stdout.String(), stderr: stderr.String(), exitCode: exit, err: cmdErr}
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return runResult{stdout: stdout.String(), stderr: stderr.String(), err: ctx.Err()}
	}
}

func sshExit(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var ee *ssh.ExitError
	if errors.As(err, &ee) {
		return ee.ExitStatus(), nil
	}
	return 1, err
}

// remote_exec ----------------------------------------------------------------

type remoteExecTool struct {
	d       Deps
	tracker *tracker
}

func newRemoteExecTool(d Deps, t *tracker) *remoteExecTool { return &remoteExecTool{d: d, tracker: t} }

func (t *remoteExecTool) Name() string { return "remote_exec" }

func (t *remoteExecTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Run a command on a remote host over SSH asynchronously; the result arrives later as a TaskCompleted notification.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"host":            map[string]any{"type": "string"},
				"command":         map[string]any{"type": "string"},
				"timeout_seconds": map[string]any{"type": "integer"},
			},
			"required": []string{"host", "command"},
		},
	}
}

func (t *remoteExecTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Host           string `json:"host"`
		Command        string `json:"command"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Host == "" || args.Command == "" {
		return map[string]any{"ok": false, "error": "host and command are required"}, nil
	}

	maxT := t.d.Exec.SSHTimeout
	if maxT <= 0 {
		maxT = 300 * time.Second
	}
	reqT := time.Duration(args.TimeoutSeconds) * time.Second
	if reqT <= 0 || reqT > maxT {
		reqT = maxT
	}

	turnID, _ := TurnIDFromContext(ctx)
	t.tracker.runTracked(turnID, reqT, func(ctx context.Context) runResult {
		return runSSH(ctx, t.d, args.Host, args.Command, reqT)
	})

	return map[string]any{"ok": true, "status": "dispatched", "turn_id": turnID}, nil
}

// spawn_agent ------------------------------------------------------------
//
// Unlike remote_exec, spawn_agent is not in the asynchronously-tracked set:
// it blocks until the provisioning script returns and reports its result
// directly as the tool's synchronous outcome.

type spawnAgentTool struct{ d Deps }

func newSpawnAgentTool(d Deps) *spawnAgentTool { return &spawnAgentTool{d: d} }

func (t *spawnAgentTool) Name() string { return "spawn_agent" }

func (t *spawnAgentTool) JSONSchema() map[string]any {
	return map[string]any{
		"name":        t.Name(),
		"description": "Provision a new agent on a remote host by running its spawn script over SSH.",
		"parameters": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"host":        map[string]any{"type": "string"},
				"spawn_script": map[string]any{"type": "string"},
			},
			"required": []string{"host", "spawn_script"},
		},
	}
}

func (t *spawnAgentTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Host        string `json:"host"`
		SpawnScript string `json:"spawn_script"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args.Host == "" || args.SpawnScript == "" {
		return map[string]any{"ok": false, "error": "host and spawn_script are required"}, nil
	}

	timeout := t.d.Exec.SSHTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := runSSH(cctx, t.d, args.Host, args.SpawnScript, timeout)
	outS, _ := Machete(res.stdout)
	errS, _ := Machete(res.stderr)
	result := map[string]any{
		"ok":        res.err == nil && res.exitCode == 0,
		"exit_code": res.exitCode,
		"stdout":    outS,
		"stderr":    errS,
	}
	if res.err != nil {
		result["error"] = res.err.Error()
	}
	return result, nil
}
