package predict

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Envelope kinds of the worker wire protocol.
const (
	kindInit       = "init"
	kindPredict    = "predict"
	kindClearCache = "clear_cache"
)

// envelope is one framed message in either direction. Every request gets
// exactly one response carrying the same correlation ID.
type envelope struct {
	ID     string   `msgpack:"id"`
	Kind   string   `msgpack:"kind"`
	Inputs []Input  `msgpack:"inputs,omitempty"`  // predict request
	Result []Result `msgpack:"results,omitempty"` // predict response
	Error  string   `msgpack:"error,omitempty"`
}

// encodeEnvelope frames an envelope: 4-byte big-endian length prefix plus
// msgpack body, so the peer can find message boundaries in the stream.
func encodeEnvelope(w io.Writer, env envelope) error {
	body, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(body)))
	if _, err := w.Write(prefix); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write envelope body: %w", err)
	}
	return nil
}

// decodeEnvelope reads one framed envelope from the stream.
func decodeEnvelope(r io.Reader) (envelope, error) {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return envelope{}, err
	}
	length := binary.BigEndian.Uint32(prefix)
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return envelope{}, fmt.Errorf("failed to read envelope body: %w", err)
	}
	var env envelope
	if err := msgpack.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return env, nil
}

// WorkerEngine runs the numerical model in a subprocess and talks to it over
// stdin/stdout with framed msgpack envelopes. Communication is strictly
// message-passing: one response per request, matched by correlation ID.
type WorkerEngine struct {
	command string
	args    []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	pending map[string]chan envelope
	running bool

	wg sync.WaitGroup
}

// NewWorkerEngine creates an engine that will spawn command with args on
// Init. The process is not started until then.
func NewWorkerEngine(command string, args ...string) *WorkerEngine {
	return &WorkerEngine{
		command: command,
		args:    args,
		pending: make(map[string]chan envelope),
	}
}

// Init spawns the worker process and performs the init handshake. A failed
// Init leaves the engine re-initializable: the next call starts over.
func (e *WorkerEngine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}

	cmd := exec.Command(e.command, e.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to start worker process: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.stdout = stdout
	e.stderr = stderr
	e.running = true
	e.mu.Unlock()

	e.wg.Add(2)
	go e.readResponses()
	go e.relayStderr()

	slog.Info("predict: worker process spawned", "command", e.command, "pid", cmd.Process.Pid)

	// Handshake: the worker answers the init envelope once the model is
	// loaded and ready.
	if _, err := e.roundTrip(ctx, envelope{Kind: kindInit}); err != nil {
		e.teardown()
		return fmt.Errorf("worker init handshake failed: %w", err)
	}
	return nil
}

// PredictBatch sends one batched predict request and waits for its response.
func (e *WorkerEngine) PredictBatch(ctx context.Context, inputs []Input) ([]Result, error) {
	resp, err := e.roundTrip(ctx, envelope{Kind: kindPredict, Inputs: inputs})
	if err != nil {
		return nil, err
	}
	if len(resp.Result) != len(inputs) {
		return nil, fmt.Errorf("worker returned %d results for %d inputs", len(resp.Result), len(inputs))
	}
	return resp.Result, nil
}

// ClearCache asks the worker to drop any model-side caches.
func (e *WorkerEngine) ClearCache(ctx context.Context) error {
	_, err := e.roundTrip(ctx, envelope{Kind: kindClearCache})
	return err
}

// roundTrip sends one envelope and waits for the matching response.
func (e *WorkerEngine) roundTrip(ctx context.Context, env envelope) (envelope, error) {
	env.ID = uuid.NewString()
	ch := make(chan envelope, 1)

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return envelope{}, ErrEngineUnavailable
	}
	e.pending[env.ID] = ch
	stdin := e.stdin
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.pending, env.ID)
		e.mu.Unlock()
	}()

	if err := encodeEnvelope(stdin, env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return envelope{}, ErrEngineUnavailable
		}
		if resp.Error != "" {
			return envelope{}, fmt.Errorf("worker error: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return envelope{}, ctx.Err()
	}
}

// readResponses reads framed envelopes off stdout and routes them to their
// waiting callers by correlation ID.
func (e *WorkerEngine) readResponses() {
	defer e.wg.Done()

	for {
		resp, err := decodeEnvelope(e.stdout)
		if err != nil {
			if err != io.EOF {
				slog.Warn("predict: worker stdout read failed", "error", err)
			}
			// Fail every waiter: the stream is gone.
			e.mu.Lock()
			for id, ch := range e.pending {
				close(ch)
				delete(e.pending, id)
			}
			e.running = false
			e.mu.Unlock()
			return
		}

		e.mu.Lock()
		ch, ok := e.pending[resp.ID]
		e.mu.Unlock()
		if !ok {
			slog.Debug("predict: response with unknown correlation id", "id", resp.ID)
			continue
		}
		ch <- resp
	}
}

// relayStderr forwards the worker's stderr lines into the log, mapping the
// usual level markers.
func (e *WorkerEngine) relayStderr() {
	defer e.wg.Done()

	scanner := bufio.NewScanner(e.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			slog.Error("predict: worker stderr", "log", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			slog.Warn("predict: worker stderr", "log", line)
		default:
			slog.Debug("predict: worker stderr", "log", line)
		}
	}
}

// Close shuts the worker down: stdin close signals a graceful exit, and
// after a grace period the process is killed.
func (e *WorkerEngine) Close() error {
	e.teardown()
	return nil
}

func (e *WorkerEngine) teardown() {
	e.mu.Lock()
	if !e.running && e.cmd == nil {
		e.mu.Unlock()
		return
	}
	e.running = false
	stdin := e.stdin
	cmd := e.cmd
	e.cmd = nil
	e.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}

	if cmd != nil && cmd.Process != nil {
		done := make(chan struct{})
		go func() {
			cmd.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			slog.Warn("predict: worker did not exit, killing", "pid", cmd.Process.Pid)
			cmd.Process.Kill()
			<-done
		}
	}

	e.wg.Wait()
}
