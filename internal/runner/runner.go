package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/btsentry/btsentry/internal/config"
	"github.com/btsentry/btsentry/internal/core"
	"github.com/btsentry/btsentry/internal/logger"
	"github.com/btsentry/btsentry/internal/validation"
	"github.com/btsentry/btsentry/pkg/types"
)

// Runner supervises scenario instances. Each submission gets its own
// lifecycle goroutine; only the Running phase consumes a slot on the
// bounded pool, so an instance blocked on operator confirmation never
// starves a tool that is ready to execute.
type Runner struct {
	policy    config.AttackPolicy
	gate      core.AuthorizationGate
	broker    core.PrivilegeBroker
	trail     core.AuditTrail
	catalog   Catalog
	telemetry core.Telemetry
	sink      core.SessionSink
	log       *logger.Logger

	pool    *semaphore.Weighted
	targets *targetLocks

	mu        sync.Mutex
	instances map[string]*instance
	closed    bool

	// overridable in tests
	lookPath func(string) (string, error)
}

var _ core.ScenarioRunner = (*Runner)(nil)

type instance struct {
	id     string
	req    types.ScenarioRequest
	ctx    context.Context
	cancel context.CancelFunc
	output *lineBuffer
	done   chan struct{}

	mu         sync.Mutex
	status     types.Status
	startedAt  *time.Time
	finishedAt *time.Time
	exitCode   *int
	errMsg     string
	// release returns the privilege grant. Set once a grant exists;
	// finish invokes it before the terminal entry is written so the
	// trail always shows the grant returned first.
	release func()
}

func New(
	policy config.AttackPolicy,
	gate core.AuthorizationGate,
	broker core.PrivilegeBroker,
	trail core.AuditTrail,
	catalog Catalog,
	telemetry core.Telemetry,
	sink core.SessionSink,
	log *logger.Logger,
) *Runner {
	workers := policy.WorkerCount
	if workers <= 0 {
		workers = 3
	}
	return &Runner{
		policy:    policy,
		gate:      gate,
		broker:    broker,
		trail:     trail,
		catalog:   catalog,
		telemetry: telemetry,
		sink:      sink,
		log:       log.WithComponent("runner"),
		pool:      semaphore.NewWeighted(int64(workers)),
		targets:   newTargetLocks(),
		instances: make(map[string]*instance),
		lookPath:  exec.LookPath,
	}
}

// Submit validates the request, registers a new instance and starts
// its lifecycle. It returns the instance id immediately; it never
// blocks on authorization, privilege, or pool capacity.
func (r *Runner) Submit(req types.ScenarioRequest) (string, error) {
	if !types.ValidKind(req.Kind) {
		return "", types.NewValidationError("kind", fmt.Sprintf("unknown scenario kind %q", req.Kind))
	}
	if !validation.ValidMAC(req.Target) {
		return "", types.NewValidationError("target", fmt.Sprintf("%q is not a MAC address", req.Target))
	}
	if err := validation.ValidateDuration(req.Duration, r.policy.MaxDuration); err != nil {
		return "", err
	}
	req.Target = validation.NormalizeMAC(req.Target)
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst := &instance{
		id:     uuid.New().String(),
		req:    req,
		ctx:    ctx,
		cancel: cancel,
		output: newLineBuffer(r.policy.OutputBufferLines),
		done:   make(chan struct{}),
		status: types.StatusPending,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return "", errors.New("runner: shut down")
	}
	r.instances[inst.id] = inst
	r.mu.Unlock()

	if err := r.trail.Append(types.AuditEntry{
		Actor:      req.RequestedBy,
		Action:     "scenario_submitted",
		InstanceID: inst.id,
		Outcome:    string(types.StatusPending),
		Detail:     fmt.Sprintf("%s against %s", req.Kind, req.Target),
	}); err != nil {
		r.mu.Lock()
		delete(r.instances, inst.id)
		r.mu.Unlock()
		cancel()
		return "", err
	}

	go r.lifecycle(inst)
	return inst.id, nil
}

// Status returns a point-in-time copy of the instance.
func (r *Runner) Status(id string) (types.ScenarioSnapshot, error) {
	r.mu.Lock()
	inst, ok := r.instances[id]
	r.mu.Unlock()
	if !ok {
		return types.ScenarioSnapshot{}, types.ErrUnknownInstance
	}
	return inst.snapshot(), nil
}

// Cancel requests termination of an instance at whatever phase it is
// in. Returns false for unknown ids and for instances already in a
// terminal state.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	inst, ok := r.instances[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	inst.mu.Lock()
	terminal := inst.status.Terminal()
	inst.mu.Unlock()
	if terminal {
		return false
	}
	inst.cancel()
	return true
}

// AwaitTerminal blocks until the instance reaches a terminal state or
// the caller-side timeout elapses.
func (r *Runner) AwaitTerminal(id string, timeout time.Duration) (types.ScenarioSnapshot, error) {
	r.mu.Lock()
	inst, ok := r.instances[id]
	r.mu.Unlock()
	if !ok {
		return types.ScenarioSnapshot{}, types.ErrUnknownInstance
	}
	select {
	case <-inst.done:
		return inst.snapshot(), nil
	case <-time.After(timeout):
		return inst.snapshot(), types.ErrAwaitTimeout
	}
}

// Shutdown cancels every live instance and waits for their lifecycles
// to finish, bounded by ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	live := make([]*instance, 0, len(r.instances))
	for _, inst := range r.instances {
		live = append(live, inst)
	}
	r.mu.Unlock()

	for _, inst := range live {
		inst.cancel()
	}
	for _, inst := range live {
		select {
		case <-inst.done:
		case <-ctx.Done():
			return fmt.Errorf("runner: shutdown: %w", ctx.Err())
		}
	}
	return nil
}

// lifecycle drives one instance through the state machine. Any panic
// escaping a phase lands the instance in Failed rather than wedging
// the runner.
func (r *Runner) lifecycle(inst *instance) {
	log := r.log.WithScenarioID(inst.id).WithTarget(inst.req.Target)
	defer func() {
		if recovered := recover(); recovered != nil {
			log.LogPanic(inst.ctx, recovered, "scenario_lifecycle")
			r.finish(inst, types.StatusFailed, fmt.Sprintf("runner crashed: %v", recovered), nil)
		}
	}()
	defer inst.cancel()

	// Authorization.
	if !r.transition(inst, types.StatusAwaitingAuthorization) {
		return
	}
	decision, err := r.gate.Authorize(inst.ctx, inst.id, inst.req)
	if err != nil {
		if inst.ctx.Err() != nil {
			r.finish(inst, types.StatusCancelled, "cancelled while awaiting authorization", nil)
			return
		}
		r.finish(inst, types.StatusFailed, err.Error(), nil)
		return
	}
	if !decision.Allowed {
		r.finish(inst, types.StatusDenied, decision.Reason, nil)
		return
	}

	// The tool must exist before privilege is spent on it.
	spec, err := r.catalog.Resolve(inst.req.Kind)
	if err != nil {
		r.finish(inst, types.StatusFailed, err.Error(), nil)
		return
	}
	if _, err := r.lookPath(spec.Binary); err != nil {
		r.finish(inst, types.StatusFailed, (&types.ToolUnavailable{Binary: spec.Binary}).Error(), nil)
		return
	}

	// Privilege.
	if !r.transition(inst, types.StatusAwaitingPrivilege) {
		return
	}
	grant, err := r.broker.Acquire(inst.ctx, inst.id)
	if err != nil {
		if inst.ctx.Err() != nil {
			r.finish(inst, types.StatusCancelled, "cancelled while awaiting privilege", nil)
			return
		}
		r.finish(inst, types.StatusDenied, err.Error(), nil)
		return
	}
	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() { r.broker.Release(grant) })
	}
	inst.mu.Lock()
	inst.release = release
	inst.mu.Unlock()
	// Backstop for panics between here and finish.
	defer release()

	// One scenario per target at a time. The target lock is taken
	// before a pool slot so a queued duplicate target does not occupy
	// pool capacity while it waits.
	if err := r.targets.acquire(inst.ctx, inst.req.Target); err != nil {
		r.finish(inst, types.StatusCancelled, "cancelled while queued for target", nil)
		return
	}
	defer r.targets.release(inst.req.Target)

	if err := r.pool.Acquire(inst.ctx, 1); err != nil {
		r.finish(inst, types.StatusCancelled, "cancelled while queued for a worker", nil)
		return
	}
	r.recordWorker(inst.id, "active")
	defer func() {
		r.pool.Release(1)
		r.recordWorker(inst.id, "idle")
	}()

	r.execute(inst, spec, grant, log)
}

// execute runs the external tool and races its exit against the
// duration limit and cancellation.
func (r *Runner) execute(inst *instance, spec InvocationSpec, grant *types.PrivilegeGrant, log *logger.Logger) {
	if !r.transitionStarted(inst) {
		return
	}

	argv := r.broker.Wrap(grant, append([]string{spec.Binary}, spec.Args(inst.req)...))
	log.WithTool(spec.Binary).Infow("Executing scenario tool", "argv", argv)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.finish(inst, types.StatusFailed, fmt.Sprintf("stdout pipe: %v", err), nil)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.finish(inst, types.StatusFailed, fmt.Sprintf("stderr pipe: %v", err), nil)
		return
	}

	if err := cmd.Start(); err != nil {
		r.finish(inst, types.StatusFailed, fmt.Sprintf("start %s: %v", spec.Binary, err), nil)
		return
	}

	// stderr lines also feed a small tail so a failing tool's last
	// complaint survives into the terminal detail.
	stderrTail := newLineBuffer(8)
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			inst.output.Append(scanner.Text())
		}
	}()
	go func() {
		defer readers.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			inst.output.Append(line)
			stderrTail.Append(line)
		}
	}()

	exited := make(chan struct{})
	var waitErr error
	go func() {
		readers.Wait()
		waitErr = cmd.Wait()
		close(exited)
	}()

	limit := r.effectiveDuration(inst.req.Duration)
	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case <-exited:
		code := exitCode(waitErr)
		if waitErr == nil {
			r.finish(inst, types.StatusCompleted, "", &code)
		} else {
			detail := fmt.Sprintf("%s exited with code %d", spec.Binary, code)
			if tail := stderrTail.Snapshot(); len(tail) > 0 {
				detail = fmt.Sprintf("%s: %s", detail, strings.Join(tail, " | "))
			}
			r.finish(inst, types.StatusFailed, detail, &code)
		}
	case <-timer.C:
		terminate(cmd, r.policy.CancelGrace, exited)
		code := exitCode(waitErr)
		r.finish(inst, types.StatusTimedOut, fmt.Sprintf("duration limit %s reached", limit), &code)
	case <-inst.ctx.Done():
		terminate(cmd, r.policy.CancelGrace, exited)
		code := exitCode(waitErr)
		r.finish(inst, types.StatusCancelled, "cancelled by operator", &code)
	}
}

// effectiveDuration is the requested duration clamped by policy; a
// zero request means run until the policy ceiling.
func (r *Runner) effectiveDuration(requested time.Duration) time.Duration {
	limit := r.policy.MaxDuration
	if requested > 0 && requested < limit {
		limit = requested
	}
	return limit
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// transition moves a non-terminal instance to the next waiting state.
// Returns false when the instance was cancelled first.
func (r *Runner) transition(inst *instance, next types.Status) bool {
	if inst.ctx.Err() != nil {
		r.finish(inst, types.StatusCancelled, "cancelled before "+string(next), nil)
		return false
	}
	inst.mu.Lock()
	if inst.status.Terminal() {
		inst.mu.Unlock()
		return false
	}
	inst.status = next
	inst.mu.Unlock()
	r.auditState(inst, next, "")
	return true
}

func (r *Runner) transitionStarted(inst *instance) bool {
	if inst.ctx.Err() != nil {
		r.finish(inst, types.StatusCancelled, "cancelled before execution", nil)
		return false
	}
	now := time.Now().UTC()
	inst.mu.Lock()
	if inst.status.Terminal() {
		inst.mu.Unlock()
		return false
	}
	inst.status = types.StatusRunning
	inst.startedAt = &now
	inst.mu.Unlock()
	r.auditState(inst, types.StatusRunning, "")
	return true
}

// finish records the terminal state exactly once. A held privilege
// grant is returned first, so the instance never sits in a terminal
// state with elevation still attached and the audit trail shows
// privilege_released ahead of the terminal scenario_state entry.
func (r *Runner) finish(inst *instance, status types.Status, errMsg string, exitCode *int) {
	inst.mu.Lock()
	if inst.status.Terminal() {
		inst.mu.Unlock()
		return
	}
	release := inst.release
	inst.release = nil
	inst.mu.Unlock()

	if release != nil {
		release()
	}

	now := time.Now().UTC()
	inst.mu.Lock()
	if inst.status.Terminal() {
		inst.mu.Unlock()
		return
	}
	inst.status = status
	inst.finishedAt = &now
	inst.errMsg = errMsg
	inst.exitCode = exitCode
	startedAt := inst.startedAt
	inst.mu.Unlock()

	r.auditState(inst, status, errMsg)
	if r.sink != nil {
		r.sink.RecordScenarioResult(inst.snapshot())
	}
	if r.telemetry != nil {
		var elapsed float64
		if startedAt != nil {
			elapsed = now.Sub(*startedAt).Seconds()
		}
		r.telemetry.RecordScenario(inst.req.Kind, elapsed, status)
	}
	r.log.WithScenarioID(inst.id).Infow("Scenario finished",
		"status", status,
		"error", errMsg)
	close(inst.done)
}

func (r *Runner) recordWorker(instanceID, state string) {
	if r.telemetry == nil {
		return
	}
	r.telemetry.RecordWorkerMetrics(&types.WorkerStatus{ID: instanceID, Status: state})
}

func (r *Runner) auditState(inst *instance, status types.Status, detail string) {
	if err := r.trail.Append(types.AuditEntry{
		Actor:      inst.req.RequestedBy,
		Action:     "scenario_state",
		InstanceID: inst.id,
		Outcome:    string(status),
		Detail:     detail,
	}); err != nil {
		r.log.WithScenarioID(inst.id).Errorw("Failed to append audit entry",
			"error", err,
			"status", status)
	}
}

func (inst *instance) snapshot() types.ScenarioSnapshot {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	snap := types.ScenarioSnapshot{
		ID:      inst.id,
		Request: inst.req,
		Status:  inst.status,
		Error:   inst.errMsg,
		Output:  inst.output.Snapshot(),
	}
	if inst.startedAt != nil {
		t := *inst.startedAt
		snap.StartedAt = &t
	}
	if inst.finishedAt != nil {
		t := *inst.finishedAt
		snap.FinishedAt = &t
	}
	if inst.exitCode != nil {
		c := *inst.exitCode
		snap.ExitCode = &c
	}
	return snap
}

// targetLocks serializes execution per target MAC.
type targetLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newTargetLocks() *targetLocks {
	return &targetLocks{locks: make(map[string]chan struct{})}
}

func (t *targetLocks) acquire(ctx context.Context, target string) error {
	t.mu.Lock()
	ch, ok := t.locks[target]
	if !ok {
		ch = make(chan struct{}, 1)
		t.locks[target] = ch
	}
	t.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *targetLocks) release(target string) {
	t.mu.Lock()
	ch := t.locks[target]
	t.mu.Unlock()
	<-ch
}
