package plan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"agentcraft.ai/internal/agent/blackboard"
	"agentcraft.ai/internal/agent/ports"
	"agentcraft.ai/internal/agent/recipe"
	"agentcraft.ai/internal/agent/share"
	"agentcraft.ai/internal/clock"
	"agentcraft.ai/internal/sim/catalogs"
)

var (
	ErrInvalidPlan   = errors.New("invalid plan")
	ErrIrrecoverable = errors.New("irrecoverable")
	ErrNoPlan        = errors.New("no plan")
)

// Irrecoverable marks err so the running goal fails without further retries.
func Irrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrIrrecoverable, err)
}

func IsIrrecoverable(err error) bool { return errors.Is(err, ErrIrrecoverable) }

// Coordinator is the part of the need broker that actions drive.
type Coordinator interface {
	// Broadcast opens a request for kind unless one is already live.
	Broadcast(ctx context.Context, kind string) (*blackboard.NeedRequest, bool)
	// PendingDeliveries lists accepted commitments not yet staged.
	PendingDeliveries() []blackboard.Commitment
	AnnounceDelivery(ctx context.Context, requesterID, kind string, at ports.Vec3, items []ports.ItemCount) error
	// PendingPickups lists announced deliveries the agent has not collected.
	PendingPickups() []blackboard.NeedRequest
	MarkCollected(kind string)
}

// Env is what an action may touch while it runs.
type Env struct {
	AgentID  string
	BB       *blackboard.Blackboard
	Ports    ports.Ports
	Catalogs *catalogs.Catalogs
	Resolver *recipe.Resolver
	Policy   share.Policy
	Coord    Coordinator
	Clock    clock.Clock
	Logger   *log.Logger
}

func (e *Env) Now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

func (e *Env) Logf(format string, args ...any) {
	if e.Logger == nil {
		return
	}
	e.Logger.Printf(format, args...)
}

// Action is one atomic plan step.
type Action interface {
	Name() string
	// Precondition returns nil when Execute may run.
	Precondition(env *Env) error
	Execute(ctx context.Context, env *Env) error
}

// Progresser is implemented by actions that report {current,total} progress.
type Progresser interface {
	Progress(env *Env) (current, total int, ok bool)
}

// Func adapts plain functions to Action.
type Func struct {
	ActionName string
	Pre        func(env *Env) error
	Run        func(ctx context.Context, env *Env) error
}

func (f Func) Name() string { return f.ActionName }

func (f Func) Precondition(env *Env) error {
	if f.Pre == nil {
		return nil
	}
	return f.Pre(env)
}

func (f Func) Execute(ctx context.Context, env *Env) error { return f.Run(ctx, env) }
