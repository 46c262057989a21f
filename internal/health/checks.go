package health

import (
	"context"
	"fmt"

	"github.com/devrev/pairdb/gridcache/internal/model"
)

// Engine is the part of the grid the engine check reads
type Engine interface {
	Running() bool
	Stats() (caches int, entries int64)
}

// Gateway is the part of the proxy server the gateway check reads
type Gateway interface {
	Stopped() bool
	ActiveChannels() int
}

// Membership is the part of the gossip service the membership check reads
type Membership interface {
	Enabled() bool
	Members() []model.Member
}

// Pinger reports whether a backing dependency answers
type Pinger interface {
	Ping(ctx context.Context) error
}

// EngineCheck is critical once the grid has stopped
func EngineCheck(e Engine) CheckFunc {
	return func(context.Context) CheckResult {
		if !e.Running() {
			return CheckResult{Status: StatusCritical, Message: "grid is stopped"}
		}
		caches, entries := e.Stats()
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d caches, %d entries", caches, entries)}
	}
}

// GatewayCheck is critical once the proxy has stopped accepting sessions
func GatewayCheck(g Gateway) CheckFunc {
	return func(context.Context) CheckResult {
		if g.Stopped() {
			return CheckResult{Status: StatusCritical, Message: "proxy service is stopped"}
		}
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d open sub-channels", g.ActiveChannels())}
	}
}

// MembershipCheck warns when gossip is enabled but this member sees no
// other member
func MembershipCheck(m Membership) CheckFunc {
	return func(context.Context) CheckResult {
		if !m.Enabled() {
			return CheckResult{Status: StatusHealthy, Message: "gossip disabled"}
		}
		n := len(m.Members())
		if n <= 1 {
			return CheckResult{Status: StatusWarning, Message: "no other members visible"}
		}
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d members", n)}
	}
}

// StoreCheck warns when a cache store does not answer. Caches without a
// store keep working, so this never makes the member unready.
func StoreCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if err := p.Ping(ctx); err != nil {
			return CheckResult{Status: StatusWarning, Message: err.Error()}
		}
		return CheckResult{Status: StatusHealthy}
	}
}
