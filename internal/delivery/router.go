package delivery

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/conserje/internal/metrics"
	"github.com/user/conserje/internal/types"
)

// DestinationSource maps an area code to its configured destinations.
type DestinationSource interface {
	Destinations(code string) []string
}

// Router resolves area codes to destinations and fans a message out to
// them through a Registry.
type Router struct {
	dests    DestinationSource
	registry *Registry
	retry    *RetryPolicy
	limit    int
	logger   *zap.Logger
}

// NewRouter creates a router. A nil retry policy delivers once.
func NewRouter(dests DestinationSource, registry *Registry, retry *RetryPolicy, logger *zap.Logger) *Router {
	if retry == nil {
		retry = &RetryPolicy{MaxAttempts: 1, Multiplier: 1}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		dests:    dests,
		registry: registry,
		retry:    retry,
		limit:    8,
		logger:   logger.Named("router"),
	}
}

// ResolveTargetGroups splits primary and the remaining areas into routable
// groups. Areas without destinations are reported in UnknownAreas.
func (r *Router) ResolveTargetGroups(primary string, areas []string) types.TargetGroups {
	var groups types.TargetGroups
	groups.Primary = types.AreaTarget{Area: primary, Destinations: r.dests.Destinations(primary)}
	if len(groups.Primary.Destinations) == 0 {
		groups.UnknownAreas = append(groups.UnknownAreas, primary)
	}

	seen := map[string]bool{primary: true}
	for _, area := range areas {
		if area == "" || seen[area] {
			continue
		}
		seen[area] = true
		dests := r.dests.Destinations(area)
		if len(dests) == 0 {
			groups.UnknownAreas = append(groups.UnknownAreas, area)
			continue
		}
		groups.Secondary = append(groups.Secondary, types.AreaTarget{Area: area, Destinations: dests})
	}
	return groups
}

type job struct {
	area        string
	destination string
	primary     bool
}

// SendToDestinations delivers msg to every destination concurrently and
// returns one outcome per destination. A destination shared by several
// areas is delivered once, under the first area that names it.
func (r *Router) SendToDestinations(ctx context.Context, groups types.TargetGroups, msg types.OutboundMessage) []types.DispatchTarget {
	var jobs []job
	seen := make(map[string]bool)
	add := func(t types.AreaTarget, primary bool) {
		for _, d := range t.Destinations {
			if d == "" || seen[d] {
				continue
			}
			seen[d] = true
			jobs = append(jobs, job{area: t.Area, destination: d, primary: primary})
		}
	}
	add(groups.Primary, true)
	for _, s := range groups.Secondary {
		add(s, false)
	}

	results := make([]types.DispatchTarget, len(jobs))
	var g errgroup.Group
	g.SetLimit(r.limit)
	for i, j := range jobs {
		g.Go(func() error {
			err := r.retry.Execute(ctx, func(ctx context.Context) error {
				return r.registry.Deliver(ctx, j.destination, msg)
			})
			res := types.DispatchTarget{
				Area:        j.area,
				Destination: j.destination,
				Primary:     j.primary,
				Delivered:   err == nil,
			}
			result := "ok"
			if err != nil {
				res.Error = err.Error()
				result = "error"
				r.logger.Warn("delivery failed",
					zap.String("area", j.area), zap.String("destination", j.destination), zap.Error(err))
			}
			metrics.Deliveries.WithLabelValues(channelOf(j.destination), result).Inc()
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func channelOf(destination string) string {
	if i := strings.IndexByte(destination, ':'); i > 0 {
		return destination[:i]
	}
	return "unknown"
}

var _ types.Dispatcher = (*Router)(nil)
