// internal/types/dispatch.go
package types

import "context"

// AreaTarget is an area together with its configured destinations.
type AreaTarget struct {
	Area         string   `json:"area"`
	Destinations []string `json:"destinations"`
}

// TargetGroups splits an incident's areas into the primary target, the
// secondary (CC) targets and the areas that have no destination configured.
type TargetGroups struct {
	Primary      AreaTarget   `json:"primary"`
	Secondary    []AreaTarget `json:"secondary,omitempty"`
	UnknownAreas []string     `json:"unknown_areas,omitempty"`
}

// OutboundMessage is a formatted incident summary plus the photos to resend.
type OutboundMessage struct {
	Text  string
	Media []PendingMedia
}

// Dispatcher routes finalized incidents to area destinations.
type Dispatcher interface {
	ResolveTargetGroups(primary string, areas []string) TargetGroups
	SendToDestinations(ctx context.Context, groups TargetGroups, msg OutboundMessage) []DispatchTarget
}
