package models

import "time"

// AuthSource records how an actor identity was established.
type AuthSource string

const (
	AuthConvexUser     AuthSource = "convex_user"
	AuthInternalSystem AuthSource = "internal_system"
)

// Actor is the identity a mutation is attributed to.
type Actor struct {
	ActorType  OwnerType  `json:"actorType"`
	ActorID    string     `json:"actorId"`
	AuthSource AuthSource `json:"authSource"`
}

// SystemActor returns the actor used by internal callers such as the
// scheduler, ingest workers and migrations.
func SystemActor(kind string) Actor {
	return Actor{ActorType: OwnerSystem, ActorID: kind, AuthSource: AuthInternalSystem}
}

// ActivityItem is an append-only audit entry.
type ActivityItem struct {
	ActivityID   string     `json:"activityId"`
	EntityType   string     `json:"entityType"`
	EntityID     string     `json:"entityId"`
	Action       string     `json:"action"`
	ActorType    OwnerType  `json:"actorType"`
	ActorID      string     `json:"actorId"`
	AuthSource   AuthSource `json:"authSource"`
	MetadataJSON *string    `json:"metadataJson,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// Entity types written to the activity log.
const (
	EntityTask   = "task"
	EntityJob    = "job"
	EntityMemory = "memory"
)
