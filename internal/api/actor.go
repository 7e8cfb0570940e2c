package api

import (
	"net/http"

	"mission-control/internal/models"
)

const defaultActorID = "local_operator"

// actorFromRequest resolves who is acting. Identity headers are trusted as
// sent; a present Authorization header only changes the recorded auth source.
func actorFromRequest(r *http.Request) models.Actor {
	id := r.Header.Get("X-Actor-Id")
	if id == "" {
		id = r.Header.Get("X-User-Id")
	}
	if id == "" {
		id = defaultActorID
	}

	actorType := models.OwnerUser
	switch models.OwnerType(r.Header.Get("X-Actor-Type")) {
	case models.OwnerAgent:
		actorType = models.OwnerAgent
	case models.OwnerSystem:
		actorType = models.OwnerSystem
	}

	auth := models.AuthInternalSystem
	if r.Header.Get("Authorization") != "" {
		auth = models.AuthConvexUser
	}
	return models.Actor{ActorType: actorType, ActorID: id, AuthSource: auth}
}
