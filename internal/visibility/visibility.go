// Package visibility implements the single access-control predicate every
// read path in this service consumes, per spec.md §4.8: public resources
// are visible to anyone, private resources only to their owner, and
// teams-only resources to the owner plus members of any team the resource
// has been shared with.
package visibility

import (
	"github.com/google/uuid"

	"github.com/crestline/crestline/internal/model"
)

// TeamAccessFunc resolves whether viewer has team-shared access to a
// resource. Implementations must check team membership against the
// database on every call — never a cached or token-carried claim — so a
// membership revocation takes effect immediately.
type TeamAccessFunc func(viewer uuid.UUID) bool

// Visible decides whether viewer may read a resource with the given
// visibility and owner. A nil viewer (not present) models an unauthenticated
// caller, which can only ever see public resources. teamAccess is only
// consulted for TeamsOnly and may be nil for any other visibility.
func Visible(v model.Visibility, ownerID uuid.UUID, viewer *uuid.UUID, teamAccess TeamAccessFunc) bool {
	switch v {
	case model.VisibilityPublic:
		return true
	case model.VisibilityPrivate:
		return viewer != nil && *viewer == ownerID
	case model.VisibilityTeamsOnly:
		if viewer == nil {
			return false
		}
		if *viewer == ownerID {
			return true
		}
		return teamAccess != nil && teamAccess(*viewer)
	default:
		return false
	}
}
