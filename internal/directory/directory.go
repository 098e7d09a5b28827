// Package directory resolves scanned badge identifiers to known identities.
package directory

import (
	"context"

	"github.com/ej-follero/icct-sas-ver-1-sub010/internal/model"
)

// Lookup is the store surface the resolver needs: badge-stamped identity
// rows, the card registry, and identity-by-owner follow-ups. A miss is
// (nil, nil), never an error.
type Lookup interface {
	StudentByBadge(ctx context.Context, badgeID string) (*model.Identity, error)
	InstructorByBadge(ctx context.Context, badgeID string) (*model.Identity, error)
	ActiveRegistration(ctx context.Context, badgeID string) (*Registration, error)
	StudentByUserID(ctx context.Context, userID int64, badgeID string) (*model.Identity, error)
	InstructorByUserID(ctx context.Context, userID int64, badgeID string) (*model.Identity, error)
}

// Resolver maps a badge to its identity: the primary badge column on the
// student/instructor tables first, then the badge registry, where a badge
// reassigned over time resolves only through its active assignment.
type Resolver struct {
	src Lookup
}

// NewResolver creates a resolver over a directory lookup source.
func NewResolver(src Lookup) *Resolver {
	return &Resolver{src: src}
}

// Resolve returns the identity a badge belongs to, or (nil, nil) when the
// badge is unknown. Store failures are returned as errors; the caller decides
// whether they are retryable.
func (r *Resolver) Resolve(ctx context.Context, badgeID string) (*model.Identity, error) {
	if badgeID == "" {
		return nil, nil
	}

	if id, err := r.src.StudentByBadge(ctx, badgeID); err != nil || id != nil {
		return id, err
	}
	if id, err := r.src.InstructorByBadge(ctx, badgeID); err != nil || id != nil {
		return id, err
	}

	// Registry fallback: the badge may be assigned through the card registry
	// rather than stamped on the identity row itself.
	reg, err := r.src.ActiveRegistration(ctx, badgeID)
	if err != nil || reg == nil {
		return nil, err
	}
	switch reg.Role {
	case model.RoleStudent:
		return r.src.StudentByUserID(ctx, reg.UserID, badgeID)
	case model.RoleInstructor:
		return r.src.InstructorByUserID(ctx, reg.UserID, badgeID)
	}
	return nil, nil
}
