// Package permissions is the single authorization surface for media. Every
// read and write path goes through the Filter here instead of re-deriving
// ownership checks per endpoint.
package permissions

import (
	"context"

	"github.com/suffus/reedi-media-service/internal/media"
)

// Decision carries the verdict plus a human-readable reason suitable for
// client display on denial.
type Decision struct {
	Granted bool
	Reason  string
}

func granted() Decision             { return Decision{Granted: true} }
func denied(reason string) Decision { return Decision{Granted: false, Reason: reason} }

// FriendshipChecker answers whether an accepted friendship exists between
// two identities, in either direction. Consulted live on every FRIENDS_ONLY
// evaluation; caching grants would outlive revoked friendships.
type FriendshipChecker interface {
	Accepted(ctx context.Context, a, b string) (bool, error)
}

// AuditSink receives denial events. Implementations must not block.
type AuditSink interface {
	Denied(ctx context.Context, viewerID, mediaID, reason string)
}

type Filter struct {
	friends FriendshipChecker
	audit   AuditSink
}

// NewFilter builds the filter. audit may be nil.
func NewFilter(friends FriendshipChecker, audit AuditSink) *Filter {
	return &Filter{friends: friends, audit: audit}
}

// CanRead evaluates viewer access to one media item. viewerID is empty for
// unauthenticated callers.
func (f *Filter) CanRead(ctx context.Context, viewerID string, m *media.Media) Decision {
	d := f.readDecision(ctx, viewerID, m)
	if !d.Granted && f.audit != nil {
		f.audit.Denied(ctx, viewerID, m.ID, d.Reason)
	}
	return d
}

func (f *Filter) readDecision(ctx context.Context, viewerID string, m *media.Media) Decision {
	if viewerID != "" && viewerID == m.AuthorID {
		return granted()
	}
	switch m.Visible {
	case media.VisibilityPublic:
		return granted()
	case media.VisibilityPrivate:
		return denied("private")
	case media.VisibilityFriendsOnly:
		if viewerID == "" {
			return denied("friends only")
		}
		ok, err := f.friends.Accepted(ctx, viewerID, m.AuthorID)
		if err != nil {
			// fail closed on a broken friendship lookup
			return denied("friends only")
		}
		if ok {
			return granted()
		}
		return denied("friends only")
	}
	return denied("unknown visibility")
}

func (f *Filter) CanCreate(viewerID string) Decision {
	if viewerID == "" {
		return denied("authentication required")
	}
	return granted()
}

func (f *Filter) CanUpdate(ctx context.Context, viewerID string, m *media.Media) Decision {
	return f.ownerOnly(ctx, viewerID, m, "only the owner may update")
}

func (f *Filter) CanDelete(ctx context.Context, viewerID string, m *media.Media) Decision {
	return f.ownerOnly(ctx, viewerID, m, "only the owner may delete")
}

func (f *Filter) ownerOnly(ctx context.Context, viewerID string, m *media.Media, reason string) Decision {
	if viewerID != "" && viewerID == m.AuthorID {
		return granted()
	}
	if f.audit != nil {
		f.audit.Denied(ctx, viewerID, m.ID, reason)
	}
	return denied(reason)
}

// FilterReadable returns the viewer-visible subset, preserving order.
// Listing endpoints must call this before applying pagination so page
// boundaries never leak hidden items.
func (f *Filter) FilterReadable(ctx context.Context, viewerID string, items []*media.Media) []*media.Media {
	out := make([]*media.Media, 0, len(items))
	for _, m := range items {
		if f.readDecision(ctx, viewerID, m).Granted {
			out = append(out, m)
		}
	}
	return out
}
