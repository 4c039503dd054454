package ws

import (
	"context"
	"time"

	"go.uber.org/zap"

	"roomchatgo/internal/services/membership"
)

const reconcileTimeout = 2 * time.Second

// Reconciler merges live-connection presence with the durable membership
// store. Live connections are authoritative for "who is online now"; the
// store contributes display metadata and the trailing durable record. A store
// outage degrades the metadata, it never blocks or drops a connection.
type Reconciler struct {
	registry *Registry
	members  membership.IMembershipService
	events   *EventPublisher
}

func NewReconciler(registry *Registry, members membership.IMembershipService, events *EventPublisher) *Reconciler {
	return &Reconciler{registry: registry, members: members, events: events}
}

// OnJoin fires once per Pending → Active transition. First-seen users are
// registered in the membership store rather than rejected; the live session
// is allowed to run slightly ahead of durable bookkeeping.
func (p *Reconciler) OnJoin(roomID, userID, displayName string) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	if err := p.members.EnsureMember(ctx, roomID, userID, displayName); err != nil {
		// membership store unavailable: presence stays live-only until the
		// stream tailer catches the join up
		zap.L().Warn("presence.ensure_member",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	frame := PresenceFrame{RoomID: roomID, UserID: userID, Event: PresenceJoined}
	if s := p.registry.Lookup(roomID); s != nil {
		s.broadcastEvent(eventPresence, frame)
	}
	p.events.PublishPresence(ctx, frame)
}

// OnLeave fires once per terminal transition of a registered connection.
// Durable last-seen bookkeeping rides the presence stream.
func (p *Reconciler) OnLeave(roomID, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	frame := PresenceFrame{RoomID: roomID, UserID: userID, Event: PresenceLeft}
	if s := p.registry.Lookup(roomID); s != nil {
		s.broadcastEvent(eventPresence, frame)
	}
	p.events.PublishPresence(ctx, frame)
}

// Snapshot returns the merged presence view for a room: every durable member
// with isLive computed from the live connection set, plus live users the
// store does not know yet. When the store is unavailable the snapshot
// degrades to live connections only.
func (p *Reconciler) Snapshot(ctx context.Context, roomID string) []PresenceRecord {
	live := p.registry.Presence(roomID)

	ctx, cancel := context.WithTimeout(ctx, reconcileTimeout)
	defer cancel()

	members, err := p.members.ListMembers(ctx, roomID)
	if err != nil {
		zap.L().Warn("presence.snapshot_degraded",
			zap.String("room_id", roomID),
			zap.Error(err),
		)
		return live
	}

	liveByUser := make(map[string]PresenceRecord, len(live))
	for _, rec := range live {
		liveByUser[rec.UserID] = rec
	}

	out := make([]PresenceRecord, 0, len(members)+len(live))
	for _, m := range members {
		rec := PresenceRecord{
			UserID:      m.UserID,
			DisplayName: m.DisplayName,
			Role:        m.Role,
			JoinedAt:    m.JoinedAt,
			IsLive:      false,
		}
		if _, ok := liveByUser[m.UserID]; ok {
			rec.IsLive = true
			delete(liveByUser, m.UserID)
		}
		out = append(out, rec)
	}

	// live connections the store has not recorded yet
	for _, rec := range live {
		if _, ok := liveByUser[rec.UserID]; ok {
			out = append(out, rec)
		}
	}
	return out
}
