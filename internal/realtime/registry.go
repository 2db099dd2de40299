package realtime

import (
	"fmt"
	"log/slog"
	"sync"

	"clinic-realtime/internal/auth"

	"github.com/samber/lo"
)

// Sink is the outbound side of one live connection.
// Send must not block; it reports whether the frame was queued.
type Sink interface {
	Send(frame []byte) bool
	Close()
}

type set = map[string]struct{}

type connection struct {
	identity auth.Identity
	sink     Sink
	groups   set
}

// Registry owns every live connection and the connection<->group mapping.
// All reads and writes of both maps happen under mu, so a connection is
// either fully registered with all its memberships or fully gone.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*connection
	groups map[string]set
	closed bool
	log    *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*connection),
		groups: make(map[string]set),
		log:    log,
	}
}

// Register records a new live connection.
func (r *Registry) Register(connID string, identity auth.Identity, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if _, ok := r.conns[connID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, connID)
	}
	r.conns[connID] = &connection{
		identity: identity,
		sink:     sink,
		groups:   make(set),
	}
	return nil
}

// Unregister removes the connection from every group it joined and closes
// its sink. Unknown ids are ignored.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	for group := range c.groups {
		r.removeMember(group, connID)
	}
	delete(r.conns, connID)
	r.mu.Unlock()

	c.sink.Close()
}

// IdentityOf returns the identity the connection authenticated with.
func (r *Registry) IdentityOf(connID string) (auth.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	if !ok {
		return auth.Identity{}, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	return c.identity, nil
}

// Join adds the connection to group on behalf of requester, who must be the
// identity the connection was registered with. Joining twice is a no-op.
func (r *Registry) Join(connID, group string, requester auth.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	if requester.IsZero() || requester.SubjectID != c.identity.SubjectID {
		return fmt.Errorf("%w: %s", ErrUnauthorizedGroupJoin, group)
	}

	c.groups[group] = struct{}{}
	members, ok := r.groups[group]
	if !ok {
		members = make(set)
		r.groups[group] = members
	}
	members[connID] = struct{}{}
	return nil
}

// Leave removes the membership if it exists.
func (r *Registry) Leave(connID, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(c.groups, group)
	r.removeMember(group, connID)
}

// removeMember drops empty groups so they stay absent rather than empty.
// Caller holds mu.
func (r *Registry) removeMember(group, connID string) {
	members, ok := r.groups[group]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.groups, group)
	}
}

// SendToGroup delivers payload under event to every current member of group.
// Delivery is best-effort: the number of sinks that accepted the frame is
// returned and nothing is reported for members that did not.
func (r *Registry) SendToGroup(group, event string, payload any) int {
	frame, err := encode(event, payload)
	if err != nil {
		r.log.Error("encode group event", "group", group, "event", event, "error", err)
		return 0
	}

	r.mu.RLock()
	sinks := lo.FilterMap(lo.Keys(r.groups[group]), func(connID string, _ int) (Sink, bool) {
		c, ok := r.conns[connID]
		if !ok {
			return nil, false
		}
		return c.sink, true
	})
	r.mu.RUnlock()

	delivered := 0
	for _, sink := range sinks {
		if sink.Send(frame) {
			delivered++
			continue
		}
		r.log.Debug("subscriber dropped frame", "group", group, "event", event)
	}
	return delivered
}

// SendTo delivers one event to a single connection.
func (r *Registry) SendTo(connID, event string, payload any) error {
	frame, err := encode(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	r.mu.RLock()
	c, ok := r.conns[connID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}

	if !c.sink.Send(frame) {
		r.log.Debug("connection dropped frame", "conn_id", connID, "event", event)
	}
	return nil
}

// Members returns the connection ids currently in group.
func (r *Registry) Members(group string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.groups[group])
}

// GroupsOf returns the groups the connection has joined.
func (r *Registry) GroupsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil
	}
	return lo.Keys(c.groups)
}

// ConnectionsOf counts the live connections held by a subject.
func (r *Registry) ConnectionsOf(subjectID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.CountBy(lo.Values(r.conns), func(c *connection) bool {
		return c.identity.SubjectID == subjectID
	})
}

// Close drops every connection and group. Register fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*connection)
	r.groups = make(map[string]set)
	r.closed = true
	r.mu.Unlock()

	for _, c := range conns {
		c.sink.Close()
	}
	r.log.Info("registry closed", "connections", len(conns))
}
