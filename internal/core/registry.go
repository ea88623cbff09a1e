package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/okarpov/roomcast/internal/metrics"
	"github.com/okarpov/roomcast/internal/store"
)

// RegistryOptions tunes room lifecycle and gateway timeouts.
type RegistryOptions struct {
	// IdleWindow is how long a room must stay empty before retirement.
	// Lazy retirement avoids create/retire churn under reconnect storms.
	IdleWindow time.Duration
	// SweepInterval is how often the janitor scans for idle rooms.
	SweepInterval time.Duration
	// LoadTimeout bounds the roster load from the gateway.
	LoadTimeout time.Duration
	// WriteTimeout bounds membership and audit writes to the gateway.
	WriteTimeout time.Duration
}

// DefaultRegistryOptions returns starter lifecycle tuning.
func DefaultRegistryOptions() RegistryOptions {
	return RegistryOptions{
		IdleWindow:    time.Minute,
		SweepInterval: 15 * time.Second,
		LoadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

func (o *RegistryOptions) normalize() {
	if o.IdleWindow <= 0 {
		o.IdleWindow = time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 15 * time.Second
	}
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
}

// Registry is the process-wide directory of live rooms. It owns every Room
// instance: rooms are created on first reference and retired once empty for
// the idle window. The id->room map is the only shared structure outside the
// rooms themselves.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	gw   store.Gateway
	bc   *Broadcaster
	opts RegistryOptions
	log  zerolog.Logger
}

// NewRegistry builds an empty registry backed by the given gateway.
func NewRegistry(gw store.Gateway, bc *Broadcaster, opts RegistryOptions, logger zerolog.Logger) *Registry {
	opts.normalize()
	return &Registry{
		rooms: make(map[string]*Room),
		gw:    gw,
		bc:    bc,
		opts:  opts,
		log:   logger,
	}
}

// GetOrCreate returns the room for roomID, creating it on first reference.
// Exactly one Room instance exists per id regardless of concurrent callers:
// creation happens under the registry lock, and the roster load is issued
// outside it, once per instance.
func (g *Registry) GetOrCreate(roomID string) *Room {
	g.mu.Lock()
	if r, ok := g.rooms[roomID]; ok {
		g.mu.Unlock()
		return r
	}
	r := newRoom(roomID, g.bc, g.gw, g.opts.WriteTimeout, g.log)
	g.rooms[roomID] = r
	g.mu.Unlock()

	go g.loadRoster(r)
	return r
}

// Lookup returns the live room for roomID without creating one.
func (g *Registry) Lookup(roomID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	return r, ok
}

// Attach resolves the room and attaches conn to it, retrying transparently
// if the handle was retired between lookup and attach. Rejections are
// surfaced to the caller and counted.
func (g *Registry) Attach(ctx context.Context, roomID string, conn *Conn) error {
	for {
		r := g.GetOrCreate(roomID)
		err := r.Attach(ctx, conn)
		if errors.Is(err, errRoomRetired) {
			continue
		}
		if err != nil {
			metrics.AttachRejections.WithLabelValues(AsCoreError(err).Code).Inc()
		}
		return err
	}
}

// RetireIfIdle removes the room from the registry if it has stayed empty for
// the idle window. A no-op for unknown, non-empty, or recently-emptied rooms.
func (g *Registry) RetireIfIdle(roomID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	if !ok {
		return
	}
	if r.retireIfIdle(g.opts.IdleWindow) {
		delete(g.rooms, roomID)
		g.log.Debug().Str("room", roomID).Msg("room retired")
	}
}

// Run sweeps for idle rooms until ctx is cancelled.
func (g *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(g.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, id := range g.roomIDs() {
				g.RetireIfIdle(id)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Len reports the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

func (g *Registry) roomIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.rooms))
	for id := range g.rooms {
		ids = append(ids, id)
	}
	return ids
}

// loadRoster resolves the asynchronous roster load for a freshly created
// room. A failed or timed-out load fails the room open: pending attaches get
// ErrStorageUnavailable and the room is evicted so a later attach recreates
// it and retries the load.
func (g *Registry) loadRoster(r *Room) {
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.LoadTimeout)
	defer cancel()

	roster, err := g.gw.LoadRoster(ctx, r.ID)
	if err != nil {
		g.log.Warn().Err(err).Str("room", r.ID).Msg("roster load failed")
		r.applyRoster(nil, err)
		g.evict(r)
		return
	}
	r.applyRoster(roster, nil)
	g.log.Debug().Str("room", r.ID).Int("roster_size", len(roster)).Msg("roster loaded")
}

func (g *Registry) evict(r *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[r.ID] == r {
		delete(g.rooms, r.ID)
	}
}
