package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/argus-labs/arena/pkg/chat"
	"github.com/argus-labs/arena/pkg/errs"
	"github.com/argus-labs/arena/pkg/match"
	"github.com/argus-labs/arena/pkg/transport"
)

const (
	DefaultTTL           = time.Hour
	DefaultSweepInterval = time.Hour
	DefaultDisposeDelay  = 10 * time.Second
)

// Promoter turns a full lobby into a running match. Has reports whether a match already holds a
// code, so a new lobby never shares one with a session outliving its lobby.
type Promoter interface {
	Promote(ctx context.Context, roster match.Roster) (match.View, error)
	Has(code string) bool
}

type Option func(*Registry)

func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

func WithCodeGenerator(gen CodeGenerator) Option {
	return func(r *Registry) { r.codes = gen }
}

func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

func WithDisposeDelay(d time.Duration) Option {
	return func(r *Registry) { r.disposeDelay = d }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) { r.log = logger }
}

// Registry owns every lobby. All state is guarded by one mutex; emits happen while it is held so
// room events for a lobby go out in mutation order.
type Registry struct {
	promoter Promoter
	emitter  transport.Emitter

	clock        clockwork.Clock
	log          zerolog.Logger
	codes        CodeGenerator
	ttl          time.Duration
	disposeDelay time.Duration

	mu        sync.Mutex
	lobbies   map[string]*Lobby
	disposals map[string]clockwork.Timer
}

func NewRegistry(promoter Promoter, emitter transport.Emitter, opts ...Option) *Registry {
	r := &Registry{
		promoter:     promoter,
		emitter:      emitter,
		clock:        clockwork.NewRealClock(),
		log:          zerolog.Nop(),
		codes:        RandomCode,
		ttl:          DefaultTTL,
		disposeDelay: DefaultDisposeDelay,
		lobbies:      make(map[string]*Lobby),
		disposals:    make(map[string]clockwork.Timer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) lookupLocked(code string) (*Lobby, error) {
	l, ok := r.lobbies[NormalizeCode(code)]
	if !ok {
		return nil, eris.Wrapf(errs.ErrNotFound, "lobby %s", code)
	}
	return l, nil
}

// Create registers a lobby owned by ownerID. The owner attaches a connection by joining.
func (r *Registry) Create(ownerID, ownerName string, loadout match.Loadout) (View, error) {
	if ownerID == "" {
		return View{}, eris.Wrap(errs.ErrValidationFailed, "owner id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.newCodeLocked()
	if err != nil {
		return View{}, err
	}
	now := r.clock.Now()
	l := &Lobby{
		Code:      code,
		OwnerID:   ownerID,
		Players:   []*Member{{ID: ownerID, Name: ownerName, Loadout: loadout, JoinedAt: now}},
		Status:    StatusWaiting,
		CreatedAt: now,
	}
	r.lobbies[code] = l
	r.log.Info().Str("code", code).Str("owner", ownerID).Msg("lobby created")
	return l.view(), nil
}

func (r *Registry) newCodeLocked() (string, error) {
	for range maxCodeAttempts {
		code := r.codes()
		if _, taken := r.lobbies[code]; taken || r.promoter.Has(code) {
			continue
		}
		return code, nil
	}
	return "", eris.Wrapf(errs.ErrExhausted, "no free lobby code after %d attempts", maxCodeAttempts)
}

// Join adds a player or, for a current member, refreshes their connection, name and loadout.
func (r *Registry) Join(code, playerID, playerName string, loadout match.Loadout, connID string) (View, error) {
	if playerID == "" {
		return View{}, eris.Wrap(errs.ErrValidationFailed, "player id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	l, err := r.lookupLocked(code)
	if err != nil {
		return View{}, err
	}
	if l.Status != StatusWaiting {
		return View{}, eris.Wrapf(errs.ErrInvalidState, "lobby %s is already starting", l.Code)
	}

	m, _ := l.member(playerID)
	firstJoin := m == nil
	if firstJoin {
		m = &Member{ID: playerID, JoinedAt: r.clock.Now()}
		l.Players = append(l.Players, m)
	}
	if m.ConnID != "" && m.ConnID != connID {
		r.emitter.Leave(l.Code, m.ConnID)
	}
	m.ConnID = connID
	if playerName != "" {
		m.Name = playerName
	}
	if loadout != nil {
		m.Loadout = loadout
	}

	view := l.view()
	r.emitter.Join(l.Code, connID)
	r.emitter.Emit(connID, transport.EventLobbySnapshot, view)
	r.emitter.EmitRoomExcept(l.Code, connID, transport.EventLobbyUpdated, view)
	if firstJoin {
		r.announceLocked(l, m.Name+" joined the lobby")
	}
	return view, nil
}

// UpdateSettings merges patch into the lobby settings. Only the owner may change settings; values
// are validated when the match starts.
func (r *Registry) UpdateSettings(code, connID string, patch Settings) (View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, err := r.lookupLocked(code)
	if err != nil {
		return View{}, err
	}
	if err := r.requireOwnerLocked(l, connID); err != nil {
		return View{}, err
	}
	if l.Status != StatusWaiting {
		return View{}, eris.Wrapf(errs.ErrInvalidState, "lobby %s is already starting", l.Code)
	}
	l.Settings.merge(patch)

	view := l.view()
	r.emitter.EmitRoom(l.Code, transport.EventLobbyUpdated, view)
	return view, nil
}

func (r *Registry) requireOwnerLocked(l *Lobby, connID string) error {
	m := l.memberByConn(connID)
	if m == nil || m.ID != l.OwnerID {
		return eris.Wrapf(errs.ErrUnauthorized, "only the owner of lobby %s can do this", l.Code)
	}
	return nil
}

// StartMatch promotes the lobby to a match. The lobby is disposed of once the dispose delay has
// passed; if promotion fails the room gets a lobby-error and the lobby goes back to waiting.
func (r *Registry) StartMatch(ctx context.Context, code, connID string) (match.View, error) {
	r.mu.Lock()
	l, err := r.lookupLocked(code)
	if err == nil {
		err = r.checkStartLocked(l, connID)
	}
	if err != nil {
		r.mu.Unlock()
		return match.View{}, err
	}
	l.Status = StatusStarting
	roster := l.roster()
	r.emitter.EmitRoom(l.Code, transport.EventMatchStarting, StartingPayload{Code: l.Code, Settings: roster.Settings})
	r.mu.Unlock()

	// Promotion emits to the room on its own, so the lock is not held across it.
	view, err := r.promoter.Promote(ctx, roster)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if current, ok := r.lobbies[l.Code]; ok && current == l {
			l.Status = StatusWaiting
			r.emitter.EmitRoom(l.Code, transport.EventLobbyError, transport.NewErrorPayload(err))
			r.emitter.EmitRoom(l.Code, transport.EventLobbyUpdated, l.view())
		}
		return match.View{}, eris.Wrapf(err, "failed to start match for lobby %s", l.Code)
	}
	r.scheduleDisposalLocked(l.Code)
	r.log.Info().Str("code", l.Code).Int("players", len(roster.Players)).Msg("lobby promoted to match")
	return view, nil
}

func (r *Registry) checkStartLocked(l *Lobby, connID string) error {
	if err := r.requireOwnerLocked(l, connID); err != nil {
		return err
	}
	if l.Status != StatusWaiting {
		return eris.Wrapf(errs.ErrInvalidState, "lobby %s is already starting", l.Code)
	}
	if len(l.Players) < MinPlayers {
		return eris.Wrapf(ErrInsufficientPlayers, "lobby %s has %d", l.Code, len(l.Players))
	}
	return l.Settings.validate()
}

func (r *Registry) scheduleDisposalLocked(code string) {
	if t, ok := r.disposals[code]; ok {
		t.Stop()
	}
	r.disposals[code] = r.clock.AfterFunc(r.disposeDelay, func() { r.dispose(code) })
}

func (r *Registry) dispose(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.disposals, code)
	if _, ok := r.lobbies[code]; ok {
		delete(r.lobbies, code)
		r.log.Debug().Str("code", code).Msg("lobby disposed")
	}
}

// Leave removes a player. Ownership passes to the earliest remaining member and an empty lobby is
// deleted.
func (r *Registry) Leave(code, playerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, err := r.lookupLocked(code)
	if err != nil {
		return err
	}
	m, idx := l.member(playerID)
	if m == nil {
		return eris.Wrapf(errs.ErrNotFound, "player %s is not in lobby %s", playerID, l.Code)
	}
	l.Players = append(l.Players[:idx], l.Players[idx+1:]...)
	if m.ConnID != "" {
		r.emitter.Leave(l.Code, m.ConnID)
	}

	if len(l.Players) == 0 {
		r.deleteLocked(l.Code)
		r.log.Info().Str("code", l.Code).Msg("lobby closed, last member left")
		return nil
	}
	if l.OwnerID == playerID {
		l.OwnerID = l.Players[0].ID
	}
	r.emitter.EmitRoom(l.Code, transport.EventLobbyUpdated, l.view())
	r.announceLocked(l, m.Name+" left the lobby")
	return nil
}

// HandleDisconnect clears the connection of whichever members held connID. Membership is kept so
// the player can reconnect.
func (r *Registry) HandleDisconnect(connID string) {
	if connID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.lobbies {
		if m := l.memberByConn(connID); m != nil {
			m.ConnID = ""
			r.emitter.Leave(l.Code, connID)
		}
	}
}

// SendMessage broadcasts a chat line from a member to the lobby.
func (r *Registry) SendMessage(code, connID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, err := r.lookupLocked(code)
	if err != nil {
		return err
	}
	m := l.memberByConn(connID)
	if m == nil {
		return eris.Wrapf(errs.ErrUnauthorized, "connection is not a member of lobby %s", l.Code)
	}
	msg, err := chat.NewPlayerMessage(m.ID, m.Name, text, r.clock.Now())
	if err != nil {
		return err
	}
	r.emitter.EmitRoom(l.Code, transport.EventChatMessage, msg)
	return nil
}

// Get returns a snapshot of the lobby.
func (r *Registry) Get(code string) (View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, err := r.lookupLocked(code)
	if err != nil {
		return View{}, err
	}
	return l.view(), nil
}

// Sweep deletes lobbies created more than the TTL before now, whatever their activity. It returns
// how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for code, l := range r.lobbies {
		if now.Sub(l.CreatedAt) > r.ttl {
			r.deleteLocked(code)
			removed++
		}
	}
	if removed > 0 {
		r.log.Info().Int("removed", removed).Int("remaining", len(r.lobbies)).Msg("swept idle lobbies")
	}
	return removed
}

// Len returns the number of lobbies held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lobbies)
}

// Close cancels pending disposals.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for code, t := range r.disposals {
		t.Stop()
		delete(r.disposals, code)
	}
}

func (r *Registry) deleteLocked(code string) {
	delete(r.lobbies, code)
	if t, ok := r.disposals[code]; ok {
		t.Stop()
		delete(r.disposals, code)
	}
}

func (r *Registry) announceLocked(l *Lobby, text string) {
	r.emitter.EmitRoom(l.Code, transport.EventChatMessage, chat.NewSystemMessage(text, r.clock.Now()))
}
