package orchestrator

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/envelope-race/go/internal/race/events"
	"github.com/rs/zerolog/log"
)

// prizeHandoffTimeout bounds the prize assignment and room refresh after a race.
const prizeHandoffTimeout = 10 * time.Second

// round is one race in one room. All of its timers are created up front and
// owned by a single goroutine, so cancelling ctx stops them as a unit.
type round struct {
	roomCode string
	ctx      context.Context
	cancel   context.CancelFunc

	// countdown[i] fires the tick CountdownFrom-1-i
	countdown []clockwork.Timer
	goTimer   clockwork.Timer
	deadline  clockwork.Timer

	// finished is signalled when an input completes the race
	finished chan struct{}
}

func (o *Orchestrator) newRound(roomCode string, raceDuration time.Duration) *round {
	ctx, cancel := context.WithCancel(context.Background())

	step := o.cfg.CountdownStep
	r := &round{
		roomCode: roomCode,
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}, 1),
	}
	for i := 1; i < o.cfg.CountdownFrom; i++ {
		r.countdown = append(r.countdown, o.clock.NewTimer(time.Duration(i)*step))
	}
	goAfter := time.Duration(o.cfg.CountdownFrom) * step
	r.goTimer = o.clock.NewTimer(goAfter)
	r.deadline = o.clock.NewTimer(goAfter + raceDuration)
	return r
}

func (r *round) stopTimers() {
	for _, t := range r.countdown {
		stopAndDrainTimer(t)
	}
	stopAndDrainTimer(r.goTimer)
	stopAndDrainTimer(r.deadline)
}

// runRound walks the round through countdown, racing, finish and cleanup.
func (o *Orchestrator) runRound(r *round) {
	defer o.wg.Done()
	defer o.removeRound(r)
	defer r.stopTimers()

	code := r.roomCode

	for i, t := range r.countdown {
		select {
		case <-t.Chan():
			o.emit(code, events.EventTypeRaceCountdown, events.CountdownPayload{Count: o.cfg.CountdownFrom - 1 - i})
		case <-r.ctx.Done():
			log.Debug().Str("room_code", code).Msg("round cancelled during countdown")
			return
		}
	}

	select {
	case <-r.goTimer.Chan():
	case <-r.ctx.Done():
		log.Debug().Str("room_code", code).Msg("round cancelled before go")
		return
	}

	o.store.Start(code)
	ticker := o.clock.NewTicker(o.cfg.BroadcastInterval)
	defer ticker.Stop()
	o.emit(code, events.EventTypeRaceGo, o.store.Snapshot(code))
	log.Info().Str("room_code", code).Msg("race started")

	forced := false
racing:
	for {
		select {
		case <-r.ctx.Done():
			log.Debug().Str("room_code", code).Msg("round cancelled while racing")
			return
		case <-r.finished:
			break racing
		case <-r.deadline.Chan():
			if !o.store.IsFinished(code) {
				o.store.ForceFinishAll(code)
				forced = true
			}
			break racing
		case <-ticker.Chan():
			if o.store.IsFinished(code) {
				break racing
			}
			if snap := o.store.Snapshot(code); snap != nil {
				o.emit(code, events.EventTypeRaceProgress, snap)
			}
		}
	}
	ticker.Stop()

	cleanup := o.clock.NewTimer(o.cfg.CleanupDelay)
	o.finalize(r, forced)

	select {
	case <-cleanup.Chan():
		o.store.Cleanup(code)
		log.Debug().Str("room_code", code).Msg("race session cleaned up")
	case <-r.ctx.Done():
		stopAndDrainTimer(cleanup)
	}
}

// finalize emits the final snapshot, hands the finish order to prize
// assignment and refreshes the room. A failed handoff is logged and the
// round still proceeds to cleanup.
func (o *Orchestrator) finalize(r *round, forced bool) {
	code := r.roomCode

	snap := o.store.Snapshot(code)
	if snap == nil {
		return
	}
	o.emit(code, events.EventTypeRaceProgress, snap)
	o.emit(code, events.EventTypeRaceComplete, snap)

	log.Info().
		Str("room_code", code).
		Bool("forced", forced).
		Strs("finish_order", snap.FinishOrder).
		Msg("race finished")

	// Prize handoff outlives room cancellation; results already went out.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), prizeHandoffTimeout)
	defer cancel()

	if err := o.rooms.AssignPrizes(ctx, code, snap.FinishOrder); err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to assign prizes")
	}

	state, err := o.rooms.RoomState(ctx, code)
	if err != nil {
		log.Error().Err(err).Str("room_code", code).Msg("failed to load room state after race")
		return
	}
	o.emit(code, events.EventTypeRoomUpdate, state)
}

func (o *Orchestrator) signalFinished(roomCode string) {
	o.activeRoundsMu.Lock()
	r, ok := o.activeRounds[roomCode]
	o.activeRoundsMu.Unlock()
	if !ok {
		return
	}
	select {
	case r.finished <- struct{}{}:
	default:
	}
}

// replaceRound atomically replaces the round for a room, cancelling any existing one.
func (o *Orchestrator) replaceRound(roomCode string, r *round) {
	o.activeRoundsMu.Lock()
	defer o.activeRoundsMu.Unlock()

	if existing, ok := o.activeRounds[roomCode]; ok {
		existing.cancel()
		log.Debug().Str("room_code", roomCode).Msg("replaced existing round")
	}
	o.activeRounds[roomCode] = r
}

// cancelRound cancels and removes the active round for a room
func (o *Orchestrator) cancelRound(roomCode string) {
	o.activeRoundsMu.Lock()
	defer o.activeRoundsMu.Unlock()

	if r, ok := o.activeRounds[roomCode]; ok {
		r.cancel()
		delete(o.activeRounds, roomCode)
		log.Debug().Str("room_code", roomCode).Msg("cancelled existing round")
	}
}

// removeRound drops r from the active rounds if it is still the current one
func (o *Orchestrator) removeRound(r *round) {
	o.activeRoundsMu.Lock()
	defer o.activeRoundsMu.Unlock()

	if o.activeRounds[r.roomCode] == r {
		delete(o.activeRounds, r.roomCode)
	}
	r.cancel()
}

func (o *Orchestrator) cancelAllRounds() {
	o.activeRoundsMu.Lock()
	defer o.activeRoundsMu.Unlock()

	for code, r := range o.activeRounds {
		r.cancel()
		delete(o.activeRounds, code)
	}
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
