package server

import (
	"math"
	"time"
)

// tickLoop is the handle for one room's running ticker goroutine.
// Closing stop ends the goroutine; stopLoopLocked is idempotent because
// the room's loop pointer is nilled in the same critical section.
type tickLoop struct {
	stop chan struct{}
}

func (h *Hub) startLoopLocked(room *Room) {
	if room.loop != nil {
		return
	}
	loop := &tickLoop{stop: make(chan struct{})}
	room.loop = loop
	go h.runLoop(room.ID, loop)
}

func (h *Hub) stopLoopLocked(room *Room) {
	if room.loop == nil {
		return
	}
	close(room.loop.stop)
	room.loop = nil
}

func (h *Hub) runLoop(roomID string, loop *tickLoop) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Printf("tick loop for room %s panicked: %v", roomID, r)
			h.mu.Lock()
			if room, ok := h.rooms[roomID]; ok && room.loop == loop {
				room.loop = nil
			}
			h.mu.Unlock()
		}
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-loop.stop:
			return
		case <-ticker.C:
			started := time.Now()
			alive := h.step(roomID, loop)
			h.counters.RecordTickDuration(time.Since(started))
			if !alive {
				return
			}
		}
	}
}

// step runs one simulation tick. It returns false when this goroutine
// should exit: the room is gone, the loop handle is stale, or the game
// just ended.
func (h *Hub) step(roomID string, loop *tickLoop) bool {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok || room.loop != loop {
		h.mu.Unlock()
		return false
	}
	if !room.started || room.state.Paused || room.state.GameOver || room.seats.Len() < 2 {
		h.mu.Unlock()
		return true
	}

	events := room.advance()
	room.tick++
	tick := room.tick
	conns := snapshotConnsLocked(room)
	state := snapshotStateLocked(room)

	var outcome *gameOutcome
	if events.winner != "" {
		resolved := h.resolveGameLocked(room, events.winner, reasonScore)
		outcome = &resolved
	}
	h.mu.Unlock()

	if events.changed {
		h.pushToConns(conns, gameEnvelope("state-update", stateUpdatePayload{
			RoomID: roomID,
			Tick:   tick,
			State:  state,
		}))
	}
	now := time.Now().UnixMilli()
	for _, flash := range events.flashes {
		flash.Timestamp = now
		h.pushToConns(conns, gameEnvelope("flash-effect", flashPayload{RoomID: roomID, Flash: flash}))
	}

	if outcome != nil {
		h.commitOutcome(*outcome)
		return false
	}
	return true
}

type tickEvents struct {
	changed bool
	flashes []flashFrame
	winner  string
}

// advance integrates one tick of ball movement, wall and paddle
// collisions, scoring, and the win check.
func (r *Room) advance() tickEvents {
	var events tickEvents
	st := &r.state
	ball := &st.Ball

	if ball.VX == 0 && ball.VY == 0 {
		return events
	}
	events.changed = true

	ball.X += ball.VX
	ball.Y += ball.VY

	if ball.Y-ballRadius <= 0 {
		ball.Y = ballRadius
		if ball.VY < 0 {
			ball.VY = -ball.VY
		}
		events.flashes = append(events.flashes, borderFlash(0))
	} else if ball.Y+ballRadius >= fieldHeight {
		ball.Y = fieldHeight - ballRadius
		if ball.VY > 0 {
			ball.VY = -ball.VY
		}
		events.flashes = append(events.flashes, borderFlash(1))
	}

	leftID, _ := r.seats.LeftPlayer()
	rightID, _ := r.seats.RightPlayer()

	if ball.VX < 0 {
		if paddle, ok := st.Paddles[leftID]; ok && ball.X-ballRadius <= paddleWidth && ball.X >= 0 {
			if paddleCovers(paddle.Y, ball.Y) {
				deflect(ball, paddle.Y, 1)
			}
		}
	} else if ball.VX > 0 {
		if paddle, ok := st.Paddles[rightID]; ok && ball.X+ballRadius >= fieldWidth-paddleWidth && ball.X <= fieldWidth {
			if paddleCovers(paddle.Y, ball.Y) {
				deflect(ball, paddle.Y, -1)
			}
		}
	}

	if ball.X+ballRadius < 0 {
		events.winner = r.scorePoint(rightID)
	} else if ball.X-ballRadius > fieldWidth {
		events.winner = r.scorePoint(leftID)
	}

	return events
}

// scorePoint credits one point and either ends the game or resets the
// serve. Returns the winner's identity when the game just ended.
func (r *Room) scorePoint(scorerID string) string {
	if scorerID == "" {
		r.resetServe()
		return ""
	}
	r.state.Scores[scorerID]++
	if r.state.Scores[scorerID] >= winningScore {
		return scorerID
	}
	r.resetServe()
	return ""
}

// resetServe recenters the ball. Serve direction alternates on the
// serve counter so neither side is favored; a small random angle keeps
// rallies from repeating exactly.
func (r *Room) resetServe() {
	r.serveCount++
	dir := 1.0
	if r.serveCount%2 == 1 {
		dir = -1.0
	}
	angle := (r.rng.Float64()*2 - 1) * serveAngleJitter
	r.state.Ball = BallState{
		X:  fieldWidth / 2,
		Y:  fieldHeight / 2,
		VX: dir * ballBaseSpeed * math.Cos(angle),
		VY: ballBaseSpeed * math.Sin(angle),
	}
}

func paddleCovers(paddleY, ballY float64) bool {
	return ballY+ballRadius >= paddleY && ballY-ballRadius <= paddleY+paddleHeight
}

// deflect resolves a paddle hit: reposition the ball just outside the
// paddle, grow the speed up to the cap, and angle the return by where
// on the paddle the ball struck (center straight, edges steep).
func deflect(ball *BallState, paddleY float64, dir float64) {
	speed := math.Hypot(ball.VX, ball.VY)
	if speed == 0 {
		return
	}
	newSpeed := math.Min(speed*ballSpeedIncrement, ballBaseSpeed*ballSpeedCap)

	offset := (ball.Y - (paddleY + paddleHeight/2)) / (paddleHeight / 2)
	if offset > 1 {
		offset = 1
	} else if offset < -1 {
		offset = -1
	}

	vy := offset * newSpeed * ballDeflectFactor
	ball.VY = vy
	ball.VX = dir * math.Sqrt(newSpeed*newSpeed-vy*vy)
	if dir > 0 {
		ball.X = paddleWidth + ballRadius
	} else {
		ball.X = fieldWidth - paddleWidth - ballRadius
	}
}

func borderFlash(index int) flashFrame {
	return flashFrame{
		Type:     "border",
		Index:    index,
		Duration: flashDuration.Milliseconds(),
	}
}
