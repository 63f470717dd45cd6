package server

import (
	"math"
	"testing"

	"pong-arena/server/internal/store"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHubWithConfig(HubConfig{
		Logger: discardLogger(),
		Store:  store.NewMemory(),
		Seed:   42,
	})
	t.Cleanup(func() {
		hub.mu.Lock()
		for _, room := range hub.rooms {
			hub.stopLoopLocked(room)
		}
		hub.mu.Unlock()
	})
	return hub
}

// newTestRoom builds a two-player room without a hub, for exercising
// the physics directly.
func newTestRoom(t *testing.T) *Room {
	t.Helper()
	hub := newTestHub(t)
	hub.mu.Lock()
	room := hub.createRoomLocked("left", RoomOptions{})
	hub.addPlayerLocked(room, "right")
	hub.mu.Unlock()
	return room
}

func TestDeflectRepositionsAndSpeedsUp(t *testing.T) {
	room := newTestRoom(t)
	room.state.Paddles["left"] = PaddleState{Y: 150}
	room.state.Ball = BallState{X: 17, Y: 200, VX: -5, VY: 0}

	events := room.advance()

	if !events.changed {
		t.Fatal("expected tick to report a change")
	}
	ball := room.state.Ball
	if ball.X != paddleWidth+ballRadius {
		t.Fatalf("ball X = %v, want %v", ball.X, paddleWidth+ballRadius)
	}
	if math.Abs(ball.VX-5.25) > 1e-9 {
		t.Fatalf("ball VX = %v, want 5.25", ball.VX)
	}
	if ball.VY != 0 {
		t.Fatalf("ball VY = %v, want 0 for a center hit", ball.VY)
	}
}

func TestDeflectAnglesByContactPoint(t *testing.T) {
	cases := []struct {
		name   string
		ballY  float64
		wantVY func(vy float64) bool
	}{
		{name: "above center goes up", ballY: 160, wantVY: func(vy float64) bool { return vy < 0 }},
		{name: "below center goes down", ballY: 240, wantVY: func(vy float64) bool { return vy > 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			room := newTestRoom(t)
			room.state.Paddles["left"] = PaddleState{Y: 150}
			room.state.Ball = BallState{X: 17, Y: tc.ballY, VX: -5, VY: 0}

			room.advance()

			if !tc.wantVY(room.state.Ball.VY) {
				t.Fatalf("ball VY = %v has wrong sign for contact at y=%v", room.state.Ball.VY, tc.ballY)
			}
			if room.state.Ball.VX <= 0 {
				t.Fatalf("ball VX = %v, want positive after a left paddle hit", room.state.Ball.VX)
			}
		})
	}
}

func TestDeflectCapsSpeed(t *testing.T) {
	room := newTestRoom(t)
	room.state.Paddles["left"] = PaddleState{Y: 150}

	for i := 0; i < 50; i++ {
		room.state.Ball = BallState{X: 17, Y: 200, VX: -room.state.Ball.speedOr(ballBaseSpeed), VY: 0}
		room.advance()
	}

	speed := math.Hypot(room.state.Ball.VX, room.state.Ball.VY)
	if speed > ballBaseSpeed*ballSpeedCap+1e-9 {
		t.Fatalf("ball speed %v exceeds cap %v", speed, ballBaseSpeed*ballSpeedCap)
	}
}

func TestWallBounceClampsAndReflects(t *testing.T) {
	room := newTestRoom(t)
	room.state.Ball = BallState{X: 400, Y: 10, VX: 1, VY: -5}

	events := room.advance()

	ball := room.state.Ball
	if ball.Y != ballRadius {
		t.Fatalf("ball Y = %v, want clamped to %v", ball.Y, ballRadius)
	}
	if ball.VY <= 0 {
		t.Fatalf("ball VY = %v, want positive after top wall bounce", ball.VY)
	}
	if len(events.flashes) != 1 || events.flashes[0].Index != 0 {
		t.Fatalf("expected one top border flash, got %+v", events.flashes)
	}
}

func TestBottomWallBounce(t *testing.T) {
	room := newTestRoom(t)
	room.state.Ball = BallState{X: 400, Y: 393, VX: 1, VY: 5}

	events := room.advance()

	ball := room.state.Ball
	if ball.Y != fieldHeight-ballRadius {
		t.Fatalf("ball Y = %v, want clamped to %v", ball.Y, fieldHeight-ballRadius)
	}
	if ball.VY >= 0 {
		t.Fatalf("ball VY = %v, want negative after bottom wall bounce", ball.VY)
	}
	if len(events.flashes) != 1 || events.flashes[0].Index != 1 {
		t.Fatalf("expected one bottom border flash, got %+v", events.flashes)
	}
}

func TestMissedBallScoresOpponent(t *testing.T) {
	room := newTestRoom(t)
	// Left paddle far from the ball's path.
	room.state.Paddles["left"] = PaddleState{Y: 0}
	room.state.Ball = BallState{X: -5, Y: 350, VX: -5, VY: 0}

	room.advance()

	if got := room.state.Scores["right"]; got != 1 {
		t.Fatalf("right score = %d, want 1", got)
	}
	if got := room.state.Scores["left"]; got != 0 {
		t.Fatalf("left score = %d, want 0", got)
	}
	// Serve reset recenters the ball.
	if room.state.Ball.X != fieldWidth/2 || room.state.Ball.Y != fieldHeight/2 {
		t.Fatalf("ball not recentered after score: %+v", room.state.Ball)
	}
}

func TestServeDirectionAlternates(t *testing.T) {
	room := newTestRoom(t)

	room.resetServe()
	first := math.Signbit(room.state.Ball.VX)
	room.resetServe()
	second := math.Signbit(room.state.Ball.VX)
	room.resetServe()
	third := math.Signbit(room.state.Ball.VX)

	if first == second {
		t.Fatal("consecutive serves travelled the same direction")
	}
	if first != third {
		t.Fatal("serve direction should alternate every serve")
	}
}

func TestServeSpeedIsBaseSpeed(t *testing.T) {
	room := newTestRoom(t)
	room.resetServe()
	speed := math.Hypot(room.state.Ball.VX, room.state.Ball.VY)
	if math.Abs(speed-ballBaseSpeed) > 1e-9 {
		t.Fatalf("serve speed = %v, want %v", speed, ballBaseSpeed)
	}
}

func TestWinningScoreEndsGame(t *testing.T) {
	room := newTestRoom(t)
	room.state.Scores["right"] = winningScore - 1
	room.state.Paddles["left"] = PaddleState{Y: 0}
	room.state.Ball = BallState{X: -5, Y: 350, VX: -5, VY: 0}

	events := room.advance()

	if events.winner != "right" {
		t.Fatalf("winner = %q, want right", events.winner)
	}
	if got := room.state.Scores["right"]; got != winningScore {
		t.Fatalf("right score = %d, want %d", got, winningScore)
	}
}

func TestStationaryBallDoesNothing(t *testing.T) {
	room := newTestRoom(t)
	room.state.Ball = BallState{X: 400, Y: 200}

	events := room.advance()

	if events.changed {
		t.Fatal("stationary ball should not produce a state change")
	}
}

// speedOr is a test convenience for reading the ball speed with a
// fallback before the first serve.
func (b BallState) speedOr(fallback float64) float64 {
	speed := math.Hypot(b.VX, b.VY)
	if speed == 0 {
		return fallback
	}
	return speed
}
