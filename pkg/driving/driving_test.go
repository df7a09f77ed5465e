package driving

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/kickbot/pkg/actor"
	"github.com/gwillem/kickbot/pkg/hardware/sim"
	"github.com/gwillem/kickbot/pkg/robot"
)

func testConfig() Config {
	return Config{
		ReceiveTimeout:    5 * time.Millisecond,
		KickDuration:      50 * time.Millisecond,
		CalibrationRun:    time.Millisecond,
		CalibrationSettle: time.Millisecond,
	}
}

func TestDuty(t *testing.T) {
	values := []float32{-1, -0.75, -0.5, -0.25, 0, 0.25, 0.5, 0.75, 1}

	for _, manual := range values {
		for _, pid := range values {
			sum := float64(manual) + float64(pid)*PidAuthority
			if sum > 1 {
				sum = 1
			}
			if sum < -1 {
				sum = -1
			}
			want := int(sum * MaxSpeed)

			got := Duty(manual, pid*PidAuthority)
			if got != want {
				t.Errorf("Duty(%v, %v) = %d, want %d", manual, pid*PidAuthority, got, want)
			}
		}
	}
}

func TestDuty_Clamps(t *testing.T) {
	assert.Equal(t, 100, Duty(1.5, 0.5))
	assert.Equal(t, -100, Duty(-2, 0))
	assert.Equal(t, 0, Duty(1, -1))
	assert.Equal(t, -100, Duty(float32(math.NaN()), 0))
	assert.Equal(t, -100, Duty(0.5, float32(math.NaN())))
	assert.Equal(t, 100, Duty(float32(math.Inf(1)), 0))
}

func TestActor_NaNTrackIsBounded(t *testing.T) {
	hw := sim.New()
	a, done := startActor(t, hw, testConfig())
	ctx := context.Background()

	nan := float32(math.NaN())
	require.NoError(t, a.Send(ctx, SetTrack{Left: nan, Right: 0.5}))
	require.Eventually(t, func() bool {
		return hw.Motor(robot.LeftWheel).Duty == -100 && hw.Motor(robot.RightWheel).Duty == 50
	}, time.Second, time.Millisecond)

	require.NoError(t, a.Send(ctx, SetTrack{Left: 0.25, Right: 0.25}))
	require.Eventually(t, func() bool {
		return hw.Motor(robot.LeftWheel).Duty == 25
	}, time.Second, time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("actor stopped: %v", err)
	default:
	}
	assert.Len(t, hw.CallsFor(robot.Kicker, "run-timed"), 1, "no recalibration")
}

func startActor(t *testing.T, hw *sim.Hardware, cfg Config) (*Actor, <-chan error) {
	t.Helper()
	a := New(hw, cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(hw.CallsFor(robot.RightWheel, "run-direct")) == 1
	}, time.Second, time.Millisecond, "startup did not finish")
	return a, done
}

func TestActor_Startup(t *testing.T) {
	hw := sim.New()
	startActor(t, hw, testConfig())

	var ops []string
	for _, c := range hw.Calls() {
		ops = append(ops, string(c.Motor)+":"+c.Op)
	}
	assert.Equal(t, []string{
		"kicker:stop-action",
		"kicker:speed",
		"kicker:run-timed",
		"kicker:stop",
		"kicker:position",
		"kicker:speed",
		"left_wheel:duty",
		"right_wheel:duty",
		"left_wheel:run-direct",
		"right_wheel:run-direct",
	}, ops)

	k := hw.Motor(robot.Kicker)
	assert.Equal(t, robot.StopBrake, k.StopAction)
	assert.Equal(t, KickerWorkingSpeed, k.Speed)
	assert.Equal(t, 0, k.Position)
	assert.Equal(t, []sim.Call{{Motor: robot.Kicker, Op: "speed", Value: KickerCalibrationSpeed}, {Motor: robot.Kicker, Op: "speed", Value: KickerWorkingSpeed}},
		hw.CallsFor(robot.Kicker, "speed"))
}

func TestActor_BlendIsOrderIndependent(t *testing.T) {
	orders := map[string][]Command{
		"track first": {SetTrack{Left: 0.5, Right: 0.5}, SetPid{Left: 0.5, Right: -0.5}},
		"pid first":   {SetPid{Left: 0.5, Right: -0.5}, SetTrack{Left: 0.5, Right: 0.5}},
	}

	for name, cmds := range orders {
		t.Run(name, func(t *testing.T) {
			hw := sim.New()
			a, _ := startActor(t, hw, testConfig())

			for _, c := range cmds {
				require.NoError(t, a.Send(context.Background(), c))
			}

			require.Eventually(t, func() bool {
				return len(hw.CallsFor(robot.LeftWheel, "duty")) == 3
			}, time.Second, time.Millisecond)

			assert.Equal(t, 75, hw.Motor(robot.LeftWheel).Duty)
			assert.Equal(t, 25, hw.Motor(robot.RightWheel).Duty)
		})
	}
}

func TestActor_TrimAndKickDoNotRewriteWheels(t *testing.T) {
	hw := sim.New()
	a, _ := startActor(t, hw, testConfig())
	ctx := context.Background()

	require.NoError(t, a.Send(ctx, SetTrim{Trim: 0.3}))
	require.NoError(t, a.Send(ctx, Kick{}))
	require.NoError(t, a.Send(ctx, SetTrack{Left: 1, Right: -1}))

	require.Eventually(t, func() bool {
		return len(hw.CallsFor(robot.LeftWheel, "duty")) == 2
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, hw.CallsFor(robot.LeftWheel, "duty"), 2)
	assert.Equal(t, 100, hw.Motor(robot.LeftWheel).Duty)
	assert.Equal(t, -100, hw.Motor(robot.RightWheel).Duty)
}

func TestActor_KickIsIdempotentWhileInFlight(t *testing.T) {
	hw := sim.New()
	a, _ := startActor(t, hw, testConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Send(ctx, Kick{}))
	}

	require.Eventually(t, func() bool {
		return len(hw.CallsFor(robot.Kicker, "run-to-abs-pos")) == 2
	}, time.Second, time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	calls := hw.CallsFor(robot.Kicker, "run-to-abs-pos")
	require.Len(t, calls, 2)
	assert.Equal(t, KickerExtended, calls[0].Value)
	assert.Equal(t, KickerRest, calls[1].Value)

	// A new kick is accepted once the previous one retracted.
	require.NoError(t, a.Send(ctx, Kick{}))
	require.Eventually(t, func() bool {
		return len(hw.CallsFor(robot.Kicker, "run-to-abs-pos")) == 4
	}, time.Second, time.Millisecond)
}

func TestActor_StopWaitsForKickRetract(t *testing.T) {
	hw := sim.New()
	a, done := startActor(t, hw, testConfig())
	ctx := context.Background()

	require.NoError(t, a.Send(ctx, Kick{}))
	require.NoError(t, a.Send(ctx, Stop{}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("actor did not stop")
	}

	calls := hw.CallsFor(robot.Kicker, "run-to-abs-pos")
	require.Len(t, calls, 2)
	assert.Equal(t, KickerRest, calls[1].Value)
}

func TestActor_MotorErrorEndsRun(t *testing.T) {
	hw := sim.New()
	a, done := startActor(t, hw, testConfig())

	hw.FailMotors(errors.New("motor unplugged"))
	require.NoError(t, a.Send(context.Background(), SetTrack{Left: 0.5, Right: 0.5}))

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "motor unplugged")
	case <-time.After(time.Second):
		t.Fatal("run did not fail")
	}
}

func TestActor_SupervisedRestartStartsClean(t *testing.T) {
	hw := sim.New()
	hw.FailMotors(errors.New("no kicker"))

	var mu sync.Mutex
	var outputs []Output
	cfg := testConfig()
	cfg.Observe = func(o Output) {
		mu.Lock()
		outputs = append(outputs, o)
		mu.Unlock()
	}

	a := New(hw, cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Start(ctx, time.Millisecond) }()

	time.Sleep(10 * time.Millisecond)
	hw.FailMotors(nil)

	require.NoError(t, a.Send(ctx, SetTrack{Left: 0.25, Right: 0}))
	require.NoError(t, a.Send(ctx, Stop{}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervised actor did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Output{{Left: 25, Right: 0}}, outputs)
	assert.ErrorIs(t, a.Send(ctx, Kick{}), actor.ErrStopped)
}
