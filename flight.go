package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// groundEpsilon is how close to MinY the aircraft must be to count as on the ground
const groundEpsilon = 1e-6

// ControlInputs is the instantaneous command state set by input handlers.
// Each axis is -1, 0 or +1; values outside [-1, 1] are clamped.
type ControlInputs struct {
	Throttle float64 // +1 throttle up, -1 throttle down
	Pitch    float64 // +1 nose up
	Bank     float64 // +1 bank/steer right
}

// AircraftTransform is the full overwrite applied by SetTransform
type AircraftTransform struct {
	Position mgl64.Vec3
	Yaw      float64 // radians about +Y
	Pitch    float64 // radians, nose up positive
	Bank     float64 // radians, right wing down positive
	Speed    float64 // along the forward axis
	Throttle float64 // 0..1
}

// FlightStatus is the read-only view used by the HUD
type FlightStatus struct {
	Position mgl64.Vec3 `json:"pos" msgpack:"pos"`
	Speed    float64    `json:"speed" msgpack:"speed"`
	Throttle float64    `json:"throttle" msgpack:"throttle"`
	YawDeg   float64    `json:"yawDeg" msgpack:"yawDeg"`
	PitchDeg float64    `json:"pitchDeg" msgpack:"pitchDeg"`
	BankDeg  float64    `json:"bankDeg" msgpack:"bankDeg"`
	Grounded bool       `json:"grounded" msgpack:"grounded"`
}

// FlightModel integrates throttle/pitch/bank commands into the motion of
// one rigid body. It has no error conditions.
type FlightModel struct {
	cfg FlightConfig

	pos      mgl64.Vec3
	yaw      float64
	pitch    float64
	bank     float64
	speed    float64
	throttle float64

	throttleTarget float64
	pitchCmd       float64 // commanded pitch angle, rad
	bankCmd        float64 // commanded bank angle, rad

	controls ControlInputs
}

// NewFlightModel creates a model at rest at the origin
func NewFlightModel(cfg FlightConfig) *FlightModel {
	return &FlightModel{cfg: cfg}
}

// SetControls replaces the command state read by the next Update
func (f *FlightModel) SetControls(in ControlInputs) {
	f.controls = ControlInputs{
		Throttle: axisCommand(in.Throttle),
		Pitch:    axisCommand(in.Pitch),
		Bank:     axisCommand(in.Bank),
	}
}

// Controls returns the command state
func (f *FlightModel) Controls() ControlInputs {
	return f.controls
}

// SetTransform overwrites the full aircraft state (respawn). Command targets
// follow the new state so the next Update starts from rest.
func (f *FlightModel) SetTransform(t AircraftTransform) {
	f.pos = t.Position
	f.yaw = t.Yaw
	f.pitch = t.Pitch
	f.bank = t.Bank
	f.speed = t.Speed
	f.throttle = t.Throttle
	f.throttleTarget = t.Throttle
	f.pitchCmd = t.Pitch
	f.bankCmd = t.Bank
}

// Status returns speed and attitude for display
func (f *FlightModel) Status() FlightStatus {
	return FlightStatus{
		Position: f.pos,
		Speed:    f.speed,
		Throttle: f.throttle,
		YawDeg:   mgl64.RadToDeg(f.yaw),
		PitchDeg: mgl64.RadToDeg(f.pitch),
		BankDeg:  mgl64.RadToDeg(f.bank),
		Grounded: f.grounded(),
	}
}

// EnginePower returns the current throttle in [0, 1]
func (f *FlightModel) EnginePower() float64 {
	return f.throttle
}

// Position returns the aircraft position
func (f *FlightModel) Position() mgl64.Vec3 {
	return f.pos
}

// Orientation composes yaw, pitch and bank into a rotation
func (f *FlightModel) Orientation() mgl64.Quat {
	return orientationFromEuler(f.yaw, f.pitch, f.bank)
}

// Forward returns the unit nose direction
func (f *FlightModel) Forward() mgl64.Vec3 {
	return f.Orientation().Rotate(axisZ)
}

func (f *FlightModel) grounded() bool {
	return f.pos.Y() <= f.cfg.MinY+groundEpsilon
}

// Update advances the aircraft by dt seconds
func (f *FlightModel) Update(dt float64) {
	if dt <= 0 {
		return
	}
	c := f.cfg
	in := f.controls

	f.updateThrottle(dt)
	f.updateSpeed(dt)

	eff := 1.0
	if c.CtrlVRange > 0 {
		eff = Clamp(f.speed/c.CtrlVRange, 0, 1)
	}

	taxiing := f.grounded() && f.speed < c.StallSpeed
	if taxiing {
		// Ground vehicle: steering yaws directly, no roll or rotation
		f.yaw -= in.Bank * c.YawTaxiRate * eff * dt
		f.pitchCmd, f.pitch = 0, 0
		f.bankCmd, f.bank = 0, 0
	} else {
		f.updateAttitude(dt)
		turnSpeed := math.Max(f.speed, c.StallSpeed)
		if turnSpeed > 0 {
			f.yaw -= c.TurnRateGain * Gravity * math.Tan(f.bank) / turnSpeed * eff * dt
		}
	}
	f.yaw = NormalizeAngle(f.yaw)

	step := f.Forward().Mul(f.speed * dt)
	if !taxiing && f.speed < c.StallSpeed && c.StallSpeed > 0 {
		step[1] -= Gravity * (1 - f.speed/c.StallSpeed) * dt
	}
	f.pos = f.pos.Add(step)
	if f.pos[1] < c.MinY {
		f.pos[1] = c.MinY
		if f.pitch < 0 {
			f.pitch, f.pitchCmd = 0, 0
		}
	}

	f.pitch = Clamp(f.pitch, -c.PitchLimit, c.PitchLimit)
	f.bank = Clamp(f.bank, -c.BankLimit, c.BankLimit)
}

func (f *FlightModel) updateThrottle(dt float64) {
	c := f.cfg
	f.throttleTarget = Clamp(f.throttleTarget+f.controls.Throttle*c.ThrottleCmdRate*dt, 0, 1)
	f.throttle += (f.throttleTarget - f.throttle) * ResponseFactor(c.AccelResponse, dt)
	f.throttle = Clamp(f.throttle, 0, 1)
}

// updateSpeed relaxes speed toward the equilibrium of
// dv/dt = k(T - v) - d·v², T = throttle·maxSpeed, using an exponential step
// at the linearized rate k + 2d·v*. The step never overshoots for any dt.
func (f *FlightModel) updateSpeed(dt float64) {
	c := f.cfg
	target := f.throttle * c.MaxSpeed
	k := c.AccelResponse
	eq := target
	rate := k
	if c.Drag > 0 && k > 0 {
		eq = (-k + math.Sqrt(k*k+4*c.Drag*k*target)) / (2 * c.Drag)
		rate = k + 2*c.Drag*eq
	}
	f.speed += (eq - f.speed) * ResponseFactor(rate, dt)
	f.speed = Clamp(f.speed, 0, c.MaxSpeed)
}

func (f *FlightModel) updateAttitude(dt float64) {
	c := f.cfg
	in := f.controls

	f.pitchCmd = Approach(f.pitchCmd, in.Pitch*c.PitchLimit, mgl64.DegToRad(c.PitchCmdRateDeg)*dt)
	f.bankCmd = Approach(f.bankCmd, in.Bank*c.BankLimit, mgl64.DegToRad(c.BankCmdRateDeg)*dt)

	f.pitch += (f.pitchCmd - f.pitch) * ResponseFactor(c.PitchResponse, dt)
	f.bank += (f.bankCmd - f.bank) * ResponseFactor(c.BankResponse, dt)

	if in.Pitch == 0 {
		f.pitch -= f.pitch * ResponseFactor(c.PitchCentering, dt)
	}
	if in.Bank == 0 {
		f.bank -= f.bank * ResponseFactor(c.BankCentering, dt)
	}
}
