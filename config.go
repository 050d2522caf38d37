package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/spf13/viper"
)

// ErrBadConfig is returned when a loaded configuration cannot describe a scene
var ErrBadConfig = errors.New("invalid configuration")

// FlightConfig holds the aircraft tunables. Angular limits are radians,
// read from pitchLimit/bankLimit or, when those are unset, from the *Deg
// keys; command rates are degrees per second. Values are not range-checked at
// runtime: a negative maxSpeed or limit produces undefined motion.
type FlightConfig struct {
	MaxSpeed        float64 `mapstructure:"maxSpeed"`
	AccelResponse   float64 `mapstructure:"accelResponse"`
	Drag            float64 `mapstructure:"drag"`
	PitchLimit      float64 `mapstructure:"-"`
	BankLimit       float64 `mapstructure:"-"`
	PitchCmdRateDeg float64 `mapstructure:"pitchCmdRateDeg"`
	BankCmdRateDeg  float64 `mapstructure:"bankCmdRateDeg"`
	PitchResponse   float64 `mapstructure:"pitchResponse"`
	BankResponse    float64 `mapstructure:"bankResponse"`
	PitchCentering  float64 `mapstructure:"pitchCentering"`
	BankCentering   float64 `mapstructure:"bankCentering"`
	TurnRateGain    float64 `mapstructure:"turnRateGain"`
	YawTaxiRate     float64 `mapstructure:"yawTaxiRate"`
	StallSpeed      float64 `mapstructure:"stallSpeed"`
	CtrlVRange      float64 `mapstructure:"ctrlVRange"`
	MinY            float64 `mapstructure:"minY"`
	ThrottleCmdRate float64 `mapstructure:"throttleCmdRate"`
}

// TurretConfig holds turret aim tunables (radians, radians/s). Each angle
// has a radian key (yawRate, maxYaw, ...) that wins over its *Deg twin.
type TurretConfig struct {
	YawRate     float64 `mapstructure:"-"`
	PitchRate   float64 `mapstructure:"-"`
	MinYaw      float64 `mapstructure:"-"`
	MaxYaw      float64 `mapstructure:"-"`
	MinPitch    float64 `mapstructure:"-"`
	MaxPitch    float64 `mapstructure:"-"`
	RestRoll    float64 `mapstructure:"-"`
	MountHeight float64 `mapstructure:"mountHeight"`
	BarrelLen   float64 `mapstructure:"barrelLength"`
}

// ProjectileConfig holds cannon and ballistic tunables
type ProjectileConfig struct {
	ShotCooldown       float64 `mapstructure:"shotCooldown"`
	ProjectileSpeed    float64 `mapstructure:"projectileSpeed"`
	ProjectileMass     float64 `mapstructure:"projectileMass"`
	ProjectileLifetime float64 `mapstructure:"projectileLifetime"`
	ProjectileRadius   float64 `mapstructure:"projectileRadius"`
	Gravity            float64 `mapstructure:"gravity"`
	SweptCollision     bool    `mapstructure:"sweptCollision"`
	MaxLive            int     `mapstructure:"maxLive"`
}

// ExplosionConfig describes the explosion frame sequence asset
type ExplosionConfig struct {
	Path            string  `mapstructure:"path"`
	FrameDelayScale float64 `mapstructure:"frameDelayScale"`
	SpritePixels    int     `mapstructure:"spritePixels"`
	WorldSize       float64 `mapstructure:"worldSize"`
}

// SceneConfig places the static and moving parts of the scene
type SceneConfig struct {
	TickRate         int       `mapstructure:"tickRate"`
	BroadcastRate    int       `mapstructure:"broadcastRate"`
	MaxDt            float64   `mapstructure:"maxDt"`
	Spawn            []float64 `mapstructure:"spawn"`
	SpawnYaw         float64   `mapstructure:"-"`
	ShipOrbitRadius  float64   `mapstructure:"shipOrbitRadius"`
	ShipOrbitRate    float64   `mapstructure:"shipOrbitRate"`
	ShipHeight       float64   `mapstructure:"shipHeight"`
	BladeSpinRate    float64   `mapstructure:"bladeSpinRate"`
	AircraftHalfSize []float64 `mapstructure:"aircraftHalfSize"`
	IslandMin        []float64 `mapstructure:"islandMin"`
	IslandMax        []float64 `mapstructure:"islandMax"`
}

// ServerConfig holds transport settings
type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	ClientDir   string        `mapstructure:"clientDir"`
	PublicURL   string        `mapstructure:"publicURL"`
	MaxSessions int           `mapstructure:"maxSessions"`
	IdleTimeout time.Duration `mapstructure:"idleTimeout"`
}

// Config is the full set of tunables supplied once at startup
type Config struct {
	Flight     FlightConfig     `mapstructure:"flight"`
	Turret     TurretConfig     `mapstructure:"turret"`
	Projectile ProjectileConfig `mapstructure:"projectile"`
	Explosion  ExplosionConfig  `mapstructure:"explosion"`
	Scene      SceneConfig      `mapstructure:"scene"`
	Server     ServerConfig     `mapstructure:"server"`
	DBPath     string           `mapstructure:"dbPath"`
	LogLevel   string           `mapstructure:"logLevel"`
	LogFormat  string           `mapstructure:"logFormat"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// MetricsConfig controls the OpenTelemetry meter provider
type MetricsConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Exporter    string        `mapstructure:"exporter"`
	Interval    time.Duration `mapstructure:"interval"`
	ServiceName string        `mapstructure:"serviceName"`
}

// setDefaults registers every tunable with its default value. Angles are
// expressed in degrees under *Deg keys; the radian keys get no default so
// that IsSet only reports values the operator supplied.
func setDefaults(v *viper.Viper) {
	v.SetDefault("flight.maxSpeed", 120.0)
	v.SetDefault("flight.accelResponse", 2.2)
	v.SetDefault("flight.drag", 0.015)
	v.SetDefault("flight.pitchLimitDeg", 45.0)
	v.SetDefault("flight.bankLimitDeg", 60.0)
	v.SetDefault("flight.pitchCmdRateDeg", 60.0)
	v.SetDefault("flight.bankCmdRateDeg", 90.0)
	v.SetDefault("flight.pitchResponse", 5.0)
	v.SetDefault("flight.bankResponse", 6.0)
	v.SetDefault("flight.pitchCentering", 1.0)
	v.SetDefault("flight.bankCentering", 1.5)
	v.SetDefault("flight.turnRateGain", 1.3)
	v.SetDefault("flight.yawTaxiRate", 1.4*3.141592653589793)
	v.SetDefault("flight.stallSpeed", 12.0)
	v.SetDefault("flight.ctrlVRange", 25.0)
	v.SetDefault("flight.minY", 98.4)
	v.SetDefault("flight.throttleCmdRate", 0.5)

	v.SetDefault("turret.yawRateDeg", 60.0)
	v.SetDefault("turret.pitchRateDeg", 30.0)
	v.SetDefault("turret.minYawDeg", -90.0)
	v.SetDefault("turret.maxYawDeg", 90.0)
	v.SetDefault("turret.minPitchDeg", -90.0)
	v.SetDefault("turret.maxPitchDeg", 0.0)
	v.SetDefault("turret.restRollDeg", -90.0)
	v.SetDefault("turret.mountHeight", 12.0)
	v.SetDefault("turret.barrelLength", 10.0)

	v.SetDefault("projectile.shotCooldown", 0.25)
	v.SetDefault("projectile.projectileSpeed", 200.0)
	v.SetDefault("projectile.projectileMass", 10.0)
	v.SetDefault("projectile.projectileLifetime", 5.0)
	v.SetDefault("projectile.projectileRadius", 1.8)
	v.SetDefault("projectile.gravity", Gravity)
	v.SetDefault("projectile.sweptCollision", false)
	v.SetDefault("projectile.maxLive", 200)

	v.SetDefault("explosion.path", "effects/explosion.gif")
	v.SetDefault("explosion.frameDelayScale", 0.25)
	v.SetDefault("explosion.spritePixels", 0)
	v.SetDefault("explosion.worldSize", 80.0)

	v.SetDefault("scene.tickRate", 60)
	v.SetDefault("scene.broadcastRate", 30)
	v.SetDefault("scene.maxDt", 0.05)
	v.SetDefault("scene.spawn", []float64{-191.9, 98.4, 293.4})
	v.SetDefault("scene.spawnYawDeg", 45.0)
	v.SetDefault("scene.shipOrbitRadius", 650.0)
	v.SetDefault("scene.shipOrbitRate", 0.3)
	v.SetDefault("scene.shipHeight", 23.0)
	v.SetDefault("scene.bladeSpinRate", 18.0)
	v.SetDefault("scene.aircraftHalfSize", []float64{32, 12, 40})
	v.SetDefault("scene.islandMin", []float64{-500, 0, -500})
	v.SetDefault("scene.islandMax", []float64{500, 200, 500})

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.clientDir", "./client")
	v.SetDefault("server.publicURL", "http://localhost:8080")
	v.SetDefault("server.maxSessions", 100)
	v.SetDefault("server.idleTimeout", 2*time.Minute)

	v.SetDefault("dbPath", "flightcombat.db")
	v.SetDefault("logLevel", "info")
	v.SetDefault("logFormat", "console")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.exporter", "stdout")
	v.SetDefault("metrics.interval", 30*time.Second)
	v.SetDefault("metrics.serviceName", instrumentationName)
}

// DefaultConfig returns the built-in tunables without touching the
// filesystem or environment
func DefaultConfig() Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decodeConfig(v)
	if err != nil {
		panic("default configuration is invalid: " + err.Error())
	}
	return cfg
}

// LoadConfig reads defaults, an optional config file (format chosen by
// extension) and FLIGHTCOMBAT_* environment overrides
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("flightcombat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	return decodeConfig(v)
}

func decodeConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	// key is radians; key+"Deg" is the degree fallback
	angle := func(key string) float64 {
		if v.IsSet(key) {
			return v.GetFloat64(key)
		}
		return mgl64.DegToRad(v.GetFloat64(key + "Deg"))
	}
	cfg.Flight.PitchLimit = angle("flight.pitchLimit")
	cfg.Flight.BankLimit = angle("flight.bankLimit")
	cfg.Turret.YawRate = angle("turret.yawRate")
	cfg.Turret.PitchRate = angle("turret.pitchRate")
	cfg.Turret.MinYaw = angle("turret.minYaw")
	cfg.Turret.MaxYaw = angle("turret.maxYaw")
	cfg.Turret.MinPitch = angle("turret.minPitch")
	cfg.Turret.MaxPitch = angle("turret.maxPitch")
	cfg.Turret.RestRoll = angle("turret.restRoll")
	cfg.Scene.SpawnYaw = angle("scene.spawnYaw")

	for key, vec := range map[string][]float64{
		"scene.spawn":            cfg.Scene.Spawn,
		"scene.aircraftHalfSize": cfg.Scene.AircraftHalfSize,
		"scene.islandMin":        cfg.Scene.IslandMin,
		"scene.islandMax":        cfg.Scene.IslandMax,
	} {
		if len(vec) != 3 {
			return Config{}, fmt.Errorf("%w: %s needs 3 components, got %d", ErrBadConfig, key, len(vec))
		}
	}
	if cfg.Scene.TickRate <= 0 || cfg.Scene.BroadcastRate <= 0 || cfg.Scene.BroadcastRate > cfg.Scene.TickRate {
		return Config{}, fmt.Errorf("%w: tickRate %d / broadcastRate %d", ErrBadConfig, cfg.Scene.TickRate, cfg.Scene.BroadcastRate)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Interval <= 0 {
		return Config{}, fmt.Errorf("%w: metrics.interval must be positive", ErrBadConfig)
	}
	return cfg, nil
}

// vec3 converts a validated 3-component config slice
func vec3(s []float64) mgl64.Vec3 {
	return mgl64.Vec3{s[0], s[1], s[2]}
}
