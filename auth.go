package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	jwtExpiry        = 7 * 24 * time.Hour
	gunnerExpiry     = 2 * time.Hour
	bcryptCost       = 12
	minPasswordLen   = 4
	minUsernameLen   = 2
	maxUsernameLen   = 16
	loginRateWindow  = 60 * time.Second
	maxLoginAttempts = 10
	secretSettingKey = "jwt_secret"
	scopeGunner      = "gunner"
)

var (
	// ErrInvalidToken is returned for tokens that fail signature, expiry or scope checks
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoAccounts is returned when accounts are used without a database
	ErrNoAccounts = errors.New("accounts unavailable")
)

// Auth handles pilot accounts and signed tokens
type Auth struct {
	db        *DB
	jwtSecret []byte
	cost      int
	log       zerolog.Logger

	// Login attempts per IP
	rateMu  sync.Mutex
	rateMap map[string]*rateEntry
}

type rateEntry struct {
	Count   int
	ResetAt time.Time
}

// NewAuth creates an Auth. db may be nil: tokens still work, accounts do not.
func NewAuth(db *DB, log zerolog.Logger) *Auth {
	a := &Auth{
		db:      db,
		cost:    bcryptCost,
		log:     log.With().Str("component", "auth").Logger(),
		rateMap: make(map[string]*rateEntry),
	}
	a.jwtSecret = a.loadOrCreateSecret()
	return a
}

// loadOrCreateSecret loads the signing secret from settings, or generates
// and persists a new one
func (a *Auth) loadOrCreateSecret() []byte {
	if a.db != nil {
		if h := a.db.GetSetting(secretSettingKey); h != "" {
			if b, err := hex.DecodeString(h); err == nil && len(b) == 32 {
				return b
			}
		}
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic("failed to generate JWT secret: " + err.Error())
	}
	if a.db != nil {
		if err := a.db.SetSetting(secretSettingKey, hex.EncodeToString(secret)); err != nil {
			a.log.Warn().Err(err).Msg("could not persist JWT secret")
		}
	}
	return secret
}

// Register creates a new account and returns its ID and a session token
func (a *Auth) Register(username, password string) (int64, string, error) {
	if a.db == nil {
		return 0, "", ErrNoAccounts
	}
	username = strings.TrimSpace(username)

	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return 0, "", fmt.Errorf("username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	}
	if len(password) < minPasswordLen {
		return 0, "", fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	exists, err := a.db.UsernameExists(username)
	if err != nil {
		a.log.Error().Err(err).Msg("checking username")
		return 0, "", fmt.Errorf("database error")
	}
	if exists {
		return 0, "", fmt.Errorf("username already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return 0, "", fmt.Errorf("internal error")
	}

	id, err := a.db.CreatePilot(username, string(hash))
	if err != nil {
		a.log.Error().Err(err).Str("username", username).Msg("creating pilot")
		return 0, "", fmt.Errorf("failed to create account")
	}

	token, err := a.generateToken(id, username)
	if err != nil {
		return 0, "", fmt.Errorf("internal error")
	}
	return id, token, nil
}

// Login authenticates a pilot and returns a session token
func (a *Auth) Login(username, password, ip string) (int64, string, error) {
	if a.db == nil {
		return 0, "", ErrNoAccounts
	}
	if !a.checkRate(ip) {
		return 0, "", fmt.Errorf("too many login attempts, try again later")
	}

	pilot, err := a.db.GetPilotByUsername(username)
	if err != nil {
		a.log.Error().Err(err).Msg("looking up pilot")
		return 0, "", fmt.Errorf("database error")
	}
	if pilot == nil || pilot.PassHash == "" {
		return 0, "", fmt.Errorf("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(pilot.PassHash), []byte(password)); err != nil {
		return 0, "", fmt.Errorf("invalid username or password")
	}

	token, err := a.generateToken(pilot.ID, pilot.Username)
	if err != nil {
		return 0, "", fmt.Errorf("internal error")
	}
	return pilot.ID, token, nil
}

func (a *Auth) parse(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateToken validates a session token and returns (pilotID, username)
func (a *Auth) ValidateToken(tokenStr string) (int64, string, error) {
	claims, err := a.parse(tokenStr)
	if err != nil {
		return 0, "", err
	}
	if _, scoped := claims["scp"]; scoped {
		return 0, "", ErrInvalidToken
	}
	pidFloat, ok := claims["pid"].(float64)
	if !ok {
		return 0, "", fmt.Errorf("%w: missing pid", ErrInvalidToken)
	}
	username, ok := claims["usr"].(string)
	if !ok {
		return 0, "", fmt.Errorf("%w: missing usr", ErrInvalidToken)
	}
	return int64(pidFloat), username, nil
}

// GunnerToken signs a token that lets one client take the turret of sortie sid
func (a *Auth) GunnerToken(sid string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sid": sid,
		"scp": scopeGunner,
		"exp": now.Add(gunnerExpiry).Unix(),
		"iat": now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}

// ValidateGunnerToken checks that tokenStr is a gunner token for sid
func (a *Auth) ValidateGunnerToken(tokenStr, sid string) error {
	claims, err := a.parse(tokenStr)
	if err != nil {
		return err
	}
	if scope, _ := claims["scp"].(string); scope != scopeGunner {
		return fmt.Errorf("%w: wrong scope", ErrInvalidToken)
	}
	if tokenSID, _ := claims["sid"].(string); tokenSID != sid {
		return fmt.Errorf("%w: wrong sortie", ErrInvalidToken)
	}
	return nil
}

func (a *Auth) generateToken(pilotID int64, username string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"pid": pilotID,
		"usr": username,
		"exp": now.Add(jwtExpiry).Unix(),
		"iat": now.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
}

func (a *Auth) checkRate(ip string) bool {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	now := time.Now()
	entry, ok := a.rateMap[ip]
	if !ok || now.After(entry.ResetAt) {
		a.rateMap[ip] = &rateEntry{Count: 1, ResetAt: now.Add(loginRateWindow)}
		return true
	}
	entry.Count++
	return entry.Count <= maxLoginAttempts
}
