package sessions

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-access-broker/internal/errors"
	"github.com/jrsteele09/go-access-broker/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultBearerTTL       = 8 * time.Hour
	defaultCleanupInterval = 30 * time.Minute
)

// Store issues bearer tokens and resolves them back to sessions.
type Store struct {
	repo            Repo
	signer          token.Signer
	bearerTTL       time.Duration
	cleanupInterval time.Duration
	nowFunc         func() time.Time
	logger          zerolog.Logger

	sweepMu   sync.Mutex
	lastSweep time.Time

	// destroyed or expired session ids, kept until their envelope expires so they are never reconstructed
	destroyedMu sync.RWMutex
	destroyed   map[string]time.Time
}

type Option func(*Store)

func WithNowFunc(f func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = f
	}
}

// WithBearerTTL sets the lifetime signed into new bearer tokens.
func WithBearerTTL(d time.Duration) Option {
	return func(s *Store) {
		s.bearerTTL = d
	}
}

func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) {
		s.cleanupInterval = d
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

func NewStore(repo Repo, signer token.Signer, opts ...Option) *Store {
	s := &Store{
		repo:            repo,
		signer:          signer,
		bearerTTL:       defaultBearerTTL,
		cleanupInterval: defaultCleanupInterval,
		nowFunc:         time.Now,
		logger:          log.Logger,
		destroyed:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastSweep = s.nowFunc()
	return s
}

// Create stores a new session valid for duration and returns its bearer token.
// The bearer never outlives the session.
func (s *Store) Create(email, encryptedPassword string, duration time.Duration) (string, Session, error) {
	now := s.nowFunc()
	session := Session{
		ID:                uuid.NewString(),
		Email:             email,
		EncryptedPassword: encryptedPassword,
		CreatedAt:         now,
		ExpiresAt:         now.Add(duration),
	}

	bearerExpiry := now.Add(s.bearerTTL)
	if session.ExpiresAt.Before(bearerExpiry) {
		bearerExpiry = ceilToPrecision(session.ExpiresAt)
	}

	bearer, err := s.signer.Sign(BearerClaims{
		SessionID: session.ID,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(bearerExpiry),
		},
	})
	if err != nil {
		return "", Session{}, errors.Wrapf(err, "failed to sign bearer token")
	}

	if err := s.repo.Upsert(session.ID, session); err != nil {
		return "", Session{}, errors.Wrapf(err, "failed to store session")
	}

	s.logger.Info().Str("email", email).Time("expires_at", session.ExpiresAt).Msg("session created")
	return bearer, session, nil
}

// Validate resolves a bearer token. A record lost from memory is rebuilt from
// the envelope while the envelope itself is still valid; such sessions carry no password.
func (s *Store) Validate(bearer string) (Lookup, error) {
	now := s.nowFunc()
	s.maybeSweep(now)

	claims, err := s.parse(bearer, jwt.WithTimeFunc(s.nowFunc))
	if err != nil {
		if errors.Is(err, errors.ErrSessionExpired) {
			s.dropRecord(bearer)
		}
		return Lookup{}, err
	}

	if s.isDestroyed(claims.SessionID) {
		return Lookup{}, errors.ErrSessionInvalid
	}

	session, err := s.repo.Get(claims.SessionID)
	switch {
	case err == nil:
		if !session.ValidAt(now) {
			_ = s.repo.Delete(claims.SessionID)
			if claims.ExpiresAt != nil {
				s.tombstone(claims.SessionID, claims.ExpiresAt.Time, now)
			}
			return Lookup{}, errors.ErrSessionExpired
		}
		return Lookup{Session: session, Status: Found}, nil
	case errors.Is(err, errors.ErrNotFound):
		return s.reconstruct(claims, now)
	default:
		return Lookup{}, errors.Wrapf(err, "failed to load session")
	}
}

func (s *Store) reconstruct(claims *BearerClaims, now time.Time) (Lookup, error) {
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return Lookup{}, errors.ErrSessionInvalid
	}

	session := Session{
		ID:        claims.SessionID,
		Email:     claims.Email,
		CreatedAt: claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if !session.ValidAt(now) {
		return Lookup{}, errors.ErrSessionExpired
	}
	if err := s.repo.Upsert(session.ID, session); err != nil {
		return Lookup{}, errors.Wrapf(err, "failed to store reconstructed session")
	}

	s.logger.Info().Str("email", session.Email).Msg("session reconstructed from bearer token")
	return Lookup{Session: session, Status: Reconstructed}, nil
}

// Destroy removes the session behind bearer. Tokens with a bad signature are ignored;
// an expired envelope still identifies its session.
func (s *Store) Destroy(bearer string) {
	claims, err := s.parse(bearer, jwt.WithoutClaimsValidation())
	if err != nil {
		return
	}
	_ = s.repo.Delete(claims.SessionID)

	if claims.ExpiresAt != nil {
		s.tombstone(claims.SessionID, claims.ExpiresAt.Time, s.nowFunc())
	}
	s.logger.Info().Str("email", claims.Email).Msg("session destroyed")
}

// SweepExpired removes every expired session and returns how many were removed.
func (s *Store) SweepExpired() int {
	now := s.nowFunc()
	s.sweepMu.Lock()
	s.lastSweep = now
	s.sweepMu.Unlock()

	s.destroyedMu.Lock()
	for id, until := range s.destroyed {
		if !now.Before(until) {
			delete(s.destroyed, id)
		}
	}
	s.destroyedMu.Unlock()

	// a swept session's bearer was issued before now, so it expires by now+bearerTTL
	removed := s.repo.DeleteExpired(now)
	for _, id := range removed {
		s.tombstone(id, now.Add(s.bearerTTL), now)
	}
	if len(removed) > 0 {
		s.logger.Debug().Int("removed", len(removed)).Msg("expired sessions swept")
	}
	return len(removed)
}

func (s *Store) maybeSweep(now time.Time) {
	s.sweepMu.Lock()
	due := now.Sub(s.lastSweep) > s.cleanupInterval
	s.sweepMu.Unlock()
	if due {
		s.SweepExpired()
	}
}

// dropRecord deletes the record behind an expired bearer.
func (s *Store) dropRecord(bearer string) {
	if claims, err := s.parse(bearer, jwt.WithoutClaimsValidation()); err == nil {
		_ = s.repo.Delete(claims.SessionID)
	}
}

func (s *Store) tombstone(sessionID string, until, now time.Time) {
	if !until.After(now) {
		return
	}
	s.destroyedMu.Lock()
	s.destroyed[sessionID] = until
	s.destroyedMu.Unlock()
}

// ceilToPrecision rounds t up to the resolution of JWT numeric dates.
func ceilToPrecision(t time.Time) time.Time {
	truncated := t.Truncate(jwt.TimePrecision)
	if truncated.Equal(t) {
		return t
	}
	return truncated.Add(jwt.TimePrecision)
}

func (s *Store) isDestroyed(sessionID string) bool {
	s.destroyedMu.RLock()
	defer s.destroyedMu.RUnlock()
	_, ok := s.destroyed[sessionID]
	return ok
}

func (s *Store) parse(bearer string, opts ...jwt.ParserOption) (*BearerClaims, error) {
	if bearer == "" {
		return nil, errors.ErrSessionInvalid
	}
	claims := &BearerClaims{}
	if err := s.signer.Parse(bearer, claims, opts...); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.ErrSessionExpired
		}
		return nil, errors.ErrSessionInvalid
	}
	if claims.SessionID == "" || claims.Email == "" {
		return nil, errors.ErrSessionInvalid
	}
	return claims, nil
}
