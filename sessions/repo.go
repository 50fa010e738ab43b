package sessions

import "time"

type Repo interface {
	Upsert(sessionID string, session Session) error
	Get(sessionID string) (Session, error)
	Delete(sessionID string) error
	// DeleteExpired removes every session whose expiry is not after now and returns their ids.
	DeleteExpired(now time.Time) []string
}
