package store

import (
	"database/sql"
	"time"
)

// SaveSession stores the signed-in identity, replacing any previous one.
func (db *DB) SaveSession(s *Session) error {
	signedInAt := s.SignedInAt
	if signedInAt == 0 {
		signedInAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO session (id, uid, email, display_name, photo_url, signed_in_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			uid = excluded.uid,
			email = excluded.email,
			display_name = excluded.display_name,
			photo_url = excluded.photo_url,
			signed_in_at = excluded.signed_in_at`,
		s.UID, s.Email, s.DisplayName, s.PhotoURL, signedInAt)
	return err
}

// LoadSession returns the persisted session, or nil when signed out.
func (db *DB) LoadSession() (*Session, error) {
	var s Session
	err := db.QueryRow(`SELECT uid, email, display_name, photo_url, signed_in_at FROM session WHERE id = 1`).
		Scan(&s.UID, &s.Email, &s.DisplayName, &s.PhotoURL, &s.SignedInAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ClearSession removes the persisted session. The cached contacts and
// messages stay so a subsequent sign-in starts warm.
func (db *DB) ClearSession() error {
	_, err := db.Exec(`DELETE FROM session`)
	return err
}
