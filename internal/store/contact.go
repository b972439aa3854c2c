package store

import (
	"fmt"
	"time"
)

// ReplaceContacts swaps the cached contact set for an owner with the
// given snapshot, in a single transaction. Snapshots arrive whole, so
// replace-all keeps the cache from accumulating removed contacts.
func (db *DB) ReplaceContacts(ownerUID string, contacts []Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM contacts WHERE owner_uid = ?`, ownerUID); err != nil {
		return fmt.Errorf("clear contacts: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		_, err := tx.Exec(`
			INSERT INTO contacts (owner_uid, contact_uid, email, display_name, photo_url, is_online, last_seen, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ownerUID, c.ContactUID, c.Email, c.DisplayName, c.PhotoURL, c.IsOnline, c.LastSeen, now)
		if err != nil {
			return fmt.Errorf("insert contact %q: %w", c.ContactUID, err)
		}
	}
	return tx.Commit()
}

// ListContacts returns the cached contacts for an owner, ordered by uid.
func (db *DB) ListContacts(ownerUID string) ([]Contact, error) {
	rows, err := db.Query(`
		SELECT owner_uid, contact_uid, email, display_name, photo_url, is_online, last_seen
		FROM contacts
		WHERE owner_uid = ?
		ORDER BY contact_uid`, ownerUID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.OwnerUID, &c.ContactUID, &c.Email, &c.DisplayName, &c.PhotoURL, &c.IsOnline, &c.LastSeen); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// ContactCount returns the number of cached contacts for an owner.
func (db *DB) ContactCount(ownerUID string) (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts WHERE owner_uid = ?`, ownerUID).Scan(&count)
	return count, err
}
