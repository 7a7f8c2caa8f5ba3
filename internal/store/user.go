package store

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/pavelanni/mathbench/internal/model"
)

// CreateViewer inserts an account allowed to browse results.
func (s *Store) CreateViewer(v model.Viewer) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO viewers (username, password_hash, created_at) VALUES (?, ?, ?)`,
		v.Username, v.PasswordHash, time.Now(),
	)
	if err != nil {
		slog.Error("failed to create viewer", "username", v.Username, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	slog.Info("created viewer", "id", id, "username", v.Username)
	return id, nil
}

// GetViewer returns a viewer by username, or nil if none exists.
func (s *Store) GetViewer(username string) (*model.Viewer, error) {
	var v model.Viewer
	err := s.db.QueryRow(
		`SELECT id, username, password_hash, created_at FROM viewers WHERE username = ?`, username,
	).Scan(&v.ID, &v.Username, &v.PasswordHash, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// UpdateViewerPassword replaces a viewer's password hash.
func (s *Store) UpdateViewerPassword(username, hash string) error {
	_, err := s.db.Exec(`UPDATE viewers SET password_hash = ? WHERE username = ?`, hash, username)
	return err
}

// ViewerCount returns the total number of viewers.
func (s *Store) ViewerCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM viewers`).Scan(&count)
	return count, err
}
