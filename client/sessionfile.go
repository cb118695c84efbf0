package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"village/auth"
	"village/model"
)

// savedSession is the on-disk form of a signed-in session. Server pins it
// to the deployment that issued the token.
type savedSession struct {
	Server      string    `yaml:"server"`
	Token       string    `yaml:"token"`
	ExpiresAt   time.Time `yaml:"expires_at"`
	UserID      string    `yaml:"user_id"`
	Email       string    `yaml:"email,omitempty"`
	DisplayName string    `yaml:"display_name"`
}

func saveSession(path, server string, c auth.Credentials) error {
	data, err := yaml.Marshal(savedSession{
		Server:      server,
		Token:       c.Token,
		ExpiresAt:   c.ExpiresAt,
		UserID:      c.User.ID,
		Email:       c.User.Email,
		DisplayName: c.User.DisplayName,
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	// write atomically via temp file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename session: %w", err)
	}
	return nil
}

// loadSession returns the saved credentials for server. ok is false when
// there is no file, it belongs to another server, or the token has expired.
func loadSession(path, server string, now time.Time) (c auth.Credentials, ok bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return auth.Credentials{}, false, nil
	}
	if err != nil {
		return auth.Credentials{}, false, fmt.Errorf("read session: %w", err)
	}
	var s savedSession
	if err := yaml.Unmarshal(data, &s); err != nil {
		return auth.Credentials{}, false, fmt.Errorf("parse session: %w", err)
	}
	if s.Token == "" || s.Server != server {
		return auth.Credentials{}, false, nil
	}
	if !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt) {
		return auth.Credentials{}, false, nil
	}
	return auth.Credentials{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		User:      model.User{ID: s.UserID, Email: s.Email, DisplayName: s.DisplayName},
	}, true, nil
}

func removeSession(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}
