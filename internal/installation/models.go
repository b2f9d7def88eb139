package installation

import "time"

// Metadata identifies one provisioned deployment of this backend.
//
// One row per installation. The shared secret signs webhook callback
// tokens; it is rotated away from the factory placeholder on first access
// and otherwise never changes.
type Metadata struct {
	ID             int64     `json:"id" db:"id"`
	InstallationID string    `json:"installation_id" db:"installation_id"`
	Name           string    `json:"name" db:"installation_name"`
	SharedSecret   string    `json:"-" db:"shared_secret"`
	Active         bool      `json:"active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultSecretPlaceholder is the factory value shipped in provisioning
// scripts. Any installation still carrying it gets a fresh secret the
// first time the authority loads it.
const DefaultSecretPlaceholder = "changeme_on_first_run"
