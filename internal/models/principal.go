package models

import "time"

// Principal is an account known to the core: the owner of collections and
// events and the actor on a session.
type Principal struct {
	ID           string    `db:"id" json:"id"`
	Href         string    `db:"href" json:"href"`
	Email        string    `db:"email" json:"email"`
	DisplayName  string    `db:"display_name" json:"display_name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Admin        bool      `db:"admin" json:"admin"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Preference holds per-principal calendar settings. Collection paths stored
// here are scrubbed when the referenced collection is deleted.
type Preference struct {
	PrincipalHref       string    `db:"principal_href" json:"principal_href"`
	DefaultCalendarPath *string   `db:"default_calendar_path" json:"default_calendar_path,omitempty"`
	Timezone            string    `db:"timezone" json:"timezone"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}
