// Package directory exposes the user-directory lookup the chat core needs:
// display identities and the admin pool. The rows themselves are a read
// model owned by the wider platform.
package directory

import (
	"talentchat/db"
	"talentchat/models"
)

// SupportDisplayName подставляется вместо имени, когда участником
// переписки выступает идентификатор-сентинел пула администраторов.
const SupportDisplayName = "Support"

// Directory resolves display identities and enumerates the admin pool.
type Directory interface {
	Profile(id string) (*models.Profile, error)
	Admins() ([]models.Profile, error)
}

// SQL reads directory rows from the persistence gateway's users table.
type SQL struct {
	db      *db.DB
	support string
}

func NewSQL(database *db.DB) *SQL {
	return &SQL{db: database, support: database.SupportID()}
}

func (d *SQL) Profile(id string) (*models.Profile, error) {
	if id == d.support {
		// Сентинел не пользователь, у него фиксированная витрина.
		return &models.Profile{ID: d.support, Name: SupportDisplayName, Role: models.RoleAdmin}, nil
	}
	return d.db.GetProfile(id)
}

func (d *SQL) Admins() ([]models.Profile, error) {
	return d.db.GetAdmins()
}
