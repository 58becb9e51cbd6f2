package postgres

import "gorm.io/gorm"

// Repositories bundles the persistence adapters sharing one database handle.
type Repositories struct {
	Credentials *CredentialRepository
	Outbox      *OutboxRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Credentials: NewCredentialRepository(db),
		Outbox:      NewOutboxRepository(db),
	}
}
