package memory

import (
	"context"

	"github.com/iliyamo/reservation-admin/internal/model"
	"github.com/iliyamo/reservation-admin/internal/repository"
)

// AccountStore mirrors repository.AccountRepo.
type AccountStore struct{ db *DB }

func (db *DB) Accounts() *AccountStore { return &AccountStore{db: db} }

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (model.Account, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("accounts.get"); err != nil {
		return model.Account{}, err
	}
	for _, a := range db.t.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return model.Account{}, repository.ErrNotFound
}

// GetForUpdate returns the account.  Row locking is implied by the
// serialized transactions of DB.
func (s *AccountStore) GetForUpdate(ctx context.Context, id string) (model.Account, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("accounts.get"); err != nil {
		return model.Account{}, err
	}
	a, ok := db.t.accounts[id]
	if !ok {
		return model.Account{}, repository.ErrNotFound
	}
	return a, nil
}

func (s *AccountStore) UpdateRole(ctx context.Context, id string, role model.Role) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("accounts.update_role"); err != nil {
		return err
	}
	a, ok := db.t.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Role = role
	if role != model.RoleCustomer {
		a.Club = false
	}
	db.t.accounts[id] = a
	return nil
}

func (s *AccountStore) Anonymize(ctx context.Context, id, email, note string) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("accounts.anonymize"); err != nil {
		return err
	}
	a, ok := db.t.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Role, a.Email, a.Note, a.Club = model.RoleDeleted, email, note, false
	db.t.accounts[id] = a
	return nil
}

func (s *AccountStore) EmailInUse(ctx context.Context, email, exceptID string) (bool, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("accounts.email_in_use"); err != nil {
		return false, err
	}
	for _, a := range db.t.accounts {
		if a.Email == email && a.ID != exceptID && a.Role.Live() {
			return true, nil
		}
	}
	return false, nil
}

func (s *AccountStore) InsertBan(ctx context.Context, b model.Ban) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("accounts.insert_ban"); err != nil {
		return err
	}
	if _, ok := db.t.bans[b.Email]; !ok {
		db.t.bans[b.Email] = b
	}
	return nil
}

func (s *AccountStore) DeleteBan(ctx context.Context, email string) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("accounts.delete_ban"); err != nil {
		return err
	}
	if _, ok := db.t.bans[email]; !ok {
		return repository.ErrNotFound
	}
	delete(db.t.bans, email)
	return nil
}

func (s *AccountStore) IsBanned(ctx context.Context, email string) (bool, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.t.bans[email]
	return ok, nil
}

// ItemStore mirrors repository.ItemRepo.
type ItemStore struct{ db *DB }

func (db *DB) Items() *ItemStore { return &ItemStore{db: db} }

func (s *ItemStore) GetForUpdate(ctx context.Context, id int64) (model.Item, error) {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("items.get"); err != nil {
		return model.Item{}, err
	}
	it, ok := db.t.items[id]
	if !ok {
		return model.Item{}, repository.ErrNotFound
	}
	return it, nil
}

func (s *ItemStore) SetStatus(ctx context.Context, id int64, status model.ItemStatus) error {
	db := s.db
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.failure("items.set_status"); err != nil {
		return err
	}
	it, ok := db.t.items[id]
	if !ok {
		return repository.ErrNotFound
	}
	it.Status = status
	db.t.items[id] = it
	return nil
}
