package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	redisSvc "filedrop/internal/service/redis"

	"filedrop/internal/model"
	"filedrop/internal/utils/log"
)

type (
	// Persistence is the durable key-value surface the store writes
	// through. RedisService implements it; tests substitute a fake.
	Persistence interface {
		RPush(ctx context.Context, key string, values ...any) error
		LRange(ctx context.Context, key string) ([]string, error)
		ReplaceList(ctx context.Context, key string, values ...any) error
		Set(ctx context.Context, key string, value any, ttl time.Duration) error
		Get(ctx context.Context, key string) (string, error)
	}

	// Poller is the inbox scan the store drives during SyncInbox.
	Poller interface {
		Poll(ctx context.Context, params model.InboxParams, startIndex uint64) ([]model.GSOCMessage, error)
	}

	accountState struct {
		folders  map[model.Folder][]*model.Message
		refs     map[model.Folder]map[string]struct{}
		lastSync time.Time
	}

	// Store keeps per-account, per-folder ordered message lists in
	// memory, deduplicated by reference, and mirrors every mutation to
	// durable storage. Single writer per account is the caller's
	// contract; the mutex only makes the store safe inside one process.
	Store struct {
		db     Persistence
		poller Poller

		mu       sync.Mutex
		accounts map[string]*accountState
	}
)

func New(db Persistence, poller Poller) *Store {
	return &Store{
		db:       db,
		poller:   poller,
		accounts: make(map[string]*accountState),
	}
}

func newAccountState() *accountState {
	st := &accountState{
		folders: make(map[model.Folder][]*model.Message),
		refs:    make(map[model.Folder]map[string]struct{}),
	}
	for _, f := range model.Folders {
		st.folders[f] = nil
		st.refs[f] = make(map[string]struct{})
	}
	return st
}

func messagesKey(accountID string, folder model.Folder) string {
	return fmt.Sprintf("messages:%s:%s", accountID, folder)
}

func lastSyncKey(accountID string) string {
	return fmt.Sprintf("lastsync:%s", accountID)
}

// AddMessage appends a message to (accountID, folder) and persists it.
// A message with an already-present reference is a no-op; the upsert is
// idempotent by reference, not by content.
func (s *Store) AddMessage(ctx context.Context, accountID string, folder model.Folder, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.accountLocked(accountID)
	if acct.refs[folder] == nil {
		acct.refs[folder] = make(map[string]struct{})
	}
	if _, ok := acct.refs[folder][msg.Reference]; ok {
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := s.db.RPush(ctx, messagesKey(accountID, folder), data); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}

	acct.folders[folder] = append(acct.folders[folder], msg)
	acct.refs[folder][msg.Reference] = struct{}{}
	return nil
}

// DeleteMessage removes a message by reference from memory and durable
// storage. Absent reference is a no-op.
func (s *Store) DeleteMessage(ctx context.Context, accountID string, folder model.Folder, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.accountLocked(accountID)
	if _, ok := acct.refs[folder][reference]; !ok {
		return nil
	}

	remaining := make([]*model.Message, 0, len(acct.folders[folder])-1)
	for _, m := range acct.folders[folder] {
		if m.Reference != reference {
			remaining = append(remaining, m)
		}
	}
	if err := s.persistFolderLocked(ctx, accountID, folder, remaining); err != nil {
		return err
	}

	acct.folders[folder] = remaining
	delete(acct.refs[folder], reference)
	return nil
}

// UpdateMessage rewrites an existing message in place, keyed by its
// reference. Used once a payload has been decrypted and the placeholder
// metadata can be replaced. Absent reference is a no-op.
func (s *Store) UpdateMessage(ctx context.Context, accountID string, folder model.Folder, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.accountLocked(accountID)
	if _, ok := acct.refs[folder][msg.Reference]; !ok {
		return nil
	}

	updated := make([]*model.Message, len(acct.folders[folder]))
	for i, m := range acct.folders[folder] {
		if m.Reference == msg.Reference {
			updated[i] = msg
		} else {
			updated[i] = m
		}
	}
	if err := s.persistFolderLocked(ctx, accountID, folder, updated); err != nil {
		return err
	}

	acct.folders[folder] = updated
	return nil
}

// LoadMessages repopulates an account's folders from durable storage.
// On any storage error the in-memory state is left untouched.
func (s *Store) LoadMessages(ctx context.Context, accountID string) error {
	fresh := newAccountState()
	for _, folder := range model.Folders {
		vals, err := s.db.LRange(ctx, messagesKey(accountID, folder))
		if err != nil {
			return fmt.Errorf("load %s/%s: %w", accountID, folder, err)
		}
		for _, v := range vals {
			var m model.Message
			if err := json.Unmarshal([]byte(v), &m); err != nil {
				return fmt.Errorf("load %s/%s: decode message: %w", accountID, folder, err)
			}
			if _, ok := fresh.refs[folder][m.Reference]; ok {
				continue
			}
			fresh.folders[folder] = append(fresh.folders[folder], &m)
			fresh.refs[folder][m.Reference] = struct{}{}
		}
	}

	if v, err := s.db.Get(ctx, lastSyncKey(accountID)); err == nil {
		if ts, perr := time.Parse(time.RFC3339, v); perr == nil {
			fresh.lastSync = ts
		}
	} else if !errors.Is(err, redisSvc.ErrNil) {
		log.Debug("load last sync failed", zap.String("account", accountID), zap.Error(err))
	}

	s.mu.Lock()
	s.accounts[accountID] = fresh
	s.mu.Unlock()
	return nil
}

// SyncInbox polls the feed from index 0 and persists a placeholder for
// every descriptor not yet present in the received folder. Returns the
// number of new messages. Callers serialize their own SyncInbox calls
// per account.
func (s *Store) SyncInbox(ctx context.Context, accountID string, params model.InboxParams) (int, error) {
	descriptors, err := s.poller.Poll(ctx, params.Normalize(), 0)
	if err != nil {
		return 0, fmt.Errorf("sync inbox: %w", err)
	}

	added := 0
	for _, d := range descriptors {
		s.mu.Lock()
		_, seen := s.accountLocked(accountID).refs[model.FolderReceived][d.Reference]
		s.mu.Unlock()
		if seen {
			continue
		}
		if err := s.AddMessage(ctx, accountID, model.FolderReceived, model.NewPlaceholder(d)); err != nil {
			return added, err
		}
		added++
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.accountLocked(accountID).lastSync = now
	s.mu.Unlock()
	if err := s.db.Set(ctx, lastSyncKey(accountID), now.Format(time.RFC3339), 0); err != nil {
		log.Error("persist last sync failed", zap.String("account", accountID), zap.Error(err))
	}

	return added, nil
}

// Messages returns a copy of the folder's ordered list.
func (s *Store) Messages(accountID string, folder model.Folder) []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.accountLocked(accountID).folders[folder]
	out := make([]*model.Message, len(src))
	copy(out, src)
	return out
}

func (s *Store) LastSync(accountID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountLocked(accountID).lastSync
}

func (s *Store) accountLocked(accountID string) *accountState {
	acct, ok := s.accounts[accountID]
	if !ok {
		acct = newAccountState()
		s.accounts[accountID] = acct
	}
	return acct
}

func (s *Store) persistFolderLocked(ctx context.Context, accountID string, folder model.Folder, msgs []*model.Message) error {
	vals := make([]any, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		vals = append(vals, data)
	}
	if err := s.db.ReplaceList(ctx, messagesKey(accountID, folder), vals...); err != nil {
		return fmt.Errorf("persist folder: %w", err)
	}
	return nil
}
