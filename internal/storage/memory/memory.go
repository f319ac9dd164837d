// Package memory is an in-process Storage used by tests and by the
// "memory" storage driver for local runs without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/princekumarofficial/channel-media-service/internal/storage"
	"github.com/princekumarofficial/channel-media-service/internal/types"
	"github.com/princekumarofficial/channel-media-service/internal/types/users"
)

type Store struct {
	mu sync.RWMutex

	channels  map[int64]types.Channel
	media     map[int64]types.MediaRecord
	byMessage map[int64]int64
	users     map[int64]users.User

	nextChannel int64
	nextMedia   int64
	nextUser    int64

	now func() time.Time
}

var _ storage.Storage = (*Store)(nil)

func New() *Store {
	return &Store{
		channels:  make(map[int64]types.Channel),
		media:     make(map[int64]types.MediaRecord),
		byMessage: make(map[int64]int64),
		users:     make(map[int64]users.User),
		now:       time.Now,
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) CreateChannel(_ context.Context, username string) (types.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.channels {
		if strings.EqualFold(ch.Username, username) {
			return types.Channel{}, fmt.Errorf("channel %s: %w", username, storage.ErrAlreadyExists)
		}
	}

	s.nextChannel++
	ch := types.Channel{ID: s.nextChannel, Username: username, Active: true, CreatedAt: s.now().UTC()}
	s.channels[ch.ID] = ch
	return ch, nil
}

func (s *Store) GetChannel(_ context.Context, id int64) (types.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[id]
	if !ok {
		return types.Channel{}, storage.ErrNotFound
	}
	return ch, nil
}

func (s *Store) GetChannelByUsername(_ context.Context, username string) (types.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.channels {
		if strings.EqualFold(ch.Username, username) {
			return ch, nil
		}
	}
	return types.Channel{}, storage.ErrNotFound
}

func (s *Store) ListChannels(_ context.Context, activeOnly bool) ([]types.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []types.Channel{}
	for _, ch := range s.channels {
		if activeOnly && !ch.Active {
			continue
		}
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetChannelActive(_ context.Context, id int64, active bool) (types.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[id]
	if !ok {
		return types.Channel{}, storage.ErrNotFound
	}
	ch.Active = active
	s.channels[id] = ch
	return ch, nil
}

func (s *Store) MediaExists(_ context.Context, messageID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byMessage[messageID]
	return ok, nil
}

func (s *Store) CreateMedia(_ context.Context, nm types.NewMedia) (types.MediaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byMessage[nm.MessageID]; ok {
		return types.MediaRecord{}, fmt.Errorf("message %d: %w", nm.MessageID, storage.ErrAlreadyExists)
	}

	s.nextMedia++
	m := types.MediaRecord{
		ID:              s.nextMedia,
		MessageID:       nm.MessageID,
		ChannelUsername: nm.ChannelUsername,
		FileName:        nm.FileName,
		FileType:        nm.FileType,
		DownloadedAt:    s.now().UTC(),
	}
	s.media[m.ID] = m
	s.byMessage[m.MessageID] = m.ID
	return m, nil
}

func (s *Store) GetMedia(_ context.Context, id int64) (types.MediaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.media[id]
	if !ok {
		return types.MediaRecord{}, storage.ErrNotFound
	}
	return m, nil
}

func matches(m types.MediaRecord, f types.MediaFilter) bool {
	switch {
	case f.ApprovedOnly && !m.Approved:
		return false
	case f.PendingOnly && m.Approved:
		return false
	case f.Kind != "" && m.FileType != f.Kind:
		return false
	case f.Channel != "" && !strings.EqualFold(m.ChannelUsername, f.Channel):
		return false
	}
	return true
}

func (s *Store) ListMedia(_ context.Context, filter types.MediaFilter, page types.Page) ([]types.MediaRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []types.MediaRecord
	for _, m := range s.media {
		if matches(m, filter) {
			all = append(all, m)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].DownloadedAt.Equal(all[j].DownloadedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].DownloadedAt.After(all[j].DownloadedAt)
	})

	total := len(all)
	items := []types.MediaRecord{}
	if page.Skip < total {
		end := total
		if page.Limit > 0 && page.Skip+page.Limit < end {
			end = page.Skip + page.Limit
		}
		items = append(items, all[page.Skip:end]...)
	}
	return items, total, nil
}

func (s *Store) MarkApproved(_ context.Context, id int64, s3Key string, at time.Time) (types.MediaRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.media[id]
	if !ok {
		return types.MediaRecord{}, false, storage.ErrNotFound
	}
	if m.Approved {
		return m, false, nil
	}

	key := s3Key
	m.S3Key = &key
	m.DownloadedAt = at.UTC()
	m.Approved = true
	s.media[id] = m
	return m, true, nil
}

func (s *Store) Counts(context.Context) (types.CatalogCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c types.CatalogCounts
	c.TotalChannels = len(s.channels)
	for _, ch := range s.channels {
		if ch.Active {
			c.ActiveChannels++
		}
	}
	c.TotalMedia = len(s.media)
	for _, m := range s.media {
		if m.Approved {
			c.ApprovedMedia++
		} else {
			c.PendingMedia++
		}
	}
	return c, nil
}

func (s *Store) CreateUser(_ context.Context, username, passwordHash string, isAdmin bool) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return users.User{}, fmt.Errorf("user %s: %w", username, storage.ErrAlreadyExists)
		}
	}

	s.nextUser++
	u := users.User{
		ID:           s.nextUser,
		Username:     username,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
		CreatedAt:    s.now().UTC(),
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return users.User{}, storage.ErrNotFound
}

func (s *Store) GetUserByID(_ context.Context, id int64) (users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return users.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) ListUsers(context.Context) ([]users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]users.User, 0, len(s.users))
	for _, u := range s.users {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *Store) DeleteUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.users {
		if u.Username == username {
			delete(s.users, id)
			return nil
		}
	}
	return storage.ErrNotFound
}
