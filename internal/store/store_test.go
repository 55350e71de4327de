package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filedrop/internal/model"
	redisSvc "filedrop/internal/service/redis"
)

type fakeDB struct {
	lists map[string][]string
	kv    map[string]string
	fail  bool
}

func newFakeDB() *fakeDB {
	return &fakeDB{lists: make(map[string][]string), kv: make(map[string]string)}
}

func (f *fakeDB) RPush(_ context.Context, key string, values ...any) error {
	if f.fail {
		return errors.New("storage unavailable")
	}
	for _, v := range values {
		f.lists[key] = append(f.lists[key], fmt.Sprintf("%s", v))
	}
	return nil
}

func (f *fakeDB) LRange(_ context.Context, key string) ([]string, error) {
	if f.fail {
		return nil, errors.New("storage unavailable")
	}
	return f.lists[key], nil
}

func (f *fakeDB) ReplaceList(_ context.Context, key string, values ...any) error {
	if f.fail {
		return errors.New("storage unavailable")
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, fmt.Sprintf("%s", v))
	}
	f.lists[key] = out
	return nil
}

func (f *fakeDB) Set(_ context.Context, key string, value any, _ time.Duration) error {
	if f.fail {
		return errors.New("storage unavailable")
	}
	f.kv[key] = fmt.Sprintf("%v", value)
	return nil
}

func (f *fakeDB) Get(_ context.Context, key string) (string, error) {
	if f.fail {
		return "", errors.New("storage unavailable")
	}
	v, ok := f.kv[key]
	if !ok {
		return "", redisSvc.ErrNil
	}
	return v, nil
}

type fakePoller struct {
	msgs []model.GSOCMessage
	err  error
}

func (p *fakePoller) Poll(_ context.Context, _ model.InboxParams, _ uint64) ([]model.GSOCMessage, error) {
	return p.msgs, p.err
}

var testParams = model.InboxParams{TargetOverlay: "aa11", BaseIdentifier: "inbox-0"}

func TestAddMessageDedupByReference(t *testing.T) {
	s := New(newFakeDB(), &fakePoller{})
	ctx := context.Background()

	first := &model.Message{Reference: "r1", Filename: "a.txt", Timestamp: 1}
	require.NoError(t, s.AddMessage(ctx, "alice", model.FolderReceived, first))

	// Same reference, different content: still a no-op.
	dup := &model.Message{Reference: "r1", Filename: "other.txt", Timestamp: 2}
	require.NoError(t, s.AddMessage(ctx, "alice", model.FolderReceived, dup))

	msgs := s.Messages("alice", model.FolderReceived)
	require.Len(t, msgs, 1)
	assert.Equal(t, "a.txt", msgs[0].Filename)
}

func TestAddMessageFoldersAreIndependent(t *testing.T) {
	s := New(newFakeDB(), &fakePoller{})
	ctx := context.Background()

	msg := &model.Message{Reference: "r1"}
	require.NoError(t, s.AddMessage(ctx, "alice", model.FolderReceived, msg))
	require.NoError(t, s.AddMessage(ctx, "alice", model.FolderSent, msg))

	assert.Len(t, s.Messages("alice", model.FolderReceived), 1)
	assert.Len(t, s.Messages("alice", model.FolderSent), 1)
}

func TestSyncInboxThenDedup(t *testing.T) {
	poller := &fakePoller{msgs: []model.GSOCMessage{
		{Reference: "r1", Timestamp: 100},
		{Reference: "r2", Timestamp: 200},
	}}
	s := New(newFakeDB(), poller)
	ctx := context.Background()

	added, err := s.SyncInbox(ctx, "alice", testParams)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	msgs := s.Messages("alice", model.FolderReceived)
	require.Len(t, msgs, 2)
	assert.Equal(t, "r1", msgs[0].Reference)
	assert.Equal(t, model.PlaceholderFilename, msgs[0].Filename)
	assert.Zero(t, msgs[0].Size)
	assert.True(t, msgs[0].Encrypted)
	assert.Equal(t, uint64(200), msgs[1].Timestamp)

	// Second poll returns the same descriptors: nothing new persisted.
	added, err = s.SyncInbox(ctx, "alice", testParams)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Len(t, s.Messages("alice", model.FolderReceived), 2)

	assert.False(t, s.LastSync("alice").IsZero())
}

func TestSyncInboxSurfacesPollError(t *testing.T) {
	s := New(newFakeDB(), &fakePoller{err: errors.New("feed unreachable")})

	_, err := s.SyncInbox(context.Background(), "alice", testParams)
	assert.Error(t, err)
	assert.Empty(t, s.Messages("alice", model.FolderReceived))
}

func TestDeleteMessage(t *testing.T) {
	db := newFakeDB()
	s := New(db, &fakePoller{})
	ctx := context.Background()

	require.NoError(t, s.AddMessage(ctx, "alice", model.FolderReceived, &model.Message{Reference: "r1"}))
	require.NoError(t, s.AddMessage(ctx, "alice", model.FolderReceived, &model.Message{Reference: "r2"}))

	require.NoError(t, s.DeleteMessage(ctx, "alice", model.FolderReceived, "r1"))
	msgs := s.Messages("alice", model.FolderReceived)
	require.Len(t, msgs, 1)
	assert.Equal(t, "r2", msgs[0].Reference)

	// Absent reference is a no-op.
	require.NoError(t, s.DeleteMessage(ctx, "alice", model.FolderReceived, "r1"))
	assert.Len(t, s.Messages("alice", model.FolderReceived), 1)

	// Deleted from durable storage too, so a reload stays consistent.
	require.NoError(t, s.LoadMessages(ctx, "alice"))
	assert.Len(t, s.Messages("alice", model.FolderReceived), 1)
}

func TestUpdateMessageFillsDecryptedMetadata(t *testing.T) {
	s := New(newFakeDB(), &fakePoller{})
	ctx := context.Background()

	placeholder := model.NewPlaceholder(model.GSOCMessage{Reference: "r1", Timestamp: 100})
	require.NoError(t, s.AddMessage(ctx, "alice", model.FolderReceived, placeholder))

	require.NoError(t, s.UpdateMessage(ctx, "alice", model.FolderReceived, &model.Message{
		Reference: "r1",
		Filename:  "report.pdf",
		Size:      4096,
		Timestamp: 100,
		Encrypted: true,
	}))

	msgs := s.Messages("alice", model.FolderReceived)
	require.Len(t, msgs, 1)
	assert.Equal(t, "report.pdf", msgs[0].Filename)
	assert.EqualValues(t, 4096, msgs[0].Size)
}

func TestLoadMessagesRoundTrip(t *testing.T) {
	db := newFakeDB()
	ctx := context.Background()

	s1 := New(db, &fakePoller{})
	require.NoError(t, s1.AddMessage(ctx, "alice", model.FolderReceived, &model.Message{Reference: "r1", Filename: "a"}))
	require.NoError(t, s1.AddMessage(ctx, "alice", model.FolderSent, &model.Message{Reference: "r2", Filename: "b"}))

	// Fresh store over the same durable state.
	s2 := New(db, &fakePoller{})
	require.NoError(t, s2.LoadMessages(ctx, "alice"))
	received := s2.Messages("alice", model.FolderReceived)
	require.Len(t, received, 1)
	assert.Equal(t, "a", received[0].Filename)
	assert.Len(t, s2.Messages("alice", model.FolderSent), 1)
}

func TestLoadMessagesFailsSoft(t *testing.T) {
	db := newFakeDB()
	s := New(db, &fakePoller{})
	ctx := context.Background()

	require.NoError(t, s.AddMessage(ctx, "alice", model.FolderReceived, &model.Message{Reference: "r1"}))

	db.fail = true
	err := s.LoadMessages(ctx, "alice")
	assert.Error(t, err)

	// Prior in-memory state is untouched.
	assert.Len(t, s.Messages("alice", model.FolderReceived), 1)
}
