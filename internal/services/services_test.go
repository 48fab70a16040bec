package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/bookloan/apiserver/internal/authz"
	"github.com/bookloan/apiserver/internal/db/dbtest"
	"github.com/bookloan/apiserver/internal/storage"
	"github.com/bookloan/apiserver/internal/store"
	"github.com/bookloan/apiserver/types"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	channel string
	data    []byte
	attrs   map[string]string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, recordedEvent{channel: channel, data: data, attrs: attrs})
	return "msg-id", nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.attrs["type"])
	}
	return out
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]storage.ObjectMeta
	gets    int
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}, meta: map[string]storage.ObjectMeta{}}
}

func (m *memoryObjects) Put(_ context.Context, key string, r io.Reader, _ int64, meta storage.ObjectMeta) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.meta[key] = meta
	return nil
}

func (m *memoryObjects) Get(_ context.Context, key string) (storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	data, ok := m.objects[key]
	if !ok {
		return storage.Object{}, errors.New("no such object")
	}
	return storage.Object{
		Body:       io.NopCloser(bytes.NewReader(data)),
		Size:       int64(len(data)),
		ObjectMeta: m.meta[key],
	}, nil
}

func (m *memoryObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.meta, key)
	return nil
}

type env struct {
	users        *UserService
	books        *BookService
	transactions *TransactionService
	stats        *StatsService
	publisher    *recordingPublisher
	objects      *memoryObjects
	admin        types.User
}

func newEnv(t *testing.T) env {
	t.Helper()
	conn := dbtest.Open(t)
	ledger := store.NewInventoryLedger(conn)

	publisher := &recordingPublisher{}
	objects := newMemoryObjects()

	users := NewUserService(store.NewUserRepository(conn))
	books := NewBookService(store.NewBookRepository(conn), objects)
	transactions := NewTransactionService(
		store.NewTransactionRepository(conn, ledger),
		users,
		books,
		ledger,
		NewEvents(publisher, "bookloan.transactions"),
	)

	admin, err := users.EnsureAdmin(context.Background(), NewUser{Username: "root", Email: "root@example.com", Password: "rootpass"})
	require.NoError(t, err)

	return env{
		users:        users,
		books:        books,
		transactions: transactions,
		stats:        NewStatsService(store.NewStatsRepository(conn)),
		publisher:    publisher,
		objects:      objects,
		admin:        admin,
	}
}

func as(u types.User) context.Context {
	return authz.WithIdentity(context.Background(), authz.FromUser(u))
}

func (e env) register(t *testing.T, username string) types.User {
	t.Helper()
	u, err := e.users.Register(context.Background(), NewUser{
		Username: username,
		Email:    username + "@example.com",
		Password: "password1",
	})
	require.NoError(t, err)
	return u
}

func (e env) book(t *testing.T, title, isbn string, quantity int) types.Book {
	t.Helper()
	b, err := e.books.Create(as(e.admin), NewBook{Title: title, Author: "Frank Herbert", ISBN: isbn, Quantity: quantity})
	require.NoError(t, err)
	return b
}

func (e env) quantity(t *testing.T, bookID int) int {
	t.Helper()
	b, err := e.books.Get(context.Background(), bookID)
	require.NoError(t, err)
	return b.Quantity
}
