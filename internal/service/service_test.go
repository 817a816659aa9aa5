package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tempmail/inbox/internal/config"
	"tempmail/inbox/internal/storage/memory"
)

// MockBlobStore 模拟附件对象存储
type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	args := m.Called(ctx, locator)
	if rc := args.Get(0); rc != nil {
		return rc.(io.ReadCloser), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBlobStore) DeleteAll(ctx context.Context, locators []string) (int, error) {
	args := m.Called(ctx, locators)
	return args.Int(0), args.Error(1)
}

// testClock 可手动推进的时钟
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store     *memory.Store
	domains   *DomainService
	addresses *AddressService
	messages  *MessageService
	blobs     *MockBlobStore
	clock     *testClock
}

func newFixture(t *testing.T, domainNames ...string) *fixture {
	t.Helper()
	store := memory.NewStore()
	blobs := &MockBlobStore{}
	clock := newTestClock()

	domains := NewDomainService(store, nil)
	domains.now = clock.Now
	require.NoError(t, domains.Seed(context.Background(), domainNames))

	addresses := NewAddressService(store, domains, blobs, config.MailboxConfig{
		AllowedDomains:    domainNames,
		DefaultTTLMinutes: 60,
		LocalPartLength:   8,
	}, nil)
	addresses.SetClock(clock.Now)

	return &fixture{
		store:     store,
		domains:   domains,
		addresses: addresses,
		messages:  NewMessageService(store, store, blobs, nil),
		blobs:     blobs,
		clock:     clock,
	}
}
