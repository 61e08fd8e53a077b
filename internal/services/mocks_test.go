package services

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockDirectoryProvider is a mock ContactDirectoryProvider
type MockDirectoryProvider struct {
	mock.Mock
}

func (m *MockDirectoryProvider) DirectoryDefaults(ctx context.Context, conversationID string, channel Channel) ([]RecipientCandidate, error) {
	args := m.Called(ctx, conversationID, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]RecipientCandidate), args.Error(1)
}

// MockSearchProvider is a mock RecipientSearchProvider
type MockSearchProvider struct {
	mock.Mock
}

func (m *MockSearchProvider) SearchRecipients(ctx context.Context, query string, channel Channel) ([]RecipientCandidate, error) {
	args := m.Called(ctx, query, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]RecipientCandidate), args.Error(1)
}

// MockSubmissionService is a mock MessageSubmissionService
type MockSubmissionService struct {
	mock.Mock
}

func (m *MockSubmissionService) SubmitMessage(ctx context.Context, payload SubmitPayload) (*SubmitResponse, error) {
	args := m.Called(ctx, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SubmitResponse), args.Error(1)
}

// MockDeleteService is a mock DeleteService
type MockDeleteService struct {
	mock.Mock
}

func (m *MockDeleteService) RequestDelete(ctx context.Context, targetID string) (*DeleteInitResponse, error) {
	args := m.Called(ctx, targetID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DeleteInitResponse), args.Error(1)
}

func (m *MockDeleteService) ConfirmDelete(ctx context.Context, requestID, otpCode string) (*DeleteConfirmResponse, error) {
	args := m.Called(ctx, requestID, otpCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DeleteConfirmResponse), args.Error(1)
}

// MockDirectoryCache is a mock DirectoryCache
type MockDirectoryCache struct {
	mock.Mock
}

func (m *MockDirectoryCache) SaveDirectory(ctx context.Context, conversationID, channel string, candidates []byte, updatedAt int64) error {
	args := m.Called(ctx, conversationID, channel, candidates, updatedAt)
	return args.Error(0)
}

func (m *MockDirectoryCache) LoadDirectory(ctx context.Context, conversationID, channel string) ([]byte, int64, bool, error) {
	args := m.Called(ctx, conversationID, channel)
	data, _ := args.Get(0).([]byte)
	return data, args.Get(1).(int64), args.Bool(2), args.Error(3)
}

// recordingLedger keeps every saved transition in order
type recordingLedger struct {
	mu      sync.Mutex
	records []DeleteRequest
}

func (l *recordingLedger) SaveDeleteRequest(_ context.Context, req DeleteRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, req)
	return nil
}

func (l *recordingLedger) statuses() []DeleteStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]DeleteStatus, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r.Status)
	}
	return out
}

// gatedSearch holds each search until its query is released, so tests choose the
// order in which responses arrive.
type gatedSearch struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	results map[string][]RecipientCandidate
	calls   []string
}

func newGatedSearch() *gatedSearch {
	return &gatedSearch{
		gates:   make(map[string]chan struct{}),
		results: make(map[string][]RecipientCandidate),
	}
}

func (g *gatedSearch) gate(query string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[query]
	if !ok {
		ch = make(chan struct{})
		g.gates[query] = ch
	}
	return ch
}

func (g *gatedSearch) respond(query string, results ...RecipientCandidate) {
	g.mu.Lock()
	g.results[query] = results
	g.mu.Unlock()
	close(g.gate(query))
}

func (g *gatedSearch) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *gatedSearch) SearchRecipients(ctx context.Context, query string, _ Channel) ([]RecipientCandidate, error) {
	g.mu.Lock()
	g.calls = append(g.calls, query)
	g.mu.Unlock()

	// Results are delivered even after cancellation so late arrivals can be observed.
	<-g.gate(query)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.results[query], nil
}

// blockingSubmitter holds SubmitMessage until release is closed
type blockingSubmitter struct {
	started chan struct{}
	release chan struct{}
	resp    *SubmitResponse
}

func (b *blockingSubmitter) SubmitMessage(_ context.Context, _ SubmitPayload) (*SubmitResponse, error) {
	close(b.started)
	<-b.release
	return b.resp, nil
}
