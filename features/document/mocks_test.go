package document_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"pagechat/features/document"
	"pagechat/features/job"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Save(ctx context.Context, d *document.Document) error {
	args := m.Called(ctx, d)
	if args.Error(0) == nil {
		d.ID = "11111111-1111-1111-1111-111111111111"
		d.Status = document.StatusPending
	}
	return args.Error(0)
}

func (m *MockRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.Document), args.Error(1)
}

func (m *MockRepo) GetForUser(ctx context.Context, id, userID string) (*document.Document, error) {
	args := m.Called(ctx, id, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.Document), args.Error(1)
}

func (m *MockRepo) ListByUser(ctx context.Context, userID string) ([]document.Document, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]document.Document), args.Error(1)
}

func (m *MockRepo) Transition(ctx context.Context, id string, from []document.Status, to document.Status, reason string) error {
	args := m.Called(ctx, id, from, to, reason)
	return args.Error(0)
}

func (m *MockRepo) Delete(ctx context.Context, id, userID string) error {
	args := m.Called(ctx, id, userID)
	return args.Error(0)
}

func (m *MockRepo) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

type MockVectors struct {
	mock.Mock
}

func (m *MockVectors) DeleteNamespace(ctx context.Context, namespace string) error {
	args := m.Called(ctx, namespace)
	return args.Error(0)
}

type MockJobs struct {
	mock.Mock
}

func (m *MockJobs) Save(ctx context.Context, j *job.Job) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

const docID = "11111111-1111-1111-1111-111111111111"

func newService() (*document.Service, *MockRepo, *MockPublisher, *MockVectors, *MockJobs) {
	repo := new(MockRepo)
	pub := new(MockPublisher)
	vec := new(MockVectors)
	jobs := new(MockJobs)
	return document.NewService(repo, pub, vec, jobs), repo, pub, vec, jobs
}
