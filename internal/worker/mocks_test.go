package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"pagechat/features/job"
)

type MockIngester struct{ mock.Mock }

func (m *MockIngester) Run(ctx context.Context, documentID string, lastAttempt bool) error {
	return m.Called(ctx, documentID, lastAttempt).Error(0)
}

func (m *MockIngester) Fail(ctx context.Context, documentID, reason string) error {
	return m.Called(ctx, documentID, reason).Error(0)
}

type MockJobRepo struct{ mock.Mock }

func (m *MockJobRepo) Save(ctx context.Context, j *job.Job) error {
	return m.Called(ctx, j).Error(0)
}
