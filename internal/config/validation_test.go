package config_test

import (
	"errors"
	"testing"

	"pagechat/internal/config"

	"github.com/stretchr/testify/assert"
)

func validConfig() config.Config {
	return config.Config{
		DBHost:            "localhost",
		DBUser:            "user",
		DBName:            "db",
		ChunkSize:         200,
		ChunkOverlap:      50,
		IngestMaxAttempts: 3,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
		errIs   error
	}{
		{
			name:    "Valid Config",
			mutate:  func(c *config.Config) {},
			wantErr: false,
		},
		{
			name:    "Missing DBHost",
			mutate:  func(c *config.Config) { c.DBHost = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Missing DBUser",
			mutate:  func(c *config.Config) { c.DBUser = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Missing DBName",
			mutate:  func(c *config.Config) { c.DBName = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Zero Chunk Size",
			mutate:  func(c *config.Config) { c.ChunkSize = 0 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Overlap Equal To Size",
			mutate:  func(c *config.Config) { c.ChunkOverlap = 200 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Zero Attempts",
			mutate:  func(c *config.Config) { c.IngestMaxAttempts = 0 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errIs != nil {
					assert.True(t, errors.Is(err, tt.errIs))
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
