package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"pagechat/internal/config"
)

// IntegrationSuite starts the real backing services in containers.
// Set the Skip* fields before Setup to leave a service out.
type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	Weaviate *weaviate.Client
	NSQ      *nsq.Producer

	SkipWeaviate   bool
	SkipNSQ        bool
	SkipMigrations bool

	pgHost, pgPort         string
	weaviateAddr           string
	nsqTCPAddr, nsqHTTPAdr string

	pgContainer       *postgres.PostgresContainer
	weaviateContainer testcontainers.Container
	nsqContainer      testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

// MigrationsURL points at the repository migrations directory.
func MigrationsURL() string {
	_, b, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s", filepath.Join(filepath.Dir(b), "..", "..", "migrations"))
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("pagechat_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(s.T, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)
	s.pgHost, s.pgPort = host, port.Port()

	if !s.SkipMigrations {
		m, err := migrate.New(MigrationsURL(), connStr)
		require.NoError(s.T, err)
		require.NoError(s.T, m.Up())
	}

	if !s.SkipWeaviate {
		s.startWeaviate(ctx)
	}
	if !s.SkipNSQ {
		s.startNSQ(ctx)
	}
}

func (s *IntegrationSuite) startWeaviate(ctx context.Context) {
	req := testcontainers.ContainerRequest{
		Image:        "semitechnologies/weaviate:1.33.6",
		ExposedPorts: []string{"8080/tcp", "50051/tcp"},
		Env: map[string]string{
			"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
			"DEFAULT_VECTORIZER_MODULE":               "none",
			"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
		},
		WaitingFor: wait.ForHTTP("/v1/meta").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.weaviateContainer = c

	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	port, err := c.MappedPort(ctx, "8080")
	require.NoError(s.T, err)

	s.weaviateAddr = fmt.Sprintf("%s:%s", host, port.Port())
	s.Weaviate, err = weaviate.NewClient(weaviate.Config{Host: s.weaviateAddr, Scheme: "http"})
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) startNSQ(ctx context.Context) {
	req := testcontainers.ContainerRequest{
		Image:        "nsqio/nsq:v1.3.0",
		ExposedPorts: []string{"4150/tcp", "4151/tcp"},
		Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
		WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.nsqContainer = c

	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	tcp, err := c.MappedPort(ctx, "4150")
	require.NoError(s.T, err)
	httpPort, err := c.MappedPort(ctx, "4151")
	require.NoError(s.T, err)

	s.nsqTCPAddr = fmt.Sprintf("%s:%s", host, tcp.Port())
	s.nsqHTTPAdr = fmt.Sprintf("%s:%s", host, httpPort.Port())

	s.NSQ, err = nsq.NewProducer(s.nsqTCPAddr, nsq.NewConfig())
	require.NoError(s.T, err)
}

// NSQDAddr is the nsqd TCP address consumers can connect to directly.
func (s *IntegrationSuite) NSQDAddr() string {
	return s.nsqTCPAddr
}

// GetAppConfig returns a configuration wired to the suite's containers.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	pgPort, _ := strconv.Atoi(s.pgPort)
	return &config.Config{
		DBHost:                     s.pgHost,
		DBPort:                     pgPort,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "pagechat_test",
		WeaviateHost:               s.weaviateAddr,
		WeaviateScheme:             "http",
		NSQDHost:                   s.nsqTCPAddr,
		NSQDHTTP:                   s.nsqHTTPAdr,
		MigrationPath:              MigrationsURL(),
		EnableAPI:                  true,
		IngestConcurrency:          1,
		IngestMaxAttempts:          3,
		IngestTimeoutSeconds:       60,
		EmbedConcurrency:           2,
		EmbedRatePerSecond:         10,
		ChunkSize:                  200,
		ChunkOverlap:               50,
		FetchMaxBytes:              1 << 20,
		ServerPort:                 8081,
		QueryLogPath:               filepath.Join(s.T.TempDir(), "query.log"),
		MaxUploadSizeMB:            5,
		UploadDir:                  s.T.TempDir(),
		BootstrapRetryAttempts:     5,
		BootstrapRetryDelaySeconds: 1,
	}
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.DB != nil {
		s.DB.Close()
	}
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(ctx)
	}
	if s.weaviateContainer != nil {
		s.weaviateContainer.Terminate(ctx)
	}
	if s.nsqContainer != nil {
		s.nsqContainer.Terminate(ctx)
	}
}
