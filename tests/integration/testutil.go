//go:build integration

package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/parley-ai/parley/internal/api"
	"github.com/parley-ai/parley/internal/auth"
	"github.com/parley-ai/parley/internal/chats"
	"github.com/parley-ai/parley/internal/clock"
	"github.com/parley-ai/parley/internal/orchestrator"
	"github.com/parley-ai/parley/internal/prompt"
	"github.com/parley-ai/parley/internal/provider"
	"github.com/parley-ai/parley/internal/quota"
	"github.com/parley-ai/parley/internal/stream"
)

// echoProvider streams a canned response, so generations run without any
// upstream vendor.
type echoProvider struct{}

func (echoProvider) Name() string { return "test" }

func (echoProvider) Models() []provider.ModelInfo {
	return []provider.ModelInfo{
		{ID: "test/echo", Name: "Echo", Upstream: "echo-v1"},
		{ID: "deepseek/deepseek-chat-v3-0324:free", Name: "Guest Echo", Upstream: "echo-v1"},
	}
}

func (echoProvider) Stream(_ context.Context, _ *provider.Request) (<-chan provider.Event, error) {
	ch := make(chan provider.Event, 4)
	ch <- provider.Event{Type: provider.EventTextDelta, Text: "echo: "}
	ch <- provider.Event{Type: provider.EventTextDelta, Text: "hello"}
	ch <- provider.Event{Type: provider.EventDone, Usage: &provider.Usage{InputTokens: 3, OutputTokens: 2}}
	close(ch)
	return ch, nil
}

func (p echoProvider) Complete(ctx context.Context, req *provider.Request) (string, error) {
	return "Echo chat", nil
}

type TestEnv struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Server      *httptest.Server
	JWT         *auth.JWTManager
	Gate        *quota.Gate
	Ledger      *quota.Repository
}

var testEnv *TestEnv

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "parley_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")

	// Start Redis container
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")

	// Connect to PostgreSQL
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/parley_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	// Run migrations
	m, err := migrate.New(fmt.Sprintf("file://%s", getMigrationsPath()), dsn)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	t.Cleanup(func() { redisClient.Close() })

	// Wire the stack with the echo provider in place of real vendors.
	jwtManager := auth.NewJWTManager("test-access-secret-32-chars-long!!", 15*time.Minute)

	registry := provider.NewRegistry(echoProvider{})
	ledger := quota.NewRepository(pool)
	gate := quota.NewGate(ledger, quota.DefaultResetPolicy)

	chatRepo := chats.NewPostgresRepository(pool)
	chatSvc := chats.NewService(chatRepo, echoProvider{}, "echo-v1")
	chatHandler := chats.NewHandler(chatSvc)

	transport := stream.NewRedisTransport(redisClient, time.Minute)
	coordinator := stream.NewCoordinator(stream.NewPostgresHandleRepo(pool), transport, chatRepo, 15*time.Second)

	orch := orchestrator.New(orchestrator.Config{
		Gate:         gate,
		Chats:        chatSvc,
		Assembler:    &prompt.Assembler{TokenBudget: 4000},
		Registry:     registry,
		Coordinator:  coordinator,
		Clock:        clock.Real(),
		SystemPrompt: "You are a helpful assistant.",
	})
	orchHandler := orchestrator.NewHandler(orch)

	router := api.NewRouter(pool, nil, api.RouterConfig{}, api.HandlerSet{
		CreateChat:          chatHandler.Create,
		ListChats:           chatHandler.List,
		GetChat:             chatHandler.Get,
		UpdateChat:          chatHandler.Update,
		DeleteChat:          chatHandler.Delete,
		ListMessages:        chatHandler.Messages,
		OwnershipMiddleware: chatHandler.OwnershipMiddleware,

		SendMessage:  orchHandler.SendMessage,
		ResumeStream: orchHandler.ResumeStream,
		QuotaStatus:  orchHandler.QuotaStatus,
		ListModels:   orchHandler.Models,

		AuthMiddleware: auth.Middleware(jwtManager),
	})

	server := httptest.NewServer(router)
	t.Cleanup(func() { server.Close() })

	testEnv = &TestEnv{
		Pool:        pool,
		RedisClient: redisClient,
		Server:      server,
		JWT:         jwtManager,
		Gate:        gate,
		Ledger:      ledger,
	}
	return testEnv
}

func getMigrationsPath() string {
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

// Helper functions

func TokenFor(t *testing.T, env *TestEnv, userID uuid.UUID, plan string) string {
	t.Helper()
	token, err := env.JWT.GenerateAccessToken(userID.String(), plan)
	if err != nil {
		t.Fatalf("minting token: %v", err)
	}
	return token
}

func DoRequest(t *testing.T, env *TestEnv, method, path string, body any, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, env.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result
}

func CreateChat(t *testing.T, env *TestEnv, token, title string) string {
	t.Helper()
	resp := DoRequest(t, env, "POST", "/api/v1/chats", map[string]string{"title": title}, token)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("creating chat: status %d", resp.StatusCode)
	}
	result := ParseResponse(t, resp)
	data := result["data"].(map[string]any)
	return data["id"].(string)
}

type SSEEvent struct {
	Event string
	Data  string
}

// ReadSSE parses a text/event-stream body until EOF or a terminal event.
func ReadSSE(t *testing.T, body io.Reader) []SSEEvent {
	t.Helper()
	var events []SSEEvent
	var cur SSEEvent
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.Event != "" || cur.Data != "" {
				events = append(events, cur)
				if cur.Event == "done" || cur.Event == "error" {
					return events
				}
				cur = SSEEvent{}
			}
		}
	}
	return events
}
