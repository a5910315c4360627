package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mdario971/cactus-flasher/internal/models"
	"github.com/mdario971/cactus-flasher/internal/service"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       service.Identity
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (service.Identity, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}
func (m *mockAuth) EnsureDefaultUser(username, password string) (bool, error) {
	return false, nil
}

type mockBoards struct {
	list     []models.BoardView
	view     models.BoardView
	exported []models.Board
	endpoint service.WebEndpoint
	err      error

	lastName   string
	lastCreate models.BoardCreate
	lastUpdate models.BoardUpdate
}

func (m *mockBoards) List(ctx context.Context) ([]models.BoardView, error) {
	return m.list, m.err
}
func (m *mockBoards) Get(ctx context.Context, name string) (models.BoardView, error) {
	m.lastName = name
	return m.view, m.err
}
func (m *mockBoards) Create(ctx context.Context, in models.BoardCreate) (models.BoardView, error) {
	m.lastCreate = in
	return m.view, m.err
}
func (m *mockBoards) Update(ctx context.Context, name string, u models.BoardUpdate) (models.BoardView, error) {
	m.lastName = name
	m.lastUpdate = u
	return m.view, m.err
}
func (m *mockBoards) Delete(ctx context.Context, name string) error {
	m.lastName = name
	return m.err
}
func (m *mockBoards) Export(ctx context.Context) ([]models.Board, error) {
	return m.exported, m.err
}
func (m *mockBoards) Import(ctx context.Context, boards []models.Board) ([]string, error) {
	return nil, m.err
}
func (m *mockBoards) Endpoint(ctx context.Context, name string) (service.WebEndpoint, error) {
	m.lastName = name
	return m.endpoint, m.err
}

type mockScanner struct {
	results  []service.ScanResult
	report   service.DiscoveryReport
	ping     service.ScanResult
	err      error
	lastAuto bool
	lastName string
}

func (m *mockScanner) ScanAll(ctx context.Context) ([]service.ScanResult, error) {
	return m.results, m.err
}
func (m *mockScanner) Discover(ctx context.Context, autoRegister bool) (service.DiscoveryReport, error) {
	m.lastAuto = autoRegister
	return m.report, m.err
}
func (m *mockScanner) Ping(ctx context.Context, name string) (service.ScanResult, error) {
	m.lastName = name
	return m.ping, m.err
}

type mockStatusLog struct {
	entries    []models.StatusLogEntry
	err        error
	lastFilter service.LogFilter
	lastTS     time.Time
	lastBoard  string
	cleared    int
}

func (m *mockStatusLog) Record(ctx context.Context, board string, online bool, details string) (bool, error) {
	return true, m.err
}
func (m *mockStatusLog) List(ctx context.Context, f service.LogFilter) ([]models.StatusLogEntry, error) {
	m.lastFilter = f
	return m.entries, m.err
}
func (m *mockStatusLog) DeleteEntry(ctx context.Context, ts time.Time, board string) error {
	m.lastTS = ts
	m.lastBoard = board
	return m.err
}
func (m *mockStatusLog) Clear(ctx context.Context) error {
	m.cleared++
	return m.err
}

// mockFlasher returns ops from a script on successive Status calls; the last one repeats.
type mockFlasher struct {
	started  models.FlashOperation
	startErr error
	script   []models.FlashOperation
	statusN  int
	history  []models.FlashOperation
	lastReq  service.FlashRequest
}

func (m *mockFlasher) Start(ctx context.Context, req service.FlashRequest) (models.FlashOperation, error) {
	m.lastReq = req
	return m.started, m.startErr
}
func (m *mockFlasher) Status(flashID string) (models.FlashOperation, error) {
	if len(m.script) == 0 || m.script[0].FlashID != flashID {
		return models.FlashOperation{}, models.NotFound("flash operation %q", flashID)
	}
	op := m.script[min(m.statusN, len(m.script)-1)]
	m.statusN++
	return op, nil
}
func (m *mockFlasher) History() []models.FlashOperation {
	return m.history
}

type mockBuilder struct {
	started models.BuildOperation
	err     error
	ops     map[string]models.BuildOperation
	lastReq service.BuildRequest
}

func (m *mockBuilder) Start(ctx context.Context, req service.BuildRequest) (models.BuildOperation, error) {
	m.lastReq = req
	return m.started, m.err
}
func (m *mockBuilder) Status(buildID string) (models.BuildOperation, error) {
	op, ok := m.ops[buildID]
	if !ok {
		return models.BuildOperation{}, models.NotFound("build operation %q", buildID)
	}
	return op, nil
}
func (m *mockBuilder) List() []models.BuildOperation {
	out := make([]models.BuildOperation, 0, len(m.ops))
	for _, op := range m.ops {
		out = append(out, op)
	}
	return out
}
func (m *mockBuilder) FirmwareFor(buildID string) ([]byte, error) {
	return nil, m.err
}

// ---- Shared Test Helpers ----

const testToken = "good-token"

// authed returns a Service whose token check accepts testToken.
func authed(s *service.Service) *service.Service {
	if s.Authorization == nil {
		s.Authorization = &mockAuth{parseID: service.Identity{UserID: 1, Username: "admin"}}
	}
	return s
}

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
