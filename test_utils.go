package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestLogger wraps AppLogger for test use with testing.T integration
type TestLogger struct {
	*AppLogger
	t *testing.T
}

// NewTestLogger creates a test logger from environment variables
func NewTestLogger(t *testing.T) *TestLogger {
	al := &AppLogger{
		outputDir:   os.Getenv("TEST_OUTPUT_DIR"),
		logRequests: os.Getenv("TEST_LOG_REQUESTS") == "1",
		logDB:       os.Getenv("TEST_LOG_DB") == "1",
		logWS:       os.Getenv("TEST_LOG_WS") == "1",
		debug:       os.Getenv("TEST_DEBUG") == "1",
	}

	// Open log files from env paths
	if al.logRequests {
		if path := os.Getenv("TEST_REQUEST_LOG"); path != "" {
			f, err := os.OpenFile(path+"_"+t.Name(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err == nil {
				al.requestLog = f
			}
		}
	}
	if al.logDB {
		if path := os.Getenv("TEST_DB_LOG"); path != "" {
			f, err := os.OpenFile(path+"_"+t.Name(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err == nil {
				al.dbLog = f
			}
		}
	}
	if al.logWS {
		if path := os.Getenv("TEST_WS_LOG"); path != "" {
			f, err := os.OpenFile(path+"_"+t.Name(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
			if err == nil {
				al.wsLog = f
			}
		}
	}

	return &TestLogger{AppLogger: al, t: t}
}

// Debug logs a debug message using testing.T.Logf
func (tl *TestLogger) Debug(format string, args ...any) {
	if !tl.debug {
		return
	}
	tl.t.Logf("[DEBUG] "+format, args...)
}

func getFreePort() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// TestContext holds test infrastructure including logger and isolated resources
type TestContext struct {
	t       *testing.T
	logger  *TestLogger
	baseURL string
	cleanup func()
	store   *EventStore
	hub     *Hub
	session *Session
	dbPath  string
}

// newTestContext spins up a full server on a free port with its own event
// store, hub, and session so tests stay isolated.
func newTestContext(t *testing.T) *TestContext {
	logger := NewTestLogger(t)

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}

	// Unique database file per test; port plus timestamp guarantees it
	dbPath := fmt.Sprintf("/tmp/avalon_test_%s_%d_%d.db",
		strings.ReplaceAll(t.Name(), "/", "_"),
		port,
		time.Now().UnixNano())

	testStore, storeErr := openEventStore(
		fmt.Sprintf("file:%s?_busy_timeout=5000&_synchronous=NORMAL&_txlock=deferred", dbPath))
	if storeErr != nil {
		t.Fatalf("Failed to open test event store: %v", storeErr)
	}

	testHub := newHub()
	go testHub.run()
	hub = testHub

	// Heuristic-only bots with a fixed seed; individual tests may swap the
	// policy on the session
	testSession := newSession(testStore, testHub, nil, newTestRand(1), 30, time.Second)
	session = testSession
	tunnel = newTunnelManager("http://localhost:0")

	logger.Debug("Event store initialized on port %d, dbPath: %s", port, dbPath)

	mux := http.NewServeMux()

	// Wrapper that sets test-specific globals, then applies the same
	// middleware chain main uses
	wrapHandler := func(pattern string, handler http.HandlerFunc) {
		wrappedHandler := func(w http.ResponseWriter, r *http.Request) {
			hub = testHub
			session = testSession
			handler(w, r)
		}

		var h http.Handler = http.HandlerFunc(wrappedHandler)
		h = compress(h)
		h = disableCaching(h)
		if logger.logRequests {
			mux.Handle(pattern, &LoggingHandler{Handler: h, Logger: logger.AppLogger})
		} else {
			mux.Handle(pattern, h)
		}
	}

	wrapHandler("POST /game/new", handleGameNew)
	wrapHandler("POST /game/start", handleGameStart)
	wrapHandler("POST /game/action", handleGameAction)
	wrapHandler("GET /game/state", handleGameState)
	wrapHandler("GET /game/events", handleGameEvents)
	wrapHandler("POST /game/reset", handleGameReset)
	wrapHandler("POST /game/players/add", handlePlayerAdd)
	wrapHandler("POST /game/players/remove", handlePlayerRemove)
	wrapHandler("POST /game/players/rename", handlePlayerRename)
	wrapHandler("POST /game/players/claim", handlePlayerClaim)
	wrapHandler("POST /game/players/ready", handlePlayerReady)
	wrapHandler("POST /game/players/reset", handlePlayerReset)
	wrapHandler("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /game/stream", handleGameStream)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go server.ListenAndServe()
	time.Sleep(20 * time.Millisecond)

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			logger.Debug("Cleaning up test server")
			server.Close()
			testHub.stop()
			testStore.Close()
			logger.Close()

			if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
				t.Logf("Warning: failed to remove test database %s: %v", dbPath, err)
			}
		})
	}

	ctx := &TestContext{
		t:       t,
		logger:  logger,
		baseURL: fmt.Sprintf("http://localhost:%d", port),
		cleanup: cleanup,
		store:   testStore,
		hub:     testHub,
		session: testSession,
		dbPath:  dbPath,
	}

	t.Cleanup(cleanup)

	return ctx
}

// startTestServer starts a test server and returns the base URL and a cleanup function.
func startTestServer(t *testing.T) (baseURL string, cleanup func()) {
	ctx := newTestContext(t)
	return ctx.baseURL, ctx.cleanup
}

// postJSON posts a JSON body and decodes the response into out (out may be
// nil). Returns the HTTP status code.
func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request for %s: %v", url, err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

// getJSON fetches a URL and decodes the response into out (out may be nil).
// Returns the HTTP status code.
func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

var testSeatNames = []string{"Alice", "Bob", "Carol", "Dave", "Eve", "Frank", "Grace", "Heidi", "Ivan", "Judy"}

func newTestRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// testPlayers builds n human seats with stable ids p1..pn.
func testPlayers(n int) []*Player {
	players := make([]*Player, n)
	for i := 0; i < n; i++ {
		players[i] = &Player{ID: fmt.Sprintf("p%d", i+1), Name: testSeatNames[i]}
	}
	return players
}

// newTestGame returns a lobby-phase game for n players.
func newTestGame(t *testing.T, n int, cfg GameConfig) *GameState {
	t.Helper()
	g, err := newGame(testPlayers(n), cfg)
	if err != nil {
		t.Fatalf("newGame: %v", err)
	}
	return g
}

// startedTestGame deals roles with a fixed seed so assignments are
// reproducible across runs.
func startedTestGame(t *testing.T, n int, seed int64, cfg GameConfig) *GameState {
	t.Helper()
	g := newTestGame(t, n, cfg)
	if err := g.start(newTestRand(seed)); err != nil {
		t.Fatalf("start: %v", err)
	}
	return g
}

// playerWithRole finds the seat holding the named role.
func playerWithRole(t *testing.T, g *GameState, role string) *Player {
	t.Helper()
	for _, p := range g.Players {
		if p.Role == role {
			return p
		}
	}
	t.Fatalf("no player with role %s", role)
	return nil
}

// mustSubmit fails the test on a rejected action.
func mustSubmit(t *testing.T, g *GameState, playerID, action string, payload ActionPayload) {
	t.Helper()
	if err := g.Submit(playerID, action, payload); err != nil {
		t.Fatalf("%s by %s: %v", action, playerID, err)
	}
}

// proposeTeam submits the current leader's proposal for the given seats.
func proposeTeam(t *testing.T, g *GameState, team []string) {
	t.Helper()
	mustSubmit(t, g, g.leader().ID, ActionProposeTeam, ActionPayload{Team: team})
}

// voteAllTeam completes the open team vote with the same ballot from every
// seat that has not voted yet.
func voteAllTeam(t *testing.T, g *GameState, approve bool) {
	t.Helper()
	for _, p := range g.Players {
		if g.Phase != PhaseTeamVote {
			return
		}
		if _, voted := g.TeamVotes[p.ID]; voted {
			continue
		}
		v := approve
		mustSubmit(t, g, p.ID, ActionVoteTeam, ActionPayload{Approve: &v})
	}
}

// submitQuest plays quest cards for the proposed team. Fail cards go to
// evil members first so the submission is always legal.
func submitQuest(t *testing.T, g *GameState, failCount int) {
	t.Helper()
	team := append([]string(nil), g.ProposedTeam...)
	failsLeft := failCount
	for _, id := range team {
		if failsLeft == 0 {
			break
		}
		p, err := g.player(id)
		if err != nil {
			t.Fatalf("quest member %s: %v", id, err)
		}
		if alignmentFor(p.Role) == AlignmentEvil {
			v := false
			mustSubmit(t, g, id, ActionQuestVote, ActionPayload{Success: &v})
			failsLeft--
		}
	}
	if failsLeft > 0 {
		t.Fatalf("wanted %d fail cards but only %d evil members on team", failCount, failCount-failsLeft)
	}
	for _, id := range team {
		if g.Phase != PhaseQuest {
			return // quest already resolved
		}
		if _, done := g.QuestVotes[id]; done {
			continue
		}
		v := true
		mustSubmit(t, g, id, ActionQuestVote, ActionPayload{Success: &v})
	}
}

// runQuest drives one full quest round: propose the team, approve it
// unanimously, and play the cards.
func runQuest(t *testing.T, g *GameState, team []string, failCount int) {
	t.Helper()
	proposeTeam(t, g, team)
	if g.Phase == PhaseTeamVote {
		voteAllTeam(t, g, true)
	}
	if g.Phase != PhaseQuest {
		t.Fatalf("expected quest phase after approval, got %s", g.Phase)
	}
	submitQuest(t, g, failCount)
}

// evilSeats returns the ids of all evil-aligned seats in seat order.
func evilSeats(g *GameState) []string {
	var ids []string
	for _, p := range g.Players {
		if alignmentFor(p.Role) == AlignmentEvil {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// goodSeats returns the ids of all good-aligned seats in seat order.
func goodSeats(g *GameState) []string {
	var ids []string
	for _, p := range g.Players {
		if alignmentFor(p.Role) == AlignmentGood {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// teamOfSize picks a legal team: the leader plus the next seats in order.
func teamOfSize(g *GameState, size int) []string {
	team := []string{g.leader().ID}
	for _, p := range g.Players {
		if len(team) == size {
			break
		}
		if p.ID != g.leader().ID {
			team = append(team, p.ID)
		}
	}
	return team
}
