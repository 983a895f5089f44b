package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type testStreamFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialStream(t *testing.T, baseURL, playerID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/game/stream"
	if playerID != "" {
		url += "?player_id=" + playerID
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) testStreamFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame testStreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	if frame.Type != "state" {
		t.Fatalf("frame type = %q, want state", frame.Type)
	}
	return frame
}

func TestFrameForFallsBackToPublic(t *testing.T) {
	up := StateUpdate{
		PerPlayer: map[string][]byte{"p1": []byte("private")},
		Public:    []byte("public"),
	}
	if string(up.frameFor("p1")) != "private" {
		t.Errorf("seated frame = %s", up.frameFor("p1"))
	}
	if string(up.frameFor("p2")) != "public" {
		t.Errorf("unknown id frame = %s", up.frameFor("p2"))
	}
	if string(up.frameFor("")) != "public" {
		t.Errorf("anonymous frame = %s", up.frameFor(""))
	}

	var zero StateUpdate
	if zero.frameFor("p1") != nil {
		t.Error("zero update should yield no frame")
	}
}

func TestMarshalStreamState(t *testing.T) {
	if got := string(marshalStreamState(nil)); got != `{"type":"state","payload":null}` {
		t.Errorf("nil payload = %s", got)
	}

	data := marshalStreamState(map[string]string{"phase": "lobby"})
	var frame testStreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != "state" || !strings.Contains(string(frame.Payload), "lobby") {
		t.Errorf("frame = %s", data)
	}
}

func TestStreamReceivesLobbyBroadcast(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.cleanup()

	ctx.logger.Debug("=== Testing stream broadcast on game creation ===")

	conn := dialStream(t, ctx.baseURL, "")
	defer conn.Close()

	var created stateResponse
	status := postJSON(t, ctx.baseURL+"/game/new", CreateGameRequest{Players: seatRequests(5, 0)}, &created)
	if status != 200 {
		t.Fatalf("POST /game/new = %d", status)
	}

	frame := readFrame(t, conn)
	var pub PublicState
	if err := json.Unmarshal(frame.Payload, &pub); err != nil {
		t.Fatal(err)
	}
	if pub.Phase != PhaseLobby || len(pub.Players) != 5 {
		t.Errorf("streamed state = phase %s, %d players", pub.Phase, len(pub.Players))
	}
	for _, p := range pub.Players {
		if p.Role != "" {
			t.Errorf("public stream leaked role for %s", p.ID)
		}
	}
}

func TestStreamCatchUpForSeatedPlayer(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.cleanup()

	ctx.logger.Debug("=== Testing per-player catch-up frames ===")

	pub, err := ctx.session.NewGame(CreateGameRequest{Players: seatRequests(5, 0)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.session.Start(); err != nil {
		t.Fatal(err)
	}
	seatID := pub.Players[0].ID

	// A client connecting after the broadcast still gets the latest frame.
	seated := dialStream(t, ctx.baseURL, seatID)
	defer seated.Close()
	frame := readFrame(t, seated)
	var priv PrivateState
	if err := json.Unmarshal(frame.Payload, &priv); err != nil {
		t.Fatal(err)
	}
	if priv.PlayerID != seatID || priv.Role == "" {
		t.Errorf("catch-up frame for %s = %s/%s", seatID, priv.PlayerID, priv.Role)
	}

	anon := dialStream(t, ctx.baseURL, "")
	defer anon.Close()
	frame = readFrame(t, anon)
	var anonView PublicState
	if err := json.Unmarshal(frame.Payload, &anonView); err != nil {
		t.Fatal(err)
	}
	for _, p := range anonView.Players {
		if p.Role != "" {
			t.Errorf("anonymous catch-up leaked role for %s", p.ID)
		}
	}

	// A fresh mutation reaches both clients with their own views.
	if _, err := ctx.session.SubmitAction(seatID, ActionChat, ActionPayload{Message: "hello table"}); err != nil {
		t.Fatal(err)
	}
	frame = readFrame(t, seated)
	if err := json.Unmarshal(frame.Payload, &priv); err != nil {
		t.Fatal(err)
	}
	if len(priv.Chat) != 1 || priv.Chat[0].Message != "hello table" {
		t.Errorf("seated client missed chat update: %+v", priv.Chat)
	}
	frame = readFrame(t, anon)
	if err := json.Unmarshal(frame.Payload, &anonView); err != nil {
		t.Fatal(err)
	}
	if len(anonView.Chat) != 1 {
		t.Errorf("anonymous client missed chat update: %+v", anonView.Chat)
	}
}

func TestStreamDisconnectRemovesClient(t *testing.T) {
	ctx := newTestContext(t)
	defer ctx.cleanup()

	if _, err := ctx.session.NewGame(CreateGameRequest{Players: seatRequests(5, 0)}); err != nil {
		t.Fatal(err)
	}

	conn := dialStream(t, ctx.baseURL, "")
	readFrame(t, conn) // catch-up confirms registration

	ctx.hub.mu.RLock()
	connected := len(ctx.hub.clients)
	ctx.hub.mu.RUnlock()
	if connected != 1 {
		t.Fatalf("have %d clients, want 1", connected)
	}

	conn.Close()
	deadline := time.Now().Add(time.Second)
	for {
		ctx.hub.mu.RLock()
		connected = len(ctx.hub.clients)
		ctx.hub.mu.RUnlock()
		if connected == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if connected != 0 {
		t.Errorf("client not pruned after disconnect, have %d", connected)
	}
}

func TestBroadcastAfterStopReturns(t *testing.T) {
	h := newHub()
	go h.run()
	h.stop()

	done := make(chan struct{})
	go func() {
		h.BroadcastState(StateUpdate{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("BroadcastState blocked after stop")
	}
}
