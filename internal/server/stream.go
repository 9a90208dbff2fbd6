package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/limiquantix/planner/internal/plan"
	"github.com/limiquantix/planner/internal/scheduler"
)

const streamWriteWait = 10 * time.Second

// streamMessage is one frame of the solve stream.
type streamMessage struct {
	Type     string                        `json:"type"`
	Index    int                           `json:"index,omitempty"`
	PlanID   string                        `json:"plan_id,omitempty"`
	Actions  []plan.Action                 `json:"actions,omitempty"`
	Duration int                           `json:"duration,omitempty"`
	Solution *scheduler.SolutionStatistics `json:"solution,omitempty"`
	Stats    *scheduler.SolvingStatistics  `json:"stats,omitempty"`
	Solved   bool                          `json:"solved,omitempty"`
	Error    string                        `json:"error,omitempty"`
}

// streamSolve upgrades to a websocket, reads one plan request and streams
// every solution the search finds, then the final result. Plans computed here
// are not stored. Closing the socket stops the search.
func (s *Server) streamSolve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade solve stream", zap.Error(err))
		return
	}
	defer conn.Close()

	var req planRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.sendStream(conn, streamMessage{Type: "error", Error: "failed to read request: " + err.Error()})
		return
	}
	inst, params, err := s.decode(req)
	if err != nil {
		s.sendStream(conn, streamMessage{Type: "error", Error: err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		// Any frame or a close from the client ends the search.
		_, _, _ = conn.ReadMessage()
		cancel()
	}()

	index := 0
	params.OnSolution = func(sol scheduler.Solution) {
		index++
		stats := sol.Stats
		s.sendStream(conn, streamMessage{
			Type:     "solution",
			Index:    index,
			PlanID:   sol.Plan.ID,
			Actions:  sol.Plan.Actions(),
			Duration: sol.Plan.Duration(),
			Solution: &stats,
		})
	}

	res, err := scheduler.NewScheduler(params, s.logger).Solve(ctx, *inst)
	if err != nil {
		s.sendStream(conn, streamMessage{Type: "error", Error: err.Error()})
		return
	}
	final := streamMessage{Type: "result", Solved: res.Solved(), Stats: &res.Stats}
	if res.Solved() {
		final.PlanID = res.Plan.ID
		final.Actions = res.Plan.Actions()
		final.Duration = res.Plan.Duration()
	}
	s.sendStream(conn, final)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(streamWriteWait))
}

func (s *Server) sendStream(conn *websocket.Conn, msg streamMessage) {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debug("Failed to write solve stream", zap.Error(err))
	}
}
