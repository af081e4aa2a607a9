// Copyright 2026 The orc-core Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/open-run-control/orc-core/pkg/faults"
	"github.com/open-run-control/orc-core/pkg/process"
	"github.com/open-run-control/orc-core/pkg/watchdog"
)

// commandRequest is the body of POST /v1/command.
type commandRequest struct {
	Command string `json:"command" binding:"required"`
	// RequestID makes retries idempotent: a repeated id replays the
	// recorded outcome instead of re-executing the command.
	RequestID string `json:"requestId,omitempty"`
}

// commandResponse is the body of POST /v1/command outcomes, success and
// failure alike.
type commandResponse struct {
	State   string `json:"state,omitempty"`
	Error   string `json:"error,omitempty"`
	From    string `json:"from,omitempty"`
	Command string `json:"command,omitempty"`
}

// faultRequest is the body of POST /v1/fault.
type faultRequest struct {
	Reason   string `json:"reason" binding:"required"`
	Category string `json:"category,omitempty"`
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status   string           `json:"status"`
	Version  string           `json:"version,omitempty"`
	State    string           `json:"state"`
	Uptime   string           `json:"uptime"`
	Watchdog *watchdog.Sample `json:"watchdog,omitempty"`
}

func (s *Server) machine() *process.Machine {
	return s.cfg.Runner.Machine()
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{
		Status:  "ok",
		Version: s.cfg.Version,
		State:   s.machine().CurrentState().String(),
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
	}

	if s.cfg.Watchdog != nil {
		resp.Watchdog = s.cfg.Watchdog.LastSample()
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": s.machine().CurrentState().String()})
}

func (s *Server) handleMachine(c *gin.Context) {
	snap := s.cfg.Runner.Snapshots().Get()
	if snap == nil {
		fresh := s.machine().Snapshot()
		snap = &fresh
	}

	body, err := json.Marshal(snap)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

		return
	}

	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})

		return
	}

	cmd, ok := process.ParseCommand(req.Command)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown command %q", req.Command)})

		return
	}

	if req.RequestID != "" {
		if outcome, found := s.dedup.lookup(req.RequestID); found {
			c.JSON(outcome.Status, outcome.Body)

			return
		}
	}

	newState, err := s.cfg.Runner.Submit(c.Request.Context(), cmd)

	outcome := &commandOutcome{Status: http.StatusOK}

	var ite *process.InvalidTransitionError

	switch {
	case err == nil:
		outcome.Body = commandResponse{State: newState.String()}
	case errors.As(err, &ite):
		outcome.Status = http.StatusConflict
		outcome.Body = commandResponse{
			Error:   err.Error(),
			From:    ite.From.String(),
			Command: string(ite.Command),
		}
	default:
		// Hook failures and shutdown races. The machine's state tells the
		// client where the failure left it.
		outcome.Status = http.StatusInternalServerError
		outcome.Body = commandResponse{
			Error: err.Error(),
			State: s.machine().CurrentState().String(),
		}
	}

	if req.RequestID != "" {
		s.dedup.record(req.RequestID, outcome)
	}

	c.JSON(outcome.Status, outcome.Body)
}

func (s *Server) handleFault(c *gin.Context) {
	var req faultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})

		return
	}

	category := faults.CategoryTransient
	if req.Category != "" {
		parsed, ok := faults.ParseCategory(req.Category)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown fault category %q", req.Category)})

			return
		}
		category = parsed
	}

	reason := errors.New(req.Reason)
	switch category {
	case faults.CategoryAdvisory:
		reason = faults.NewAdvisoryFault(reason)
	case faults.CategoryPermanent:
		reason = faults.NewPermanentFault(reason)
	default:
		reason = faults.NewTransientFault(reason)
	}

	s.cfg.Runner.Fault(reason)

	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// handleEvents streams state changes as Server-Sent Events until the
// client disconnects.
func (s *Server) handleEvents(c *gin.Context) {
	if s.cfg.Notifier == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event stream not available"})

		return
	}

	id, ch := s.cfg.Notifier.Subscribe()
	defer s.cfg.Notifier.Unsubscribe(id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case change, ok := <-ch:
			if !ok {
				return false
			}

			payload, err := json.Marshal(change)
			if err != nil {
				s.log.Warnf("Encoding state change failed: %v", err)

				return false
			}

			c.SSEvent("statechange", string(payload))

			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
