package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/reflow-controller/internal/logic"
	"github.com/sweeney/reflow-controller/internal/oven"
	"github.com/sweeney/reflow-controller/internal/store"
)

// Response is the envelope for API replies.
type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
	Err  string `json:"err,omitempty"`
}

// StageJSON is one profile stage.
type StageJSON struct {
	TempC      *float64 `json:"temp_c" binding:"required"`
	DurationMs *int64   `json:"duration_ms" binding:"required"`
}

// ProfileJSON is the wire form of a profile. The name comes from the URL on
// writes.
type ProfileJSON struct {
	Name     string    `json:"name"`
	Preheat  StageJSON `json:"preheat" binding:"required"`
	Soak     StageJSON `json:"soak" binding:"required"`
	Reflow   StageJSON `json:"reflow" binding:"required"`
	Cooldown StageJSON `json:"cooldown" binding:"required"`
	Active   bool      `json:"active"`
}

// TuningsJSON is the wire form of the PID gains.
type TuningsJSON struct {
	Kp *float64 `json:"kp" binding:"required"`
	Ki *float64 `json:"ki" binding:"required"`
	Kd *float64 `json:"kd" binding:"required"`
}

func stageJSON(temp float64, d time.Duration) StageJSON {
	ms := d.Milliseconds()
	return StageJSON{TempC: &temp, DurationMs: &ms}
}

func (st StageJSON) values() (float64, time.Duration) {
	return *st.TempC, logic.DurationMs(*st.DurationMs)
}

func toProfileJSON(p logic.Profile, active bool) ProfileJSON {
	return ProfileJSON{
		Name:     p.Name,
		Preheat:  stageJSON(p.PreheatTemp, p.PreheatDuration),
		Soak:     stageJSON(p.SoakTemp, p.SoakDuration),
		Reflow:   stageJSON(p.ReflowTemp, p.ReflowDuration),
		Cooldown: stageJSON(p.CooldownTemp, p.CooldownDuration),
		Active:   active,
	}
}

func (pj ProfileJSON) profile(name string) logic.Profile {
	p := logic.Profile{Name: name}
	p.PreheatTemp, p.PreheatDuration = pj.Preheat.values()
	p.SoakTemp, p.SoakDuration = pj.Soak.values()
	p.ReflowTemp, p.ReflowDuration = pj.Reflow.values()
	p.CooldownTemp, p.CooldownDuration = pj.Cooldown.values()
	return p
}

// fail maps domain errors onto HTTP status codes.
func (s *Server) fail(c *gin.Context, msg string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, oven.ErrRunActive), errors.Is(err, store.ErrProfileActive):
		code = http.StatusConflict
	case errors.Is(err, logic.ErrInvalidProfile), errors.Is(err, oven.ErrInvalidTunings):
		code = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	if code >= http.StatusInternalServerError {
		s.logger.Errorf("%s: %v", msg, err)
	}
	c.JSON(code, Response{Code: code, Msg: msg, Err: err.Error()})
}

func (s *Server) ok(c *gin.Context, msg string, data any) {
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Msg: msg, Data: data})
}

func (s *Server) commandContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), commandTimeout)
}

func (s *Server) handleStart(c *gin.Context) {
	ctx, cancel := s.commandContext(c)
	defer cancel()
	if err := s.cmd.Start(ctx); err != nil {
		s.fail(c, "start rejected", err)
		return
	}
	s.ok(c, "started", nil)
}

func (s *Server) handleStop(c *gin.Context) {
	ctx, cancel := s.commandContext(c)
	defer cancel()
	if err := s.cmd.Stop(ctx); err != nil {
		s.fail(c, "stop failed", err)
		return
	}
	s.ok(c, "stopped", nil)
}

func (s *Server) activeName() string {
	p, err := s.store.ActiveProfile()
	if err != nil {
		return ""
	}
	return p.Name
}

func (s *Server) handleListProfiles(c *gin.Context) {
	profiles, err := s.store.Profiles()
	if err != nil {
		s.fail(c, "list profiles", err)
		return
	}
	active := s.activeName()
	out := make([]ProfileJSON, len(profiles))
	for i, p := range profiles {
		out[i] = toProfileJSON(p, p.Name == active)
	}
	s.ok(c, "profiles", out)
}

func (s *Server) handleGetProfile(c *gin.Context) {
	p, err := s.store.Profile(c.Param("name"))
	if err != nil {
		s.fail(c, "get profile", err)
		return
	}
	s.ok(c, "profile", toProfileJSON(p, p.Name == s.activeName()))
}

func (s *Server) handlePutProfile(c *gin.Context) {
	var req ProfileJSON
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Code: http.StatusBadRequest, Msg: "invalid request", Err: err.Error()})
		return
	}
	p := req.profile(c.Param("name"))
	if err := p.Validate(); err != nil {
		s.fail(c, "invalid profile", err)
		return
	}

	active := p.Name == s.activeName()
	if active {
		// The oven must accept it first: edits to the active profile are
		// refused mid-run.
		ctx, cancel := s.commandContext(c)
		defer cancel()
		if err := s.cmd.SetProfile(ctx, p); err != nil {
			s.fail(c, "update active profile", err)
			return
		}
	}
	if err := s.store.SaveProfile(p); err != nil {
		s.fail(c, "save profile", err)
		return
	}
	s.ok(c, "saved", toProfileJSON(p, active))
}

func (s *Server) handleDeleteProfile(c *gin.Context) {
	if err := s.store.DeleteProfile(c.Param("name")); err != nil {
		s.fail(c, "delete profile", err)
		return
	}
	s.ok(c, "deleted", nil)
}

func (s *Server) handleActivateProfile(c *gin.Context) {
	p, err := s.store.Profile(c.Param("name"))
	if err != nil {
		s.fail(c, "activate profile", err)
		return
	}

	ctx, cancel := s.commandContext(c)
	defer cancel()
	if err := s.cmd.SetProfile(ctx, p); err != nil {
		s.fail(c, "activate profile", err)
		return
	}
	if err := s.store.SetActiveProfile(p.Name); err != nil {
		s.logger.Errorf("persist active profile %q: %v", p.Name, err)
	}
	s.ok(c, "activated", toProfileJSON(p, true))
}

func (s *Server) handleGetTunings(c *gin.Context) {
	t := s.tracker.Snapshot().Oven.Tunings
	s.ok(c, "tunings", TuningsJSON{Kp: &t.Kp, Ki: &t.Ki, Kd: &t.Kd})
}

func (s *Server) handlePutTunings(c *gin.Context) {
	var req TuningsJSON
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Code: http.StatusBadRequest, Msg: "invalid request", Err: err.Error()})
		return
	}
	t := logic.Tunings{Kp: *req.Kp, Ki: *req.Ki, Kd: *req.Kd}

	ctx, cancel := s.commandContext(c)
	defer cancel()
	if err := s.cmd.SetTunings(ctx, t); err != nil {
		s.fail(c, "set tunings", err)
		return
	}
	if err := s.store.SaveTunings(t); err != nil {
		s.logger.Errorf("persist tunings: %v", err)
	}
	s.ok(c, "saved", req)
}
