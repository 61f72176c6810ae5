package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"studyroom/internal/attendance"
	"studyroom/internal/layout"
	"studyroom/internal/metrics"
)

// registerStaffRoutes wires the authenticated admin surface.
func registerStaffRoutes(g *gin.RouterGroup, eng engine) {
	// Layouts
	g.POST("/layouts", func(c *gin.Context) {
		var req layout.SeatLayout
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
			return
		}
		created, err := eng.layouts.Create(c.Request.Context(), req)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, created)
	})

	g.GET("/layouts", func(c *gin.Context) {
		layouts, err := eng.layouts.List(c.Request.Context())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"layouts": layouts})
	})

	g.GET("/layouts/:id", func(c *gin.Context) {
		l, err := eng.layouts.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, l)
	})

	// Assignments
	g.POST("/assignments", func(c *gin.Context) {
		var req struct {
			SeatID    string `json:"seat_id" binding:"required"`
			StudentID string `json:"student_id" binding:"required"`
			LayoutID  string `json:"layout_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		a, err := eng.assignments.Assign(c.Request.Context(), req.SeatID, req.StudentID, req.LayoutID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, a)
	})

	g.DELETE("/assignments/:id", func(c *gin.Context) {
		if err := eng.assignments.Unassign(c.Request.Context(), c.Param("id")); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.GET("/layouts/:id/assignments", func(c *gin.Context) {
		ctx := c.Request.Context()
		active, err := eng.assignments.ActiveForLayout(ctx, c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		ids := make([]string, 0, len(active))
		for _, a := range active {
			ids = append(ids, a.StudentID)
		}
		names := eng.roster.LookupMany(ctx, ids)
		type enriched struct {
			ID          string `json:"id"`
			SeatID      string `json:"seat_id"`
			StudentID   string `json:"student_id"`
			StudentName string `json:"student_name,omitempty"`
			LayoutID    string `json:"layout_id"`
			AssignedAt  string `json:"assigned_at"`
		}
		out := make([]enriched, 0, len(active))
		for _, a := range active {
			e := enriched{
				ID:         a.ID,
				SeatID:     a.SeatID,
				StudentID:  a.StudentID,
				LayoutID:   a.LayoutID,
				AssignedAt: a.AssignedAt.Format(time.RFC3339),
			}
			if s, ok := names[a.StudentID]; ok {
				e.StudentName = s.Name
			}
			out = append(out, e)
		}
		c.JSON(http.StatusOK, gin.H{"assignments": out})
	})

	// Attendance (manual transitions by staff)
	g.POST("/attendance/checkin", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			LayoutID  string `json:"layout_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := eng.records.CheckIn(c.Request.Context(), req.StudentID, req.LayoutID, attendance.MethodManual, time.Now().UTC())
		if err != nil {
			respondErr(c, err)
			return
		}
		metrics.CheckIns.WithLabelValues(attendance.MethodManual).Inc()
		c.JSON(http.StatusOK, rec)
	})

	g.POST("/attendance/checkout", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			LayoutID  string `json:"layout_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := eng.records.CheckOut(c.Request.Context(), req.StudentID, req.LayoutID, attendance.MethodManual, time.Now().UTC())
		if err != nil {
			respondErr(c, err)
			return
		}
		metrics.CheckOuts.WithLabelValues(attendance.MethodManual).Inc()
		c.JSON(http.StatusOK, rec)
	})

	g.POST("/attendance/absent", func(c *gin.Context) {
		var req struct {
			StudentID string `json:"student_id" binding:"required"`
			LayoutID  string `json:"layout_id" binding:"required"`
			Status    string `json:"status" binding:"required"`
			Reason    string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var status string
		switch req.Status {
		case "excused":
			status = attendance.StatusAbsentExcused
		case "unexcused":
			status = attendance.StatusAbsentUnexcused
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be excused or unexcused"})
			return
		}
		rec, err := eng.records.MarkAbsent(c.Request.Context(), req.StudentID, req.LayoutID, status, req.Reason, time.Now().UTC())
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	g.GET("/layouts/:id/attendance", func(c *gin.Context) {
		recs, err := eng.records.ListDay(c.Request.Context(), c.Param("id"), dayParam(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recs})
	})

	g.GET("/layouts/:id/stats", func(c *gin.Context) {
		sum, err := eng.stats.Compute(c.Request.Context(), c.Param("id"), dayParam(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, sum)
	})

	// PIN lifecycle
	g.POST("/students/:id/pin", func(c *gin.Context) {
		pin, err := eng.pins.Generate(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		// The plaintext appears in this response and nowhere else.
		c.JSON(http.StatusCreated, gin.H{"pin": pin})
	})

	g.GET("/students/:id/pin", func(c *gin.Context) {
		cred, err := eng.pins.Status(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, cred)
	})

	g.PUT("/students/:id/pin", func(c *gin.Context) {
		var req struct {
			NewPIN string `json:"new_pin" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := eng.pins.Change(c.Request.Context(), c.Param("id"), req.NewPIN); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.POST("/students/:id/pin/unlock", func(c *gin.Context) {
		var req struct {
			CurrentPIN string `json:"current_pin" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := eng.pins.Unlock(c.Request.Context(), c.Param("id"), req.CurrentPIN); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	// Check links
	g.POST("/links", func(c *gin.Context) {
		var req struct {
			LayoutID    string     `json:"layout_id" binding:"required"`
			Title       string     `json:"title" binding:"required"`
			Description string     `json:"description"`
			ExpiresAt   *time.Time `json:"expires_at"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		link, err := eng.links.Create(c.Request.Context(), req.LayoutID, req.Title, req.Description, req.ExpiresAt)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, link)
	})

	g.GET("/layouts/:id/links", func(c *gin.Context) {
		links, err := eng.links.List(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"links": links})
	})

	g.POST("/links/:token/toggle", func(c *gin.Context) {
		var req struct {
			IsActive *bool `json:"is_active" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := eng.links.Toggle(c.Request.Context(), c.Param("token"), *req.IsActive); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	g.DELETE("/links/:token", func(c *gin.Context) {
		if err := eng.links.Delete(c.Request.Context(), c.Param("token")); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

// dayParam reads the date query, defaulting to today (UTC).
func dayParam(c *gin.Context) string {
	if d := c.Query("date"); d != "" {
		return d
	}
	return time.Now().UTC().Format("2006-01-02")
}
