// Package handler exposes the attendance engine over HTTP.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"geoattend/internal/attendance"
	"geoattend/internal/auth"
	"geoattend/internal/export"
	"geoattend/internal/geo"
	"geoattend/internal/metrics"
	"geoattend/internal/queue"
)

const maxSubmitBody = 64 << 10

// Handler serves the /api/attendance routes.
type Handler struct {
	svc     *attendance.Service
	events  queue.Queue
	metrics *metrics.Metrics
}

// New builds a handler. events may be nil to disable publishing.
func New(svc *attendance.Service, events queue.Queue, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, events: events, metrics: m}
}

// Register mounts the routes under r. authn must set the caller identity.
func (h *Handler) Register(r gin.IRouter, authn ...gin.HandlerFunc) {
	api := r.Group("/api/attendance", authn...)

	students := api.Group("", auth.RequireRole(attendance.RoleStudent))
	students.POST("/submit", h.Submit)
	students.GET("/check-today", h.CheckToday)

	teachers := api.Group("", auth.RequireRole(attendance.RoleTeacher))
	teachers.GET("/records", h.Records)
	teachers.GET("/export", h.Export)

	api.GET("/staff", h.Staff)
}

type rawLocation struct {
	Latitude  json.RawMessage `json:"latitude"`
	Longitude json.RawMessage `json:"longitude"`
}

// decodePayload reads the submit body leniently. Fields of the wrong type are
// treated as absent so the engine decides which check fails first.
func decodePayload(body []byte) attendance.Payload {
	var fields map[string]json.RawMessage
	if json.Unmarshal(body, &fields) != nil {
		return attendance.Payload{}
	}
	return attendance.Payload{
		InTime:    stringField(fields["intime"]),
		OutTime:   stringField(fields["outtime"]),
		Topic:     stringField(fields["topic"]),
		StaffName: stringField(fields["staffName"]),
		Location:  parseLocation(fields["location"]),
	}
}

func stringField(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// parseLocation accepts only JSON numbers. Anything else yields nil.
func parseLocation(raw json.RawMessage) *geo.Point {
	var l rawLocation
	if len(raw) == 0 || json.Unmarshal(raw, &l) != nil {
		return nil
	}
	lat, ok := coordinate(l.Latitude)
	if !ok {
		return nil
	}
	lng, ok := coordinate(l.Longitude)
	if !ok {
		return nil
	}
	return &geo.Point{Latitude: lat, Longitude: lng}
}

func coordinate(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	// json.Unmarshal would accept null as 0
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

// Submit records a check-in or check-out for the calling student.
func (h *Handler) Submit(c *gin.Context) {
	who, _ := auth.IdentityFrom(c)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSubmitBody))
	if err != nil {
		body = nil
	}
	out, err := h.svc.Submit(c.Request.Context(), who, decodePayload(body))
	if err != nil {
		h.countSubmission(string(attendance.KindOf(err)))
		writeError(c, err)
		return
	}
	h.countSubmission(out.Code)
	// publish off the request path
	go h.publish(out)

	status := http.StatusOK
	if out.Code == attendance.OutcomeCreated {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"status": out.Code, "message": out.Message, "record": out.Record})
}

// CheckToday reports whether the caller has completed today's attendance.
func (h *Handler) CheckToday(c *gin.Context) {
	who, _ := auth.IdentityFrom(c)
	done, err := h.svc.HasCompletedToday(c.Request.Context(), who.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"submitted": done})
}

// Records returns one page of records for teachers.
func (h *Handler) Records(c *gin.Context) {
	who, _ := auth.IdentityFrom(c)
	size := intQuery(c, "limit")
	if size == 0 {
		size = intQuery(c, "pageSize")
	}
	page, err := h.svc.Records(c.Request.Context(), who, attendance.Query{
		Date:      c.Query("date"),
		StaffName: c.Query("staffName"),
		Page:      intQuery(c, "page"),
		PageSize:  size,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"records": page.Records,
		"pagination": gin.H{
			"page":       page.Page,
			"pageSize":   page.PageSize,
			"limit":      page.PageSize,
			"totalPages": page.TotalPages,
			"total":      page.Total,
		},
	})
}

// Export streams every matching record as an xlsx workbook.
func (h *Handler) Export(c *gin.Context) {
	who, _ := auth.IdentityFrom(c)
	rows, err := h.svc.ExportRecords(c.Request.Context(), who, attendance.Query{
		Date:      c.Query("date"),
		StaffName: c.Query("staffName"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, rows, h.svc.Location()); err != nil {
		log.Printf("export failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ExportFailed", "message": "could not build spreadsheet"})
		return
	}
	if h.metrics != nil {
		h.metrics.ExportRows(len(rows))
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.FileName+`"`)
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

// Staff lists the accepted staff names.
func (h *Handler) Staff(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"staff": h.svc.StaffNames()})
}

func (h *Handler) publish(out attendance.Outcome) {
	if h.events == nil {
		return
	}
	typ := queue.TypeCheckedIn
	if out.Code == attendance.OutcomeUpdated {
		typ = queue.TypeCompleted
	}
	msg, err := queue.NewMessage(typ, queue.Event{
		StudentID:  out.Record.StudentID,
		RecordID:   out.Record.ID,
		Day:        out.Record.Day(h.svc.Location()),
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("encode %s failed: %v", typ, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.events.Publish(ctx, msg); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}

func (h *Handler) countSubmission(outcome string) {
	if h.metrics != nil {
		h.metrics.Submission(outcome)
	}
}

func intQuery(c *gin.Context, key string) int {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
