package main

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"

	"crashwatch/internal/database"
	"crashwatch/internal/registry"
	"crashwatch/internal/ws"
)

// streamSummary is the discovery listing entry.
type streamSummary struct {
	ID          string `json:"id"`
	Location    string `json:"location"`
	Status      string `json:"status"`
	Subscribers int    `json:"subscribers"`
}

// streamDetail is the point-in-time merged snapshot of one stream.
type streamDetail struct {
	ID          string           `json:"id"`
	Location    string           `json:"location"`
	Status      string           `json:"status"`
	Subscribers int              `json:"subscribers"`
	Detection   *detectionDetail `json:"detection"`
	FrameAt     *time.Time       `json:"frame_captured_at"`

	FramesCaptured  uint64 `json:"frames_captured"`
	SamplesDropped  uint64 `json:"samples_dropped"`
	Classifications uint64 `json:"classifications"`
	Accidents       uint64 `json:"accidents"`
}

type detectionDetail struct {
	Status       string    `json:"status"`
	Result       string    `json:"result"`
	Description  string    `json:"description"`
	Timestamp    time.Time `json:"timestamp"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

type accidentDetail struct {
	ID          string    `json:"id"`
	StreamID    string    `json:"stream_id"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detected_at"`
}

// runServer serves the HTTP surface until ctx is cancelled, then shuts
// down gracefully.
func runServer(ctx context.Context, addr string, reg *registry.Registry, db *database.Database, debug bool) error {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
		gin.DefaultWriter = io.Discard
	}
	router, err := graceful.Default(graceful.WithAddr(addr))
	if err != nil {
		return err
	}
	defer router.Close()

	wsHandler := ws.NewHandler(reg.Hub)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/api/streams", func(c *gin.Context) {
		snaps := reg.List()
		out := make([]streamSummary, 0, len(snaps))
		for _, s := range snaps {
			out = append(out, streamSummary{
				ID:          s.ID,
				Location:    s.Location,
				Status:      string(s.Status),
				Subscribers: s.Subscribers,
			})
		}
		c.JSON(http.StatusOK, gin.H{"streams": out})
	})

	router.GET("/api/streams/:id", func(c *gin.Context) {
		snap, ok := reg.Snapshot(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		detail := streamDetail{
			ID:              snap.ID,
			Location:        snap.Location,
			Status:          string(snap.Status),
			Subscribers:     snap.Subscribers,
			FramesCaptured:  snap.Source.FramesCaptured,
			SamplesDropped:  snap.Scheduler.SamplesDropped,
			Classifications: snap.Workers.Classifications,
			Accidents:       snap.Workers.Accidents,
		}
		if snap.Frame != nil {
			detail.FrameAt = &snap.Frame.CapturedAt
		}
		if snap.Detection != nil {
			detail.Detection = &detectionDetail{
				Status:       string(snap.Detection.Status),
				Result:       string(snap.Detection.Result),
				Description:  snap.Detection.Description,
				Timestamp:    snap.Detection.AnalyzedAt,
				ErrorMessage: snap.Detection.ErrorMessage,
			}
		}
		c.JSON(http.StatusOK, detail)
	})

	router.GET("/api/streams/:id/frame.jpg", func(c *gin.Context) {
		snap, ok := reg.Snapshot(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
			return
		}
		if snap.Frame == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no frame captured yet"})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/jpeg", snap.Frame.Data)
	})

	router.GET("/api/accidents", func(c *gin.Context) {
		var since *time.Time
		if raw := c.Query("since"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC 3339"})
				return
			}
			since = &t
		}
		limit := 100
		events, err := db.ListAccidents(c.Query("stream_id"), since, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		out := make([]accidentDetail, 0, len(events))
		for _, ev := range events {
			out = append(out, accidentDetail{
				ID:          ev.ID,
				StreamID:    ev.StreamID,
				Location:    ev.Location,
				Description: ev.Description,
				DetectedAt:  ev.DetectedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"accidents": out})
	})

	// Per-channel WebSocket endpoints plus the legacy combined feed.
	router.GET("/ws/streams/:id/video", func(c *gin.Context) {
		wsHandler.Serve(c.Writer, c.Request, c.Param("id"), ws.KindFrame)
	})
	router.GET("/ws/streams/:id/detections", func(c *gin.Context) {
		wsHandler.Serve(c.Writer, c.Request, c.Param("id"), ws.KindAnalysis)
	})
	router.GET("/ws/streams/:id", func(c *gin.Context) {
		wsHandler.Serve(c.Writer, c.Request, c.Param("id"), ws.KindCombined)
	})

	return router.RunWithContext(ctx)
}
