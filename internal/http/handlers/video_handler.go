// Video and ingestion HTTP handlers.
//
//   - POST /channels/{id}/videos   (register a pending video)
//   - GET  /channels/{id}/videos   (list a channel's videos)
//   - GET  /videos/{id}            (ingestion status and chunk count)
//   - POST /videos/{id}/ingest     (first ingestion)
//   - POST /videos/{id}/reingest   (replace the chunk set)
//
// Ingestion accepts either parsed segments or a raw caption file (SRT,
// WebVTT, JSON or YAML). By default it runs in the background and answers
// 202; poll GET /videos/{id}. With ?wait=true the request blocks until the
// run settles and returns the report.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/transcript-chat/internal/chunker"
	"github.com/tbourn/transcript-chat/internal/domain"
	"github.com/tbourn/transcript-chat/internal/services"
	"github.com/tbourn/transcript-chat/internal/transcript"
)

// ListVideosResponse wraps a channel's videos.
type ListVideosResponse struct {
	Videos []domain.Video `json:"videos"`
}

// IngestRequest carries a transcript. Exactly one of Segments or Content
// must be set; Format names Content's syntax (srt, vtt, json, yaml).
type IngestRequest struct {
	Segments []chunker.Segment `json:"segments,omitempty"`
	Format   string            `json:"format,omitempty"  example:"srt"`
	Content  string            `json:"content,omitempty" example:"1\n00:00:01,000 --> 00:00:04,000\nHello and welcome."`
}

// IngestAccepted is returned for background runs.
type IngestAccepted struct {
	VideoID   string `json:"video_id"`
	StatusURL string `json:"status_url"`
}

// segments resolves the request into segments.
func (r IngestRequest) segments() ([]chunker.Segment, error) {
	hasContent := strings.TrimSpace(r.Content) != ""
	switch {
	case len(r.Segments) > 0 && hasContent:
		return nil, &services.ValidationError{Field: "transcript", Reason: "send either segments or content, not both"}
	case len(r.Segments) > 0:
		return r.Segments, nil
	case hasContent:
		format := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(r.Format)), ".")
		if format == "" {
			return nil, &services.ValidationError{Field: "format", Reason: "required with content"}
		}
		f, err := transcript.Parse("upload."+format, []byte(r.Content))
		if err != nil {
			return nil, err
		}
		return f.Segments, nil
	default:
		return nil, &services.ValidationError{Field: "transcript", Reason: "segments or content required"}
	}
}

// AddVideo godoc
// @ID          addVideo
// @Summary     Register a video under a channel
// @Tags        Videos
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                  true  "Channel ID"  format(uuid)
// @Param       body  body      services.NewVideoInput  true  "Video"
// @Success     201   {object}  domain.Video
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     403   {object}  handlers.ErrorResponse
// @Failure     404   {object}  handlers.ErrorResponse
// @Router      /channels/{id}/videos [post]
func (h *Handlers) AddVideo(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	var in services.NewVideoInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	v, err := h.d.Videos.Add(c.Request.Context(), p, c.Param("id"), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, v)
}

// ListVideos godoc
// @ID          listVideos
// @Summary     List a channel's videos
// @Tags        Videos
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Channel ID"  format(uuid)
// @Success     200  {object}  handlers.ListVideosResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /channels/{id}/videos [get]
func (h *Handlers) ListVideos(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	items, err := h.d.Videos.List(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Video{}
	}
	ok(c, http.StatusOK, ListVideosResponse{Videos: items})
}

// GetVideo godoc
// @ID          getVideo
// @Summary     Video ingestion status
// @Tags        Videos
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Video ID"  format(uuid)
// @Success     200  {object}  services.VideoStatus
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /videos/{id} [get]
func (h *Handlers) GetVideo(c *gin.Context) {
	p, found := principal(c)
	if !found {
		return
	}
	st, err := h.d.Videos.Status(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// IngestVideo godoc
// @ID          ingestVideo
// @Summary     Ingest a video transcript
// @Description Chunks, embeds and indexes the transcript. Runs in the background (202) unless wait=true.
// @Tags        Videos
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                  true   "Video ID"  format(uuid)
// @Param       wait  query     bool                    false  "Block until the run settles"
// @Param       body  body      handlers.IngestRequest  true   "Transcript"
// @Success     200   {object}  services.IngestReport
// @Success     202   {object}  handlers.IngestAccepted
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse
// @Failure     422   {object}  handlers.ErrorResponse
// @Failure     503   {object}  handlers.ErrorResponse
// @Router      /videos/{id}/ingest [post]
func (h *Handlers) IngestVideo(c *gin.Context) { h.ingest(c, false) }

// ReingestVideo godoc
// @ID          reingestVideo
// @Summary     Replace a video's transcript chunks
// @Tags        Videos
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path      string                  true   "Video ID"  format(uuid)
// @Param       wait  query     bool                    false  "Block until the run settles"
// @Param       body  body      handlers.IngestRequest  true   "Transcript"
// @Success     200   {object}  services.IngestReport
// @Success     202   {object}  handlers.IngestAccepted
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     409   {object}  handlers.ErrorResponse
// @Router      /videos/{id}/reingest [post]
func (h *Handlers) ReingestVideo(c *gin.Context) { h.ingest(c, true) }

func (h *Handlers) ingest(c *gin.Context, reingest bool) {
	p, found := principal(c)
	if !found {
		return
	}
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	segs, err := req.segments()
	if err != nil {
		failErr(c, err)
		return
	}

	ctx := c.Request.Context()
	cred, err := h.d.Credentials.Resolve(ctx, p.UserID)
	if err != nil {
		failErr(c, err)
		return
	}
	videoID := c.Param("id")

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		run := h.d.Ingestor.Ingest
		if reingest {
			run = h.d.Ingestor.Reingest
		}
		rep, err := run(ctx, p, cred, videoID, segs)
		if err != nil {
			failErr(c, err)
			return
		}
		ok(c, http.StatusOK, rep)
		return
	}

	if err := h.d.Ingestor.Start(ctx, p, cred, videoID, segs, reingest); err != nil {
		failErr(c, err)
		return
	}
	status := strings.TrimSuffix(c.FullPath(), "/:id/ingest")
	status = strings.TrimSuffix(status, "/:id/reingest") + "/" + videoID
	c.Header("Location", status)
	ok(c, http.StatusAccepted, IngestAccepted{VideoID: videoID, StatusURL: status})
}
