package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ytget/ytrelay/errs"
	"github.com/ytget/ytrelay/progress"
	"github.com/ytget/ytrelay/relay"
)

type processRequest struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Detail string    `json:"detail"`
	Code   errs.Code `json:"code"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	md, err := s.catalog.Describe(r.Context(), req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req relay.Request
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, ok := w.(*statusRecorder)
	if !ok {
		rec = &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	}

	err := s.relay.Download(r.Context(), req, rec)
	if err == nil {
		return
	}
	if rec.wroteHeader {
		// Body already started; the connection is all that is left to drop.
		s.log.Warn("download aborted mid-stream", map[string]interface{}{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
		return
	}
	s.writeError(w, r, err)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("transfer_id")

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		s.log.Error("event stream not flushable", map[string]interface{}{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.streams, cancel)
	defer stop()

	for ev := range s.publisher.Subscribe(ctx, id) {
		if err := writeEvent(w, ev); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeEvent renders one server-sent event.
func writeEvent(w io.Writer, ev progress.Event) error {
	_, err := io.WriteString(w, "event: "+ev.Type+"\ndata: "+ev.Data+"\n\n")
	return err
}

// decodeBody parses a JSON object body into dst. An empty body decodes to the
// zero value so field validation reports the missing field.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errs.InvalidInput("Invalid request body")
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := errs.As(err)
	if !ok {
		e = errs.SourceFailure(err)
	}
	status := errs.HTTPStatus(e.Code)

	fields := map[string]interface{}{
		"path":   r.URL.Path,
		"status": status,
		"code":   string(e.Code),
		"error":  err.Error(),
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", fields)
	} else {
		s.log.Debug("request rejected", fields)
	}

	writeJSON(w, status, errorResponse{Detail: e.Detail(s.opts.ExposeErrors), Code: e.Code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"detail":"encoding failure"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
