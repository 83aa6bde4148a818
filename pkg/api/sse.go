package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/killallgit/strand/pkg/events"
	"github.com/killallgit/strand/pkg/logger"
)

// StreamEvents pushes the event feed for one stream over SSE. Events
// already appended are replayed first (from the after_seq query parameter),
// then live events flow until the client disconnects. The subscription is
// taken before the replay read so no event can fall between the two.
// GET /api/conversations/:id/events
func (s *Server) StreamEvents(c echo.Context) error {
	streamID := c.Param("id")
	ctx := c.Request().Context()

	afterSeq := uint64(0)
	if raw := c.QueryParam("after_seq"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, "after_seq must be a non-negative integer")
		}
		afterSeq = parsed
	}

	live, cancel := s.broker.Subscribe(streamID)
	defer cancel()

	replay, err := s.store.GetEvents(ctx, streamID, afterSeq)
	if err != nil {
		logger.Error("Failed to read events for stream %s: %v", streamID, err)
		return errorJSON(c, http.StatusInternalServerError, "failed to read events")
	}

	resp := c.Response()
	resp.Header().Set("Content-Type", "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	lastSeq := afterSeq
	for _, ev := range replay {
		if err := writeSSE(resp, ev); err != nil {
			return nil
		}
		lastSeq = ev.Sequence
	}
	resp.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-live:
			if !ok {
				return nil
			}
			// Skip events the replay already delivered.
			if ev.Sequence <= lastSeq {
				continue
			}
			if err := writeSSE(resp, ev); err != nil {
				return nil
			}
			lastSeq = ev.Sequence
			resp.Flush()
		}
	}
}

func writeSSE(resp *echo.Response, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
