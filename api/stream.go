package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"github.com/Modar-SAD/task-nest/domain"
)

// stream pushes the filtered board as an SSE frame on connect and after
// every change until the client leaves or the workspace is closed.
func (s *Server) stream(c echo.Context) error {
	userID, err := s.auth.UserIDFromAuthHeader(authHeader(c))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	mode, ok := domain.ParseFilterMode(c.QueryParam("filter"))
	if !ok {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid filter"})
	}
	c.Set(userIDKey, userID)

	ctx := c.Request().Context()
	w, err := s.registry.Acquire(ctx, session(userID))
	if err != nil {
		return s.fail(c, err)
	}
	defer s.registry.Release(w)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "stream unsupported"})
	}
	res.WriteHeader(http.StatusOK)

	updates, stop := w.Updates()
	defer stop()
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		data, err := sonic.Marshal(renderBoard(w, mode, s.now()))
		if err != nil {
			c.Logger().Error(err)
			return err
		}
		if err := writeFrame(res, "board", data); err != nil {
			return nil
		}
		flusher.Flush()

	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-w.Done():
				_ = writeFrame(res, "logout", []byte("{}"))
				flusher.Flush()
				return nil
			case <-heartbeat.C:
				if _, err := res.Write([]byte(": ping\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-updates:
				break wait
			}
		}
	}
}

func writeFrame(res *echo.Response, event string, data []byte) error {
	if _, err := res.Write([]byte("event: " + event + "\ndata: ")); err != nil {
		return err
	}
	if _, err := res.Write(data); err != nil {
		return err
	}
	_, err := res.Write([]byte("\n\n"))
	return err
}
