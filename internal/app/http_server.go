package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"task-timer/internal/adapter/sse"
	"task-timer/internal/auth"
	"task-timer/internal/domain"
)

// HTTPServer returns a configured http.Server exposing the timer API.
// WriteTimeout stays unset because event streams are long-lived.
func (a *App) HTTPServer(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	a.log.Info("http server configured", slog.String("addr", addr))
	return srv
}

// Handler routes the timer API.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.Handle("GET /api/tasks/{id}/timer", a.withUser(false, func(w http.ResponseWriter, r *http.Request, userID string) {
		view, err := a.timer.GetView(r.Context(), r.PathValue("id"), userID)
		a.reply(w, r, "get", view, err)
	}))

	mux.Handle("POST /api/tasks/{id}/timer/{action}", a.withUser(false, func(w http.ResponseWriter, r *http.Request, userID string) {
		action := r.PathValue("action")
		var op func(context.Context, string, string) (domain.View, error)
		switch action {
		case "start":
			op = a.timer.Start
		case "pause":
			op = a.timer.Pause
		case "resume":
			op = a.timer.Resume
		case "stop":
			op = a.timer.Stop
		default:
			writeJSON(w, http.StatusNotFound, errorBody{Error: "Not Found", Message: "Unknown timer action"})
			return
		}
		view, err := op(r.Context(), r.PathValue("id"), userID)
		a.reply(w, r, action, view, err)
	}))

	// GET /api/tasks/stream?taskId=...
	// EventSource cannot set headers, so the token may come as ?token=.
	mux.Handle("GET /api/tasks/stream", a.withUser(true, a.handleStream))

	return loggingMiddleware(a.log, mux)
}

func (a *App) handleStream(w http.ResponseWriter, r *http.Request, userID string) {
	taskID := r.URL.Query().Get("taskId")
	if taskID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Bad Request", Message: "taskId is required"})
		return
	}
	// Only the owner may watch a task.
	if _, err := a.timer.GetView(r.Context(), taskID, userID); err != nil {
		a.writeError(w, r, "stream", err)
		return
	}

	stream := sse.Open(w, a.cfg.Stream.Buffer)
	a.hub.Subscribe(taskID, stream)
	defer a.hub.Unsubscribe(taskID, stream)

	if err := stream.Serve(r.Context(), a.hub.Done()); err != nil {
		a.log.Debug("stream write failed", slog.String("task_id", taskID), slog.String("error", err.Error()))
	}
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

// withUser authenticates the request and passes the caller's user id on.
func (a *App) withUser(allowQuery bool, next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.FromRequest(r, allowQuery)
		if errors.Is(err, auth.ErrMissingToken) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Access Denied", Message: "No token provided"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Access Denied", Message: "Invalid token"})
			return
		}
		userID, err := a.tokens.UserID(token)
		if err != nil {
			a.log.Debug("token rejected", slog.String("error", err.Error()))
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Access Denied", Message: "Invalid token"})
			return
		}
		next(w, r, userID)
	})
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type viewBody struct {
	TaskView domain.View `json:"taskView"`
}

func (a *App) reply(w http.ResponseWriter, r *http.Request, op string, view domain.View, err error) {
	if err != nil {
		a.writeError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, viewBody{TaskView: view})
}

// writeError maps domain errors to status codes. Anything unexpected is
// logged and reported without detail.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var invalid *domain.InvalidTransitionError
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Task not found", Message: "Task not found or access denied"})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Bad Request", Message: invalid.Error()})
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		a.log.Error("timer request failed",
			slog.String("op", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal Server Error", Message: "Failed to " + op + " timer"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// loggingMiddleware provides basic request logging.
func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.String("remote", r.RemoteAddr),
			slog.Duration("dur", time.Since(start)),
		)
	})
}

// statusRecorder remembers the response status. Unwrap lets
// http.ResponseController reach the underlying Flusher for streams.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }
