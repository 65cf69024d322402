package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/his/his/internal/platform/auth"
)

// AuditEntry captures who touched which clinical record, when, and how.
// Stock movements and consultation transitions are attributed to the
// authenticated professional.
type AuditEntry struct {
	ActorID    string
	ActorRoles []string
	Action     string // read, create, update, delete
	Path       string
	Method     string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries. Tests provide a mock; by default
// entries go to structured logs only.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc adapts a function to AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error { return f(entry) }

// Audit logs every /api/v1 access with the acting professional. Writes
// against patient records must stay attributable after the fact.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1") {
				return next(c)
			}

			err := next(c)

			rid, _ := c.Get("request_id").(string)
			ctx := req.Context()
			entry := AuditEntry{
				ActorID:    auth.UserIDFromContext(ctx),
				ActorRoles: auth.RolesFromContext(ctx),
				Action:     actionForMethod(req.Method),
				Path:       req.URL.Path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				RequestID:  rid,
				StatusCode: c.Response().Status,
				Timestamp:  time.Now().UTC(),
			}

			for _, r := range recorders {
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Msg("audit recorder failed")
				}
			}

			logger.Info().
				Str("actor_id", entry.ActorID).
				Str("action", entry.Action).
				Str("path", entry.Path).
				Int("status", entry.StatusCode).
				Str("request_id", entry.RequestID).
				Msg("audit")

			return err
		}
	}
}

func actionForMethod(method string) string {
	switch method {
	case "POST":
		return "create"
	case "PUT", "PATCH":
		return "update"
	case "DELETE":
		return "delete"
	default:
		return "read"
	}
}
