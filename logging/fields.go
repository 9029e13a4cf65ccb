package logging

import (
	"time"

	"go.uber.org/zap"
)

// Field helpers keep key names consistent across components.

func RequestID(id string) zap.Field { return zap.String("request_id", id) }

func TaskID(id string) zap.Field { return zap.String("task_id", id) }

func Provider(name string) zap.Field { return zap.String("provider", name) }

func Priority(p string) zap.Field { return zap.String("priority", p) }

func ImageID(id int64) zap.Field { return zap.Int64("image_id", id) }

// UserID logs an optional user identifier; anonymous requests log "anonymous".
func UserID(id *string) zap.Field {
	if id == nil || *id == "" {
		return zap.String("user_id", "anonymous")
	}
	return zap.String("user_id", *id)
}

// Elapsed logs the time since start in milliseconds.
func Elapsed(start time.Time) zap.Field {
	return zap.Duration("duration", time.Since(start))
}
