package server

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
)

const dateOnlyLayout = "2006-01-02"

func parseSnowflakeID(value string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed == 0 {
		return 0, errors.New("invalid_snowflake_id")
	}
	return parsed, nil
}

func parseSnowflakeParam(c *gin.Context, name string) (snowflake.ID, error) {
	return parseSnowflakeID(c.Param(name))
}

// parseTargetQuery reads the target_level / target_id pair used by the
// policy and budget list endpoints.
func parseTargetQuery(c *gin.Context) (hierarchydomain.Target, error) {
	level := hierarchydomain.Level(strings.ToLower(strings.TrimSpace(c.Query("target_level"))))

	id, err := parseSnowflakeID(c.Query("target_id"))
	if err != nil {
		return hierarchydomain.Target{}, newValidationError("target_id", "invalid_target_id", "invalid target_id")
	}

	target := hierarchydomain.Target{Level: level, ID: id}
	if !target.Valid() {
		return hierarchydomain.Target{}, newValidationError("target_level", "invalid_target_level", "invalid target_level")
	}

	return target, nil
}

func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		if endOfDay {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
		} else {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		}
		return &parsed, nil
	}
	return nil, errors.New("invalid_time")
}
