package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/zoff-tech/go-msgpipe/pkg/message"
)

// WeeklyHoursHeader carries the hours already scheduled for the resident this week.
const WeeklyHoursHeader = "WeeklyHours"

// HeaderLimit rejects messages whose numeric header exceeds limit. Like a failed
// validation, a rejection stops the chain without an error. Messages without the
// header pass through.
func HeaderLimit(header string, limit float64) Middleware {
	return func(ctx context.Context, msg *message.Context, next Next) error {
		value, ok, err := msg.HeaderFloat(header)
		if err != nil {
			reason := fmt.Sprintf("invalid %s header: %v", header, err)
			msg.SetError(reason)
			msg.Logf("limit: %s", reason)
			return nil
		}
		if !ok {
			return next(ctx)
		}
		if value > limit {
			reason := fmt.Sprintf("%s limit exceeded: %s > %s", header, formatFloat(value), formatFloat(limit))
			msg.SetError(reason)
			msg.Logf("limit: %s", reason)
			return nil
		}

		msg.Logf("limit: %s %s within %s", header, formatFloat(value), formatFloat(limit))
		return next(ctx)
	}
}

// WeeklyHoursLimit caps the WeeklyHours header.
func WeeklyHoursLimit(maxHours float64) Middleware {
	return HeaderLimit(WeeklyHoursHeader, maxHours)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
