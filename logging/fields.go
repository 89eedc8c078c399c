package logging

import (
	"time"

	"go.uber.org/zap"
)

// Field helpers keep key names consistent across packages.

func WorkflowID(id string) zap.Field { return zap.String("workflow_id", id) }

func UserID(id string) zap.Field { return zap.String("user_id", id) }

func Stage(name string) zap.Field { return zap.String("stage", name) }

func TaskID(id string) zap.Field { return zap.String("task_id", id) }

func Provider(name string) zap.Field { return zap.String("provider", name) }

func ModelID(id string) zap.Field { return zap.String("model_id", id) }

// Cost takes the formatted amount so this package stays free of catalog.
func Cost(amount string) zap.Field { return zap.String("cost", amount) }

// Attempt logs a retry attempt as "attempt 2/3".
func Attempt(n, max int) zap.Field {
	return zap.Dict("retry", zap.Int("attempt", n), zap.Int("max_attempts", max))
}

func Delay(d time.Duration) zap.Field { return zap.Duration("delay", d) }
