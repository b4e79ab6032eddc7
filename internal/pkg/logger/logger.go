package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var base zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	base = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Init 为当前进程设置全局日志器的服务名字段。
// 在 bootstrap 中调用一次。
func Init(serviceName string) {
	base = base.With().Str("service", serviceName).Logger()
}

// Ctx 返回一个绑定了追踪上下文的日志器。
// 如果 ctx 中存在有效的 Span，日志会自动带上 trace_id / span_id，
// 方便在 Jaeger 和日志系统之间互相跳转。
func Ctx(ctx context.Context) *zerolog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		l := base
		return &l
	}
	l := base.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
	return &l
}
