package fn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "vidgrep/fn"

// Stage transforms In to Out within a context.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Pipeline composes same-typed stages in order, short-circuiting on error.
func Pipeline[T any](stages ...Stage[T, T]) Stage[T, T] {
	return func(ctx context.Context, t T) Result[T] {
		r := Ok(t)
		for _, s := range stages {
			if r.IsErr() {
				return r
			}
			v, _ := r.Unwrap()
			r = s(ctx, v)
		}
		return r
	}
}

// TapStage runs a side effect and passes the value through.
func TapStage[T any](f func(context.Context, T)) Stage[T, T] {
	return func(ctx context.Context, t T) Result[T] {
		f(ctx, t)
		return Ok(t)
	}
}

// Traced wraps a stage in a named OTel span, recording errors on it.
func Traced[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer(tracerName).Start(ctx, name)
		defer span.End()
		result := stage(ctx, in)
		if result.IsErr() {
			_, err := result.Unwrap()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return result
	}
}
