package reporting

import (
	"context"
	"maps"
	"time"

	"github.com/Kirk1984/redlib/internal/domain"
)

type reportingMetaContextKey struct{}

// ReportingMeta is the request scoped information attached to every event reported from a context
type ReportingMeta struct {
	tags      map[string]string
	extras    map[string]string
	startedAt time.Time
}

// MetaFromContext returns a copy of the meta in ctx, safe to modify
func MetaFromContext(ctx context.Context) ReportingMeta {
	meta, _ := ctx.Value(reportingMetaContextKey{}).(ReportingMeta)

	cloned := ReportingMeta{
		tags:      maps.Clone(meta.tags),
		extras:    maps.Clone(meta.extras),
		startedAt: meta.startedAt,
	}
	if cloned.tags == nil {
		cloned.tags = make(map[string]string)
	}
	if cloned.extras == nil {
		cloned.extras = make(map[string]string)
	}
	return cloned
}

func withMeta(ctx context.Context, update func(meta *ReportingMeta)) context.Context {
	meta := MetaFromContext(ctx)
	update(&meta)
	return context.WithValue(ctx, reportingMetaContextKey{}, meta)
}

func setStartedAtInContext(ctx context.Context, startedAt time.Time) context.Context {
	return withMeta(ctx, func(meta *ReportingMeta) {
		meta.startedAt = startedAt
	})
}

func AddExtrasToContext(ctx context.Context, extras map[string]string) context.Context {
	return withMeta(ctx, func(meta *ReportingMeta) {
		maps.Copy(meta.extras, extras)
	})
}

func AddTagsToContext(ctx context.Context, tags map[string]string) context.Context {
	return withMeta(ctx, func(meta *ReportingMeta) {
		maps.Copy(meta.tags, tags)
	})
}

// AddContentRequestToContext tags events with the kind of content being served. The path stays an
// extra since it would explode the tag cardinality.
func AddContentRequestToContext(ctx context.Context, request domain.ContentRequest) context.Context {
	return withMeta(ctx, func(meta *ReportingMeta) {
		meta.tags["contentKind"] = string(request.Kind)
		meta.tags["resourceClass"] = string(request.Kind.Class())
		meta.extras["contentPath"] = request.Path
		meta.extras["cacheKey"] = request.CacheKey()
	})
}

func AddMediaOriginToContext(ctx context.Context, originURL string) context.Context {
	return withMeta(ctx, func(meta *ReportingMeta) {
		meta.extras["originURL"] = originURL
	})
}
