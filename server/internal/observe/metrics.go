// Package observe 练习服务的指标与链路追踪。
//
// 指标通过 OTel Metrics API 记录，InitProvider 注册 Prometheus 导出器。
// 测试应使用 NewMetrics 搭配 ManualReader，避免共享全局状态。
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "care-talk"

// Metrics 所有指标。OTel 类型自身并发安全。
type Metrics struct {
	// Submissions 学习者提交次数，属性 outcome: replied|blocked|failed|rejected
	Submissions metric.Int64Counter
	// CheckpointCompletions 属性 scenario、forced
	CheckpointCompletions metric.Int64Counter
	// Escalations 属性 tier
	Escalations metric.Int64Counter
	// Completions 场景完成次数
	Completions metric.Int64Counter
	// ReplyDuration 回复生成耗时（秒）
	ReplyDuration metric.Float64Histogram
	// ReplyFailures 属性 kind: transient|invalid|other
	ReplyFailures metric.Int64Counter
	// ActiveSessions 当前会话数
	ActiveSessions metric.Int64UpDownCounter
	// HTTPRequestDuration 属性 method、route、status
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 30}

// NewMetrics 使用给定 MeterProvider 创建全部指标
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Submissions, err = m.Int64Counter("caretalk.submissions",
		metric.WithDescription("Learner submissions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CheckpointCompletions, err = m.Int64Counter("caretalk.checkpoint.completions",
		metric.WithDescription("Completed checkpoints by scenario and whether a suggestion forced them."),
	); err != nil {
		return nil, err
	}
	if met.Escalations, err = m.Int64Counter("caretalk.escalations",
		metric.WithDescription("Escalations by tier."),
	); err != nil {
		return nil, err
	}
	if met.Completions, err = m.Int64Counter("caretalk.scenario.completions",
		metric.WithDescription("Scenarios with all checkpoints completed."),
	); err != nil {
		return nil, err
	}
	if met.ReplyDuration, err = m.Float64Histogram("caretalk.reply.duration",
		metric.WithDescription("Latency of counterpart reply generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReplyFailures, err = m.Int64Counter("caretalk.reply.failures",
		metric.WithDescription("Failed reply generations by kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("caretalk.sessions.active",
		metric.WithDescription("Practice sessions held in memory."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("caretalk.http.request.duration",
		metric.WithDescription("HTTP request latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// DefaultMetrics 基于全局 MeterProvider 的共享实例；InitProvider 之前为 no-op
func DefaultMetrics() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordSubmission 记录一次提交结果
func (m *Metrics) RecordSubmission(ctx context.Context, scenarioID, outcome string) {
	m.Submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scenario", scenarioID),
		attribute.String("outcome", outcome),
	))
}

// RecordCheckpoint 记录一次检查点完成
func (m *Metrics) RecordCheckpoint(ctx context.Context, scenarioID string, forced bool) {
	m.CheckpointCompletions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scenario", scenarioID),
		attribute.Bool("forced", forced),
	))
}

// RecordEscalation 记录一次提示升级
func (m *Metrics) RecordEscalation(ctx context.Context, scenarioID, tier string) {
	m.Escalations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scenario", scenarioID),
		attribute.String("tier", tier),
	))
}
