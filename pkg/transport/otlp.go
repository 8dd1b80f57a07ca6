// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/postgor/android-trace/pkg/config"
	"github.com/postgor/android-trace/pkg/event"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	_ "google.golang.org/grpc/encoding/gzip" // Register gzip compressor
	"google.golang.org/grpc/metadata"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
)

const (
	scopeName    = "android-trace"
	scopeVersion = "0.1.0"
)

// OTLPExporter ships events as OTLP log records over gRPC, reconnecting
// when the channel fails.
type OTLPExporter struct {
	logger      *zap.Logger
	serviceName string
	endpoint    string
	headers     metadata.MD
	opts        []grpc.DialOption

	mu     sync.RWMutex
	conn   *grpc.ClientConn
	logSvc collogspb.LogsServiceClient
}

// NewOTLPExporter creates an OTLP gRPC log exporter. Dialing is lazy, so an
// unreachable collector surfaces as export errors, not here.
func NewOTLPExporter(cfg *config.OTLPConfig, serviceName string, logger *zap.Logger) (*OTLPExporter, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(4 * 1024 * 1024)),
	}
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	}
	if cfg.Compression == "" || cfg.Compression == "gzip" {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.UseCompressor("gzip")))
	}

	var md metadata.MD
	if len(cfg.Headers) > 0 {
		md = metadata.New(cfg.Headers)
	}

	e := &OTLPExporter{
		logger:      logger,
		serviceName: serviceName,
		endpoint:    cfg.Endpoint,
		headers:     md,
		opts:        opts,
	}
	if err := e.connect(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *OTLPExporter) connect() error {
	conn, err := grpc.Dial(e.endpoint, e.opts...)
	if err != nil {
		return fmt.Errorf("dial OTLP endpoint %s: %w", e.endpoint, err)
	}
	e.conn = conn
	e.logSvc = collogspb.NewLogsServiceClient(conn)
	return nil
}

func (e *OTLPExporter) ensureConnected() error {
	e.mu.RLock()
	conn := e.conn
	e.mu.RUnlock()

	if conn == nil {
		return e.reconnect()
	}
	switch conn.GetState() {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return e.reconnect()
	default:
		return nil
	}
}

func (e *OTLPExporter) reconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		state := e.conn.GetState()
		if state == connectivity.Ready || state == connectivity.Idle {
			return nil
		}
		e.conn.Close()
	}

	e.logger.Info("reconnecting to OTLP endpoint", zap.String("endpoint", e.endpoint))
	if err := e.connect(); err != nil {
		e.logger.Error("reconnect failed", zap.Error(err))
		return err
	}
	return nil
}

// Name implements Exporter.
func (e *OTLPExporter) Name() string { return "otlp" }

// ExportEvents implements Exporter.
func (e *OTLPExporter) ExportEvents(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := e.ensureConnected(); err != nil {
		return fmt.Errorf("connection not ready: %w", err)
	}

	records := make([]*logspb.LogRecord, 0, len(events))
	for i := range events {
		records = append(records, convertEvent(&events[i]))
	}

	req := &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource: e.resource(),
			ScopeLogs: []*logspb.ScopeLogs{{
				Scope: &commonpb.InstrumentationScope{
					Name:    scopeName,
					Version: scopeVersion,
				},
				LogRecords: records,
			}},
		}},
	}

	if e.headers != nil {
		ctx = metadata.NewOutgoingContext(ctx, e.headers)
	}

	e.mu.RLock()
	svc := e.logSvc
	e.mu.RUnlock()

	if _, err := svc.Export(ctx, req); err != nil {
		return fmt.Errorf("export %d events: %w", len(events), err)
	}
	return nil
}

// Shutdown closes the gRPC connection.
func (e *OTLPExporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		err := e.conn.Close()
		e.conn = nil
		return err
	}
	return nil
}

func (e *OTLPExporter) resource() *resourcepb.Resource {
	hostname, _ := os.Hostname()
	pid := os.Getpid()
	return &resourcepb.Resource{Attributes: []*commonpb.KeyValue{
		strAttr("service.name", e.serviceName),
		strAttr("service.instance.id", fmt.Sprintf("%s-%d", hostname, pid)),
		strAttr("telemetry.sdk.name", scopeName),
		strAttr("telemetry.sdk.language", "go"),
		strAttr("telemetry.sdk.version", scopeVersion),
		strAttr("host.name", hostname),
		strAttr("host.arch", runtime.GOARCH),
		intAttr("process.pid", int64(pid)),
	}}
}

func convertEvent(ev *event.Event) *logspb.LogRecord {
	severity, text := logspb.SeverityNumber_SEVERITY_NUMBER_INFO, "INFO"
	if ev.Type == event.ErrorGeneric || ev.Type == event.ErrorHook || ev.Data.Error != "" {
		severity, text = logspb.SeverityNumber_SEVERITY_NUMBER_ERROR, "ERROR"
	}

	rec := &logspb.LogRecord{
		TimeUnixNano: uint64(ev.Time.UnixNano()),
		Body: &commonpb.AnyValue{
			Value: &commonpb.AnyValue_StringValue{StringValue: sanitizeUTF8(ev.Summary())},
		},
		SeverityText:   text,
		SeverityNumber: severity,
	}
	if ev.Time.IsZero() {
		rec.TimeUnixNano = 0
	}

	attrs := []*commonpb.KeyValue{strAttr("event.type", string(ev.Type))}
	d := ev.Data
	if d.MethodType != "" {
		attrs = append(attrs, strAttr("method.type", string(d.MethodType)))
	}
	if d.ClassName != "" {
		attrs = append(attrs, strAttr("class.name", d.ClassName))
	}
	if d.MethodName != "" {
		attrs = append(attrs, strAttr("method.name", d.MethodName))
	}
	if len(d.Args) > 0 {
		attrs = append(attrs, &commonpb.KeyValue{Key: "args", Value: toAnyValue(d.Args)})
	}
	if len(d.ArgTypes) > 0 {
		attrs = append(attrs, &commonpb.KeyValue{Key: "arg_types", Value: toAnyValue(d.ArgTypes)})
	}
	if d.Ret != nil {
		attrs = append(attrs, strAttr("ret", *d.Ret))
	}
	if d.Error != "" {
		attrs = append(attrs, strAttr("error", d.Error))
	}
	rec.Attributes = attrs
	return rec
}

func strAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: sanitizeUTF8(value)}},
	}
}

func intAttr(key string, value int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: value}},
	}
}

func toAnyValue(v interface{}) *commonpb.AnyValue {
	switch val := v.(type) {
	case string:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: sanitizeUTF8(val)}}
	case int64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: val}}
	case bool:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: val}}
	case []string:
		values := make([]*commonpb.AnyValue, len(val))
		for i, s := range val {
			values[i] = toAnyValue(s)
		}
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{
			ArrayValue: &commonpb.ArrayValue{Values: values},
		}}
	default:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: sanitizeUTF8(fmt.Sprintf("%v", val))}}
	}
}

// sanitizeUTF8 replaces invalid UTF-8 sequences, which protobuf refuses to
// marshal in string fields.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}
