/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package traces

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type memoryExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *memoryExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (e *memoryExporter) Shutdown(context.Context) error   { return nil }
func (e *memoryExporter) ForceFlush(context.Context) error { return nil }

func TestLogHookMirrorsEntries(t *testing.T) {
	exporter := &memoryExporter{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exporter)))
	defer provider.Shutdown(context.Background())

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.AddHook(NewLogHook(provider, "floorsync"))

	logger.WithFields(logrus.Fields{
		"submission_id": "0190c5c6-0000-7000-8000-000000000001",
		"retry_count":   2,
		"error":         errors.New("connection reset"),
	}).Warn("submission sync attempt failed")

	require.Len(t, exporter.records, 1)
	rec := exporter.records[0]
	assert.Equal(t, "submission sync attempt failed", rec.Body().AsString())
	assert.Equal(t, otellog.SeverityWarn, rec.Severity())

	attrs := map[string]otellog.Value{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value
		return true
	})
	assert.Equal(t, "0190c5c6-0000-7000-8000-000000000001", attrs["submission_id"].AsString())
	assert.Equal(t, int64(2), attrs["retry_count"].AsInt64())
	assert.Equal(t, "connection reset", attrs["error"].AsString())
}

func TestSeverityMapping(t *testing.T) {
	assert.Equal(t, otellog.SeverityDebug, severity(logrus.DebugLevel))
	assert.Equal(t, otellog.SeverityError, severity(logrus.ErrorLevel))
	assert.Equal(t, otellog.SeverityFatal, severity(logrus.PanicLevel))
}

func TestSetupOTelSDKShutdown(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://127.0.0.1:4318")
	ctx := context.Background()

	shutdown, err := SetupOTelSDK(ctx, "floorsync-test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))
	assert.NoError(t, shutdown(ctx))
}
