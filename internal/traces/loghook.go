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
	"fmt"

	"github.com/sirupsen/logrus"
	otellog "go.opentelemetry.io/otel/log"
)

// LogHook mirrors logrus entries into an OTel logger so they travel with the
// trace context carried by entry.Context.
type LogHook struct {
	logger otellog.Logger
}

func NewLogHook(provider otellog.LoggerProvider, name string) *LogHook {
	return &LogHook{logger: provider.Logger(name)}
}

func (h *LogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *LogHook) Fire(entry *logrus.Entry) error {
	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}

	var rec otellog.Record
	rec.SetTimestamp(entry.Time)
	rec.SetObservedTimestamp(entry.Time)
	rec.SetSeverity(severity(entry.Level))
	rec.SetSeverityText(entry.Level.String())
	rec.SetBody(otellog.StringValue(entry.Message))
	for key, value := range entry.Data {
		rec.AddAttributes(attributeOf(key, value))
	}

	h.logger.Emit(ctx, rec)
	return nil
}

func severity(level logrus.Level) otellog.Severity {
	switch level {
	case logrus.TraceLevel:
		return otellog.SeverityTrace
	case logrus.DebugLevel:
		return otellog.SeverityDebug
	case logrus.InfoLevel:
		return otellog.SeverityInfo
	case logrus.WarnLevel:
		return otellog.SeverityWarn
	case logrus.ErrorLevel:
		return otellog.SeverityError
	default:
		return otellog.SeverityFatal
	}
}

func attributeOf(key string, value interface{}) otellog.KeyValue {
	switch v := value.(type) {
	case string:
		return otellog.String(key, v)
	case int:
		return otellog.Int(key, v)
	case int64:
		return otellog.Int64(key, v)
	case bool:
		return otellog.Bool(key, v)
	case float64:
		return otellog.Float64(key, v)
	case error:
		return otellog.String(key, v.Error())
	default:
		return otellog.String(key, fmt.Sprint(v))
	}
}
