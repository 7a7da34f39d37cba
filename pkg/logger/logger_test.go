// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/united-manufacturing-hub/motion-core/pkg/logger"
)

var _ = Describe("Logger", func() {
	DescribeTable("parses levels",
		func(name string, want zapcore.Level) {
			Expect(logger.ParseLevel(name)).To(Equal(want))
		},
		Entry("debug", "debug", zapcore.DebugLevel),
		Entry("warn", "WARN", zapcore.WarnLevel),
		Entry("production", "PRODUCTION", zapcore.InfoLevel),
		Entry("unknown", "chatty", zapcore.InfoLevel),
	)

	It("falls back for unknown formats", func() {
		Expect(logger.ParseFormat("json", logger.FormatPretty)).To(Equal(logger.FormatJSON))
		Expect(logger.ParseFormat("xml", logger.FormatPretty)).To(Equal(logger.FormatPretty))
	})

	It("hands out named loggers", func() {
		log := logger.For(logger.ComponentFailsafe)
		Expect(log).NotTo(BeNil())
		Expect(log.Desugar().Name()).To(HaveSuffix(logger.ComponentFailsafe))
		Expect(logger.OrNop(nil)).NotTo(BeNil())
	})

	Describe("PrettyConsoleEncoder", func() {
		var enc zapcore.Encoder

		BeforeEach(func() {
			enc = logger.NewPrettyConsoleEncoder(zapcore.EncoderConfig{LineEnding: "\n"})
		})

		It("writes level, caller, component, message and sorted fields", func() {
			entry := zapcore.Entry{
				Level:      zapcore.WarnLevel,
				Time:       time.Unix(0, 0),
				LoggerName: logger.ComponentFailsafe,
				Message:    "heartbeat stale",
				Caller:     zapcore.NewEntryCaller(0, "/src/pkg/failsafe/failsafe.go", 88, true),
			}

			buf, err := enc.EncodeEntry(entry, []zapcore.Field{zap.Int("zone", 5), zap.String("age", "230ms")})
			Expect(err).NotTo(HaveOccurred())
			Expect(buf.String()).To(Equal(" [WARN]\t[failsafe/failsafe.go:88]\t[Failsafe]\theartbeat stale - age=230ms, zone=5\n"))
		})

		It("keeps context fields on clones only", func() {
			enc.AddString("task", "safety")
			clone := enc.Clone()
			clone.AddString("core", "critical")

			buf, err := enc.EncodeEntry(zapcore.Entry{Message: "tick"}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(buf.String()).To(Equal(" [INFO]\ttick - task=safety\n"))

			buf, err = clone.EncodeEntry(zapcore.Entry{Message: "tick"}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(buf.String()).To(Equal(" [INFO]\ttick - core=critical, task=safety\n"))
		})
	})
})
