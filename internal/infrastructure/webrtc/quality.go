package webrtc

import (
	"time"

	"agentdesk/internal/infrastructure/monitoring"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// qualityMonitor derives call quality figures from the RTCP packets of the
// inbound receiver and publishes them as gauges.
type qualityMonitor struct {
	metrics   *monitoring.Metrics
	clockRate uint32
	logger    *zap.SugaredLogger
}

func newQualityMonitor(metrics *monitoring.Metrics, clockRate uint32, logger *zap.SugaredLogger) *qualityMonitor {
	if clockRate == 0 {
		clockRate = 48000
	}
	return &qualityMonitor{metrics: metrics, clockRate: clockRate, logger: logger}
}

func (q *qualityMonitor) run(receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			// Receiver closed with the session.
			return
		}
		q.process(packets)
	}
}

func (q *qualityMonitor) process(packets []rtcp.Packet) {
	var totalLoss float64
	var totalJitter time.Duration
	var totalRTT time.Duration
	reports := 0

	for _, packet := range packets {
		rr, ok := packet.(*rtcp.ReceiverReport)
		if !ok {
			continue
		}
		for _, report := range rr.Reports {
			totalLoss += float64(report.FractionLost) / 255.0
			totalJitter += time.Duration(uint64(report.Jitter) * uint64(time.Second) / uint64(q.clockRate))
			if report.LastSenderReport != 0 && report.Delay != 0 {
				totalRTT += time.Duration(report.Delay) * time.Second / 65536
			}
			reports++
		}
	}

	if reports == 0 || q.metrics == nil {
		return
	}
	n := time.Duration(reports)
	loss := totalLoss / float64(reports)
	jitter := totalJitter / n
	rtt := totalRTT / n
	q.metrics.ObserveCallQuality(loss, jitter, rtt)
	q.logger.Debugw("call quality sample",
		"packet_loss", loss,
		"jitter", jitter,
		"rtt", rtt,
	)
}
