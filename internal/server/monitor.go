package server

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/JackieWYB/majiang-sub001/internal/game"
	"github.com/JackieWYB/majiang-sub001/internal/log"
	"github.com/JackieWYB/majiang-sub001/internal/room"
)

// Metrics 引擎观察者实现：进程内计数器
type Metrics struct {
	Actions         atomic.Int64
	WindowsResolved atomic.Int64
	Timeouts        atomic.Int64
	Corrupts        atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) ActionProcessed(roomID string, action game.ActionType) {
	m.Actions.Add(1)
}

func (m *Metrics) WindowResolved(roomID string) {
	m.WindowsResolved.Add(1)
}

func (m *Metrics) TimeoutFired(roomID string) {
	m.Timeouts.Add(1)
}

func (m *Metrics) StateCorrupt(roomID string) {
	m.Corrupts.Add(1)
}

// Monitor 负载监控器：周期收集房间数、玩家数和 CPU 负载
type Monitor struct {
	rooms          *room.Manager
	metrics        *Metrics
	updateInterval time.Duration
	stopCh         chan struct{}
}

// NewMonitor 创建监控器
func NewMonitor(rooms *room.Manager, metrics *Metrics, updateInterval time.Duration) *Monitor {
	return &Monitor{
		rooms:          rooms,
		metrics:        metrics,
		updateInterval: updateInterval,
		stopCh:         make(chan struct{}),
	}
}

// Report 周期上报（独立协程运行）
func (m *Monitor) Report(ctx context.Context) {
	ticker := time.NewTicker(m.updateInterval)
	defer ticker.Stop()

	m.reportLoad()
	for {
		select {
		case <-ctx.Done():
			log.Info("Monitor 收到停止信号, 退出监控")
			return
		case <-m.stopCh:
			log.Info("Monitor 收到停止信号, 退出监控")
			return
		case <-ticker.C:
			m.reportLoad()
		}
	}
}

// Stop 停止监控器
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) reportLoad() {
	roomCount, playerCount := m.rooms.Stats()

	cpuPercent := 0.0
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	log.Info("负载上报: rooms=%d players=%d cpu=%.1f%% actions=%d windows=%d timeouts=%d corrupts=%d",
		roomCount, playerCount, cpuPercent,
		m.metrics.Actions.Load(),
		m.metrics.WindowsResolved.Load(),
		m.metrics.Timeouts.Load(),
		m.metrics.Corrupts.Load(),
	)
}
