// Package scheduler 按各自的周期运行后台清理任务。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tempmail/inbox/internal/logger"
	"tempmail/inbox/internal/monitoring"
)

var (
	ErrUnknownJob   = errors.New("unknown job")
	ErrJobSkipped   = errors.New("job skipped")
	ErrDuplicateJob = errors.New("job already registered")
)

// Job 一个周期任务
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Lease 分布式租约，多副本部署时保证同一周期只有一个副本执行任务
type Lease interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

type jobState struct {
	Job
	running sync.Mutex
}

// Scheduler 每个任务使用独立的 ticker；上一次运行尚未结束时本次触发直接跳过
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*jobState
	order   []string
	lease   Lease
	metrics *monitoring.Metrics
	log     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建调度器
func New(metrics *monitoring.Metrics, log *zap.Logger) *Scheduler {
	return &Scheduler{
		jobs:    make(map[string]*jobState),
		metrics: metrics,
		log:     logger.Component(log, "scheduler"),
	}
}

// SetLease 启用分布式租约
func (s *Scheduler) SetLease(l Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lease = l
}

// Register 注册任务，必须在 Start 之前调用
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("invalid job %q", job.Name)
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	s.jobs[job.Name] = &jobState{Job: job}
	s.order = append(s.order, job.Name)
	return nil
}

// Jobs 返回已注册的任务名
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Start 启动所有任务，ctx 结束或调用 Stop 后退出
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	for _, name := range s.order {
		js := s.jobs[name]
		s.wg.Add(1)
		go s.loop(ctx, js)
	}
	s.log.Info("scheduler started", zap.Strings("jobs", s.order))
}

// Stop 停止调度并等待正在运行的任务结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// RunNow 立即运行一次任务，与定时触发共用同一把锁
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	js, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, js)
}

func (s *Scheduler) loop(ctx context.Context, js *jobState) {
	defer s.wg.Done()
	ticker := time.NewTicker(js.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 每次触发在独立协程中执行，长时间运行的任务不会阻塞 ticker
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				_ = s.run(ctx, js)
			}()
		}
	}
}

func (s *Scheduler) run(ctx context.Context, js *jobState) (err error) {
	log := s.log.With(zap.String("job", js.Name))
	if !js.running.TryLock() {
		s.metrics.RecordSweep(js.Name, "skipped", 0)
		log.Warn("previous run still in progress, skipping")
		return ErrJobSkipped
	}
	defer js.running.Unlock()

	s.mu.Lock()
	lease := s.lease
	s.mu.Unlock()
	if lease != nil {
		release, ok, err := lease.Acquire(ctx, js.Name, leaseTTL(js.Interval))
		if err != nil {
			s.metrics.RecordSweep(js.Name, "failed", 0)
			log.Error("failed to acquire lease", zap.Error(err))
			return err
		}
		if !ok {
			s.metrics.RecordSweep(js.Name, "skipped", 0)
			log.Debug("lease held by another replica, skipping")
			return ErrJobSkipped
		}
		// 成功时保留租约到过期，本周期内其他副本不再执行；失败时释放以便尽快重试
		defer func() {
			if err != nil {
				release()
			}
		}()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", js.Name, r)
		}
		status := "ok"
		if err != nil {
			status = "failed"
			log.Error("job failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		} else {
			log.Debug("job finished", zap.Duration("duration", time.Since(start)))
		}
		s.metrics.RecordSweep(js.Name, status, time.Since(start))
	}()

	return js.Run(ctx)
}

// leaseTTL 略短于周期，保证下一次触发时租约已过期
func leaseTTL(interval time.Duration) time.Duration {
	ttl := interval * 9 / 10
	if ttl < time.Second {
		ttl = interval
	}
	return ttl
}
