// Package scheduler 周期性后台任务 (铸币恢复、活动镜像刷新)
//
// 多实例部署时每次执行前先抢 key 为任务名的锁，抢不到即跳过本轮；
// 同一实例内上一轮未结束时新一轮同样跳过。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos-bridge/internal/metrics"
	"github.com/eidos-exchange/eidos-bridge/pkg/lock"
	"github.com/eidos-exchange/eidos-bridge/pkg/logger"
)

// Job 周期任务
type Job struct {
	Name       string
	Every      time.Duration
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Scheduler 基于 cron 的任务调度器
type Scheduler struct {
	cron   *cron.Cron
	locker lock.Locker

	mu   sync.RWMutex
	jobs map[string]*Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建调度器，locker 为 nil 时不做跨实例互斥
func New(locker lock.Locker) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	l := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		locker: locker,
		jobs:   make(map[string]*Job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register 注册任务，Every 不大于 0 时视为禁用
func (s *Scheduler) Register(job Job) error {
	if job.Every <= 0 {
		logger.Info("job disabled", zap.String("job", job.Name))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %s already registered", job.Name)
	}

	j := job
	if _, err := s.cron.AddFunc("@every "+j.Every.String(), func() { s.execute(&j) }); err != nil {
		return fmt.Errorf("schedule job %s: %w", j.Name, err)
	}
	s.jobs[j.Name] = &j

	logger.Info("job registered", zap.String("job", j.Name), zap.Duration("every", j.Every))
	return nil
}

// Start 先执行 RunOnStart 任务，再启动调度
func (s *Scheduler) Start() {
	s.mu.RLock()
	for _, j := range s.jobs {
		if j.RunOnStart {
			j := j
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.execute(j)
			}()
		}
	}
	s.mu.RUnlock()

	s.cron.Start()
	logger.Info("scheduler started")
}

// Stop 停止调度并等待执行中的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	logger.Info("scheduler stopped")
}

// Trigger 立即执行一次
func (s *Scheduler) Trigger(name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(j)
	}()
	return nil
}

func (s *Scheduler) execute(j *Job) {
	if s.ctx.Err() != nil {
		return
	}

	start := time.Now()
	run := j.Run
	if s.locker != nil {
		run = func(ctx context.Context) error {
			return s.locker.WithLock(ctx, j.Name, j.Run)
		}
	}

	err := run(s.ctx)
	elapsed := time.Since(start)
	switch {
	case err == nil:
		metrics.RecordJob(j.Name, "success", elapsed.Seconds())
	case errors.Is(err, lock.ErrLockAcquireFailed):
		metrics.RecordJob(j.Name, "skipped", 0)
		logger.Debug("job held by another instance, skipped", zap.String("job", j.Name))
	case errors.Is(err, context.Canceled):
	default:
		metrics.RecordJob(j.Name, "failed", elapsed.Seconds())
		logger.Error("job failed",
			zap.String("job", j.Name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	}
}

// cronLogger 把 cron 内部日志转到 zap
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.L().Sugar().Debugw(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.L().Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
