package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fachebot/news-digest-bot/internal/config"
	"github.com/fachebot/news-digest-bot/internal/logger"
	"golang.org/x/time/rate"
)

// maxBackoff 单次退避等待的上限
const maxBackoff = 2 * time.Minute

// Report 一次投递的结果，索引从 0 开始并与消息顺序一致
type Report struct {
	Total     int
	Succeeded []int
	Failed    []int // 重试耗尽的消息，最多一条
	NotSent   []int // 因中止而未尝试的消息
	Err       error // 最后一次发送错误
}

// Complete 所有消息均已送达
func (r *Report) Complete() bool {
	return len(r.Succeeded) == r.Total
}

// Partial 部分消息送达
func (r *Report) Partial() bool {
	return len(r.Succeeded) > 0 && !r.Complete()
}

func (r *Report) String() string {
	return fmt.Sprintf("共 %d 条，成功 %v，失败 %v，未发送 %v", r.Total, r.Succeeded, r.Failed, r.NotSent)
}

type Notifier struct {
	sender        Sender
	limiter       *rate.Limiter
	retryTimes    int
	retryInterval time.Duration
}

func NewNotifier(sender Sender, cfg *config.Delivery) *Notifier {
	retryTimes := cfg.RetryTimes
	if retryTimes <= 0 {
		retryTimes = 1
	}
	return &Notifier{
		sender:        sender,
		limiter:       newLimiter(time.Duration(cfg.PaceMillis) * time.Millisecond),
		retryTimes:    retryTimes,
		retryInterval: time.Duration(cfg.RetryInterval) * time.Second,
	}
}

// newLimiter 保证两次发送之间至少间隔 pace，第一次发送不等待
func newLimiter(pace time.Duration) *rate.Limiter {
	if pace <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(pace), 1)
}

// Deliver 按顺序发送全部消息。单条消息重试耗尽后中止剩余发送，
// 结果中列出成功、失败与未发送的消息索引。
func (n *Notifier) Deliver(ctx context.Context, chunks []string) *Report {
	report := &Report{Total: len(chunks)}

	for i, chunk := range chunks {
		err := n.sendWithRetry(ctx, i, chunk)
		if err == nil {
			report.Succeeded = append(report.Succeeded, i)
			continue
		}

		report.Err = err
		report.Failed = append(report.Failed, i)
		for j := i + 1; j < len(chunks); j++ {
			report.NotSent = append(report.NotSent, j)
		}
		logger.Signal(logger.SignalDeliveryFailure, "[Notify] 第 %d/%d 条消息发送失败，中止剩余 %d 条: %v",
			i+1, len(chunks), len(report.NotSent), err)
		break
	}

	if report.Complete() {
		logger.Infof("[Notify] 已发送全部 %d 条消息", report.Total)
	}
	return report
}

// sendWithRetry 发送单条消息，失败后指数退避重试
func (n *Notifier) sendWithRetry(ctx context.Context, index int, chunk string) error {
	var err error
	for attempt := 1; attempt <= n.retryTimes; attempt++ {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("任务已取消: %w", err)
		}

		err = n.sender.Send(ctx, chunk)
		if err == nil {
			logger.Debugf("[Notify] 第 %d 条消息已发送", index+1)
			return nil
		}

		var deliveryErr *DeliveryError
		if errors.As(err, &deliveryErr) && !deliveryErr.Retryable() {
			logger.Warnf("[Notify] 第 %d 条消息被拒绝，不再重试: %v", index+1, err)
			return err
		}

		logger.Warnf("[Notify] 第 %d 条消息发送失败 (第 %d/%d 次): %v", index+1, attempt, n.retryTimes, err)
		if attempt < n.retryTimes {
			wait := n.backoff(attempt, err)
			select {
			case <-ctx.Done():
				return fmt.Errorf("任务已取消: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("已重试 %d 次: %w", n.retryTimes, err)
}

// backoff 第 attempt 次失败后的等待时间，服务端要求的等待时间优先
func (n *Notifier) backoff(attempt int, err error) time.Duration {
	wait := n.retryInterval << (attempt - 1)
	if wait > maxBackoff || wait < 0 {
		wait = maxBackoff
	}
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) && deliveryErr.RetryAfter > wait {
		wait = deliveryErr.RetryAfter
	}
	return wait
}
