package core

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"dccert-manager/internal/directory"
	"dccert-manager/internal/journal"
	"dccert-manager/internal/notification"
)

// Recorder 记录每个主机的处理结果
type Recorder interface {
	Record(ctx context.Context, entry journal.Entry) error
}

// Notifier 发送处理结果通知
type Notifier interface {
	Notify(ctx context.Context, eventType notification.EventType, host, message string, data map[string]interface{}) error
}

// CoordinatorDeps 批处理依赖
type CoordinatorDeps struct {
	Directory directory.Directory
	Pipeline  *Pipeline
	Validator *Validator
	Recorder  Recorder // 可为 nil
	Notifier  Notifier // 可为 nil
	Out       io.Writer
	Log       *zap.SugaredLogger
	Now       func() time.Time
	NewRunID  func() string
}

// Coordinator 依次处理全部主机并汇总结果
type Coordinator struct {
	CoordinatorDeps
}

// NewCoordinator 创建批处理协调器
func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	return &Coordinator{CoordinatorDeps: deps}
}

// Run 处理全部主机
// 只有一个主机时任何阶段失败都会中止运行并返回错误，不输出汇总；
// 多个主机时失败记录在对应主机上，继续处理下一个主机，最后输出汇总。
func (c *Coordinator) Run(ctx context.Context, hostNames []string, params Params, rawTemplate string) (*Outcomes, error) {
	if len(hostNames) == 0 {
		return nil, ErrNoHosts
	}
	isSingleTarget := len(hostNames) == 1

	outcomes := &Outcomes{RunID: c.NewRunID()}
	log := c.Log.With("run_id", outcomes.RunID)
	log.Infow("========== 开始处理 ==========",
		"hosts", len(hostNames), "template", params.TemplateName,
		"complete_request", params.CompleteRequest, "load_balancing", params.Policy)

	template, err := c.resolveTemplate(ctx, params.TemplateName)
	if err != nil {
		return nil, err
	}
	if warning, ok := c.Validator.CheckTemplate(template); ok {
		log.Warnw(warning.Message, "kind", warning.Kind)
		outcomes.Warnings = append(outcomes.Warnings, warning)
	}

	// 已开始的主机总会运行到终止状态，中断只在主机之间生效
	hostCtx := context.WithoutCancel(ctx)

	for i, name := range hostNames {
		if err := ctx.Err(); err != nil {
			if isSingleTarget {
				return nil, err
			}
			log.Warnw("运行已中断，跳过剩余主机", "remaining", len(hostNames)-i)
			for _, rest := range hostNames[i:] {
				skipped := Outcome{Host: rest, State: StateSkipped, Reason: errors.Wrap(err, "运行已中断")}
				outcomes.add(skipped)
				c.report(hostCtx, outcomes.RunID, skipped)
			}
			break
		}

		log.Infow("========== 处理主机 ==========", "host", name)
		outcome, err := c.Pipeline.Run(hostCtx, name, template, params, rawTemplate, isSingleTarget)
		c.report(hostCtx, outcomes.RunID, outcome)

		if err != nil {
			if isSingleTarget {
				log.Errorw("处理主机失败", "host", name, "error", err)
				return nil, err
			}
			log.Errorw("处理主机失败，继续处理下一个主机", "host", name, "state", outcome.State, "error", err)
		}
		outcomes.add(outcome)
	}

	WriteSummary(c.Out, outcomes, params)

	if err := outcomes.Err(); err != nil {
		log.Warnw("部分主机处理失败", "error", err)
	}
	log.Infow("========== 处理完成 ==========",
		"generated", len(outcomes.ByKind(RequestGenerated)),
		"issued", len(outcomes.ByKind(CertificateIssued)),
		"installed", len(outcomes.ByKind(CertificateInstalled)),
		"skipped", len(outcomes.ByKind(Skipped)),
		"failed", len(outcomes.ByKind(Failed)))
	return outcomes, nil
}

// resolveTemplate 在目录中查找证书模板，失败时总是中止运行
func (c *Coordinator) resolveTemplate(ctx context.Context, name string) (CertificateTemplateRef, error) {
	if name == "" {
		name = DefaultTemplateName
	}
	info, err := c.Directory.FindTemplate(ctx, name)
	if err != nil {
		return CertificateTemplateRef{}, newError(ResolutionError, "", err)
	}
	return c.Validator.TemplateRef(name, info.Name, info.EKUs), nil
}

// report 记录并通知单个主机的结果，失败只记录日志
func (c *Coordinator) report(ctx context.Context, runID string, outcome Outcome) {
	if c.Recorder != nil {
		entry := journal.Entry{
			RunID:       runID,
			Host:        outcome.Host,
			Kind:        string(outcome.Kind()),
			Detail:      outcome.Detail(),
			Authority:   outcome.Authority(),
			Fingerprint: outcome.Fingerprint(),
			CreatedAt:   c.Now(),
		}
		if err := c.Recorder.Record(ctx, entry); err != nil {
			c.Log.Warnw("记录处理结果失败", "host", outcome.Host, "error", err)
		}
	}

	if c.Notifier != nil {
		eventType, message, data := notificationFor(outcome)
		data["run_id"] = runID
		if err := c.Notifier.Notify(ctx, eventType, outcome.Host, message, data); err != nil {
			c.Log.Warnw("发送通知失败", "host", outcome.Host, "error", err)
		}
	}
}

func notificationFor(outcome Outcome) (notification.EventType, string, map[string]interface{}) {
	switch outcome.Kind() {
	case RequestGenerated:
		return notification.EventRequestGenerated, "证书请求已生成: " + outcome.Host,
			map[string]interface{}{"path": outcome.Path()}
	case CertificateIssued:
		return notification.EventCertificateIssued, "证书已签发: " + outcome.Host,
			map[string]interface{}{"path": outcome.Path(), "authority": outcome.Authority()}
	case CertificateInstalled:
		return notification.EventCertificateInstalled, "证书已安装: " + outcome.Host,
			map[string]interface{}{"fingerprint": outcome.Fingerprint(), "authority": outcome.Authority()}
	case Skipped:
		return notification.EventHostSkipped, "主机已跳过: " + outcome.Host,
			map[string]interface{}{"reason": outcome.Detail()}
	default:
		return notification.EventHostFailed, "主机处理失败: " + outcome.Host,
			map[string]interface{}{"reason": outcome.Detail()}
	}
}
