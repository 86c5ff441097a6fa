package core

import (
	"io"
	"net"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"dccert-manager/internal/certclient"
	"dccert-manager/internal/config"
	"dccert-manager/internal/directory"
	"dccert-manager/internal/journal"
	"dccert-manager/internal/notification"
	"dccert-manager/internal/storage"
)

// Factory 根据配置组装运行所需的组件
type Factory struct {
	config *config.Config
	log    *zap.SugaredLogger
	out    io.Writer

	journal *journal.Journal
	lock    *storage.RunLock
}

// NewFactory 创建工厂
func NewFactory(cfg *config.Config, log *zap.SugaredLogger, out io.Writer) *Factory {
	return &Factory{config: cfg, log: log, out: out}
}

// RequestTemplate 读取配置的请求模板，未配置时使用内置模板
func (f *Factory) RequestTemplate() (string, error) {
	if f.config.RequestTemplate == "" {
		return DefaultRequestTemplate, nil
	}
	data, err := os.ReadFile(f.config.RequestTemplate)
	if err != nil {
		return "", errors.Wrap(err, "读取请求模板失败")
	}
	return string(data), nil
}

// Journal 打开结果记录，未启用时返回 nil
func (f *Factory) Journal() (*journal.Journal, error) {
	if f.journal != nil {
		return f.journal, nil
	}
	if f.config.Journal == nil || !f.config.Journal.Enabled {
		return nil, nil
	}
	j, err := journal.Open(f.config.Journal.Path)
	if err != nil {
		return nil, err
	}
	f.journal = j
	return j, nil
}

// Coordinator 创建批处理协调器
func (f *Factory) Coordinator() (*Coordinator, error) {
	cfg := f.config

	files := storage.NewFileStorage(cfg.OutputDir, nil)
	if err := files.EnsureDir(); err != nil {
		return nil, err
	}
	if f.lock == nil {
		lock, err := storage.AcquireRunLock(files.BaseDir())
		if err != nil {
			return nil, err
		}
		f.lock = lock
	}

	localHost, err := os.Hostname()
	if err != nil {
		return nil, errors.Wrap(err, "获取本机名称失败")
	}

	dir := directory.NewLDAPDirectory(cfg.LDAP, f.log.Named("directory"))
	network := directory.NewSiteNetwork(net.DefaultResolver, dir, cfg.LocalSite)
	executor := certclient.NewExecutor(f.log.Named("exec"))

	pipeline := NewPipeline(PipelineDeps{
		Directory:     dir,
		Selector:      NewAuthoritySelector(dir, network, nil, f.log.Named("selector")),
		Client:        certclient.NewCertreq(cfg.CertreqPath, executor, f.log.Named("certreq")),
		Store:         certclient.NewCertutilStore(cfg.CertutilPath, executor, f.log.Named("certutil")),
		Storage:       files,
		Executor:      executor,
		PostCommand:   cfg.PostCommand,
		LocalHost:     localHost,
		VerifyTimeout: cfg.VerifyTimeout(),
		Log:           f.log.Named("pipeline"),
	})

	deps := CoordinatorDeps{
		Directory: dir,
		Pipeline:  pipeline,
		Validator: NewValidator(cfg.RequiredEKUs),
		Out:       f.out,
		Log:       f.log,
	}

	j, err := f.Journal()
	if err != nil {
		return nil, err
	}
	if j != nil {
		deps.Recorder = j
	}
	if notifier := notification.NewWebhookNotifier(cfg.Webhook, f.log.Named("webhook")); notifier != nil {
		deps.Notifier = notifier
	}

	return NewCoordinator(deps), nil
}

// Close 释放打开的资源
func (f *Factory) Close() error {
	var result *multierror.Error
	if f.journal != nil {
		if err := f.journal.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		f.journal = nil
	}
	if f.lock != nil {
		if err := f.lock.Release(); err != nil {
			result = multierror.Append(result, err)
		}
		f.lock = nil
	}
	return result.ErrorOrNil()
}
