package core

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"dccert-manager/internal/certclient"
	"dccert-manager/internal/directory"
	"dccert-manager/internal/retry"
	"dccert-manager/internal/storage"
)

const verifyInterval = 500 * time.Millisecond

// PostCommandRunner 执行证书签发后的命令
type PostCommandRunner interface {
	RunPostCommand(ctx context.Context, command string, vars map[string]string) error
}

// PipelineDeps 流水线依赖
type PipelineDeps struct {
	Directory     directory.Directory
	Selector      *AuthoritySelector
	Client        certclient.Client
	Store         certclient.Store
	Storage       *storage.FileStorage
	Executor      PostCommandRunner
	PostCommand   string
	LocalHost     string
	VerifyTimeout time.Duration
	Log           *zap.SugaredLogger
}

// Pipeline 单个主机的证书请求流水线
// Built → Encoded → {Completed | Submitted → {Installed | Issued}} | Failed | Skipped
type Pipeline struct {
	PipelineDeps
}

// NewPipeline 创建流水线
func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{PipelineDeps: deps}
}

// Run 处理单个主机，single 表示本次运行只有这一个主机
// 返回的 error 非空时 Outcome 处于 Failed 或 Skipped 状态
func (p *Pipeline) Run(ctx context.Context, name string, template CertificateTemplateRef, params Params, rawTemplate string, single bool) (Outcome, error) {
	log := p.Log.With("host", name)
	outcome := Outcome{Host: name}

	fail := func(state State, err *Error) (Outcome, error) {
		outcome.State = state
		outcome.Reason = err
		return outcome, err
	}

	// 1. 在目录中解析主机
	identity, err := p.Directory.ResolveHost(ctx, name)
	if err != nil {
		state := StateFailed
		if !single {
			state = StateSkipped
		}
		return fail(state, newError(ResolutionError, name, err))
	}
	target := HostTarget{Name: name, Identity: &identity}
	log.Debugw("主机已解析", "dn", identity.DistinguishedName, "dns", identity.DNSHostName)

	// 2. 生成请求描述
	builder := NewRequestBuilder(p.Storage, params.ExportRequestInf, log)
	artifact, err := builder.Build(target, template, params.LdapVipName, rawTemplate)
	if err != nil {
		return fail(StateFailed, asError(err, ArtifactWriteError, name))
	}
	outcome.State = StateBuilt
	outcome.Request = &artifact

	// 3. 编码请求
	res := p.Client.Encode(ctx, artifact.InfPath, artifact.Path)
	builder.Release(artifact)
	if !res.Completed() {
		return fail(StateFailed, newToolError(EncodeError, name, toolError(res, "编码请求失败"), res.Output))
	}
	artifact.Encoded = true
	outcome.State = StateEncoded
	log.Infow("请求文件已生成", "path", artifact.Path)

	if !params.CompleteRequest {
		outcome.State = StateCompleted
		return outcome, nil
	}

	// 4. 选择证书颁发机构并提交
	authority, err := p.Selector.Select(ctx, params.Policy)
	if err != nil {
		return fail(StateFailed, newError(AuthorityError, name, err))
	}

	certPath := p.Storage.CertificatePath(target.FileName())
	log.Infow("提交证书请求", "authority", authority.Config(), "request", artifact.Path)
	res = p.Client.Submit(ctx, authority.Config(), artifact.Path, certPath)
	// 挂起的请求即使留下了证书文件也不算签发
	if res.Pending || !res.Completed() {
		return fail(StateFailed, newToolError(SubmitError, name, submitError(res, authority), res.Output))
	}

	certificate := &IssuedCertificate{
		Path:         res.ProducedFile,
		RequestPath:  artifact.Path,
		ResponsePath: res.ResponseFile,
		Authority:    authority.Config(),
	}
	outcome.Certificate = certificate
	outcome.State = StateSubmitted
	log.Infow("证书已签发", "path", certPath, "authority", authority.Config())

	// 5. 仅在单主机且目标为本机时安装
	if !p.shouldInstall(identity, params, single) {
		outcome.State = StateIssued
		p.runPostCommand(ctx, log, target, certificate)
		return outcome, nil
	}

	fingerprint, ierr := p.install(ctx, name, certificate)
	if ierr != nil {
		return fail(StateFailed, ierr)
	}
	certificate.Fingerprint = fingerprint
	outcome.State = StateInstalled
	log.Infow("证书已安装到本机", "fingerprint", fingerprint)

	p.runPostCommand(ctx, log, target, certificate)
	return outcome, nil
}

// shouldInstall 单主机、目标为本机且未跳过安装
func (p *Pipeline) shouldInstall(identity directory.HostIdentity, params Params, single bool) bool {
	return single && !params.SkipCertificateInstall && directory.MatchHost(identity, p.LocalHost)
}

// install 安装证书并确认指纹出现在本机证书存储中
func (p *Pipeline) install(ctx context.Context, host string, certificate *IssuedCertificate) (string, *Error) {
	res, fingerprint := p.Client.Accept(ctx, certificate.Path)
	if !res.Success {
		return "", newToolError(InstallVerificationError, host, toolError(res, "安装证书失败"), res.Output)
	}
	if fingerprint == "" {
		return "", newToolError(InstallVerificationError, host, errors.New("安装后未获得证书指纹"), res.Output)
	}

	err := retry.UntilSuccess(ctx, func() error {
		found, err := p.Store.Contains(ctx, fingerprint)
		if err != nil {
			return err
		}
		if !found {
			return errors.Errorf("本机证书存储中未找到指纹为 %s 的证书", fingerprint)
		}
		return nil
	}, p.VerifyTimeout, verifyInterval)
	if err != nil {
		return "", newError(InstallVerificationError, host, err)
	}
	return fingerprint, nil
}

// runPostCommand 后置命令失败只记录日志
func (p *Pipeline) runPostCommand(ctx context.Context, log *zap.SugaredLogger, target HostTarget, certificate *IssuedCertificate) {
	if p.PostCommand == "" || p.Executor == nil {
		return
	}
	vars := certclient.BuildVars(target.FileName(), certificate.RequestPath, certificate.Path, certificate.Fingerprint)
	if err := p.Executor.RunPostCommand(ctx, p.PostCommand, vars); err != nil {
		log.Warnw("执行后置命令失败", "error", err)
	}
}

// toolError 外部工具失败的原因
func toolError(res certclient.Result, msg string) error {
	if res.Err != nil {
		return errors.Wrap(res.Err, msg)
	}
	return errors.Errorf("%s: 工具未生成输出文件", msg)
}

func submitError(res certclient.Result, authority directory.AuthorityRecord) error {
	if res.Pending {
		return errors.Errorf("请求已提交到 %s 但处于挂起状态 (RequestId: %s)，批准后使用 certreq -retrieve -config %q %s 获取证书",
			authority.Config(), res.RequestID, authority.Config(), res.RequestID)
	}
	return toolError(res, "提交请求到 "+authority.Config()+" 失败")
}

// asError 保留已分类的错误，否则按 kind 分类
func asError(err error, kind ErrorKind, host string) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(kind, host, err)
}
