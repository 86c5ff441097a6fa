package core

import (
	_ "embed"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"dccert-manager/internal/storage"
)

// DefaultRequestTemplate 内置的域控制器证书请求模板
//
//go:embed templates/dc_request.inf
var DefaultRequestTemplate string

const (
	PlaceholderCertificateTemplate = "${CERTIFICATE_TEMPLATE}"
	PlaceholderSubjectDN           = "${SUBJECT_DN}"
	PlaceholderLdapSAN             = "${LDAP_SAN}"
	PlaceholderHostSAN             = "${HOST_SAN}"
	PlaceholderDomainSAN           = "${DOMAIN_SAN}"
	PlaceholderNetBIOSSAN          = "${NETBIOS_SAN}"
)

var placeholderPattern = regexp.MustCompile(`\$\{[A-Za-z0-9_]+\}`)

type placeholder struct {
	token string
	value string
}

func (f RequestFields) placeholders() []placeholder {
	return []placeholder{
		{PlaceholderCertificateTemplate, f.CertificateTemplate},
		{PlaceholderSubjectDN, f.SubjectDN},
		{PlaceholderLdapSAN, f.LdapSAN},
		{PlaceholderHostSAN, f.HostSAN},
		{PlaceholderDomainSAN, f.DomainSAN},
		{PlaceholderNetBIOSSAN, f.NetBIOSSAN},
	}
}

func isKnownPlaceholder(token string) bool {
	for _, p := range (RequestFields{}).placeholders() {
		if p.token == token {
			return true
		}
	}
	return false
}

// Substitute 替换模板中的全部已知占位符，返回结果与未识别的 ${...} 标记
// 任一替换值为空或替换后仍残留已知占位符时返回 ErrUnresolvedPlaceholder
func Substitute(raw string, fields RequestFields) (string, []string, error) {
	var pairs []string
	for _, p := range fields.placeholders() {
		if strings.TrimSpace(p.value) == "" {
			return "", nil, errors.Wrapf(ErrUnresolvedPlaceholder, "%s 的替换值为空", p.token)
		}
		pairs = append(pairs, p.token, p.value)
	}

	out := strings.NewReplacer(pairs...).Replace(raw)

	var unknown []string
	for _, token := range placeholderPattern.FindAllString(out, -1) {
		if isKnownPlaceholder(token) {
			return "", nil, errors.Wrap(ErrUnresolvedPlaceholder, token)
		}
		unknown = append(unknown, token)
	}
	return out, unknown, nil
}

// RequestBuilder 根据模板生成主机的请求描述文件
type RequestBuilder struct {
	storage   *storage.FileStorage
	exportInf bool
	log       *zap.SugaredLogger
}

// NewRequestBuilder 创建请求生成器，exportInf 为 true 时在输出目录保留可读的 .inf
func NewRequestBuilder(storage *storage.FileStorage, exportInf bool, log *zap.SugaredLogger) *RequestBuilder {
	return &RequestBuilder{storage: storage, exportInf: exportInf, log: log}
}

// Build 替换模板并写出 INF，返回尚未编码的请求
func (b *RequestBuilder) Build(target HostTarget, template CertificateTemplateRef, ldapVipName, rawTemplate string) (RequestArtifact, error) {
	if !target.Resolved() {
		return RequestArtifact{}, newError(ResolutionError, target.Name, errors.New("主机尚未在目录中解析"))
	}
	identity := target.Identity

	fields := RequestFields{
		CertificateTemplate: template.Name,
		SubjectDN:           identity.DistinguishedName,
		LdapSAN:             ldapVipName,
		HostSAN:             identity.DNSHostName,
		DomainSAN:           identity.DomainDNSRoot(),
		NetBIOSSAN:          identity.NetBIOSName,
	}

	text, unknown, err := Substitute(rawTemplate, fields)
	if err != nil {
		return RequestArtifact{}, newError(ArtifactWriteError, target.Name, err)
	}
	if len(unknown) > 0 {
		b.log.Warnw("请求模板中包含未识别的占位符，已原样保留", "host", target.Name, "placeholders", unknown)
	}

	host := target.FileName()
	artifact := RequestArtifact{
		Path:        b.storage.RequestPath(host),
		InfPath:     b.storage.InfPath(host),
		ExportedInf: b.exportInf,
		Fields:      fields,
	}

	if !b.exportInf {
		dir, err := os.MkdirTemp("", "dccert-")
		if err != nil {
			return RequestArtifact{}, newError(ArtifactWriteError, target.Name, errors.Wrap(err, "创建临时目录失败"))
		}
		artifact.InfPath = filepath.Join(dir, filepath.Base(artifact.InfPath))
	}

	if err := b.storage.WriteFile(artifact.InfPath, []byte(text), 0o644); err != nil {
		b.Release(artifact)
		return RequestArtifact{}, newError(ArtifactWriteError, target.Name, err)
	}

	b.log.Debugw("已生成请求描述", "host", target.Name, "inf", artifact.InfPath)
	return artifact, nil
}

// Release 删除临时 INF，导出的 INF 保留
func (b *RequestBuilder) Release(artifact RequestArtifact) {
	if artifact.ExportedInf || artifact.InfPath == "" {
		return
	}
	if err := os.RemoveAll(filepath.Dir(artifact.InfPath)); err != nil {
		b.log.Debugw("删除临时文件失败", "path", artifact.InfPath, "error", err)
	}
}
