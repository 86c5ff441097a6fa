package core

import (
	"strings"

	"github.com/pkg/errors"

	"dccert-manager/internal/directory"
)

const DefaultTemplateName = "DCServerAuthentication"

// Policy 证书颁发机构负载均衡策略
type Policy string

const (
	PolicyRandom Policy = "Random"
	PolicyADSite Policy = "ADSite"
)

// ParsePolicy 解析策略名称（不区分大小写）
func ParsePolicy(s string) (Policy, error) {
	switch {
	case s == "", strings.EqualFold(s, string(PolicyRandom)):
		return PolicyRandom, nil
	case strings.EqualFold(s, string(PolicyADSite)):
		return PolicyADSite, nil
	default:
		return "", errors.Errorf("不支持的负载均衡策略: %s (可选 Random, ADSite)", s)
	}
}

// Params 一次运行的参数
type Params struct {
	LdapVipName            string
	TemplateName           string
	ExportRequestInf       bool
	CompleteRequest        bool
	SkipCertificateInstall bool
	Policy                 Policy
}

// HostTarget 请求证书的主机
type HostTarget struct {
	Name     string                  // 调用方给出的名称
	Identity *directory.HostIdentity // 未解析时为 nil
}

// Resolved 是否已在目录中解析
func (t HostTarget) Resolved() bool {
	return t.Identity != nil
}

// FileName 用于请求与证书文件名的主机名
func (t HostTarget) FileName() string {
	if t.Identity != nil && t.Identity.NetBIOSName != "" {
		return t.Identity.NetBIOSName
	}
	return directory.ShortName(t.Name)
}

// CertificateTemplateRef 选定的证书模板
type CertificateTemplateRef struct {
	RequestedName string
	Name          string   // 目录中的模板名
	RequiredEKUs  []string // 必须包含的扩展密钥用法
	PresentEKUs   []string // 目录模板对象实际包含的扩展密钥用法
}

// MissingEKUs 返回模板缺少的扩展密钥用法
func (r CertificateTemplateRef) MissingEKUs() []string {
	present := make(map[string]struct{}, len(r.PresentEKUs))
	for _, oid := range r.PresentEKUs {
		present[oid] = struct{}{}
	}

	var missing []string
	for _, oid := range r.RequiredEKUs {
		if _, ok := present[oid]; !ok {
			missing = append(missing, oid)
		}
	}
	return missing
}

// RequestFields 替换进请求模板的值
type RequestFields struct {
	CertificateTemplate string
	SubjectDN           string
	LdapSAN             string
	HostSAN             string
	DomainSAN           string
	NetBIOSSAN          string
}

// RequestArtifact 为某个主机生成的请求文件
type RequestArtifact struct {
	Path        string // .req
	Encoded     bool
	InfPath     string // 替换后的 INF
	ExportedInf bool   // INF 是否作为可读副本保留在输出目录
	Fields      RequestFields
}

// IssuedCertificate 签发的证书
type IssuedCertificate struct {
	Path         string // .cer
	RequestPath  string // 来源请求文件
	ResponsePath string // .rsp，不存在时为空
	Authority    string
	Fingerprint  string // 仅在本机安装并确认后设置
}
