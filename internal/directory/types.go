package directory

import (
	"context"
	"net/netip"

	"github.com/pkg/errors"
)

var (
	ErrHostNotFound      = errors.New("目录中未找到主机")
	ErrHostAmbiguous     = errors.New("目录中匹配到多个主机")
	ErrTemplateNotFound  = errors.New("目录中未找到证书模板")
	ErrTemplateAmbiguous = errors.New("目录中匹配到多个证书模板")
	ErrSiteNotFound      = errors.New("无法确定所属站点")
	ErrNoAddress         = errors.New("未解析到 IPv4 地址")
)

// HostIdentity 目录中主机对象的身份信息
type HostIdentity struct {
	DistinguishedName string // CN=DC1,OU=Domain Controllers,DC=corp,DC=example,DC=com
	DNSHostName       string // dc1.corp.example.com
	NetBIOSName       string // DC1
}

// DomainDNSRoot 返回主机所在域的 DNS 根
func (h HostIdentity) DomainDNSRoot() string {
	if domain, err := DomainFromDN(h.DistinguishedName); err == nil && domain != "" {
		return domain
	}
	return DomainFromFQDN(h.DNSHostName)
}

// AuthorityRecord 已发现的证书颁发机构
type AuthorityRecord struct {
	Name        string     // CA 名称 (cn)
	DNSHostName string     // CA 服务器主机名
	IP          netip.Addr // 解析失败时为零值
	Site        string     // 站点解析失败时为空
}

// Config 返回 certreq -config 使用的 "主机\CA名称" 形式
func (a AuthorityRecord) Config() string {
	return a.DNSHostName + `\` + a.Name
}

func (a AuthorityRecord) String() string {
	return a.Config()
}

// TemplateInfo 目录中注册的证书模板
type TemplateInfo struct {
	Name        string   // cn
	DisplayName string   // displayName
	EKUs        []string // pKIExtendedKeyUsage
}

// Directory 目录服务查询接口
type Directory interface {
	// ResolveHost 将主机名解析为唯一的目录对象
	ResolveHost(ctx context.Context, name string) (HostIdentity, error)

	// ListAuthorities 列出注册的企业证书颁发机构
	ListAuthorities(ctx context.Context) ([]AuthorityRecord, error)

	// FindTemplate 按名称或显示名称查找证书模板
	FindTemplate(ctx context.Context, name string) (TemplateInfo, error)
}

// Network 名称解析与站点拓扑接口
type Network interface {
	ResolveA(ctx context.Context, name string) (netip.Addr, error)
	ResolveSite(ctx context.Context, ip netip.Addr) (string, error)
	LocalSite(ctx context.Context) (string, error)
}
