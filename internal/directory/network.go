package directory

import (
	"context"
	"net/netip"
	"os"

	"github.com/pkg/errors"
)

// Resolver DNS 解析接口，*net.Resolver 满足该接口
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// SubnetSource 子网拓扑来源
type SubnetSource interface {
	ListSubnets(ctx context.Context) ([]Subnet, error)
}

// SiteNetwork 通过 DNS 与目录中的子网拓扑解析站点
type SiteNetwork struct {
	resolver  Resolver
	subnets   SubnetSource
	localSite string
	hostname  func() (string, error)

	siteMap SiteMap
	loaded  bool
}

// NewSiteNetwork 创建站点解析器，localSite 非空时直接作为本机站点
func NewSiteNetwork(resolver Resolver, subnets SubnetSource, localSite string) *SiteNetwork {
	return &SiteNetwork{
		resolver:  resolver,
		subnets:   subnets,
		localSite: localSite,
		hostname:  os.Hostname,
	}
}

// ResolveA 解析主机名的第一个 IPv4 地址
func (n *SiteNetwork) ResolveA(ctx context.Context, name string) (netip.Addr, error) {
	addrs, err := n.resolver.LookupNetIP(ctx, "ip4", name)
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "解析 %s 失败", name)
	}
	for _, addr := range addrs {
		if addr.Unmap().Is4() {
			return addr.Unmap(), nil
		}
	}
	return netip.Addr{}, errors.Wrap(ErrNoAddress, name)
}

// ResolveSite 根据子网拓扑确定 IP 所属站点
func (n *SiteNetwork) ResolveSite(ctx context.Context, ip netip.Addr) (string, error) {
	if !n.loaded {
		subnets, err := n.subnets.ListSubnets(ctx)
		if err != nil {
			return "", err
		}
		n.siteMap = NewSiteMap(subnets)
		n.loaded = true
	}

	site, ok := n.siteMap.Lookup(ip)
	if !ok {
		return "", errors.Wrap(ErrSiteNotFound, ip.String())
	}
	return site, nil
}

// LocalSite 返回本机所属站点
func (n *SiteNetwork) LocalSite(ctx context.Context) (string, error) {
	if n.localSite != "" {
		return n.localSite, nil
	}

	hostname, err := n.hostname()
	if err != nil {
		return "", errors.Wrap(err, "获取本机主机名失败")
	}
	ip, err := n.ResolveA(ctx, hostname)
	if err != nil {
		return "", err
	}
	return n.ResolveSite(ctx, ip)
}
