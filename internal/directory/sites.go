package directory

import (
	"net/netip"
	"sort"
)

// Subnet 站点拓扑中的一个子网
type Subnet struct {
	Prefix netip.Prefix
	Site   string
}

// SiteMap 子网到站点的映射，按前缀长度从长到短排列
type SiteMap []Subnet

// NewSiteMap 创建站点映射
func NewSiteMap(subnets []Subnet) SiteMap {
	m := make(SiteMap, 0, len(subnets))
	for _, s := range subnets {
		if s.Prefix.IsValid() {
			m = append(m, s)
		}
	}
	sort.SliceStable(m, func(i, j int) bool {
		return m[i].Prefix.Bits() > m[j].Prefix.Bits()
	})
	return m
}

// Lookup 最长前缀匹配
func (m SiteMap) Lookup(ip netip.Addr) (string, bool) {
	ip = ip.Unmap()
	for _, s := range m {
		if s.Prefix.Contains(ip) {
			return s.Site, true
		}
	}
	return "", false
}
