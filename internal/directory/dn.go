package directory

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/pkg/errors"
)

// DomainFromDN 从 DN 的 DC 组件提取域名
// 例如: CN=DC1,OU=Domain Controllers,DC=corp,DC=example,DC=com -> corp.example.com
func DomainFromDN(dn string) (string, error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", errors.Wrapf(err, "解析 DN 失败: %s", dn)
	}

	var parts []string
	for _, rdn := range parsed.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.EqualFold(attr.Type, "DC") {
				parts = append(parts, attr.Value)
			}
		}
	}
	return strings.ToLower(strings.Join(parts, ".")), nil
}

// DomainFromFQDN 从完整主机名提取域名部分
// 例如: dc1.corp.example.com -> corp.example.com
func DomainFromFQDN(fqdn string) string {
	fqdn = strings.TrimSuffix(fqdn, ".")
	if i := strings.Index(fqdn, "."); i >= 0 {
		return strings.ToLower(fqdn[i+1:])
	}
	return ""
}

// ShortName 返回主机名第一段
func ShortName(name string) string {
	name = strings.TrimSuffix(name, ".")
	if i := strings.Index(name, "."); i >= 0 {
		return name[:i]
	}
	return name
}

// FirstRDNValue 返回 DN 第一个 RDN 的值
// 例如: CN=Default-First-Site-Name,CN=Sites,CN=Configuration,... -> Default-First-Site-Name
func FirstRDNValue(dn string) (string, error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", errors.Wrapf(err, "解析 DN 失败: %s", dn)
	}
	if len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return "", errors.Errorf("DN 为空: %s", dn)
	}
	return parsed.RDNs[0].Attributes[0].Value, nil
}

// MatchHost 检查名称是否指向该主机（NetBIOS 名、完整主机名或其第一段，不区分大小写）
func MatchHost(identity HostIdentity, name string) bool {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	if name == "" {
		return false
	}
	candidates := []string{identity.NetBIOSName, identity.DNSHostName, ShortName(identity.DNSHostName)}
	for _, candidate := range candidates {
		if candidate != "" && strings.EqualFold(candidate, name) {
			return true
		}
	}
	return false
}
