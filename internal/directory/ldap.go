package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"dccert-manager/internal/config"
)

const (
	publicKeyServicesRDN   = "CN=Public Key Services,CN=Services"
	enrollmentServicesRDN  = "CN=Enrollment Services," + publicKeyServicesRDN
	certificateTemplateRDN = "CN=Certificate Templates," + publicKeyServicesRDN
	subnetsRDN             = "CN=Subnets,CN=Sites"
)

// conn 目录连接中用到的操作
type conn interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

type dialFunc func(ctx context.Context) (conn, error)

// LDAPDirectory 基于 LDAP 的目录服务实现
type LDAPDirectory struct {
	cfg  config.LDAPConfig
	dial dialFunc
	log  *zap.SugaredLogger

	baseDN          string
	configurationDN string
}

// NewLDAPDirectory 创建目录服务客户端
func NewLDAPDirectory(cfg config.LDAPConfig, log *zap.SugaredLogger) *LDAPDirectory {
	d := &LDAPDirectory{
		cfg:             cfg,
		log:             log,
		baseDN:          cfg.BaseDN,
		configurationDN: cfg.ConfigurationDN,
	}
	d.dial = d.dialLDAP
	return d
}

// dialLDAP 建立连接并完成绑定
func (d *LDAPDirectory) dialLDAP(ctx context.Context) (conn, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: d.cfg.InsecureSkipVerify, //nolint:gosec
	}
	if u, err := url.Parse(d.cfg.URL); err == nil {
		tlsConfig.ServerName = u.Hostname()
	}

	dialer := &net.Dialer{Timeout: d.cfg.TimeoutDuration()}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	c, err := ldap.DialURL(d.cfg.URL, ldap.DialWithDialer(dialer), ldap.DialWithTLSConfig(tlsConfig))
	if err != nil {
		return nil, errors.Wrapf(err, "连接目录服务 %s 失败", d.cfg.URL)
	}
	c.SetTimeout(d.cfg.TimeoutDuration())

	if d.cfg.StartTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			_ = c.Close()
			return nil, errors.Wrap(err, "StartTLS 失败")
		}
	}

	if d.cfg.BindDN != "" {
		if err := c.Bind(d.cfg.BindDN, d.cfg.BindPassword); err != nil {
			_ = c.Close()
			return nil, errors.Wrapf(err, "绑定 %s 失败", d.cfg.BindDN)
		}
	}

	return c, nil
}

// withConn 打开连接、确认命名上下文后执行 fn
func (d *LDAPDirectory) withConn(ctx context.Context, fn func(c conn) error) error {
	c, err := d.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := d.ensureNamingContexts(c); err != nil {
		return err
	}
	return fn(c)
}

// ensureNamingContexts 未配置时从 RootDSE 读取 defaultNamingContext 与 configurationNamingContext
func (d *LDAPDirectory) ensureNamingContexts(c conn) error {
	if d.baseDN != "" && d.configurationDN != "" {
		return nil
	}

	req := ldap.NewSearchRequest("", ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)", []string{"defaultNamingContext", "configurationNamingContext"}, nil)
	res, err := c.Search(req)
	if err != nil {
		return errors.Wrap(err, "读取 RootDSE 失败")
	}
	if len(res.Entries) == 0 {
		return errors.New("RootDSE 为空")
	}

	rootDSE := res.Entries[0]
	if d.baseDN == "" {
		d.baseDN = rootDSE.GetAttributeValue("defaultNamingContext")
	}
	if d.configurationDN == "" {
		d.configurationDN = rootDSE.GetAttributeValue("configurationNamingContext")
		if d.configurationDN == "" && d.baseDN != "" {
			d.configurationDN = "CN=Configuration," + d.baseDN
		}
	}
	if d.baseDN == "" || d.configurationDN == "" {
		return errors.New("无法确定目录命名上下文，请配置 ldap.base_dn")
	}

	d.log.Debugw("目录命名上下文", "base_dn", d.baseDN, "configuration_dn", d.configurationDN)
	return nil
}

// hostFilter 构造主机查询过滤器
func hostFilter(name string) string {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	escaped := ldap.EscapeFilter(name)
	if strings.Contains(name, ".") {
		return fmt.Sprintf("(&(objectCategory=computer)(dNSHostName=%s))", escaped)
	}
	return fmt.Sprintf("(&(objectCategory=computer)(|(sAMAccountName=%s$)(name=%s)))", escaped, escaped)
}

// ResolveHost 将主机名解析为唯一的目录对象
func (d *LDAPDirectory) ResolveHost(ctx context.Context, name string) (HostIdentity, error) {
	var identity HostIdentity

	err := d.withConn(ctx, func(c conn) error {
		req := ldap.NewSearchRequest(d.baseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 2, 0, false,
			hostFilter(name), []string{"dNSHostName", "sAMAccountName", "name"}, nil)
		res, err := c.Search(req)
		if err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
			return errors.Wrapf(err, "查询主机 %s 失败", name)
		}

		var entries []*ldap.Entry
		if res != nil {
			entries = res.Entries
		}
		switch {
		case len(entries) == 0:
			return errors.Wrap(ErrHostNotFound, name)
		case len(entries) > 1:
			return errors.Wrapf(ErrHostAmbiguous, "%s (%d 个结果)", name, len(entries))
		}

		entry := entries[0]
		identity = HostIdentity{
			DistinguishedName: entry.DN,
			DNSHostName:       entry.GetAttributeValue("dNSHostName"),
			NetBIOSName:       strings.TrimSuffix(entry.GetAttributeValue("sAMAccountName"), "$"),
		}
		if identity.NetBIOSName == "" {
			identity.NetBIOSName = entry.GetAttributeValue("name")
		}
		if identity.DNSHostName == "" {
			return errors.Errorf("主机对象 %s 缺少 dNSHostName", entry.DN)
		}
		return nil
	})

	return identity, err
}

// ListAuthorities 列出注册的企业证书颁发机构
func (d *LDAPDirectory) ListAuthorities(ctx context.Context) ([]AuthorityRecord, error) {
	var authorities []AuthorityRecord

	err := d.withConn(ctx, func(c conn) error {
		base := enrollmentServicesRDN + "," + d.configurationDN
		req := ldap.NewSearchRequest(base, ldap.ScopeSingleLevel, ldap.NeverDerefAliases, 0, 0, false,
			"(objectClass=pKIEnrollmentService)", []string{"cn", "dNSHostName"}, nil)
		res, err := c.Search(req)
		if err != nil {
			if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
				return nil
			}
			return errors.Wrap(err, "查询证书颁发机构失败")
		}

		for _, entry := range res.Entries {
			record := AuthorityRecord{
				Name:        entry.GetAttributeValue("cn"),
				DNSHostName: entry.GetAttributeValue("dNSHostName"),
			}
			if record.Name == "" || record.DNSHostName == "" {
				d.log.Warnw("忽略不完整的证书颁发机构对象", "dn", entry.DN)
				continue
			}
			authorities = append(authorities, record)
		}
		return nil
	})

	return authorities, err
}

// FindTemplate 按名称或显示名称查找证书模板
func (d *LDAPDirectory) FindTemplate(ctx context.Context, name string) (TemplateInfo, error) {
	var info TemplateInfo

	err := d.withConn(ctx, func(c conn) error {
		base := certificateTemplateRDN + "," + d.configurationDN
		escaped := ldap.EscapeFilter(name)
		filter := fmt.Sprintf("(&(objectClass=pKICertificateTemplate)(|(cn=%s)(displayName=%s)))", escaped, escaped)
		req := ldap.NewSearchRequest(base, ldap.ScopeSingleLevel, ldap.NeverDerefAliases, 0, 0, false,
			filter, []string{"cn", "displayName", "pKIExtendedKeyUsage"}, nil)
		res, err := c.Search(req)
		if err != nil {
			return errors.Wrapf(err, "查询证书模板 %s 失败", name)
		}

		switch {
		case len(res.Entries) == 0:
			return errors.Wrap(ErrTemplateNotFound, name)
		case len(res.Entries) > 1:
			return errors.Wrapf(ErrTemplateAmbiguous, "%s (%d 个结果)", name, len(res.Entries))
		}

		entry := res.Entries[0]
		info = TemplateInfo{
			Name:        entry.GetAttributeValue("cn"),
			DisplayName: entry.GetAttributeValue("displayName"),
			EKUs:        entry.GetAttributeValues("pKIExtendedKeyUsage"),
		}
		return nil
	})

	return info, err
}

// ListSubnets 列出站点拓扑中的子网及其所属站点
func (d *LDAPDirectory) ListSubnets(ctx context.Context) ([]Subnet, error) {
	var subnets []Subnet

	err := d.withConn(ctx, func(c conn) error {
		base := subnetsRDN + "," + d.configurationDN
		req := ldap.NewSearchRequest(base, ldap.ScopeSingleLevel, ldap.NeverDerefAliases, 0, 0, false,
			"(objectClass=subnet)", []string{"cn", "siteObject"}, nil)
		res, err := c.Search(req)
		if err != nil {
			return errors.Wrap(err, "查询站点子网失败")
		}

		for _, entry := range res.Entries {
			prefix, err := netip.ParsePrefix(entry.GetAttributeValue("cn"))
			if err != nil {
				d.log.Debugw("忽略无法解析的子网", "dn", entry.DN, "error", err)
				continue
			}
			siteObject := entry.GetAttributeValue("siteObject")
			if siteObject == "" {
				continue
			}
			site, err := FirstRDNValue(siteObject)
			if err != nil {
				d.log.Debugw("忽略无法解析的站点", "dn", entry.DN, "error", err)
				continue
			}
			subnets = append(subnets, Subnet{Prefix: prefix.Masked(), Site: site})
		}
		return nil
	})

	return subnets, err
}
