package core

import (
	"context"
	"math/rand/v2"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"dccert-manager/internal/directory"
)

// Chooser 在 [0, n) 中均匀选择，*rand.Rand 满足该接口
type Chooser interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int {
	return rand.IntN(n)
}

// AuthoritySelector 证书颁发机构选择器
type AuthoritySelector struct {
	directory directory.Directory
	network   directory.Network
	chooser   Chooser
	log       *zap.SugaredLogger
}

// NewAuthoritySelector 创建选择器，chooser 为 nil 时使用全局随机源
func NewAuthoritySelector(dir directory.Directory, network directory.Network, chooser Chooser, log *zap.SugaredLogger) *AuthoritySelector {
	if chooser == nil {
		chooser = globalRand{}
	}
	return &AuthoritySelector{
		directory: dir,
		network:   network,
		chooser:   chooser,
		log:       log,
	}
}

// Catalog 枚举目录中的证书颁发机构并解析地址与站点
func (s *AuthoritySelector) Catalog(ctx context.Context) ([]directory.AuthorityRecord, error) {
	authorities, err := s.directory.ListAuthorities(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "枚举证书颁发机构失败")
	}

	catalog := make([]directory.AuthorityRecord, 0, len(authorities))
	for _, authority := range authorities {
		ip, err := s.network.ResolveA(ctx, authority.DNSHostName)
		if err != nil {
			s.log.Warnw("无法解析证书颁发机构地址", "authority", authority.Config(), "error", err)
			catalog = append(catalog, authority)
			continue
		}
		authority.IP = ip

		site, err := s.network.ResolveSite(ctx, ip)
		if err != nil {
			s.log.Debugw("无法确定证书颁发机构站点", "authority", authority.Config(), "ip", ip, "error", err)
		} else {
			authority.Site = site
		}

		s.log.Debugw("发现证书颁发机构", "authority", authority.Config(), "ip", authority.IP, "site", authority.Site)
		catalog = append(catalog, authority)
	}

	return catalog, nil
}

// Select 按策略选择一个证书颁发机构。
// 每次调用都重新构建目录，不跨主机缓存，每台主机看到的都是当时的目录和 DNS 状态
func (s *AuthoritySelector) Select(ctx context.Context, policy Policy) (directory.AuthorityRecord, error) {
	catalog, err := s.Catalog(ctx)
	if err != nil {
		return directory.AuthorityRecord{}, err
	}
	if len(catalog) == 0 {
		return directory.AuthorityRecord{}, ErrNoAuthorityFound
	}

	if policy == PolicyADSite {
		if selected, ok := s.selectBySite(ctx, catalog); ok {
			return selected, nil
		}
	}

	selected := s.pick(catalog)
	s.log.Infow("随机选择证书颁发机构", "authority", selected.Config(), "candidates", len(catalog))
	return selected, nil
}

// selectBySite 在与本机同站点的证书颁发机构中随机选择，没有匹配时返回 false
func (s *AuthoritySelector) selectBySite(ctx context.Context, catalog []directory.AuthorityRecord) (directory.AuthorityRecord, bool) {
	localSite, err := s.network.LocalSite(ctx)
	if err != nil || localSite == "" {
		s.log.Warnw("无法确定本机站点，改为随机选择", "error", err)
		return directory.AuthorityRecord{}, false
	}

	var matches []directory.AuthorityRecord
	for _, authority := range catalog {
		if authority.Site != "" && strings.EqualFold(authority.Site, localSite) {
			matches = append(matches, authority)
		}
	}
	if len(matches) == 0 {
		s.log.Infow("本站点没有证书颁发机构，改为随机选择", "site", localSite)
		return directory.AuthorityRecord{}, false
	}

	selected := s.pick(matches)
	s.log.Infow("按站点选择证书颁发机构", "authority", selected.Config(), "site", localSite, "candidates", len(matches))
	return selected, true
}

func (s *AuthoritySelector) pick(candidates []directory.AuthorityRecord) directory.AuthorityRecord {
	return candidates[s.chooser.IntN(len(candidates))]
}
