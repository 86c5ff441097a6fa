package certclient

import (
	"context"
	"regexp"

	"go.uber.org/zap"
)

var certHashPattern = regexp.MustCompile(`(?im)^\s*Cert Hash\(sha1\):\s*([0-9a-f][0-9a-f :]*)\s*$`)

// CertutilStore 通过 certutil 查询本机 My 证书存储
type CertutilStore struct {
	path   string
	runner Runner
	log    *zap.SugaredLogger
}

// NewCertutilStore 创建证书存储查询
func NewCertutilStore(path string, runner Runner, log *zap.SugaredLogger) *CertutilStore {
	return &CertutilStore{path: path, runner: runner, log: log}
}

// Contains 检查指纹对应的证书是否在本机存储中
func (s *CertutilStore) Contains(ctx context.Context, fingerprint string) (bool, error) {
	want := NormalizeFingerprint(fingerprint)
	if want == "" {
		return false, nil
	}

	out, err := s.runner.Run(ctx, s.path, "-store", "My", want)
	if err != nil {
		// 找不到证书时 certutil 以非零状态退出
		s.log.Debugw("本机证书存储中未找到证书", "fingerprint", want, "output", out)
		return false, nil
	}

	for _, m := range certHashPattern.FindAllStringSubmatch(out, -1) {
		if NormalizeFingerprint(m[1]) == want {
			return true, nil
		}
	}
	return false, nil
}
