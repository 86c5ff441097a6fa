package certclient

import (
	"context"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"encoding/pem"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"dccert-manager/internal/storage"
)

var (
	requestIDPattern  = regexp.MustCompile(`(?m)RequestId:\s*"?(\d+)"?`)
	pendingPattern    = regexp.MustCompile(`(?i)request is pending`)
	thumbprintPattern = regexp.MustCompile(`(?im)^\s*Thumbprint:\s*([0-9a-f][0-9a-f :]*)\s*$`)
)

// Certreq 通过 certreq 命令完成编码、提交与安装
type Certreq struct {
	path   string
	runner Runner
	log    *zap.SugaredLogger
}

// NewCertreq 创建 certreq 客户端
func NewCertreq(path string, runner Runner, log *zap.SugaredLogger) *Certreq {
	return &Certreq{path: path, runner: runner, log: log}
}

// Encode certreq -new
func (c *Certreq) Encode(ctx context.Context, infPath, reqPath string) Result {
	return c.produce(reqPath, func(out string) (string, error) {
		return c.runner.Run(ctx, c.path, "-new", "-q", "-f", infPath, out)
	})
}

// Submit certreq -submit
func (c *Certreq) Submit(ctx context.Context, authority, reqPath, certPath string) Result {
	res := c.produce(certPath, func(tmp string) (string, error) {
		return c.runner.Run(ctx, c.path, "-submit", "-q", "-f", "-config", authority, reqPath, tmp)
	})
	if m := requestIDPattern.FindStringSubmatch(res.Output); m != nil {
		res.RequestID = m[1]
	}
	res.Pending = pendingPattern.MatchString(res.Output)
	return res
}

// Accept certreq -accept -machine，输出中没有指纹时根据证书文件计算
func (c *Certreq) Accept(ctx context.Context, certPath string) (Result, string) {
	out, err := c.runner.Run(ctx, c.path, "-accept", "-q", "-machine", certPath)
	res := Result{Output: out, Err: err, Success: err == nil}
	if !res.Success {
		return res, ""
	}

	if m := thumbprintPattern.FindStringSubmatch(out); m != nil {
		return res, NormalizeFingerprint(m[1])
	}

	fingerprint, ferr := FingerprintFile(certPath)
	if ferr != nil {
		c.log.Warnw("无法计算证书指纹", "path", certPath, "error", ferr)
		return res, ""
	}
	return res, fingerprint
}

// produce 让 certreq 写入输出目录下新建的临时目录，只有本次生成的文件才会重命名为 target
// certreq 在证书旁写出的 .rsp 一并移动
func (c *Certreq) produce(target string, run func(out string) (string, error)) Result {
	tmpDir, err := os.MkdirTemp(filepath.Dir(target), ".certreq-")
	if err != nil {
		return Result{Err: errors.Wrap(err, "创建临时目录失败")}
	}
	defer os.RemoveAll(tmpDir)

	tmp := filepath.Join(tmpDir, filepath.Base(target))
	out, err := run(tmp)
	res := Result{Output: out, Err: err, Success: err == nil}
	if !res.Success {
		return res
	}

	if exists, statErr := storage.FileExists(tmp); statErr != nil || !exists {
		return res
	}
	if err := os.Rename(tmp, target); err != nil {
		res.Success = false
		res.Err = errors.Wrapf(err, "保存 %s 失败", target)
		return res
	}
	res.ProducedFile = target

	if exists, _ := storage.FileExists(storage.ResponsePath(tmp)); exists {
		rsp := storage.ResponsePath(target)
		if err := os.Rename(storage.ResponsePath(tmp), rsp); err != nil {
			c.log.Warnw("保存响应文件失败", "path", rsp, "error", err)
		} else {
			res.ResponseFile = rsp
		}
	}
	return res
}

// FingerprintFile 计算证书文件（PEM 或 DER）的 SHA-1 指纹
func FingerprintFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "读取证书文件失败")
	}

	der := data
	if block, _ := pem.Decode(data); block != nil {
		der = block.Bytes
	}
	if len(der) == 0 {
		return "", errors.Errorf("证书文件为空: %s", path)
	}

	sum := sha1.Sum(der) //nolint:gosec
	return NormalizeFingerprint(hex.EncodeToString(sum[:])), nil
}
