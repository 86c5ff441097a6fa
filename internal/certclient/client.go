package certclient

import (
	"context"
	"strings"
)

// Result 外部证书工具调用结果
type Result struct {
	Success      bool   // 工具报告成功
	Output       string // 工具原始输出
	ProducedFile string // 本次调用新生成的文件，没有则为空
	ResponseFile string // 随证书一起生成的 .rsp
	RequestID    string // CA 返回的请求编号
	Pending      bool   // 请求挂起等待审批
	Err          error
}

// Completed 工具报告成功且生成了文件
func (r Result) Completed() bool {
	return r.Success && r.ProducedFile != ""
}

// Client 证书请求客户端
type Client interface {
	// Encode 将 INF 请求描述编码为 PKCS#10 请求文件
	Encode(ctx context.Context, infPath, reqPath string) Result

	// Submit 向 CA 提交请求，成功时生成证书文件
	Submit(ctx context.Context, authority, reqPath, certPath string) Result

	// Accept 将证书安装到本机证书存储，返回证书指纹
	Accept(ctx context.Context, certPath string) (Result, string)
}

// Store 本机证书存储
type Store interface {
	Contains(ctx context.Context, fingerprint string) (bool, error)
}

// NormalizeFingerprint 去掉空格和冒号并转为大写
func NormalizeFingerprint(fingerprint string) string {
	r := strings.NewReplacer(" ", "", ":", "", "\t", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(fingerprint)))
}
