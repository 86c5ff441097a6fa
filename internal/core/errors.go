package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind 错误分类
type ErrorKind string

const (
	ResolutionError          ErrorKind = "ResolutionError"
	AuthorityError           ErrorKind = "AuthorityError"
	EncodeError              ErrorKind = "EncodeError"
	SubmitError              ErrorKind = "SubmitError"
	InstallVerificationError ErrorKind = "InstallVerificationError"
	ArtifactWriteError       ErrorKind = "ArtifactWriteError"
)

var (
	ErrNoAuthorityFound      = errors.New("未找到可用的证书颁发机构")
	ErrUnresolvedPlaceholder = errors.New("请求模板中存在未替换的占位符")
	ErrNoHosts               = errors.New("未指定任何主机")
)

// Error 某个主机在某个阶段的失败
type Error struct {
	Kind   ErrorKind
	Host   string
	Output string // 外部工具输出
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Host != "" {
		msg += " [" + e.Host + "]"
	}
	msg += ": " + e.Err.Error()
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, host string, err error) *Error {
	return &Error{Kind: kind, Host: host, Err: err}
}

func newToolError(kind ErrorKind, host string, err error, output string) *Error {
	return &Error{Kind: kind, Host: host, Err: err, Output: output}
}

// KindOf 返回错误分类
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Warning 非致命问题，只记录不中断
type Warning struct {
	Kind    string
	Message string
}

const TemplateComplianceWarning = "TemplateComplianceWarning"

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Kind, w.Message)
}
