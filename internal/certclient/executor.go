package certclient

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// Runner 外部命令执行接口
type Runner interface {
	// Run 执行命令并返回合并后的标准输出与标准错误
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// Executor 命令执行器
type Executor struct {
	log *zap.SugaredLogger
}

// NewExecutor 创建执行器
func NewExecutor(log *zap.SugaredLogger) *Executor {
	return &Executor{log: log}
}

// Run 执行外部命令
func (e *Executor) Run(ctx context.Context, name string, args ...string) (string, error) {
	e.log.Debugw("执行命令", "command", name, "args", args)

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("执行命令 %s 失败: %w", name, err)
	}
	return string(out), nil
}

// RunPostCommand 执行后置命令
func (e *Executor) RunPostCommand(ctx context.Context, command string, vars map[string]string) error {
	if command == "" {
		return nil
	}

	command = ExpandVars(command, vars)
	e.log.Infow("执行后置命令", "command", command)

	shell, flag := "sh", "-c"
	if runtime.GOOS == "windows" {
		shell, flag = "cmd", "/C"
	}

	out, err := e.Run(ctx, shell, flag, command)
	if out != "" {
		e.log.Debugw("后置命令输出", "output", out)
	}
	if err != nil {
		return err
	}

	e.log.Infow("后置命令执行成功")
	return nil
}

// ExpandVars 替换命令中的 ${KEY} 变量
func ExpandVars(command string, vars map[string]string) string {
	for key, value := range vars {
		command = strings.ReplaceAll(command, "${"+key+"}", value)
	}
	return command
}

// BuildVars 构建变量映射
func BuildVars(host, requestFile, certFile, fingerprint string) map[string]string {
	return map[string]string{
		"HOST":         host,
		"REQUEST_FILE": requestFile,
		"CERT_FILE":    certFile,
		"FINGERPRINT":  fingerprint,
	}
}
