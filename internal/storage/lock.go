package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"

	"github.com/hashicorp/go-multierror"
)

// LockFileName 输出目录中的运行锁文件
const LockFileName = "dccert-manager.pid"

// RunLock 输出目录的运行锁，同一目录同时只允许一次运行
type RunLock struct {
	path string
}

// AcquireRunLock 在目录中写入当前进程 PID，已有运行中的进程时返回错误
// 进程已退出留下的锁文件会被清理
func AcquireRunLock(dir string) (*RunLock, error) {
	path := filepath.Join(dir, LockFileName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("写入锁文件失败: %w", multierror.Append(werr, cerr).ErrorOrNil())
			}
			return &RunLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("创建锁文件失败: %w", err)
		}

		if pid, running := lockHolder(path); running {
			return nil, fmt.Errorf("输出目录 %s 正被另一个进程使用，PID: %d", dir, pid)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("清理过期锁文件失败: %w", err)
		}
	}
	return nil, fmt.Errorf("无法获取输出目录 %s 的运行锁", dir)
}

// Release 删除锁文件
func (l *RunLock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除锁文件失败: %w", err)
	}
	return nil
}

// lockHolder 读取锁文件中的 PID 并检查进程是否存在
func lockHolder(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// Windows 上 FindProcess 只对存在的进程成功
	if runtime.GOOS == "windows" {
		return pid, true
	}

	// 发送信号 0 检查进程是否存在
	err = process.Signal(syscall.Signal(0))
	return pid, err == nil
}
