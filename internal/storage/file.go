package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStorage 请求与证书文件存储
type FileStorage struct {
	baseDir string
	now     func() time.Time
}

// NewFileStorage 创建文件存储，now 为 nil 时使用当前时间
func NewFileStorage(baseDir string, now func() time.Time) *FileStorage {
	if now == nil {
		now = time.Now
	}
	return &FileStorage{baseDir: baseDir, now: now}
}

// BaseDir 返回输出目录
func (s *FileStorage) BaseDir() string {
	return s.baseDir
}

// fileName 返回 <主机名>_<YYYYMMDD>.<扩展名>
func (s *FileStorage) fileName(host, ext string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s_%s.%s", host, s.now().Format("20060102"), ext))
}

// RequestPath 获取请求文件路径
func (s *FileStorage) RequestPath(host string) string {
	return s.fileName(host, "req")
}

// InfPath 获取可读请求文件路径
func (s *FileStorage) InfPath(host string) string {
	return s.fileName(host, "inf")
}

// CertificatePath 获取证书文件路径
func (s *FileStorage) CertificatePath(host string) string {
	return s.fileName(host, "cer")
}

// ResponsePath 获取签发响应文件路径，certreq 在证书旁写入同名 .rsp
func ResponsePath(certPath string) string {
	return strings.TrimSuffix(certPath, filepath.Ext(certPath)) + ".rsp"
}

// EnsureDir 创建输出目录
func (s *FileStorage) EnsureDir() error {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	return nil
}

// WriteFile 先写临时文件再重命名，避免中途失败留下损坏的文件
func (s *FileStorage) WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("写入文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("写入文件失败: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("设置文件权限失败: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("重命名文件失败: %w", err)
	}
	return nil
}

// FileExists 检查文件是否存在
func FileExists(file string) (bool, error) {
	if _, err := os.Stat(file); err != nil && os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}
