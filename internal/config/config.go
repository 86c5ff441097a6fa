package config

import "time"

// Config 配置结构
type Config struct {
	// 目录服务连接
	LDAP LDAPConfig `yaml:"ldap"`

	// 输出目录，请求文件与证书文件都写在这里
	OutputDir string `yaml:"output_dir"`

	// 外部证书工具
	CertreqPath  string `yaml:"certreq_path"`
	CertutilPath string `yaml:"certutil_path"`

	// 自定义请求模板(INF)路径，为空时使用内置模板
	RequestTemplate string `yaml:"request_template,omitempty"`

	// 证书模板必须包含的扩展密钥用法 OID
	RequiredEKUs []string `yaml:"required_ekus"`

	// 本机站点，为空时通过子网拓扑解析
	LocalSite string `yaml:"local_site,omitempty"`

	InstallVerifyTimeout int    `yaml:"install_verify_timeout"` // 安装后在本地证书存储中确认指纹的等待时间（秒）
	PostCommand          string `yaml:"post_command,omitempty"` // 证书签发/安装后执行的命令

	// Webhook 通知配置
	Webhook *WebhookConfig `yaml:"webhook,omitempty"`

	// 结果记录配置
	Journal *JournalConfig `yaml:"journal,omitempty"`
}

// LDAPConfig 目录服务配置
type LDAPConfig struct {
	URL                string `yaml:"url"`                        // ldap://dc1.corp.example.com
	BaseDN             string `yaml:"base_dn,omitempty"`          // 为空时读取 RootDSE 的 defaultNamingContext
	ConfigurationDN    string `yaml:"configuration_dn,omitempty"` // 为空时读取 RootDSE 的 configurationNamingContext
	BindDN             string `yaml:"bind_dn,omitempty"`
	BindPassword       string `yaml:"bind_password,omitempty"`
	StartTLS           bool   `yaml:"start_tls"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	Timeout            int    `yaml:"timeout"` // 秒
}

// TimeoutDuration 返回目录查询超时时间
func (l *LDAPConfig) TimeoutDuration() time.Duration {
	return time.Duration(l.Timeout) * time.Second
}

// WebhookConfig Webhook 通知配置
type WebhookConfig struct {
	Enabled      bool              `yaml:"enabled"`                 // 是否启用
	URL          string            `yaml:"url"`                     // Webhook URL
	Headers      map[string]string `yaml:"headers,omitempty"`       // 自定义请求头
	Events       []string          `yaml:"events,omitempty"`        // 订阅的事件类型
	Timeout      int               `yaml:"timeout,omitempty"`       // 请求超时时间（秒），默认30
	Retries      int               `yaml:"retries,omitempty"`       // 重试次数，默认3
	BodyTemplate string            `yaml:"body_template,omitempty"` // 请求体模板（JSON格式）
}

// JournalConfig 结果记录配置
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // SQLite 数据库文件
}

// VerifyTimeout 返回安装确认超时时间
func (c *Config) VerifyTimeout() time.Duration {
	return time.Duration(c.InstallVerifyTimeout) * time.Second
}
