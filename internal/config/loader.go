package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

const (
	DefaultOutputDir            = "."
	DefaultCertreqPath          = "certreq.exe"
	DefaultCertutilPath         = "certutil.exe"
	DefaultLDAPTimeout          = 30
	DefaultInstallVerifyTimeout = 10
	DefaultJournalPath          = "dccert-journal.db"

	OIDServerAuthentication = "1.3.6.1.5.5.7.3.1"
	OIDClientAuthentication = "1.3.6.1.5.5.7.3.2"
)

var oidPattern = regexp.MustCompile(`^[0-2](\.[0-9]+)+$`)

// Override 在校验之前修改配置（命令行参数覆盖配置文件）
type Override func(*Config)

// Load 加载配置文件，path 为空时只使用默认值
func Load(path string, overrides ...Override) (*Config, error) {
	var config Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	for _, override := range overrides {
		override(&config)
	}

	setDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults 设置默认值
func setDefaults(config *Config) {
	if config.OutputDir == "" {
		config.OutputDir = DefaultOutputDir
	}
	if config.CertreqPath == "" {
		config.CertreqPath = DefaultCertreqPath
	}
	if config.CertutilPath == "" {
		config.CertutilPath = DefaultCertutilPath
	}
	if config.LDAP.Timeout == 0 {
		config.LDAP.Timeout = DefaultLDAPTimeout
	}
	if config.InstallVerifyTimeout == 0 {
		config.InstallVerifyTimeout = DefaultInstallVerifyTimeout
	}
	if len(config.RequiredEKUs) == 0 {
		config.RequiredEKUs = []string{OIDServerAuthentication, OIDClientAuthentication}
	}
	if config.Journal != nil && config.Journal.Path == "" {
		config.Journal.Path = DefaultJournalPath
	}
}

// Validate 验证配置
func Validate(config *Config) error {
	if config.LDAP.URL == "" {
		return fmt.Errorf("未配置目录服务地址 ldap.url")
	}
	if config.LDAP.Timeout < 0 {
		return fmt.Errorf("ldap.timeout 不能为负数")
	}
	if config.LDAP.BindDN != "" && config.LDAP.BindPassword == "" {
		return fmt.Errorf("配置了 ldap.bind_dn 但缺少 ldap.bind_password")
	}

	for _, oid := range config.RequiredEKUs {
		if !oidPattern.MatchString(oid) {
			return fmt.Errorf("required_ekus 中包含无效的 OID: %s", oid)
		}
	}

	if config.InstallVerifyTimeout < 0 {
		return fmt.Errorf("install_verify_timeout 不能为负数")
	}

	if config.Webhook != nil && config.Webhook.Enabled && config.Webhook.URL == "" {
		return fmt.Errorf("webhook 已启用但未配置 url")
	}

	return nil
}
