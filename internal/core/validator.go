package core

import (
	"fmt"
	"strings"
)

// Validator 证书模板校验器
type Validator struct {
	requiredEKUs []string
}

// NewValidator 创建校验器
func NewValidator(requiredEKUs []string) *Validator {
	return &Validator{requiredEKUs: requiredEKUs}
}

// TemplateRef 由目录中的模板信息构造模板引用
func (v *Validator) TemplateRef(requested, name string, presentEKUs []string) CertificateTemplateRef {
	return CertificateTemplateRef{
		RequestedName: requested,
		Name:          name,
		RequiredEKUs:  v.requiredEKUs,
		PresentEKUs:   presentEKUs,
	}
}

// CheckTemplate 模板缺少必需的扩展密钥用法时返回警告
func (v *Validator) CheckTemplate(ref CertificateTemplateRef) (Warning, bool) {
	missing := ref.MissingEKUs()
	if len(missing) == 0 {
		return Warning{}, false
	}
	return Warning{
		Kind:    TemplateComplianceWarning,
		Message: fmt.Sprintf("证书模板 %s 缺少扩展密钥用法: %s", ref.Name, strings.Join(missing, ", ")),
	}, true
}
