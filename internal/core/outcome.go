package core

import (
	"github.com/hashicorp/go-multierror"
)

// State 单个主机流水线的状态
type State string

const (
	StateBuilt     State = "Built"
	StateEncoded   State = "Encoded"
	StateCompleted State = "Completed"
	StateSubmitted State = "Submitted"
	StateIssued    State = "Issued"
	StateInstalled State = "Installed"
	StateFailed    State = "Failed"
	StateSkipped   State = "Skipped"
)

// OutcomeKind 单个主机的最终结果
type OutcomeKind string

const (
	RequestGenerated     OutcomeKind = "RequestGenerated"
	CertificateIssued    OutcomeKind = "CertificateIssued"
	CertificateInstalled OutcomeKind = "CertificateInstalled"
	Skipped              OutcomeKind = "Skipped"
	Failed               OutcomeKind = "Failed"
)

// Outcome 单个主机的处理结果
type Outcome struct {
	Host        string
	State       State
	Request     *RequestArtifact
	Certificate *IssuedCertificate
	Reason      error
}

// Kind 由终止状态得到结果分类
func (o Outcome) Kind() OutcomeKind {
	switch o.State {
	case StateCompleted:
		return RequestGenerated
	case StateIssued:
		return CertificateIssued
	case StateInstalled:
		return CertificateInstalled
	case StateSkipped:
		return Skipped
	default:
		return Failed
	}
}

// Path 请求生成时为请求文件路径，签发后为证书文件路径
func (o Outcome) Path() string {
	if o.Certificate != nil {
		return o.Certificate.Path
	}
	if o.Request != nil {
		return o.Request.Path
	}
	return ""
}

// Fingerprint 已安装证书的指纹
func (o Outcome) Fingerprint() string {
	if o.Certificate == nil {
		return ""
	}
	return o.Certificate.Fingerprint
}

// Authority 签发证书的 CA
func (o Outcome) Authority() string {
	if o.Certificate == nil {
		return ""
	}
	return o.Certificate.Authority
}

// Detail 结果说明
func (o Outcome) Detail() string {
	switch o.Kind() {
	case CertificateInstalled:
		return o.Fingerprint()
	case Skipped, Failed:
		if o.Reason != nil {
			return o.Reason.Error()
		}
		return ""
	default:
		return o.Path()
	}
}

// Outcomes 一次运行的全部结果，按输入顺序排列
type Outcomes struct {
	RunID    string
	Items    []Outcome
	Warnings []Warning
}

func (o *Outcomes) add(outcome Outcome) {
	o.Items = append(o.Items, outcome)
}

// ByKind 返回指定分类的结果
func (o *Outcomes) ByKind(kind OutcomeKind) []Outcome {
	var out []Outcome
	for _, item := range o.Items {
		if item.Kind() == kind {
			out = append(out, item)
		}
	}
	return out
}

// Err 汇总所有失败与跳过的原因
func (o *Outcomes) Err() error {
	var result *multierror.Error
	for _, item := range o.Items {
		if item.Reason != nil {
			result = multierror.Append(result, item.Reason)
		}
	}
	return result.ErrorOrNil()
}
