package core

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"dccert-manager/internal/certclient"
	"dccert-manager/internal/directory"
	"dccert-manager/internal/journal"
	"dccert-manager/internal/notification"
)

var testNow = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func identity(name string) directory.HostIdentity {
	return directory.HostIdentity{
		DistinguishedName: "CN=" + name + ",OU=Domain Controllers,DC=corp,DC=example,DC=com",
		DNSHostName:       strings.ToLower(name) + ".corp.example.com",
		NetBIOSName:       name,
	}
}

type fakeDirectory struct {
	hosts       map[string]directory.HostIdentity
	authorities []directory.AuthorityRecord
	listErr     error
	template    directory.TemplateInfo
	templateErr error
}

func newFakeDirectory(hosts ...string) *fakeDirectory {
	d := &fakeDirectory{
		hosts: map[string]directory.HostIdentity{},
		authorities: []directory.AuthorityRecord{
			{Name: "Corp-CA1", DNSHostName: "ca1.corp.example.com"},
		},
		template: directory.TemplateInfo{
			Name: DefaultTemplateName,
			EKUs: []string{"1.3.6.1.5.5.7.3.1", "1.3.6.1.5.5.7.3.2"},
		},
	}
	for _, h := range hosts {
		d.hosts[strings.ToLower(h)] = identity(h)
	}
	return d
}

func (d *fakeDirectory) ResolveHost(_ context.Context, name string) (directory.HostIdentity, error) {
	if id, ok := d.hosts[strings.ToLower(name)]; ok {
		return id, nil
	}
	return directory.HostIdentity{}, errors.Wrap(directory.ErrHostNotFound, name)
}

func (d *fakeDirectory) ListAuthorities(context.Context) ([]directory.AuthorityRecord, error) {
	return d.authorities, d.listErr
}

func (d *fakeDirectory) FindTemplate(_ context.Context, name string) (directory.TemplateInfo, error) {
	if d.templateErr != nil {
		return directory.TemplateInfo{}, d.templateErr
	}
	info := d.template
	if name != DefaultTemplateName {
		info.Name = name
	}
	return info, nil
}

type fakeNetwork struct {
	addrs     map[string]netip.Addr
	sites     map[netip.Addr]string
	localSite string
	localErr  error
}

func (n *fakeNetwork) ResolveA(_ context.Context, name string) (netip.Addr, error) {
	if ip, ok := n.addrs[name]; ok {
		return ip, nil
	}
	return netip.Addr{}, errors.Wrap(directory.ErrNoAddress, name)
}

func (n *fakeNetwork) ResolveSite(_ context.Context, ip netip.Addr) (string, error) {
	if site, ok := n.sites[ip]; ok {
		return site, nil
	}
	return "", directory.ErrSiteNotFound
}

func (n *fakeNetwork) LocalSite(context.Context) (string, error) {
	return n.localSite, n.localErr
}

// fakeChooser 记录候选数量并返回固定下标
type fakeChooser struct {
	index int
	seen  []int
}

func (c *fakeChooser) IntN(n int) int {
	c.seen = append(c.seen, n)
	if c.index >= n {
		return n - 1
	}
	return c.index
}

type fakeClient struct {
	encodeErr     error
	encodeFailFor string // 只对该主机的请求编码失败
	encodeNoFile  bool
	submitErr     error
	submitNoFile  bool
	submitPending bool
	response      bool
	acceptErr     error
	fingerprint   string

	infs      []string
	submitted []string
	accepted  []string
}

func (c *fakeClient) Encode(_ context.Context, infPath, reqPath string) certclient.Result {
	data, _ := os.ReadFile(infPath)
	c.infs = append(c.infs, string(data))
	if c.encodeErr != nil || (c.encodeFailFor != "" && strings.HasPrefix(filepath.Base(reqPath), c.encodeFailFor+"_")) {
		return certclient.Result{Err: c.encodeErr, Output: "CertReq: Template not found."}
	}
	if c.encodeNoFile {
		return certclient.Result{Success: true}
	}
	if err := os.WriteFile(reqPath, []byte("-----BEGIN NEW CERTIFICATE REQUEST-----"), 0o644); err != nil {
		return certclient.Result{Err: err}
	}
	return certclient.Result{Success: true, ProducedFile: reqPath}
}

func (c *fakeClient) Submit(_ context.Context, authority, _, certPath string) certclient.Result {
	c.submitted = append(c.submitted, authority)
	switch {
	case c.submitErr != nil:
		return certclient.Result{Err: c.submitErr, Output: "Denied by Policy Module"}
	case c.submitPending:
		// 留下的证书文件不能让挂起的请求变成已签发
		_ = os.WriteFile(certPath, []byte("-----BEGIN CERTIFICATE-----"), 0o644)
		return certclient.Result{Success: true, Pending: true, RequestID: "42", ProducedFile: certPath, Output: "RequestId: 42\nCertificate request is pending"}
	case c.submitNoFile:
		return certclient.Result{Success: true}
	}
	if err := os.WriteFile(certPath, []byte("-----BEGIN CERTIFICATE-----"), 0o644); err != nil {
		return certclient.Result{Err: err}
	}
	res := certclient.Result{Success: true, ProducedFile: certPath}
	if c.response {
		res.ResponseFile = strings.TrimSuffix(certPath, ".cer") + ".rsp"
		if err := os.WriteFile(res.ResponseFile, []byte("response"), 0o644); err != nil {
			return certclient.Result{Err: err}
		}
	}
	return res
}

func (c *fakeClient) Accept(_ context.Context, certPath string) (certclient.Result, string) {
	c.accepted = append(c.accepted, certPath)
	if c.acceptErr != nil {
		return certclient.Result{Err: c.acceptErr}, ""
	}
	return certclient.Result{Success: true}, c.fingerprint
}

type fakeStore struct {
	found bool
	err   error
	calls int
}

func (s *fakeStore) Contains(context.Context, string) (bool, error) {
	s.calls++
	return s.found, s.err
}

type fakePostRunner struct {
	commands []string
	vars     []map[string]string
	err      error
}

func (r *fakePostRunner) RunPostCommand(_ context.Context, command string, vars map[string]string) error {
	r.commands = append(r.commands, command)
	r.vars = append(r.vars, vars)
	return r.err
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (r *fakeRecorder) Record(_ context.Context, entry journal.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

type sentEvent struct {
	event notification.EventType
	host  string
	data  map[string]interface{}
}

type fakeNotifier struct {
	events []sentEvent
}

func (n *fakeNotifier) Notify(_ context.Context, event notification.EventType, host, _ string, data map[string]interface{}) error {
	n.events = append(n.events, sentEvent{event: event, host: host, data: data})
	return nil
}
