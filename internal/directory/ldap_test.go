package directory

import (
	"context"
	"strings"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dccert-manager/internal/config"
	"dccert-manager/internal/logging"
)

const (
	testBaseDN   = "DC=corp,DC=example,DC=com"
	testConfigDN = "CN=Configuration,DC=corp,DC=example,DC=com"
)

type fakeConn struct {
	search   func(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	requests []*ldap.SearchRequest
	closed   int
}

func (f *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.requests = append(f.requests, req)
	return f.search(req)
}

func (f *fakeConn) Close() error {
	f.closed++
	return nil
}

func newTestDirectory(c *fakeConn, cfg config.LDAPConfig) *LDAPDirectory {
	d := NewLDAPDirectory(cfg, logging.Nop())
	d.dial = func(context.Context) (conn, error) { return c, nil }
	return d
}

func result(entries ...*ldap.Entry) *ldap.SearchResult {
	return &ldap.SearchResult{Entries: entries}
}

func TestResolveHost(t *testing.T) {
	dc1 := ldap.NewEntry("CN=DC1,OU=Domain Controllers,"+testBaseDN, map[string][]string{
		"dNSHostName":    {"dc1.corp.example.com"},
		"sAMAccountName": {"DC1$"},
		"name":           {"DC1"},
	})
	dc1bis := ldap.NewEntry("CN=DC1,OU=Servers,"+testBaseDN, map[string][]string{
		"dNSHostName":    {"dc1.other.example.com"},
		"sAMAccountName": {"DC1$"},
	})

	tests := []struct {
		name    string
		entries []*ldap.Entry
		want    HostIdentity
		wantErr error
	}{
		{
			name:    "single match",
			entries: []*ldap.Entry{dc1},
			want: HostIdentity{
				DistinguishedName: "CN=DC1,OU=Domain Controllers," + testBaseDN,
				DNSHostName:       "dc1.corp.example.com",
				NetBIOSName:       "DC1",
			},
		},
		{
			name:    "no match",
			wantErr: ErrHostNotFound,
		},
		{
			name:    "several matches",
			entries: []*ldap.Entry{dc1, dc1bis},
			wantErr: ErrHostAmbiguous,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeConn{search: func(*ldap.SearchRequest) (*ldap.SearchResult, error) {
				return result(tt.entries...), nil
			}}
			d := newTestDirectory(c, config.LDAPConfig{BaseDN: testBaseDN, ConfigurationDN: testConfigDN})

			got, err := d.ResolveHost(context.Background(), "dc1")
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 1, c.closed)
			require.Len(t, c.requests, 1)
			assert.Equal(t, testBaseDN, c.requests[0].BaseDN)
		})
	}
}

func TestHostFilter(t *testing.T) {
	assert.Equal(t, "(&(objectCategory=computer)(|(sAMAccountName=DC1$)(name=DC1)))", hostFilter("DC1"))
	assert.Equal(t, "(&(objectCategory=computer)(dNSHostName=dc1.corp.example.com))", hostFilter("dc1.corp.example.com."))
	assert.Equal(t, `(&(objectCategory=computer)(|(sAMAccountName=a\2ab$)(name=a\2ab)))`, hostFilter("a*b"))
}

func TestNamingContextsFromRootDSE(t *testing.T) {
	c := &fakeConn{search: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
		if req.BaseDN == "" {
			return result(ldap.NewEntry("", map[string][]string{
				"defaultNamingContext":       {testBaseDN},
				"configurationNamingContext": {testConfigDN},
			})), nil
		}
		return result(), nil
	}}
	d := newTestDirectory(c, config.LDAPConfig{})

	authorities, err := d.ListAuthorities(context.Background())
	require.NoError(t, err)
	assert.Empty(t, authorities)
	require.Len(t, c.requests, 2)
	assert.Equal(t, "CN=Enrollment Services,CN=Public Key Services,CN=Services,"+testConfigDN, c.requests[1].BaseDN)

	// contexts are cached after the first lookup
	_, err = d.ListAuthorities(context.Background())
	require.NoError(t, err)
	assert.Len(t, c.requests, 3)
}

func TestListAuthoritiesSkipsIncompleteEntries(t *testing.T) {
	c := &fakeConn{search: func(*ldap.SearchRequest) (*ldap.SearchResult, error) {
		return result(
			ldap.NewEntry("CN=Corp-CA1", map[string][]string{"cn": {"Corp-CA1"}, "dNSHostName": {"ca1.corp.example.com"}}),
			ldap.NewEntry("CN=Broken", map[string][]string{"cn": {"Broken"}}),
		), nil
	}}
	d := newTestDirectory(c, config.LDAPConfig{BaseDN: testBaseDN, ConfigurationDN: testConfigDN})

	authorities, err := d.ListAuthorities(context.Background())
	require.NoError(t, err)
	require.Len(t, authorities, 1)
	assert.Equal(t, `ca1.corp.example.com\Corp-CA1`, authorities[0].Config())
}

func TestFindTemplate(t *testing.T) {
	c := &fakeConn{search: func(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
		if !strings.Contains(req.Filter, "DCServerAuthentication") {
			return result(), nil
		}
		return result(ldap.NewEntry("CN=DCServerAuthentication", map[string][]string{
			"cn":                  {"DCServerAuthentication"},
			"displayName":         {"DC Server Authentication"},
			"pKIExtendedKeyUsage": {"1.3.6.1.5.5.7.3.1", "1.3.6.1.5.5.7.3.2"},
		})), nil
	}}
	d := newTestDirectory(c, config.LDAPConfig{BaseDN: testBaseDN, ConfigurationDN: testConfigDN})

	info, err := d.FindTemplate(context.Background(), "DCServerAuthentication")
	require.NoError(t, err)
	assert.Equal(t, "DCServerAuthentication", info.Name)
	assert.Equal(t, []string{"1.3.6.1.5.5.7.3.1", "1.3.6.1.5.5.7.3.2"}, info.EKUs)

	_, err = d.FindTemplate(context.Background(), "Missing")
	assert.True(t, errors.Is(err, ErrTemplateNotFound))
}

func TestListSubnets(t *testing.T) {
	c := &fakeConn{search: func(*ldap.SearchRequest) (*ldap.SearchResult, error) {
		return result(
			ldap.NewEntry("CN=10.1.0.0/16", map[string][]string{
				"cn":         {"10.1.0.0/16"},
				"siteObject": {"CN=Paris,CN=Sites," + testConfigDN},
			}),
			ldap.NewEntry("CN=garbage", map[string][]string{
				"cn":         {"garbage"},
				"siteObject": {"CN=Paris,CN=Sites," + testConfigDN},
			}),
			ldap.NewEntry("CN=10.3.0.0/16", map[string][]string{"cn": {"10.3.0.0/16"}}),
		), nil
	}}
	d := newTestDirectory(c, config.LDAPConfig{BaseDN: testBaseDN, ConfigurationDN: testConfigDN})

	subnets, err := d.ListSubnets(context.Background())
	require.NoError(t, err)
	require.Len(t, subnets, 1)
	assert.Equal(t, "Paris", subnets[0].Site)
	assert.Equal(t, "10.1.0.0/16", subnets[0].Prefix.String())
}
