package core

import (
	"context"
	"net/netip"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dccert-manager/internal/directory"
	"dccert-manager/internal/logging"
)

func threeAuthorities() (*fakeDirectory, *fakeNetwork) {
	dir := newFakeDirectory()
	dir.authorities = []directory.AuthorityRecord{
		{Name: "Corp-CA1", DNSHostName: "ca1.corp.example.com"},
		{Name: "Corp-CA2", DNSHostName: "ca2.corp.example.com"},
		{Name: "Corp-CA3", DNSHostName: "ca3.corp.example.com"},
	}
	ip1 := netip.MustParseAddr("10.1.0.10")
	ip2 := netip.MustParseAddr("10.2.0.10")
	ip3 := netip.MustParseAddr("10.1.0.11")
	network := &fakeNetwork{
		addrs: map[string]netip.Addr{
			"ca1.corp.example.com": ip1,
			"ca2.corp.example.com": ip2,
			"ca3.corp.example.com": ip3,
		},
		sites: map[netip.Addr]string{
			ip1: "Paris",
			ip2: "London",
			ip3: "Paris",
		},
		localSite: "London",
	}
	return dir, network
}

func TestSelectNoAuthority(t *testing.T) {
	dir := newFakeDirectory()
	dir.authorities = nil
	s := NewAuthoritySelector(dir, &fakeNetwork{}, &fakeChooser{}, logging.Nop())

	for _, policy := range []Policy{PolicyRandom, PolicyADSite} {
		_, err := s.Select(context.Background(), policy)
		assert.ErrorIs(t, err, ErrNoAuthorityFound)
	}
}

func TestSelectListError(t *testing.T) {
	dir := newFakeDirectory()
	dir.listErr = errors.New("connection refused")
	s := NewAuthoritySelector(dir, &fakeNetwork{}, &fakeChooser{}, logging.Nop())

	_, err := s.Select(context.Background(), PolicyRandom)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSelectRandomUsesWholeCatalog(t *testing.T) {
	dir, network := threeAuthorities()
	chooser := &fakeChooser{index: 1}
	s := NewAuthoritySelector(dir, network, chooser, logging.Nop())

	selected, err := s.Select(context.Background(), PolicyRandom)
	require.NoError(t, err)
	assert.Equal(t, "Corp-CA2", selected.Name)
	assert.Equal(t, []int{3}, chooser.seen)
}

func TestSelectSeesDirectoryChangesBetweenCalls(t *testing.T) {
	dir, network := threeAuthorities()
	s := NewAuthoritySelector(dir, network, &fakeChooser{}, logging.Nop())

	selected, err := s.Select(context.Background(), PolicyADSite)
	require.NoError(t, err)
	assert.Equal(t, "Corp-CA2", selected.Name)

	// London 的机构下线后，下一台主机应回退到随机选择
	dir.authorities = dir.authorities[:1]
	selected, err = s.Select(context.Background(), PolicyADSite)
	require.NoError(t, err)
	assert.Equal(t, "Corp-CA1", selected.Name)

	dir.authorities = nil
	_, err = s.Select(context.Background(), PolicyADSite)
	assert.ErrorIs(t, err, ErrNoAuthorityFound)
}

func TestSelectADSite(t *testing.T) {
	tests := []struct {
		name      string
		localSite string
		localErr  error
		index     int
		wantName  string
		wantSeen  []int
	}{
		{
			name:      "single authority in local site",
			localSite: "London",
			wantName:  "Corp-CA2",
			wantSeen:  []int{1},
		},
		{
			name:      "several authorities in local site",
			localSite: "paris",
			index:     1,
			wantName:  "Corp-CA3",
			wantSeen:  []int{2},
		},
		{
			name:      "no authority in local site falls back to random",
			localSite: "Tokyo",
			index:     0,
			wantName:  "Corp-CA1",
			wantSeen:  []int{3},
		},
		{
			name:     "unknown local site falls back to random",
			localErr: directory.ErrSiteNotFound,
			index:    2,
			wantName: "Corp-CA3",
			wantSeen: []int{3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, network := threeAuthorities()
			network.localSite = tt.localSite
			network.localErr = tt.localErr
			chooser := &fakeChooser{index: tt.index}
			s := NewAuthoritySelector(dir, network, chooser, logging.Nop())

			selected, err := s.Select(context.Background(), PolicyADSite)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, selected.Name)
			assert.Equal(t, tt.wantSeen, chooser.seen)
		})
	}
}

func TestCatalogKeepsUnresolvedAuthorities(t *testing.T) {
	dir, network := threeAuthorities()
	delete(network.addrs, "ca2.corp.example.com")
	s := NewAuthoritySelector(dir, network, &fakeChooser{}, logging.Nop())

	catalog, err := s.Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog, 3)
	assert.False(t, catalog[1].IP.IsValid())
	assert.Empty(t, catalog[1].Site)
	assert.Equal(t, "Paris", catalog[0].Site)
	assert.Equal(t, `ca1.corp.example.com\Corp-CA1`, catalog[0].Config())
}
