package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/ccsd/pkg/ccapi/ccache"
)

const testKrb5Conf = `[libdefaults]
  default_realm = EXAMPLE.COM
  dns_lookup_kdc = false

[realms]
  EXAMPLE.COM = {
    kdc = kdc.example.com:88
  }
`

func TestResolveDefaultRealm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "krb5.conf")
	require.NoError(t, os.WriteFile(path, []byte(testKrb5Conf), 0o644))

	k := KerberosConfig{Krb5Conf: path}
	realm, err := k.ResolveDefaultRealm()
	require.NoError(t, err)
	assert.Equal(t, "EXAMPLE.COM", realm)

	k.DefaultRealm = "OVERRIDE.ORG"
	realm, err = k.ResolveDefaultRealm()
	require.NoError(t, err)
	assert.Equal(t, "OVERRIDE.ORG", realm)

	k = KerberosConfig{Krb5Conf: filepath.Join(t.TempDir(), "missing.conf")}
	realm, err = k.ResolveDefaultRealm()
	require.NoError(t, err)
	assert.Empty(t, realm)
}

func TestLoadCaches_ReportsFailedImports(t *testing.T) {
	caches := ccache.NewCollection(nil)
	k := KerberosConfig{
		DefaultRealm: "EXAMPLE.COM",
		Imports: []CacheImport{
			{Name: "API:missing", Path: filepath.Join(t.TempDir(), "krb5cc_missing")},
		},
	}

	n, err := k.LoadCaches(caches)
	assert.Equal(t, 0, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API:missing")

	info, err := caches.Create("API:bob", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob@EXAMPLE.COM", info.Principal, "default realm applied")
}
