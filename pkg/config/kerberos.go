package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/hashicorp/go-multierror"
	krb5config "github.com/jcmturner/gokrb5/v8/config"

	"github.com/marmos91/ccsd/internal/logger"
	"github.com/marmos91/ccsd/pkg/ccapi/ccache"
)

// ResolveDefaultRealm returns DefaultRealm, or the default_realm of the
// krb5.conf file when DefaultRealm is empty. A missing krb5.conf yields "".
func (k *KerberosConfig) ResolveDefaultRealm() (string, error) {
	if k.DefaultRealm != "" || k.Krb5Conf == "" {
		return k.DefaultRealm, nil
	}
	if _, err := os.Stat(k.Krb5Conf); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}

	kc, err := krb5config.Load(k.Krb5Conf)
	if err != nil {
		// Unsupported directives still leave a usable configuration.
		var ud krb5config.UnsupportedDirective
		if !errors.As(err, &ud) || kc == nil {
			return "", fmt.Errorf("failed to load %s: %w", k.Krb5Conf, err)
		}
	}
	return kc.LibDefaults.DefaultRealm, nil
}

// LoadCaches applies the default realm to caches and imports the configured
// ccache files. A failed import does not stop the others; all failures are
// returned together.
func (k *KerberosConfig) LoadCaches(caches *ccache.Collection) (int, error) {
	realm, err := k.ResolveDefaultRealm()
	if err != nil {
		return 0, err
	}
	if realm != "" {
		caches.SetDefaultRealm(realm)
		logger.Info("Default realm", "realm", realm)
	}

	var (
		result *multierror.Error
		loaded int
	)
	for _, imp := range k.Imports {
		info, err := caches.Import(imp.Name, imp.Path)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("import %s from %s: %w", imp.Name, imp.Path, err))
			continue
		}
		if imp.Default {
			if err := caches.SetDefault(imp.Name); err != nil {
				result = multierror.Append(result, err)
			}
		}
		loaded++
		logger.Info("Credential cache imported",
			logger.KeyCache, info.Name,
			logger.KeyPrincipal, info.Principal,
			logger.KeyCreds, info.Credentials,
			logger.KeyPath, imp.Path)
	}
	return loaded, result.ErrorOrNil()
}
