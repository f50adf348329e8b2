package ccache

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/types"

	"github.com/marmos91/ccsd/internal/krb5util"
	"github.com/marmos91/ccsd/internal/logger"
	ccerrors "github.com/marmos91/ccsd/pkg/ccapi/errors"
	"github.com/marmos91/ccsd/pkg/ccapi/lock"
)

// CollectionObject is the lock object id of the cache collection itself.
const CollectionObject = "collection"

// MaxNameLength bounds cache names.
const MaxNameLength = 255

// Invalidator tears down the locks of a protected object. *lock.Manager
// implements it.
type Invalidator interface {
	Invalidate(object string) error
}

var _ Invalidator = (*lock.Manager)(nil)

// Collection is the set of credential caches served to clients. It is safe
// for concurrent use.
type Collection struct {
	mu          sync.RWMutex
	caches      map[string]*Cache
	defaultName string
	changedAt   time.Time

	// defaultRealm completes principals given without a realm.
	defaultRealm string

	locks Invalidator
}

// NewCollection creates an empty collection. locks may be nil when no lock
// manager is attached.
func NewCollection(locks Invalidator) *Collection {
	return &Collection{
		caches:    make(map[string]*Cache),
		changedAt: time.Now(),
		locks:     locks,
	}
}

// SetDefaultRealm sets the realm used for principals created without one.
func (c *Collection) SetDefaultRealm(realm string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaultRealm = realm
}

// ParsePrincipal splits "name/instance@REALM" into a principal name and
// realm.
func ParsePrincipal(s string) (types.PrincipalName, string, error) {
	if s == "" || strings.ContainsRune(s, 0) {
		return types.PrincipalName{}, "", ccerrors.NewBadNameError(s, "invalid principal")
	}
	pn, realm := types.ParseSPNString(s)
	if len(pn.NameString) == 0 || pn.NameString[0] == "" {
		return types.PrincipalName{}, "", ccerrors.NewBadNameError(s, "invalid principal")
	}
	return pn, realm, nil
}

func validateName(name string) error {
	switch {
	case name == "":
		return ccerrors.NewBadNameError(name, "empty cache name")
	case len(name) > MaxNameLength:
		return ccerrors.NewBadNameError(name, "cache name too long")
	case strings.ContainsRune(name, 0):
		return ccerrors.NewBadNameError(name, "cache name contains NUL")
	}
	return nil
}

// Create adds an empty cache for principal. The first cache created becomes
// the default.
func (c *Collection) Create(name, principal string) (Info, error) {
	if err := validateName(name); err != nil {
		return Info{}, err
	}
	pn, realm, err := ParsePrincipal(principal)
	if err != nil {
		return Info{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if realm == "" {
		realm = c.defaultRealm
	}
	cache, err := c.addLocked(name, pn, realm)
	if err != nil {
		return Info{}, err
	}

	logger.Debug("Credential cache created",
		logger.KeyCache, name, logger.KeyPrincipal, cache.principalString())
	return cache.info(c.defaultName == name), nil
}

func (c *Collection) addLocked(name string, pn types.PrincipalName, realm string) (*Cache, error) {
	if _, ok := c.caches[name]; ok {
		return nil, ccerrors.NewCCacheExistsError(name)
	}
	cache := newCache(name, pn, realm)
	c.caches[name] = cache
	if c.defaultName == "" {
		c.defaultName = name
	}
	c.changedAt = time.Now()
	return cache, nil
}

// Get returns a description of the named cache.
func (c *Collection) Get(name string) (Info, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cache, ok := c.caches[name]
	if !ok {
		return Info{}, ccerrors.NewCCacheNotFoundError(name)
	}
	return cache.info(c.defaultName == name), nil
}

// LockObject returns the lock object id of the named cache.
func (c *Collection) LockObject(name string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cache, ok := c.caches[name]
	if !ok {
		return "", ccerrors.NewCCacheNotFoundError(name)
	}
	return cache.object, nil
}

// Destroy removes the named cache. Its lock table is invalidated, which
// sends every queued request its invalid object error, and its key material
// is wiped. When the default cache is destroyed the alphabetically first
// remaining cache becomes the default.
func (c *Collection) Destroy(name string) error {
	c.mu.Lock()
	cache, ok := c.caches[name]
	if !ok {
		c.mu.Unlock()
		return ccerrors.NewCCacheNotFoundError(name)
	}
	delete(c.caches, name)
	if c.defaultName == name {
		c.defaultName = ""
		if names := c.namesLocked(); len(names) > 0 {
			c.defaultName = names[0]
		}
	}
	c.changedAt = time.Now()
	c.mu.Unlock()

	if c.locks != nil {
		if err := c.locks.Invalidate(cache.object); err != nil {
			logger.Warn("Failed to notify waiters of destroyed cache",
				logger.KeyCache, name, logger.KeyObject, cache.object, logger.Err(err))
		}
	}

	krb5util.FreeCredentials(cache.creds)
	cache.creds = nil
	krb5util.FreePrincipal(&cache.principal)

	logger.Debug("Credential cache destroyed", logger.KeyCache, name)
	return nil
}

// SetDefault makes the named cache the default one.
func (c *Collection) SetDefault(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.caches[name]; !ok {
		return ccerrors.NewCCacheNotFoundError(name)
	}
	if c.defaultName != name {
		c.defaultName = name
		c.changedAt = time.Now()
	}
	return nil
}

// Default returns the name of the default cache.
func (c *Collection) Default() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.defaultName == "" {
		return "", ccerrors.NewCCacheNotFoundError("default")
	}
	return c.defaultName, nil
}

// Names returns the cache names in sorted order.
func (c *Collection) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.namesLocked()
}

func (c *Collection) namesLocked() []string {
	names := make([]string, 0, len(c.caches))
	for name := range c.caches {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// List describes every cache, sorted by name.
func (c *Collection) List() []Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Info, 0, len(c.caches))
	for _, name := range c.namesLocked() {
		out = append(out, c.caches[name].info(name == c.defaultName))
	}
	return out
}

// ChangedAt returns the time of the last change to the set of caches or to
// the default.
func (c *Collection) ChangedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changedAt
}

// StoreCredential adds cred to the named cache, replacing any credential for
// the same server. The credential's client must be the cache's principal.
func (c *Collection) StoreCredential(name string, cred *credentials.Credential) error {
	if cred == nil {
		return ccerrors.NewBadParamError("nil credential")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cache, ok := c.caches[name]
	if !ok {
		return ccerrors.NewCCacheNotFoundError(name)
	}
	if cred.Client.Realm != cache.realm || !cred.Client.PrincipalName.Equal(cache.principal) {
		return ccerrors.New(ccerrors.ErrInvalidCredentials,
			fmt.Sprintf("credential client %s does not match cache principal %s",
				formatPrincipal(cred.Client.PrincipalName, cred.Client.Realm), cache.principalString()))
	}

	if i := cache.indexOf(cred.Server.PrincipalName, cred.Server.Realm); i >= 0 {
		krb5util.FreeCredential(cache.creds[i])
		cache.creds[i] = cred
	} else {
		cache.creds = append(cache.creds, cred)
	}
	cache.changedAt = time.Now()
	return nil
}

// RemoveCredential deletes and wipes the credential for server.
func (c *Collection) RemoveCredential(name, server string) error {
	pn, realm, err := ParsePrincipal(server)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cache, ok := c.caches[name]
	if !ok {
		return ccerrors.NewCCacheNotFoundError(name)
	}
	i := cache.indexOf(pn, realm)
	if i < 0 {
		return ccerrors.New(ccerrors.ErrInvalidCredentials, fmt.Sprintf("no credential for %s", server))
	}
	krb5util.FreeCredential(cache.creds[i])
	cache.creds = slices.Delete(cache.creds, i, i+1)
	cache.changedAt = time.Now()
	return nil
}

// Credentials describes the credentials of the named cache in storage order.
func (c *Collection) Credentials(name string) ([]CredentialInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cache, ok := c.caches[name]
	if !ok {
		return nil, ccerrors.NewCCacheNotFoundError(name)
	}
	out := make([]CredentialInfo, 0, len(cache.creds))
	for _, cred := range cache.creds {
		out = append(out, credentialInfo(cred))
	}
	return out, nil
}

// Import loads an MIT credential cache file into a new cache called name.
// It reads path with the caller's privileges; only trusted configuration
// should supply it.
func (c *Collection) Import(name, path string) (Info, error) {
	if err := validateName(name); err != nil {
		return Info{}, err
	}
	cc, err := credentials.LoadCCache(path)
	if err != nil {
		return Info{}, ccerrors.New(ccerrors.ErrIO, fmt.Sprintf("load %s: %v", path, err))
	}
	return c.importCCache(name, cc)
}

// ImportBytes is Import for a credential cache already read into memory.
func (c *Collection) ImportBytes(name string, data []byte) (Info, error) {
	if err := validateName(name); err != nil {
		return Info{}, err
	}
	cc := new(credentials.CCache)
	if err := cc.Unmarshal(data); err != nil {
		return Info{}, ccerrors.New(ccerrors.ErrIO, fmt.Sprintf("parse credential cache: %v", err))
	}
	return c.importCCache(name, cc)
}

func (c *Collection) importCCache(name string, cc *credentials.CCache) (Info, error) {
	pn := cc.GetClientPrincipalName()
	realm := cc.GetClientRealm()
	if len(pn.NameString) == 0 {
		return Info{}, ccerrors.NewBadNameError(name, "credential cache has no default principal")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if realm == "" {
		realm = c.defaultRealm
	}
	cache, err := c.addLocked(name, pn, realm)
	if err != nil {
		krb5util.FreeCredentials(cc.GetEntries())
		return Info{}, err
	}
	// GetEntries leaves out X-CACHECONF: configuration entries.
	cache.creds = append(cache.creds, cc.GetEntries()...)

	logger.Info("Credential cache imported",
		logger.KeyCache, name,
		logger.KeyPrincipal, cache.principalString(),
		logger.KeyCreds, len(cache.creds))
	return cache.info(c.defaultName == name), nil
}
