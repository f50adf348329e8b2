package ccache

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/types"
)

// Cache is one named credential cache.
type Cache struct {
	name      string
	object    string
	principal types.PrincipalName
	realm     string
	creds     []*credentials.Credential
	createdAt time.Time
	changedAt time.Time
}

func newCache(name string, principal types.PrincipalName, realm string) *Cache {
	now := time.Now()
	return &Cache{
		name:      name,
		object:    "ccache:" + uuid.NewString(),
		principal: principal,
		realm:     realm,
		createdAt: now,
		changedAt: now,
	}
}

// Info describes a cache without exposing its credentials.
type Info struct {
	Name        string    `json:"name"`
	Principal   string    `json:"principal"`
	Credentials int       `json:"credentials"`
	Default     bool      `json:"default"`
	Object      string    `json:"object"`
	CreatedAt   time.Time `json:"created_at"`
	ChangedAt   time.Time `json:"changed_at"`
}

// CredentialInfo describes one stored credential. Key material is never
// included.
type CredentialInfo struct {
	Client    string    `json:"client"`
	Server    string    `json:"server"`
	KeyType   int32     `json:"key_type"`
	AuthTime  time.Time `json:"auth_time"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	RenewTill time.Time `json:"renew_till,omitempty"`
	Flags     []string  `json:"flags,omitempty"`
}

func (c *Cache) principalString() string {
	return formatPrincipal(c.principal, c.realm)
}

func (c *Cache) info(isDefault bool) Info {
	return Info{
		Name:        c.name,
		Principal:   c.principalString(),
		Credentials: len(c.creds),
		Default:     isDefault,
		Object:      c.object,
		CreatedAt:   c.createdAt,
		ChangedAt:   c.changedAt,
	}
}

// indexOf returns the position of the credential for server, or -1.
func (c *Cache) indexOf(server types.PrincipalName, realm string) int {
	return slices.IndexFunc(c.creds, func(cred *credentials.Credential) bool {
		return cred.Server.Realm == realm && cred.Server.PrincipalName.Equal(server)
	})
}

func formatPrincipal(p types.PrincipalName, realm string) string {
	name := p.PrincipalNameString()
	if realm == "" {
		return name
	}
	return name + "@" + realm
}

func credentialInfo(cred *credentials.Credential) CredentialInfo {
	return CredentialInfo{
		Client:    formatPrincipal(cred.Client.PrincipalName, cred.Client.Realm),
		Server:    formatPrincipal(cred.Server.PrincipalName, cred.Server.Realm),
		KeyType:   cred.Key.KeyType,
		AuthTime:  cred.AuthTime,
		StartTime: cred.StartTime,
		EndTime:   cred.EndTime,
		RenewTill: cred.RenewTill,
		Flags:     flagNames(cred.TicketFlags),
	}
}

var ticketFlags = []struct {
	flag int
	name string
}{
	{flags.Forwardable, "forwardable"},
	{flags.Forwarded, "forwarded"},
	{flags.Proxiable, "proxiable"},
	{flags.Proxy, "proxy"},
	{flags.AllowPostDate, "may_postdate"},
	{flags.PostDated, "postdated"},
	{flags.Invalid, "invalid"},
	{flags.Renewable, "renewable"},
	{flags.Initial, "initial"},
	{flags.PreAuthent, "pre_authent"},
	{flags.HWAuthent, "hw_authent"},
	{flags.TransitedPolicyChecked, "transited_policy_checked"},
	{flags.OKAsDelegate, "ok_as_delegate"},
}

// flagNames lists the ticket flags set in bs.
func flagNames(bs asn1.BitString) []string {
	if len(bs.Bytes) == 0 {
		return nil
	}
	var out []string
	for _, f := range ticketFlags {
		if types.IsFlagSet(&bs, f.flag) {
			out = append(out, f.name)
		}
	}
	return out
}
