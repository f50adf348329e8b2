// Package krb5util releases Kerberos key material held in memory.
//
// Go frees memory on its own, but key bytes linger in the heap until the
// collector reuses them. These helpers overwrite secrets in place before the
// values are dropped, so a destroyed credential cache leaves nothing behind.
package krb5util

import (
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/types"
)

// FreeKeyblockContents zeroes the key bytes and detaches them from key. The
// key type is left as is. A nil key is ignored.
func FreeKeyblockContents(key *types.EncryptionKey) {
	if key == nil {
		return
	}
	wipe(key.KeyValue)
	key.KeyValue = nil
}

// FreeKeyblock zeroes the key bytes and resets the key type.
func FreeKeyblock(key *types.EncryptionKey) {
	if key == nil {
		return
	}
	FreeKeyblockContents(key)
	key.KeyType = 0
}

// FreePrincipal clears every name component of p.
func FreePrincipal(p *types.PrincipalName) {
	if p == nil {
		return
	}
	for i := range p.NameString {
		p.NameString[i] = ""
	}
	p.NameString = nil
	p.NameType = 0
}

// FreeCredential wipes the session key and tickets of c and clears its
// principals.
func FreeCredential(c *credentials.Credential) {
	if c == nil {
		return
	}
	FreeKeyblock(&c.Key)

	wipe(c.Ticket)
	c.Ticket = nil
	wipe(c.SecondTicket)
	c.SecondTicket = nil

	FreePrincipal(&c.Client.PrincipalName)
	c.Client.Realm = ""
	FreePrincipal(&c.Server.PrincipalName)
	c.Server.Realm = ""
	c.AuthData = nil
	c.Addresses = nil
}

// FreeCredentials wipes every credential in creds.
func FreeCredentials(creds []*credentials.Credential) {
	for _, c := range creds {
		FreeCredential(c)
	}
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
