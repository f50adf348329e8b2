package ccache

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/iana/flags"
	"github.com/jcmturner/gokrb5/v8/iana/nametype"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ccerrors "github.com/marmos91/ccsd/pkg/ccapi/errors"
)

type recordingInvalidator struct {
	objects []string
}

func (r *recordingInvalidator) Invalidate(object string) error {
	r.objects = append(r.objects, object)
	return nil
}

func newCredential(client, server string, key []byte) *credentials.Credential {
	cpn, crealm := types.ParseSPNString(client)
	spn, srealm := types.ParseSPNString(server)

	c := &credentials.Credential{
		Key:         types.EncryptionKey{KeyType: 18, KeyValue: key},
		AuthTime:    time.Unix(1700000000, 0),
		StartTime:   time.Unix(1700000000, 0),
		EndTime:     time.Unix(1700036000, 0),
		TicketFlags: types.NewKrbFlags(),
		Ticket:      []byte{0x61, 0x01, 0x02},
	}
	c.Client.PrincipalName, c.Client.Realm = cpn, crealm
	c.Server.PrincipalName, c.Server.Realm = spn, srealm
	types.SetFlag(&c.TicketFlags, flags.Forwardable)
	types.SetFlag(&c.TicketFlags, flags.Initial)
	return c
}

func TestCollection_CreateAndDefault(t *testing.T) {
	t.Parallel()

	c := NewCollection(nil)

	info, err := c.Create("API:alice", "alice@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "alice@EXAMPLE.COM", info.Principal)
	assert.True(t, info.Default, "first cache becomes the default")
	assert.NotEmpty(t, info.Object)

	info, err = c.Create("API:bob", "bob/admin@EXAMPLE.COM")
	require.NoError(t, err)
	assert.False(t, info.Default)
	assert.Equal(t, "bob/admin@EXAMPLE.COM", info.Principal)

	_, err = c.Create("API:alice", "alice@EXAMPLE.COM")
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrCCacheExists))

	def, err := c.Default()
	require.NoError(t, err)
	assert.Equal(t, "API:alice", def)

	require.NoError(t, c.SetDefault("API:bob"))
	def, _ = c.Default()
	assert.Equal(t, "API:bob", def)

	assert.True(t, ccerrors.IsCode(c.SetDefault("API:nobody"), ccerrors.ErrCCacheNotFound))
	assert.Equal(t, []string{"API:alice", "API:bob"}, c.Names())
}

func TestCollection_DefaultRealm(t *testing.T) {
	t.Parallel()

	c := NewCollection(nil)
	info, err := c.Create("API:plain", "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", info.Principal)

	c.SetDefaultRealm("EXAMPLE.COM")
	info, err = c.Create("API:carol", "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol@EXAMPLE.COM", info.Principal)

	info, err = c.Create("API:dave", "dave@OTHER.ORG")
	require.NoError(t, err)
	assert.Equal(t, "dave@OTHER.ORG", info.Principal, "explicit realm wins")
}

func TestCollection_BadNames(t *testing.T) {
	t.Parallel()

	c := NewCollection(nil)

	_, err := c.Create("", "alice@EXAMPLE.COM")
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrBadName))

	_, err = c.Create(string(bytes.Repeat([]byte("x"), MaxNameLength+1)), "alice@EXAMPLE.COM")
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrBadName))

	_, err = c.Create("API:x", "")
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrBadName))

	_, err = c.Get("API:x")
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrCCacheNotFound))

	_, err = c.Default()
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrCCacheNotFound))
}

func TestCollection_DestroyInvalidatesAndWipes(t *testing.T) {
	t.Parallel()

	inv := &recordingInvalidator{}
	c := NewCollection(inv)

	_, err := c.Create("API:a", "alice@EXAMPLE.COM")
	require.NoError(t, err)
	_, err = c.Create("API:b", "bob@EXAMPLE.COM")
	require.NoError(t, err)

	object, err := c.LockObject("API:a")
	require.NoError(t, err)

	key := []byte{1, 2, 3}
	require.NoError(t, c.StoreCredential("API:a", newCredential("alice@EXAMPLE.COM", "krbtgt/EXAMPLE.COM@EXAMPLE.COM", key)))

	require.NoError(t, c.Destroy("API:a"))

	assert.Equal(t, []string{object}, inv.objects)
	assert.Equal(t, []byte{0, 0, 0}, key)
	def, err := c.Default()
	require.NoError(t, err)
	assert.Equal(t, "API:b", def, "default moves to a remaining cache")

	assert.True(t, ccerrors.IsCode(c.Destroy("API:a"), ccerrors.ErrCCacheNotFound))

	// A recreated cache is a new lock object.
	_, err = c.Create("API:a", "alice@EXAMPLE.COM")
	require.NoError(t, err)
	again, _ := c.LockObject("API:a")
	assert.NotEqual(t, object, again)
}

func TestCollection_Credentials(t *testing.T) {
	t.Parallel()

	c := NewCollection(nil)
	_, err := c.Create("API:a", "alice@EXAMPLE.COM")
	require.NoError(t, err)

	tgt := newCredential("alice@EXAMPLE.COM", "krbtgt/EXAMPLE.COM@EXAMPLE.COM", []byte{1})
	httpKey := []byte{2}
	http := newCredential("alice@EXAMPLE.COM", "HTTP/www.example.com@EXAMPLE.COM", httpKey)
	require.NoError(t, c.StoreCredential("API:a", tgt))
	require.NoError(t, c.StoreCredential("API:a", http))

	// Same server replaces and wipes the old one.
	oldKey := []byte{3}
	replaced := newCredential("alice@EXAMPLE.COM", "HTTP/www.example.com@EXAMPLE.COM", oldKey)
	require.NoError(t, c.StoreCredential("API:a", replaced))
	assert.Equal(t, []byte{0}, httpKey)
	assert.Nil(t, http.Key.KeyValue)

	creds, err := c.Credentials("API:a")
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "krbtgt/EXAMPLE.COM@EXAMPLE.COM", creds[0].Server)
	assert.Equal(t, "HTTP/www.example.com@EXAMPLE.COM", creds[1].Server)
	assert.Equal(t, []string{"forwardable", "initial"}, creds[0].Flags)

	info, err := c.Get("API:a")
	require.NoError(t, err)
	assert.Equal(t, 2, info.Credentials)

	mallory := newCredential("mallory@EXAMPLE.COM", "krbtgt/EXAMPLE.COM@EXAMPLE.COM", []byte{4})
	err = c.StoreCredential("API:a", mallory)
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrInvalidCredentials))

	require.NoError(t, c.RemoveCredential("API:a", "HTTP/www.example.com@EXAMPLE.COM"))
	assert.Equal(t, []byte{0}, oldKey)
	err = c.RemoveCredential("API:a", "HTTP/www.example.com@EXAMPLE.COM")
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrInvalidCredentials))

	assert.True(t, ccerrors.IsCode(c.StoreCredential("API:a", nil), ccerrors.ErrBadParam))
}

// writeCCache encodes a version 4 MIT credential cache holding one
// credential for client.
func writeCCache(t *testing.T, client, realm string, server []string) []byte {
	t.Helper()

	var buf bytes.Buffer
	be := binary.BigEndian
	w := func(v any) { require.NoError(t, binary.Write(&buf, be, v)) }
	data := func(b []byte) {
		w(uint32(len(b)))
		buf.Write(b)
	}
	principal := func(ntype int32, realm string, names []string) {
		w(ntype)
		w(uint32(len(names)))
		data([]byte(realm))
		for _, n := range names {
			data([]byte(n))
		}
	}

	w(uint16(0x0504))
	w(uint16(0)) // header length

	principal(nametype.KRB_NT_PRINCIPAL, realm, []string{client})

	principal(nametype.KRB_NT_PRINCIPAL, realm, []string{client})
	principal(nametype.KRB_NT_SRV_INST, realm, server)
	w(uint16(18))
	data(bytes.Repeat([]byte{0x42}, 32))
	w(uint32(1700000000)) // auth
	w(uint32(1700000000)) // start
	w(uint32(1700036000)) // end
	w(uint32(0))          // renew till
	w(uint8(0))           // is_skey
	w(uint32(0x40000000)) // forwardable
	w(uint32(0))          // addresses
	w(uint32(0))          // authdata
	data([]byte{0x61, 0x03, 0x02, 0x01, 0x05})
	data(nil)

	return buf.Bytes()
}

func TestCollection_Import(t *testing.T) {
	t.Parallel()

	raw := writeCCache(t, "carol", "EXAMPLE.COM", []string{"krbtgt", "EXAMPLE.COM"})
	path := filepath.Join(t.TempDir(), "krb5cc_1000")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	c := NewCollection(nil)
	info, err := c.Import("FILE:carol", path)
	require.NoError(t, err)
	assert.Equal(t, "carol@EXAMPLE.COM", info.Principal)
	assert.Equal(t, 1, info.Credentials)

	creds, err := c.Credentials("FILE:carol")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "krbtgt/EXAMPLE.COM@EXAMPLE.COM", creds[0].Server)
	assert.Equal(t, int32(18), creds[0].KeyType)
	assert.Contains(t, creds[0].Flags, "forwardable")

	_, err = c.Import("FILE:carol", path)
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrCCacheExists))

	_, err = c.ImportBytes("MEM:carol", raw)
	require.NoError(t, err)

	_, err = c.Import("FILE:missing", filepath.Join(t.TempDir(), "nope"))
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrIO))

	_, err = c.ImportBytes("MEM:junk", []byte{0x01, 0x02, 0x03})
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrIO))
}

func TestParsePrincipal(t *testing.T) {
	t.Parallel()

	pn, realm, err := ParsePrincipal("host/db.example.com@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "EXAMPLE.COM", realm)
	assert.Equal(t, []string{"host", "db.example.com"}, pn.NameString)

	_, _, err = ParsePrincipal("@EXAMPLE.COM")
	assert.True(t, ccerrors.IsCode(err, ccerrors.ErrBadName))
}
