// ABOUTME: Tests for catalog loading, validation and free-text matching
// ABOUTME: Uses a TOML fixture written to a temp directory

package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalogTOML = `
[[service]]
name = "TikTok"

[[service.group]]
label = "TikTok Followers"

[[service.group.package]]
qty = "1000"
price = "$10"

[[service.group.package]]
qty = "5000"
price = "$40"

[[service.group]]
label = "TikTok Likes"
target = "link"

[[service.group.package]]
qty = "500"
price = "$5"

[[service]]
name = "Promotion"
freeform = true

[[service.group]]
label = "Channel Post"
target = "link"

[[service.group.package]]
qty = "1 post"
price = "$25"
`

func loadTestCatalog(t *testing.T) *Catalog {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalogTOML), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	return c
}

func TestLoad_Valid(t *testing.T) {
	c := loadTestCatalog(t)
	require.Len(t, c.Services, 2)
	assert.Equal(t, "TikTok", c.Services[0].Name)
	assert.False(t, c.Services[0].Freeform)
	assert.True(t, c.Services[1].Freeform)
}

func TestLoad_EmptyCatalogRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ServiceWithoutGroupsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[service]]\nname = \"Empty\"\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestService_Lookup(t *testing.T) {
	c := loadTestCatalog(t)

	svc, ok := c.Service("TikTok")
	require.True(t, ok)
	assert.Equal(t, "TikTok", svc.Name)

	_, ok = c.Service("Instagram")
	assert.False(t, ok)
}

func TestGroup_IndexLookup(t *testing.T) {
	c := loadTestCatalog(t)

	svc, grp, ok := c.Group("TikTok", 1)
	require.True(t, ok)
	assert.Equal(t, "TikTok", svc.Name)
	assert.Equal(t, "TikTok Likes", grp.Label)

	// Stale keyboard indexes report not-found, never panic.
	_, _, ok = c.Group("TikTok", 7)
	assert.False(t, ok)
	_, _, ok = c.Group("TikTok", -1)
	assert.False(t, ok)
}

func TestPackage_IndexLookup(t *testing.T) {
	c := loadTestCatalog(t)

	_, _, pkg, ok := c.Package("TikTok", 0, 1)
	require.True(t, ok)
	assert.Equal(t, "5000", pkg.Qty)
	assert.Equal(t, "$40", pkg.Price)

	_, _, _, ok = c.Package("TikTok", 0, 9)
	assert.False(t, ok)
}

func TestMatch_ServiceName(t *testing.T) {
	c := loadTestCatalog(t)

	kind, service, _, ok := c.Match("TikTok")
	require.True(t, ok)
	assert.Equal(t, MatchService, kind)
	assert.Equal(t, "TikTok", service)
}

func TestMatch_GroupLabelAndPrefix(t *testing.T) {
	c := loadTestCatalog(t)

	kind, service, gi, ok := c.Match("tiktok likes")
	require.True(t, ok)
	assert.Equal(t, MatchGroup, kind)
	assert.Equal(t, "TikTok", service)
	assert.Equal(t, 1, gi)

	// Prefix match: extra trailing words still resolve the group.
	kind, service, gi, ok = c.Match("TikTok Followers please")
	require.True(t, ok)
	assert.Equal(t, MatchGroup, kind)
	assert.Equal(t, "TikTok", service)
	assert.Equal(t, 0, gi)
}

func TestMatch_NoMatch(t *testing.T) {
	c := loadTestCatalog(t)

	_, _, _, ok := c.Match("hello there")
	assert.False(t, ok)
	_, _, _, ok = c.Match("   ")
	assert.False(t, ok)
}

func TestExpectsUsername(t *testing.T) {
	c := loadTestCatalog(t)

	svc, _ := c.Service("TikTok")
	// Keyword detection on the label.
	assert.True(t, svc.Groups[0].ExpectsUsername())
	// Explicit target wins over keywords.
	assert.False(t, svc.Groups[1].ExpectsUsername())

	grp := Group{Label: "Premium Members", Target: ""}
	assert.True(t, grp.ExpectsUsername())

	grp = Group{Label: "Video Views"}
	assert.False(t, grp.ExpectsUsername())
}
