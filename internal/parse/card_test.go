package parse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleCard = `
<html><body>
  <h1 data-marker="item-view/title-info">Vintage bicycle</h1>
  <div data-marker="item-view/item-price"><span itemprop="price" content="12500">12 500 &#8381;</span></div>
  <div data-marker="item-view/item-description">Lightly used, steel frame.</div>
  <div data-marker="item-view/item-id">№ 271828182</div>
  <div data-marker="item-view/item-date">3 days ago</div>
  <div data-marker="item-view/total-views">311 views</div>
  <div data-marker="item-view/item-params">
    <ul>
      <li>Frame: steel</li>
      <li>Wheel size: 28</li>
      <li>broken entry without separator</li>
    </ul>
  </div>
  <a data-marker="seller-link/link" href="/user/pavel/profile">Pavel</a>
  <div data-marker="item-view/item-address"><span itemprop="address">Main street 1</span></div>
  <span data-marker="item-view/item-metro">Central</span>
</body></html>`

func TestParseCard(t *testing.T) {
	t.Parallel()

	card, err := NewCardParser().Parse(sampleCard)
	require.NoError(t, err)

	require.Equal(t, "Vintage bicycle", card.Title)
	require.Equal(t, "Lightly used, steel frame.", card.Description)
	require.Equal(t, "12500", card.Price)
	require.Equal(t, int64(271828182), card.ItemID)
	require.Equal(t, 311, card.ViewsTotal)
	require.Equal(t, "3 days ago", card.PublishedAt)
	require.Equal(t, map[string]string{"Frame": "steel", "Wheel size": "28"}, card.Characteristics)
	require.Equal(t, "Pavel", card.SellerName)
	require.Equal(t, "/user/pavel/profile", card.SellerProfileURL)
	require.Equal(t, "Main street 1", card.LocationAddress)
	require.Equal(t, "Central", card.LocationMetro)
	require.Empty(t, card.LocationRegion)
}

func TestParseCardWithoutTitleFails(t *testing.T) {
	t.Parallel()

	_, err := NewCardParser().Parse(`<html><body><div>nothing here</div></body></html>`)
	require.ErrorIs(t, err, ErrCardParse)
}

func TestParseCardMinimal(t *testing.T) {
	t.Parallel()

	card, err := NewCardParser().Parse(`<h1 data-marker="item-view/title-info">Bare card</h1>`)
	require.NoError(t, err)
	require.Equal(t, "Bare card", card.Title)
	require.Nil(t, card.Characteristics)
	require.Zero(t, card.ViewsTotal)
}
