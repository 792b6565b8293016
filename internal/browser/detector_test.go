package browser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avitolab/listings-crawler/internal/crawler"
)

func TestDetectStatusSignalsWinOverContent(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	cardHTML := `<h1 data-marker="item-view/title-info">A card</h1>`

	state, err := d.Detect(crawler.PageView{StatusCode: 403, HTML: cardHTML})
	require.NoError(t, err)
	require.Equal(t, crawler.StateProxyBlocked, state)

	state, err = d.Detect(crawler.PageView{StatusCode: 407, HTML: cardHTML})
	require.NoError(t, err)
	require.Equal(t, crawler.StateProxyAuth, state)

	state, err = d.Detect(crawler.PageView{StatusCode: 429, HTML: cardHTML})
	require.NoError(t, err)
	require.Equal(t, crawler.StateRateLimited, state)
}

func TestDetectContentStates(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	cases := []struct {
		name string
		html string
		want crawler.PageState
	}{
		{
			name: "captcha",
			html: `<form id="captcha_form"><img src="/captcha/1.png"></form>`,
			want: crawler.StateCaptcha,
		},
		{
			name: "continue button",
			html: `<button data-marker="button-continue">Continue</button>`,
			want: crawler.StateContinueButton,
		},
		{
			name: "removed",
			html: `<div data-marker="item-view/closed-warning">Listing removed</div>`,
			want: crawler.StateRemoved,
		},
		{
			name: "seller profile",
			html: `<div data-marker="profile-title">Seller</div>`,
			want: crawler.StateSellerProfile,
		},
		{
			name: "catalog",
			html: `<div data-marker="catalog-serp"></div>`,
			want: crawler.StateCatalog,
		},
		{
			name: "card",
			html: `<h1 data-marker="item-view/title-info">A card</h1>`,
			want: crawler.StateCardFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			state, err := d.Detect(crawler.PageView{StatusCode: 200, HTML: tc.html})
			require.NoError(t, err)
			require.Equal(t, tc.want, state)
		})
	}
}

func TestDetectCaptchaBeatsCard(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	html := `<form id="captcha_form"><img src="x.png"></form>` +
		`<h1 data-marker="item-view/title-info">A card</h1>`
	state, err := d.Detect(crawler.PageView{StatusCode: 200, HTML: html})
	require.NoError(t, err)
	require.Equal(t, crawler.StateCaptcha, state)
}

func TestDetectUnknownPageFails(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	_, err := d.Detect(crawler.PageView{StatusCode: 200, HTML: `<p>mystery page</p>`})
	require.Error(t, err)
}
