package sequencer

import (
	"net/url"
	"regexp"
	"strings"
)

// BannerKind classifies the one-shot message shown after returning from checkout.
type BannerKind string

const (
	BannerSuccess  BannerKind = "success"
	BannerCanceled BannerKind = "canceled"
	BannerError    BannerKind = "error"
)

// Banner is a message shown once on the genre selection screen.
type Banner struct {
	Kind    BannerKind
	Message string
	Code    string
}

var errorCodePattern = regexp.MustCompile(`^[a-z0-9_]{1,40}$`)

// ApplyReturnFlags interprets success, canceled and error query flags from a checkout
// return. A recognised flag resets to genre selection with a banner; anything else is ignored.
func (s *Sequencer) ApplyReturnFlags(query url.Values) bool {
	banner, ok := bannerFromQuery(query)
	if !ok {
		return false
	}
	s.StartNewOrder()
	s.state.Banner = &banner
	return true
}

// ConsumeBanner returns the pending banner once and clears it.
func (s *Sequencer) ConsumeBanner() *Banner {
	b := s.state.Banner
	s.state.Banner = nil
	return b
}

func bannerFromQuery(query url.Values) (Banner, bool) {
	switch {
	case strings.EqualFold(query.Get("success"), "true"):
		return Banner{Kind: BannerSuccess, Message: "Payment successful! Check your email for confirmation."}, true
	case strings.EqualFold(query.Get("canceled"), "true"):
		return Banner{Kind: BannerCanceled, Message: "Payment was canceled. You can try again anytime."}, true
	}
	code := strings.TrimSpace(query.Get("error"))
	if code != "" && errorCodePattern.MatchString(code) {
		return Banner{Kind: BannerError, Message: PaymentErrorMessage, Code: code}, true
	}
	return Banner{}, false
}
