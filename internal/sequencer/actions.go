package sequencer

// Action is a control the storefront may render for the current state.
type Action string

const (
	ActionSelectGenre Action = "select_genre"
	ActionKeepMystery Action = "keep_mystery"
	ActionReveal      Action = "reveal"
	ActionBuyNow      Action = "buy_now"
	ActionCheckout    Action = "checkout"
	ActionPlaceOrder  Action = "place_order"
	ActionNewOrder    Action = "new_order"
)

// Actions derives the available controls from state alone. No input is accepted while a
// timed transition is pending.
func Actions(st State, variant Variant) []Action {
	if st.Pending != nil {
		return nil
	}
	switch st.Screen {
	case ScreenGenreSelection:
		return []Action{ActionSelectGenre}
	case ScreenReveal:
		if st.ContentVisible {
			return []Action{ActionBuyNow, ActionNewOrder}
		}
		return []Action{ActionKeepMystery, ActionReveal, ActionNewOrder}
	case ScreenPurchase:
		if variant == VariantLocal {
			return []Action{ActionPlaceOrder, ActionNewOrder}
		}
		if st.PaymentInFlight {
			return []Action{ActionNewOrder}
		}
		return []Action{ActionCheckout, ActionNewOrder}
	case ScreenSuccess:
		return []Action{ActionNewOrder}
	}
	return nil
}

// Has reports whether a is among actions.
func Has(actions []Action, a Action) bool {
	for _, candidate := range actions {
		if candidate == a {
			return true
		}
	}
	return false
}
