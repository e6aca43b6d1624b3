package booking

import "polyatop/backend/internal/models"

// CanPay reports whether a new payment attempt may be started.
func CanPay(b models.Booking) bool {
	return b.Status == models.BookingStatusPending
}

// CanCancel reports whether b may be cancelled. Staff may also cancel
// confirmed bookings.
func CanCancel(b models.Booking, staff bool) bool {
	return b.Status == models.BookingStatusPending || (staff && b.Status == models.BookingStatusConfirmed)
}

// ProviderForMethod picks the payment provider for a booking's method. Card
// payments go through Telegram invoices unless Click is requested explicitly.
func ProviderForMethod(method, requested string) (string, bool) {
	switch method {
	case models.PaymentMethodCash:
		if requested == "" || requested == models.ProviderCash {
			return models.ProviderCash, true
		}
	case models.PaymentMethodCard:
		switch requested {
		case "", models.ProviderTelegram:
			return models.ProviderTelegram, true
		case models.ProviderClick:
			return models.ProviderClick, true
		}
	}
	return "", false
}

// ResolvePayment picks the method and provider of a new payment attempt. An
// empty provider keeps the booking's current method.
func ResolvePayment(currentMethod, provider string) (string, string, bool) {
	method := currentMethod
	if provider != "" {
		method = models.PaymentMethodCard
		if provider == models.ProviderCash {
			method = models.PaymentMethodCash
		}
	}
	resolved, ok := ProviderForMethod(method, provider)
	if !ok {
		return "", "", false
	}
	return method, resolved, true
}
