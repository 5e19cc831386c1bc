package checkout

import (
	"strings"

	"storefront/shopclient/internal/shop"
)

// Shipping is the recipient form. Every field is required.
type Shipping struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	Address     string `json:"address"`
	City        string `json:"city"`
}

func (s Shipping) Validate() error {
	return shop.RequireFields(map[string]string{
		"first_name":   s.FirstName,
		"last_name":    s.LastName,
		"email":        s.Email,
		"phone_number": s.PhoneNumber,
		"address":      s.Address,
		"city":         s.City,
	}, "first_name", "last_name", "email", "phone_number", "address", "city")
}

func (s Shipping) trimmed() Shipping {
	return Shipping{
		FirstName:   strings.TrimSpace(s.FirstName),
		LastName:    strings.TrimSpace(s.LastName),
		Email:       strings.TrimSpace(s.Email),
		PhoneNumber: strings.TrimSpace(s.PhoneNumber),
		Address:     strings.TrimSpace(s.Address),
		City:        strings.TrimSpace(s.City),
	}
}

// Draft is the in-memory state of one checkout attempt. It is never persisted.
type Draft struct {
	Product  shop.Product `json:"product"`
	Size     string       `json:"selected_size,omitempty"`
	Shipping Shipping     `json:"shipping"`
}

func (d Draft) order(userID int64) shop.OrderCreate {
	return shop.OrderCreate{
		ShippingAddress: d.Shipping.Address + ", " + d.Shipping.City,
		PaymentDetails: map[string]any{
			"method":       "qr",
			"user_id":      userID,
			"first_name":   d.Shipping.FirstName,
			"last_name":    d.Shipping.LastName,
			"email":        d.Shipping.Email,
			"phone_number": d.Shipping.PhoneNumber,
			"amount":       d.Product.Price,
		},
		Items: []shop.OrderItem{{
			ProductID:    d.Product.ID,
			Quantity:     1,
			SelectedSize: d.Size,
		}},
	}
}
