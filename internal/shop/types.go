// Package shop defines the storefront records exchanged with the backend.
package shop

import (
	"encoding/json"
	"time"
)

type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Address     string `json:"address,omitempty"`
	City        string `json:"city,omitempty"`
	IsActive    bool   `json:"is_active"`
}

// DisplayName prefers the person's names and falls back to the username.
func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

// UserPatch carries a partial profile update; nil fields are left untouched.
type UserPatch struct {
	Email       *string `json:"email,omitempty"`
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	PhoneNumber *string `json:"phone_number,omitempty"`
	Address     *string `json:"address,omitempty"`
	City        *string `json:"city,omitempty"`
}

func (p UserPatch) Empty() bool {
	return p.Email == nil && p.FirstName == nil && p.LastName == nil &&
		p.PhoneNumber == nil && p.Address == nil && p.City == nil
}

// Apply merges the set fields of p into u.
func (p UserPatch) Apply(u User) User {
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.PhoneNumber != nil {
		u.PhoneNumber = *p.PhoneNumber
	}
	if p.Address != nil {
		u.Address = *p.Address
	}
	if p.City != nil {
		u.City = *p.City
	}
	return u
}

type RegisterInput struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm,omitempty"`
}

type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type Review struct {
	User   string `json:"user"`
	Review string `json:"review"`
}

type Product struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Price       string   `json:"price"`
	ActualPrice float64  `json:"actual_price"`
	Img         string   `json:"img"`
	Category    string   `json:"category"`
	Sizes       []string `json:"sizes"`
	Description string   `json:"description,omitempty"`
	Rating      float64  `json:"rating"`
	Reviews     []Review `json:"reviews,omitempty"`
}

func (p Product) HasSize(size string) bool {
	if len(p.Sizes) == 0 {
		return size == ""
	}
	for _, s := range p.Sizes {
		if s == size {
			return true
		}
	}
	return false
}

type OrderItem struct {
	ProductID    int64  `json:"product_id"`
	Quantity     int    `json:"quantity"`
	SelectedSize string `json:"selected_size"`
}

type OrderCreate struct {
	ShippingAddress string         `json:"shipping_address"`
	PaymentDetails  map[string]any `json:"payment_details,omitempty"`
	Items           []OrderItem    `json:"items"`
}

type Order struct {
	ID              int64             `json:"id"`
	UserID          int64             `json:"user_id"`
	TotalPrice      float64           `json:"total_price"`
	Status          OrderStatus       `json:"status"`
	ShippingAddress string            `json:"shipping_address"`
	PaymentDetails  map[string]any    `json:"payment_details,omitempty"`
	Items           []json.RawMessage `json:"items,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
