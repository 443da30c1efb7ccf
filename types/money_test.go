package types

import (
	"encoding/json"
	"testing"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"EUR", EUR(1900), 1900, "eur", "€19.00"},
		{"GBP", GBP(9900), 9900, "gbp", "£99.00"},
		{"Zero USD", Zero("USD"), 0, "usd", "$0.00"},
		{"Zero EUR", Zero("EUR"), 0, "eur", "€0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return USD(100).Add(USD(200)) }, USD(300)},
		{"Subtract", func() Money { return USD(500).Subtract(USD(200)) }, USD(300)},
		{"Multiply", func() Money { return USD(100).Multiply(3) }, USD(300)},
		{"Negate", func() Money { return USD(100).Negate() }, USD(-100)},
		{"Upgrade difference", func() Money {
			return USD(9900).Subtract(USD(4900))
		}, USD(5000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.op()
			if !got.Equal(tt.expected) {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMoneyCurrencyMismatchPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on currency mismatch")
		}
	}()
	USD(100).Add(EUR(100))
}

func TestMoneyComparisons(t *testing.T) {
	tests := []struct {
		name string
		got  bool
		want bool
	}{
		{"IsZero true", Zero("usd").IsZero(), true},
		{"IsZero false", USD(1).IsZero(), false},
		{"IsPositive", USD(100).IsPositive(), true},
		{"IsNegative", USD(-100).IsNegative(), true},
		{"Equal", USD(100).Equal(USD(100)), true},
		{"Equal different currency", USD(100).Equal(EUR(100)), false},
		{"LessThan", USD(100).LessThan(USD(200)), true},
		{"GreaterThan", USD(200).GreaterThan(USD(100)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestMoneyFormatMajor(t *testing.T) {
	tests := []struct {
		name  string
		money Money
		want  string
	}{
		{"whole dollars", USD(4900), "49.00"},
		{"with cents", USD(4950), "49.50"},
		{"sub-dollar", USD(5), "0.05"},
		{"negative", USD(-4900), "-49.00"},
		{"zero", Zero("usd"), "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.money.FormatMajor(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMoneyMarshalJSON(t *testing.T) {
	data, err := json.Marshal(USD(4900))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Amount != 4900 {
		t.Errorf("Amount: got %d, want 4900", decoded.Amount)
	}
	if decoded.Currency != "usd" {
		t.Errorf("Currency: got %q, want %q", decoded.Currency, "usd")
	}
	if decoded.Display != "$49.00" {
		t.Errorf("Display: got %q, want %q", decoded.Display, "$49.00")
	}
}
