package gateway

import (
	"testing"

	"github.com/RobloxGangster/Gigatrader-sub000/pkg/config"
	"github.com/RobloxGangster/Gigatrader-sub000/pkg/exchanges/common"
)

func TestNewPicksVenue(t *testing.T) {
	v, err := New(&config.Config{MockMode: true})
	if err != nil {
		t.Fatalf("mock: %v", err)
	}
	if v.Mock == nil || v.Alpaca != nil || !v.Mock.FillOnSubmit {
		t.Fatalf("expected fill-on-submit mock venue, got %+v", v)
	}

	v, err = New(&config.Config{BrokerMode: "paper", AlpacaBaseURL: "https://paper-api.alpaca.markets"})
	if err != nil {
		t.Fatalf("paper: %v", err)
	}
	if v.Alpaca == nil || v.Mock != nil {
		t.Fatalf("expected alpaca venue, got %+v", v)
	}
	if c, ok := v.Venue.(common.Configured); !ok || c.IsConfigured() {
		t.Fatalf("venue without keys must report unconfigured")
	}

	if _, err := New(&config.Config{BrokerMode: "margin"}); err == nil {
		t.Fatalf("expected error for unknown broker mode")
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	if got := RetryPolicy(&config.Config{VenueMaxAttempts: 5}).MaxAttempts; got != 5 {
		t.Fatalf("MaxAttempts = %d, want 5", got)
	}
	if got := RetryPolicy(&config.Config{}).MaxAttempts; got != common.DefaultRetryPolicy().MaxAttempts {
		t.Fatalf("zero attempts should keep the default, got %d", got)
	}
}
