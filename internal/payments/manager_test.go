package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeSDK struct {
	key           string
	testMode      bool
	threeDS       bool
	authErr       error
	encryptErr    error
	token         string
	authCalls     []ThreeDSParams
	encryptCalls  []Card
	availableHits int
}

func (f *fakeSDK) SetKey(key string)        { f.key = key }
func (f *fakeSDK) SetTestMode(enabled bool) { f.testMode = enabled }

func (f *fakeSDK) Is3DSAvailable(context.Context) bool {
	f.availableHits++
	return f.threeDS
}

func (f *fakeSDK) Authenticate3DS(_ context.Context, params ThreeDSParams) error {
	f.authCalls = append(f.authCalls, params)
	return f.authErr
}

func (f *fakeSDK) Encrypt(_ context.Context, card Card) (string, error) {
	f.encryptCalls = append(f.encryptCalls, card)
	return f.token, f.encryptErr
}

func TestManagerSelectsRequestedProvider(t *testing.T) {
	beehive := &fakeSDK{token: "tok_beehive"}
	stripe := &fakeSDK{token: "tok_stripe"}

	mgr, err := NewManager(map[string]CardSDK{
		"beehive": beehive,
		"stripe":  stripe,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	name, sdk, err := mgr.SDK(" Stripe ")
	if err != nil {
		t.Fatalf("resolve sdk: %v", err)
	}
	if name != "stripe" {
		t.Fatalf("expected provider 'stripe', got %q", name)
	}
	if sdk != stripe {
		t.Fatalf("expected stripe sdk to be returned")
	}
}

func TestManagerFallsBackToBeehive(t *testing.T) {
	beehive := &fakeSDK{}
	mgr, err := NewManager(map[string]CardSDK{
		"beehive": beehive,
		"stripe":  &fakeSDK{},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	name, sdk, err := mgr.SDK("")
	if err != nil {
		t.Fatalf("resolve sdk: %v", err)
	}
	if name != "beehive" || sdk != beehive {
		t.Fatalf("expected beehive default, got %q", name)
	}
}

func TestManagerDefaultProviderOption(t *testing.T) {
	stripe := &fakeSDK{}
	mgr, err := NewManager(
		map[string]CardSDK{"beehive": &fakeSDK{}, "stripe": stripe},
		WithDefaultProvider("STRIPE"),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	name, sdk, err := mgr.SDK("")
	if err != nil {
		t.Fatalf("resolve sdk: %v", err)
	}
	if name != "stripe" || sdk != stripe {
		t.Fatalf("expected stripe default, got %q", name)
	}
}

func TestManagerSoleProvider(t *testing.T) {
	only := &fakeSDK{}
	mgr, err := NewManager(map[string]CardSDK{"custom": only})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, sdk, err := mgr.SDK(""); err != nil || sdk != only {
		t.Fatalf("expected sole provider, got err=%v", err)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	mgr, err := NewManager(map[string]CardSDK{"beehive": &fakeSDK{}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, _, err := mgr.SDK("adyen"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerRejectsInvalidRegistrations(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error for empty provider map")
	}
	if _, err := NewManager(map[string]CardSDK{" ": &fakeSDK{}}); err == nil {
		t.Fatalf("expected error for blank provider key")
	}
	if _, err := NewManager(map[string]CardSDK{"beehive": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
}
