package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelmondragon/palette-backend/internal/coupons"
	pkgerrors "github.com/angelmondragon/palette-backend/pkg/errors"
	"github.com/google/uuid"
)

type stubRedeemer struct {
	res  *coupons.RedeemResult
	err  error
	code string
}

func (s *stubRedeemer) Redeem(_ context.Context, _ uuid.UUID, code string) (*coupons.RedeemResult, error) {
	s.code = code
	return s.res, s.err
}

func TestRedeemCoupon(t *testing.T) {
	svc := &stubRedeemer{res: &coupons.RedeemResult{Code: "SPRING", Credits: 200, NewBalance: 300}}
	resp := httptest.NewRecorder()
	RedeemCoupon(svc, nil).ServeHTTP(resp, authed(postJSON("/api/v1/credits/coupons/redeem", `{"code":"spring"}`), uuid.New()))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	body := decodeBody(t, resp)
	if body["credits_added"].(float64) != 200 || body["formatted_balance"] != "$3.00" {
		t.Fatalf("unexpected body %v", body)
	}
	if svc.code != "spring" {
		t.Fatalf("expected raw code forwarded, got %q", svc.code)
	}
}

func TestRedeemCouponAlreadyRedeemed(t *testing.T) {
	svc := &stubRedeemer{err: pkgerrors.New(pkgerrors.CodeConflict, "coupon already redeemed")}
	resp := httptest.NewRecorder()
	RedeemCoupon(svc, nil).ServeHTTP(resp, authed(postJSON("/api/v1/credits/coupons/redeem", `{"code":"SPRING"}`), uuid.New()))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	if body := decodeBody(t, resp); body["error"] != "coupon already redeemed" {
		t.Fatalf("unexpected body %v", body)
	}
}
